package claimcode

import (
	"bytes"
	"errors"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ErrInvalidClaimCode is returned when a supplied code does not hash to the
// stored lock.
var ErrInvalidClaimCode = errors.New("claimcode: invalid claim code")

// HashCode derives the 32-byte lock stored on protected escrows.
func HashCode(code string) [32]byte {
	var out [32]byte
	copy(out[:], ethcrypto.Keccak256([]byte(code)))
	return out
}

// Verify evaluates the release predicate for a claim attempt. Unprotected
// records accept any code, including the empty string. The predicate is pure
// and does not rate-limit attempts; the escrow's terminal-state transition is
// what prevents resubmission after a successful claim.
func Verify(hasPassword bool, storedHash [32]byte, code string) error {
	if !hasPassword {
		return nil
	}
	supplied := HashCode(code)
	if !bytes.Equal(supplied[:], storedHash[:]) {
		return ErrInvalidClaimCode
	}
	return nil
}
