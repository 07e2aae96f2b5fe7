package transfer

import (
	"errors"
	"math/big"
)

// Status represents the lifecycle states of a single-transfer escrow. Status
// is monotonic: exactly one of Claimed or Refunded may ever be reached from
// Pending and no transition leads back.
type Status uint8

const (
	StatusPending Status = iota
	StatusClaimed
	StatusRefunded
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusClaimed, StatusRefunded:
		return true
	default:
		return false
	}
}

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusClaimed:
		return "claimed"
	case StatusRefunded:
		return "refunded"
	default:
		return "unknown"
	}
}

var (
	ErrNotFound              = errors.New("transfer: not found")
	ErrInvalidAmount         = errors.New("transfer: amount must be positive")
	ErrInvalidRecipient      = errors.New("transfer: invalid recipient")
	ErrInvalidExpiry         = errors.New("transfer: expiry must be in the future")
	ErrNotIntendedRecipient  = errors.New("transfer: caller is not the intended recipient")
	ErrTransferExpired       = errors.New("transfer: claim window has expired")
	ErrTransferNotExpired    = errors.New("transfer: refund before expiry")
	ErrTransferNotClaimable  = errors.New("transfer: not claimable in current status")
	ErrTransferNotRefundable = errors.New("transfer: not refundable in current status")
	ErrNotTransferSender     = errors.New("transfer: caller is not the sender")
)

// Transfer is the escrow record for a direct or link transfer. Records are
// never destroyed; terminal records stay queryable as immutable history.
type Transfer struct {
	ID             [32]byte
	Sender         [20]byte
	Recipient      [20]byte
	HasRecipient   bool
	Token          string
	NetAmount      *big.Int
	GrossAmount    *big.Int
	Expiry         int64
	CreatedAt      int64
	IsLinkTransfer bool
	HasPassword    bool
	ClaimCodeHash  [32]byte
	Status         Status
}

// Clone returns a deep copy so callers can safely mutate the copy without
// affecting the stored instance.
func (t *Transfer) Clone() *Transfer {
	if t == nil {
		return nil
	}
	clone := *t
	if t.NetAmount != nil {
		clone.NetAmount = new(big.Int).Set(t.NetAmount)
	} else {
		clone.NetAmount = big.NewInt(0)
	}
	if t.GrossAmount != nil {
		clone.GrossAmount = new(big.Int).Set(t.GrossAmount)
	} else {
		clone.GrossAmount = big.NewInt(0)
	}
	return &clone
}
