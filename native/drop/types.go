package drop

import (
	"errors"
	"math/big"
)

var (
	ErrNotFound              = errors.New("drop: not found")
	ErrInvalidAmount         = errors.New("drop: amount must be positive")
	ErrInvalidRecipientCount = errors.New("drop: total recipients must be positive")
	ErrInvalidExpiry         = errors.New("drop: expiry must be in the future")
	ErrDropNotActive         = errors.New("drop: not active")
	ErrDropExpired           = errors.New("drop: claim window has expired")
	ErrAlreadyClaimed        = errors.New("drop: address already claimed")
	ErrNotExpiredYet         = errors.New("drop: not expired yet")
	ErrNotCreator            = errors.New("drop: caller is not the creator")
)

// Drop is the escrow record for a multi-recipient claim pool. The invariant
// RemainingAmount + sum(claimed amounts) == NetAmount holds at every step.
type Drop struct {
	ID              [32]byte
	Creator         [20]byte
	Token           string
	NetAmount       *big.Int
	RemainingAmount *big.Int
	ClaimedCount    uint32
	TotalRecipients uint32
	IsRandom        bool
	ExpiryTime      int64
	Message         string
	Active          bool
	CreatedAt       int64
}

// Clone returns a deep copy so callers can safely mutate the copy without
// affecting the stored instance.
func (d *Drop) Clone() *Drop {
	if d == nil {
		return nil
	}
	clone := *d
	if d.NetAmount != nil {
		clone.NetAmount = new(big.Int).Set(d.NetAmount)
	} else {
		clone.NetAmount = big.NewInt(0)
	}
	if d.RemainingAmount != nil {
		clone.RemainingAmount = new(big.Int).Set(d.RemainingAmount)
	} else {
		clone.RemainingAmount = big.NewInt(0)
	}
	return &clone
}

// Claim records a single address's successful claim against a drop.
type Claim struct {
	Claimer   [20]byte
	Amount    *big.Int
	ClaimedAt int64
}

// Clone returns a deep copy of the claim record.
func (c *Claim) Clone() *Claim {
	if c == nil {
		return nil
	}
	clone := *c
	if c.Amount != nil {
		clone.Amount = new(big.Int).Set(c.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return &clone
}
