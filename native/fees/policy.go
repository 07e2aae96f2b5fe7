package fees

import (
	"errors"
	"math/big"
)

// MaxFeeBps caps the configurable fee rate at 5%.
const MaxFeeBps uint32 = 500

// DefaultFeeBps is the rate applied when the operator has not configured one.
const DefaultFeeBps uint32 = 20

// ErrInvalidFee is returned when a fee rate exceeds MaxFeeBps.
var ErrInvalidFee = errors.New("fees: fee bps above maximum")

// Policy captures the fee rate and collector applied to escrow creations. The
// policy is read at creation time so already-created records are never
// retroactively repriced.
type Policy struct {
	Bps       uint32
	Collector [20]byte
}

// NewPolicy validates the rate and returns a policy value.
func NewPolicy(bps uint32, collector [20]byte) (Policy, error) {
	if bps > MaxFeeBps {
		return Policy{}, ErrInvalidFee
	}
	return Policy{Bps: bps, Collector: collector}, nil
}

// Split divides a gross amount into the net escrowed amount and the fee owed
// to the collector: fee = floor(gross * bps / 10000).
func (p Policy) Split(gross *big.Int) (*big.Int, *big.Int) {
	net := big.NewInt(0)
	fee := big.NewInt(0)
	if gross == nil || gross.Sign() <= 0 {
		return net, fee
	}
	net = new(big.Int).Set(gross)
	if p.Bps == 0 {
		return net, fee
	}
	fee = new(big.Int).Mul(net, new(big.Int).SetUint64(uint64(p.Bps)))
	fee.Div(fee, big.NewInt(10_000))
	if fee.Sign() <= 0 {
		return net, big.NewInt(0)
	}
	net = new(big.Int).Sub(net, fee)
	return net, fee
}

// Split is the standalone form used when no collector is needed.
func Split(gross *big.Int, bps uint32) (*big.Int, *big.Int, error) {
	policy, err := NewPolicy(bps, [20]byte{})
	if err != nil {
		return nil, nil, err
	}
	net, fee := policy.Split(gross)
	return net, fee, nil
}
