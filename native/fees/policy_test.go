package fees

import (
	"math/big"
	"testing"
)

func TestSplitArithmetic(t *testing.T) {
	cases := []struct {
		name  string
		gross int64
		bps   uint32
		net   int64
		fee   int64
	}{
		{"five percent", 10_000, 500, 9_500, 500},
		{"twenty bps", 100_000, 20, 99_800, 200},
		{"rounds down", 999, 250, 975, 24},
		{"zero rate", 4_242, 0, 4_242, 0},
		{"dust below one unit", 10, 20, 10, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			net, fee, err := Split(big.NewInt(tc.gross), tc.bps)
			if err != nil {
				t.Fatalf("split: %v", err)
			}
			if net.Int64() != tc.net {
				t.Fatalf("net = %d, want %d", net.Int64(), tc.net)
			}
			if fee.Int64() != tc.fee {
				t.Fatalf("fee = %d, want %d", fee.Int64(), tc.fee)
			}
			if sum := new(big.Int).Add(net, fee); sum.Int64() != tc.gross {
				t.Fatalf("net+fee = %d, want gross %d", sum.Int64(), tc.gross)
			}
		})
	}
}

func TestSplitRejectsRateAboveCap(t *testing.T) {
	if _, err := NewPolicy(MaxFeeBps+1, [20]byte{}); err != ErrInvalidFee {
		t.Fatalf("expected ErrInvalidFee, got %v", err)
	}
	if _, _, err := Split(big.NewInt(100), 10_000); err != ErrInvalidFee {
		t.Fatalf("expected ErrInvalidFee, got %v", err)
	}
}

func TestSplitNilAndNonPositiveGross(t *testing.T) {
	policy, err := NewPolicy(100, [20]byte{})
	if err != nil {
		t.Fatalf("new policy: %v", err)
	}
	net, fee := policy.Split(nil)
	if net.Sign() != 0 || fee.Sign() != 0 {
		t.Fatalf("nil gross should split to zero, got net=%s fee=%s", net, fee)
	}
	net, fee = policy.Split(big.NewInt(-5))
	if net.Sign() != 0 || fee.Sign() != 0 {
		t.Fatalf("negative gross should split to zero, got net=%s fee=%s", net, fee)
	}
}
