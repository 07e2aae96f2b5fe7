package types

import (
	"math/big"
	"sort"
)

// TokenBalance pairs a registry token symbol with the balance held by an
// account. Balances are kept as a slice sorted by token so account records
// stay RLP-encodable and deterministic.
type TokenBalance struct {
	Token  string
	Amount *big.Int
}

// Account tracks per-token holdings plus the creation nonce used for
// deterministic escrow identifiers.
type Account struct {
	Nonce    uint64
	Balances []TokenBalance
}

// Balance returns the balance held for the supplied token. Missing entries
// report zero; the returned value is a copy.
func (a *Account) Balance(token string) *big.Int {
	if a == nil {
		return big.NewInt(0)
	}
	for _, tb := range a.Balances {
		if tb.Token == token {
			if tb.Amount == nil {
				return big.NewInt(0)
			}
			return new(big.Int).Set(tb.Amount)
		}
	}
	return big.NewInt(0)
}

// SetBalance stores the supplied amount for the token, keeping the slice
// sorted. A nil amount is treated as zero.
func (a *Account) SetBalance(token string, amount *big.Int) {
	if a == nil {
		return
	}
	value := big.NewInt(0)
	if amount != nil {
		value = new(big.Int).Set(amount)
	}
	for i := range a.Balances {
		if a.Balances[i].Token == token {
			a.Balances[i].Amount = value
			return
		}
	}
	a.Balances = append(a.Balances, TokenBalance{Token: token, Amount: value})
	sort.Slice(a.Balances, func(i, j int) bool {
		return a.Balances[i].Token < a.Balances[j].Token
	})
}

// Clone returns a deep copy of the account so callers can safely mutate the
// copy without affecting the stored instance.
func (a *Account) Clone() *Account {
	if a == nil {
		return &Account{}
	}
	clone := &Account{Nonce: a.Nonce}
	if len(a.Balances) > 0 {
		clone.Balances = make([]TokenBalance, len(a.Balances))
		for i, tb := range a.Balances {
			amount := big.NewInt(0)
			if tb.Amount != nil {
				amount = new(big.Int).Set(tb.Amount)
			}
			clone.Balances[i] = TokenBalance{Token: tb.Token, Amount: amount}
		}
	}
	return clone
}
