package state

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"strapt/native/drop"
	"strapt/storage"
)

// storedDrop mirrors drop.Drop with RLP-friendly field types.
type storedDrop struct {
	ID              [32]byte
	Creator         [20]byte
	Token           string
	NetAmount       *big.Int
	RemainingAmount *big.Int
	ClaimedCount    uint32
	TotalRecipients uint32
	IsRandom        bool
	ExpiryTime      uint64
	Message         string
	Active          bool
	CreatedAt       uint64
}

func newStoredDrop(d *drop.Drop) *storedDrop {
	clone := d.Clone()
	return &storedDrop{
		ID:              clone.ID,
		Creator:         clone.Creator,
		Token:           clone.Token,
		NetAmount:       clone.NetAmount,
		RemainingAmount: clone.RemainingAmount,
		ClaimedCount:    clone.ClaimedCount,
		TotalRecipients: clone.TotalRecipients,
		IsRandom:        clone.IsRandom,
		ExpiryTime:      uint64(clone.ExpiryTime),
		Message:         clone.Message,
		Active:          clone.Active,
		CreatedAt:       uint64(clone.CreatedAt),
	}
}

func (s *storedDrop) toDrop() (*drop.Drop, error) {
	if s == nil {
		return nil, errors.New("state: nil drop record")
	}
	out := &drop.Drop{
		ID:              s.ID,
		Creator:         s.Creator,
		Token:           s.Token,
		NetAmount:       big.NewInt(0),
		RemainingAmount: big.NewInt(0),
		ClaimedCount:    s.ClaimedCount,
		TotalRecipients: s.TotalRecipients,
		IsRandom:        s.IsRandom,
		ExpiryTime:      int64(s.ExpiryTime),
		Message:         s.Message,
		Active:          s.Active,
		CreatedAt:       int64(s.CreatedAt),
	}
	if s.NetAmount != nil {
		out.NetAmount = new(big.Int).Set(s.NetAmount)
	}
	if s.RemainingAmount != nil {
		out.RemainingAmount = new(big.Int).Set(s.RemainingAmount)
	}
	if s.TotalRecipients == 0 {
		return nil, fmt.Errorf("state: corrupt drop recipient count")
	}
	return out, nil
}

// DropPut persists a drop record.
func (m *Manager) DropPut(d *drop.Drop) error {
	if d == nil {
		return errors.New("state: nil drop")
	}
	encoded, err := rlp.EncodeToBytes(newStoredDrop(d))
	if err != nil {
		return err
	}
	return m.db.Put(prefixedKey(dropRecordPrefix, d.ID[:]), encoded)
}

// DropGet loads a drop record by identifier.
func (m *Manager) DropGet(id [32]byte) (*drop.Drop, bool) {
	data, err := m.db.Get(prefixedKey(dropRecordPrefix, id[:]))
	if err != nil || len(data) == 0 {
		return nil, false
	}
	stored := new(storedDrop)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, false
	}
	record, err := stored.toDrop()
	if err != nil {
		return nil, false
	}
	return record, true
}

type storedDropClaim struct {
	Claimer   [20]byte
	Amount    *big.Int
	ClaimedAt uint64
}

func dropClaimSuffix(id [32]byte, claimer [20]byte) []byte {
	buf := make([]byte, 0, 52)
	buf = append(buf, id[:]...)
	buf = append(buf, claimer[:]...)
	return buf
}

// DropClaimPut records a single address's claim against a drop.
func (m *Manager) DropClaimPut(id [32]byte, claim *drop.Claim) error {
	if claim == nil {
		return errors.New("state: nil drop claim")
	}
	clone := claim.Clone()
	encoded, err := rlp.EncodeToBytes(&storedDropClaim{
		Claimer:   clone.Claimer,
		Amount:    clone.Amount,
		ClaimedAt: uint64(clone.ClaimedAt),
	})
	if err != nil {
		return err
	}
	return m.db.Put(prefixedKey(dropClaimPrefix, dropClaimSuffix(id, clone.Claimer)), encoded)
}

// DropClaimDelete removes a claim record. It exists so a claim whose payout
// failed can be unwound instead of permanently blocking the address.
func (m *Manager) DropClaimDelete(id [32]byte, claimer [20]byte) error {
	return m.db.Delete(prefixedKey(dropClaimPrefix, dropClaimSuffix(id, claimer)))
}

// DropClaimGet loads the claim made by an address against a drop, if any.
func (m *Manager) DropClaimGet(id [32]byte, claimer [20]byte) (*drop.Claim, bool, error) {
	data, err := m.db.Get(prefixedKey(dropClaimPrefix, dropClaimSuffix(id, claimer)))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	stored := new(storedDropClaim)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, false, fmt.Errorf("state: decode drop claim: %w", err)
	}
	claim := &drop.Claim{
		Claimer:   stored.Claimer,
		Amount:    big.NewInt(0),
		ClaimedAt: int64(stored.ClaimedAt),
	}
	if stored.Amount != nil {
		claim.Amount = new(big.Int).Set(stored.Amount)
	}
	return claim, true, nil
}
