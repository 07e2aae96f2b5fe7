package state

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"strapt/native/transfer"
	"strapt/storage"
)

// storedTransfer mirrors transfer.Transfer with RLP-friendly field types.
// Timestamps are persisted unsigned; they are never negative in practice.
type storedTransfer struct {
	ID             [32]byte
	Sender         [20]byte
	Recipient      [20]byte
	HasRecipient   bool
	Token          string
	NetAmount      *big.Int
	GrossAmount    *big.Int
	Expiry         uint64
	CreatedAt      uint64
	IsLinkTransfer bool
	HasPassword    bool
	ClaimCodeHash  [32]byte
	Status         uint8
}

func newStoredTransfer(t *transfer.Transfer) *storedTransfer {
	clone := t.Clone()
	return &storedTransfer{
		ID:             clone.ID,
		Sender:         clone.Sender,
		Recipient:      clone.Recipient,
		HasRecipient:   clone.HasRecipient,
		Token:          clone.Token,
		NetAmount:      clone.NetAmount,
		GrossAmount:    clone.GrossAmount,
		Expiry:         uint64(clone.Expiry),
		CreatedAt:      uint64(clone.CreatedAt),
		IsLinkTransfer: clone.IsLinkTransfer,
		HasPassword:    clone.HasPassword,
		ClaimCodeHash:  clone.ClaimCodeHash,
		Status:         uint8(clone.Status),
	}
}

func (s *storedTransfer) toTransfer() (*transfer.Transfer, error) {
	if s == nil {
		return nil, errors.New("state: nil transfer record")
	}
	out := &transfer.Transfer{
		ID:             s.ID,
		Sender:         s.Sender,
		Recipient:      s.Recipient,
		HasRecipient:   s.HasRecipient,
		Token:          s.Token,
		NetAmount:      big.NewInt(0),
		GrossAmount:    big.NewInt(0),
		Expiry:         int64(s.Expiry),
		CreatedAt:      int64(s.CreatedAt),
		IsLinkTransfer: s.IsLinkTransfer,
		HasPassword:    s.HasPassword,
		ClaimCodeHash:  s.ClaimCodeHash,
		Status:         transfer.Status(s.Status),
	}
	if s.NetAmount != nil {
		out.NetAmount = new(big.Int).Set(s.NetAmount)
	}
	if s.GrossAmount != nil {
		out.GrossAmount = new(big.Int).Set(s.GrossAmount)
	}
	if !out.Status.Valid() {
		return nil, fmt.Errorf("state: invalid transfer status %d", s.Status)
	}
	return out, nil
}

// TransferPut persists a transfer record.
func (m *Manager) TransferPut(t *transfer.Transfer) error {
	if t == nil {
		return errors.New("state: nil transfer")
	}
	if !t.Status.Valid() {
		return fmt.Errorf("state: invalid transfer status %d", t.Status)
	}
	encoded, err := rlp.EncodeToBytes(newStoredTransfer(t))
	if err != nil {
		return err
	}
	return m.db.Put(prefixedKey(transferRecordPrefix, t.ID[:]), encoded)
}

// TransferGet loads a transfer record by identifier.
func (m *Manager) TransferGet(id [32]byte) (*transfer.Transfer, bool) {
	data, err := m.db.Get(prefixedKey(transferRecordPrefix, id[:]))
	if err != nil || len(data) == 0 {
		return nil, false
	}
	stored := new(storedTransfer)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, false
	}
	record, err := stored.toTransfer()
	if err != nil {
		return nil, false
	}
	return record, true
}

type storedRecipientIndex struct {
	IDs [][32]byte
}

// AppendRecipientTransfer indexes a direct transfer under its recipient so
// pending claims are discoverable by address.
func (m *Manager) AppendRecipientTransfer(recipient [20]byte, id [32]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := prefixedKey(recipientIndexPrefix, recipient[:])
	index := new(storedRecipientIndex)
	data, err := m.db.Get(key)
	switch {
	case errors.Is(err, storage.ErrKeyNotFound):
	case err != nil:
		return err
	default:
		if err := rlp.DecodeBytes(data, index); err != nil {
			return fmt.Errorf("state: decode recipient index: %w", err)
		}
	}
	index.IDs = append(index.IDs, id)
	encoded, err := rlp.EncodeToBytes(index)
	if err != nil {
		return err
	}
	return m.db.Put(key, encoded)
}

// RecipientTransferIDs returns the identifiers of direct transfers addressed
// to the recipient, oldest first.
func (m *Manager) RecipientTransferIDs(recipient [20]byte) ([][32]byte, error) {
	data, err := m.db.Get(prefixedKey(recipientIndexPrefix, recipient[:]))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	index := new(storedRecipientIndex)
	if err := rlp.DecodeBytes(data, index); err != nil {
		return nil, fmt.Errorf("state: decode recipient index: %w", err)
	}
	return index.IDs, nil
}
