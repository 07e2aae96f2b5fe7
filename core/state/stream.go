package state

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"strapt/native/stream"
)

type storedMilestone struct {
	Percentage  uint8
	Description string
	Released    bool
}

// storedStream mirrors stream.Stream with RLP-friendly field types.
type storedStream struct {
	ID          [32]byte
	Sender      [20]byte
	Recipient   [20]byte
	Token       string
	NetAmount   *big.Int
	Withdrawn   *big.Int
	StartTime   uint64
	EndTime     uint64
	PausedAt    uint64
	PausedTotal uint64
	CreatedAt   uint64
	Milestones  []storedMilestone
	Status      uint8
}

func newStoredStream(s *stream.Stream) *storedStream {
	clone := s.Clone()
	stored := &storedStream{
		ID:          clone.ID,
		Sender:      clone.Sender,
		Recipient:   clone.Recipient,
		Token:       clone.Token,
		NetAmount:   clone.NetAmount,
		Withdrawn:   clone.Withdrawn,
		StartTime:   uint64(clone.StartTime),
		EndTime:     uint64(clone.EndTime),
		PausedAt:    uint64(clone.PausedAt),
		PausedTotal: uint64(clone.PausedTotal),
		CreatedAt:   uint64(clone.CreatedAt),
		Status:      uint8(clone.Status),
	}
	for _, m := range clone.Milestones {
		stored.Milestones = append(stored.Milestones, storedMilestone{
			Percentage:  m.Percentage,
			Description: m.Description,
			Released:    m.Released,
		})
	}
	return stored
}

func (s *storedStream) toStream() (*stream.Stream, error) {
	if s == nil {
		return nil, errors.New("state: nil stream record")
	}
	out := &stream.Stream{
		ID:          s.ID,
		Sender:      s.Sender,
		Recipient:   s.Recipient,
		Token:       s.Token,
		NetAmount:   big.NewInt(0),
		Withdrawn:   big.NewInt(0),
		StartTime:   int64(s.StartTime),
		EndTime:     int64(s.EndTime),
		PausedAt:    int64(s.PausedAt),
		PausedTotal: int64(s.PausedTotal),
		CreatedAt:   int64(s.CreatedAt),
		Status:      stream.Status(s.Status),
	}
	if s.NetAmount != nil {
		out.NetAmount = new(big.Int).Set(s.NetAmount)
	}
	if s.Withdrawn != nil {
		out.Withdrawn = new(big.Int).Set(s.Withdrawn)
	}
	for _, m := range s.Milestones {
		out.Milestones = append(out.Milestones, stream.Milestone{
			Percentage:  m.Percentage,
			Description: m.Description,
			Released:    m.Released,
		})
	}
	if !out.Status.Valid() {
		return nil, fmt.Errorf("state: invalid stream status %d", s.Status)
	}
	return out, nil
}

// StreamPut persists a stream record.
func (m *Manager) StreamPut(s *stream.Stream) error {
	if s == nil {
		return errors.New("state: nil stream")
	}
	if !s.Status.Valid() {
		return fmt.Errorf("state: invalid stream status %d", s.Status)
	}
	encoded, err := rlp.EncodeToBytes(newStoredStream(s))
	if err != nil {
		return err
	}
	return m.db.Put(prefixedKey(streamRecordPrefix, s.ID[:]), encoded)
}

// StreamGet loads a stream record by identifier.
func (m *Manager) StreamGet(id [32]byte) (*stream.Stream, bool) {
	data, err := m.db.Get(prefixedKey(streamRecordPrefix, id[:]))
	if err != nil || len(data) == 0 {
		return nil, false
	}
	stored := new(storedStream)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, false
	}
	record, err := stored.toStream()
	if err != nil {
		return nil, false
	}
	return record, true
}
