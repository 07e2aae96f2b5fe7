package stream

import (
	"errors"
	"math/big"
)

// Status represents the lifecycle states of a payment stream.
type Status uint8

const (
	StatusActive Status = iota
	StatusPaused
	StatusCompleted
	StatusCanceled
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusPaused, StatusCompleted, StatusCanceled:
		return true
	default:
		return false
	}
}

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusPaused:
		return "paused"
	case StatusCompleted:
		return "completed"
	case StatusCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

var (
	ErrNotFound                   = errors.New("stream: not found")
	ErrInvalidAmount              = errors.New("stream: amount must be positive")
	ErrInvalidRecipient           = errors.New("stream: invalid recipient")
	ErrInvalidDuration            = errors.New("stream: duration must be positive")
	ErrInvalidMilestonePercentage = errors.New("stream: milestone percentages must be in (0,100] and sum to at most 100")
	ErrMilestoneNotFound          = errors.New("stream: milestone index out of range")
	ErrMilestoneAlreadyReleased   = errors.New("stream: milestone already released")
	ErrNotStreamSender            = errors.New("stream: caller is not the sender")
	ErrNotStreamRecipient         = errors.New("stream: caller is not the recipient")
	ErrStreamNotActive            = errors.New("stream: not active")
	ErrStreamAlreadyActive        = errors.New("stream: already active")
)

// Milestone is a discrete release trigger expressed as a percentage of the
// stream's net amount. Releasing it ratchets the recipient's entitlement
// forward regardless of elapsed time.
type Milestone struct {
	Percentage  uint8
	Description string
	Released    bool
}

// Stream is the escrow record for a continuous time-based payment.
//
// Withdrawn tracks the amount already flushed to the recipient; the current
// claimable amount is entitlement(now) - Withdrawn, so a withdraw resets the
// visible streamed value to zero without double payment.
type Stream struct {
	ID          [32]byte
	Sender      [20]byte
	Recipient   [20]byte
	Token       string
	NetAmount   *big.Int
	Withdrawn   *big.Int
	StartTime   int64
	EndTime     int64
	PausedAt    int64
	PausedTotal int64
	CreatedAt   int64
	Milestones  []Milestone
	Status      Status
}

// Duration returns the streaming window in seconds.
func (s *Stream) Duration() int64 {
	if s == nil {
		return 0
	}
	return s.EndTime - s.StartTime
}

// ReleasedPercent sums the percentages of released milestones.
func (s *Stream) ReleasedPercent() uint32 {
	if s == nil {
		return 0
	}
	var sum uint32
	for _, m := range s.Milestones {
		if m.Released {
			sum += uint32(m.Percentage)
		}
	}
	return sum
}

// Clone returns a deep copy so callers can safely mutate the copy without
// affecting the stored instance.
func (s *Stream) Clone() *Stream {
	if s == nil {
		return nil
	}
	clone := *s
	if s.NetAmount != nil {
		clone.NetAmount = new(big.Int).Set(s.NetAmount)
	} else {
		clone.NetAmount = big.NewInt(0)
	}
	if s.Withdrawn != nil {
		clone.Withdrawn = new(big.Int).Set(s.Withdrawn)
	} else {
		clone.Withdrawn = big.NewInt(0)
	}
	if len(s.Milestones) > 0 {
		clone.Milestones = append([]Milestone(nil), s.Milestones...)
	}
	return &clone
}

// MilestoneSpec is the creation-time definition of a milestone.
type MilestoneSpec struct {
	Percentage  uint8
	Description string
}

// ValidateMilestones checks every percentage is in (0,100] and the total does
// not exceed 100.
func ValidateMilestones(specs []MilestoneSpec) error {
	var sum uint32
	for _, spec := range specs {
		if spec.Percentage == 0 || spec.Percentage > 100 {
			return ErrInvalidMilestonePercentage
		}
		sum += uint32(spec.Percentage)
	}
	if sum > 100 {
		return ErrInvalidMilestonePercentage
	}
	return nil
}
