package stream

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"strapt/core/types"
)

const (
	EventTypeStreamCreated           = "stream.created"
	EventTypeStreamPaused            = "stream.paused"
	EventTypeStreamResumed           = "stream.resumed"
	EventTypeStreamMilestoneReleased = "stream.milestone_released"
	EventTypeStreamWithdrawn         = "stream.withdrawn"
	EventTypeStreamCanceled          = "stream.canceled"
	EventTypeStreamCompleted         = "stream.completed"
)

// NewCreatedEvent returns the canonical payload for a newly created stream.
func NewCreatedEvent(s *Stream) *types.Event {
	return newStreamEvent(EventTypeStreamCreated, s)
}

// NewPausedEvent returns the payload emitted when accrual is frozen.
func NewPausedEvent(s *Stream) *types.Event {
	return newStreamEvent(EventTypeStreamPaused, s)
}

// NewResumedEvent returns the payload emitted when accrual resumes.
func NewResumedEvent(s *Stream) *types.Event {
	return newStreamEvent(EventTypeStreamResumed, s)
}

// NewMilestoneReleasedEvent returns the payload for a milestone ratchet.
func NewMilestoneReleasedEvent(s *Stream, index int) *types.Event {
	evt := newStreamEvent(EventTypeStreamMilestoneReleased, s)
	evt.Attributes["milestoneIndex"] = strconv.Itoa(index)
	if index >= 0 && index < len(s.Milestones) {
		evt.Attributes["milestonePercentage"] = strconv.FormatUint(uint64(s.Milestones[index].Percentage), 10)
	}
	return evt
}

// NewWithdrawnEvent returns the payload for a recipient flush.
func NewWithdrawnEvent(s *Stream, amount *big.Int) *types.Event {
	evt := newStreamEvent(EventTypeStreamWithdrawn, s)
	if amount != nil {
		evt.Attributes["amount"] = amount.String()
	}
	return evt
}

// NewCanceledEvent returns the payload for a sender cancellation, carrying the
// split paid to each side.
func NewCanceledEvent(s *Stream, toRecipient, toSender *big.Int) *types.Event {
	evt := newStreamEvent(EventTypeStreamCanceled, s)
	if toRecipient != nil {
		evt.Attributes["paidRecipient"] = toRecipient.String()
	}
	if toSender != nil {
		evt.Attributes["returnedSender"] = toSender.String()
	}
	return evt
}

// NewCompletedEvent returns the payload emitted when the stream runs its full
// duration.
func NewCompletedEvent(s *Stream) *types.Event {
	return newStreamEvent(EventTypeStreamCompleted, s)
}

func newStreamEvent(eventType string, s *Stream) *types.Event {
	attrs := make(map[string]string)
	if s == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = hex.EncodeToString(s.ID[:])
	attrs["sender"] = hex.EncodeToString(s.Sender[:])
	attrs["recipient"] = hex.EncodeToString(s.Recipient[:])
	attrs["token"] = s.Token
	if s.NetAmount != nil {
		attrs["netAmount"] = s.NetAmount.String()
	}
	if s.Withdrawn != nil {
		attrs["withdrawn"] = s.Withdrawn.String()
	}
	attrs["startTime"] = strconv.FormatInt(s.StartTime, 10)
	attrs["endTime"] = strconv.FormatInt(s.EndTime, 10)
	attrs["status"] = s.Status.String()
	return &types.Event{Type: eventType, Attributes: attrs}
}
