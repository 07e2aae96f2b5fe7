package transfer

import (
	"encoding/hex"
	"strconv"

	"strapt/core/types"
)

const (
	EventTypeTransferCreated  = "transfer.created"
	EventTypeTransferClaimed  = "transfer.claimed"
	EventTypeTransferRefunded = "transfer.refunded"
)

// NewCreatedEvent returns the canonical payload for a newly escrowed transfer.
func NewCreatedEvent(t *Transfer) *types.Event {
	evt := newTransferEvent(EventTypeTransferCreated, t)
	if t != nil && t.GrossAmount != nil {
		evt.Attributes["grossAmount"] = t.GrossAmount.String()
	}
	return evt
}

// NewClaimedEvent returns the payload emitted when a transfer is claimed.
func NewClaimedEvent(t *Transfer, payee [20]byte) *types.Event {
	evt := newTransferEvent(EventTypeTransferClaimed, t)
	evt.Attributes["payee"] = hex.EncodeToString(payee[:])
	return evt
}

// NewRefundedEvent returns the payload emitted when a transfer reverts to the
// sender after expiry.
func NewRefundedEvent(t *Transfer) *types.Event {
	return newTransferEvent(EventTypeTransferRefunded, t)
}

func newTransferEvent(eventType string, t *Transfer) *types.Event {
	attrs := make(map[string]string)
	if t == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = hex.EncodeToString(t.ID[:])
	attrs["sender"] = hex.EncodeToString(t.Sender[:])
	if t.HasRecipient {
		attrs["recipient"] = hex.EncodeToString(t.Recipient[:])
	}
	attrs["token"] = t.Token
	if t.NetAmount != nil {
		attrs["amount"] = t.NetAmount.String()
	}
	attrs["expiry"] = strconv.FormatInt(t.Expiry, 10)
	attrs["status"] = t.Status.String()
	attrs["link"] = strconv.FormatBool(t.IsLinkTransfer)
	attrs["protected"] = strconv.FormatBool(t.HasPassword)
	return &types.Event{Type: eventType, Attributes: attrs}
}
