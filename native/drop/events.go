package drop

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"strapt/core/types"
)

const (
	EventTypeDropCreated  = "drop.created"
	EventTypeDropClaimed  = "drop.claimed"
	EventTypeDropRefunded = "drop.refunded"
)

// NewCreatedEvent returns the canonical payload for a newly funded pool.
func NewCreatedEvent(d *Drop) *types.Event {
	return newDropEvent(EventTypeDropCreated, d)
}

// NewClaimedEvent returns the payload for a successful slot claim.
func NewClaimedEvent(d *Drop, claim *Claim) *types.Event {
	evt := newDropEvent(EventTypeDropClaimed, d)
	if claim != nil {
		evt.Attributes["claimer"] = hex.EncodeToString(claim.Claimer[:])
		if claim.Amount != nil {
			evt.Attributes["amount"] = claim.Amount.String()
		}
	}
	return evt
}

// NewRefundedEvent returns the payload for an expiry sweep, carrying the
// amount returned to the creator.
func NewRefundedEvent(d *Drop, swept *big.Int) *types.Event {
	evt := newDropEvent(EventTypeDropRefunded, d)
	if swept != nil {
		evt.Attributes["amount"] = swept.String()
	}
	return evt
}

func newDropEvent(eventType string, d *Drop) *types.Event {
	attrs := make(map[string]string)
	if d == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = hex.EncodeToString(d.ID[:])
	attrs["creator"] = hex.EncodeToString(d.Creator[:])
	attrs["token"] = d.Token
	if d.NetAmount != nil {
		attrs["netAmount"] = d.NetAmount.String()
	}
	if d.RemainingAmount != nil {
		attrs["remainingAmount"] = d.RemainingAmount.String()
	}
	attrs["claimedCount"] = strconv.FormatUint(uint64(d.ClaimedCount), 10)
	attrs["totalRecipients"] = strconv.FormatUint(uint64(d.TotalRecipients), 10)
	attrs["random"] = strconv.FormatBool(d.IsRandom)
	attrs["expiryTime"] = strconv.FormatInt(d.ExpiryTime, 10)
	attrs["active"] = strconv.FormatBool(d.Active)
	return &types.Event{Type: eventType, Attributes: attrs}
}
