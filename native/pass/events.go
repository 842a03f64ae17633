package pass

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"feedmint/core/events"
	"feedmint/core/types"
)

const (
	// EventTypePriceUpdated is emitted when a price table entry changes.
	EventTypePriceUpdated = "pass.price.updated"
	// EventTypeFeeUpdated is emitted when a fee table entry changes.
	EventTypeFeeUpdated = "pass.fee.updated"
	// EventTypeTokenAllowed is emitted when a payment token is listed or delisted.
	EventTypeTokenAllowed = "pass.token.allowed"
	// EventTypeActivated is emitted for every freshly minted pass.
	EventTypeActivated = "pass.activated"
	// EventTypeExtended is emitted when an existing pass is extended.
	EventTypeExtended = "pass.extended"
)

type eventEnvelope struct {
	evt *types.Event
}

func (e eventEnvelope) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e eventEnvelope) Event() *types.Event { return e.evt }

// WrapEvent converts a raw event payload into the emitter-friendly envelope.
func WrapEvent(evt *types.Event) events.Event { return eventEnvelope{evt: evt} }

// PriceUpdatedEvent announces a new per-unit price for (token, referrer).
func PriceUpdatedEvent(token, referrer common.Address, amount *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypePriceUpdated,
		Attributes: map[string]string{
			"token":    token.Hex(),
			"referrer": referrer.Hex(),
			"amount":   formatAmount(amount),
		},
	}
}

// FeeUpdatedEvent announces a new per-unit fee for (token, referrer).
func FeeUpdatedEvent(token, referrer common.Address, amount *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeFeeUpdated,
		Attributes: map[string]string{
			"token":    token.Hex(),
			"referrer": referrer.Hex(),
			"amount":   formatAmount(amount),
		},
	}
}

// TokenAllowedEvent announces a payment-token listing change.
func TokenAllowedEvent(token common.Address, allowed bool) *types.Event {
	return &types.Event{
		Type: EventTypeTokenAllowed,
		Attributes: map[string]string{
			"token":   token.Hex(),
			"allowed": strconv.FormatBool(allowed),
		},
	}
}

// ActivatedEvent announces a freshly minted pass and its initial expiry.
func ActivatedEvent(passID uint64, owner common.Address, expiry int64) *types.Event {
	return &types.Event{
		Type: EventTypeActivated,
		Attributes: map[string]string{
			"passId": strconv.FormatUint(passID, 10),
			"owner":  owner.Hex(),
			"expiry": strconv.FormatInt(expiry, 10),
		},
	}
}

// ExtendedEvent announces the new expiry of an extended pass.
func ExtendedEvent(passID uint64, expiry int64) *types.Event {
	return &types.Event{
		Type: EventTypeExtended,
		Attributes: map[string]string{
			"passId": strconv.FormatUint(passID, 10),
			"expiry": strconv.FormatInt(expiry, 10),
		},
	}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
