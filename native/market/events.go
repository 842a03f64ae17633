package market

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"feedmint/core/events"
	"feedmint/core/types"
)

const (
	// EventTypeSaleRedeemed is emitted when a sale voucher settles and mints.
	EventTypeSaleRedeemed = "market.sale.redeemed"
	// EventTypeBidAccepted is emitted when an auction creator accepts a bid.
	EventTypeBidAccepted = "market.bid.accepted"
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

// SaleRedeemedEvent describes a direct redemption settlement.
func SaleRedeemedEvent(tokenID *uint256.Int, creator, buyer common.Address, quantity, paid, fee *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeSaleRedeemed,
		Attributes: map[string]string{
			"tokenId":  tokenIDHex(tokenID),
			"creator":  creator.Hex(),
			"buyer":    buyer.Hex(),
			"quantity": formatAmount(quantity),
			"paid":     formatAmount(paid),
			"fee":      formatAmount(fee),
		},
	}
}

// BidAcceptedEvent describes an auction/bid match settlement.
func BidAcceptedEvent(tokenID *uint256.Int, creator, bidder common.Address, paid, fee *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeBidAccepted,
		Attributes: map[string]string{
			"tokenId": tokenIDHex(tokenID),
			"creator": creator.Hex(),
			"bidder":  bidder.Hex(),
			"paid":    formatAmount(paid),
			"fee":     formatAmount(fee),
		},
	}
}

func tokenIDHex(id *uint256.Int) string {
	if id == nil {
		return "0x0"
	}
	return id.Hex()
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
