package market

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"vemarket/core/types"
)

const (
	EventTypeListingCreated   = "market.listing.created"
	EventTypeListingUpdated   = "market.listing.updated"
	EventTypeListingCancelled = "market.listing.cancelled"
	EventTypeListingSold      = "market.listing.sold"
	EventTypeOfferCreated     = "market.offer.created"
	EventTypeOfferUpdated     = "market.offer.updated"
	EventTypeOfferCancelled   = "market.offer.cancelled"
	EventTypeOfferFilled      = "market.offer.filled"
	EventTypeOperatorApproval = "market.operator.approval"
	EventTypeExternalPurchase = "market.purchase.external"
)

type marketEvent struct {
	evt *types.Event
}

func (e marketEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

// Event returns the underlying typed payload.
func (e marketEvent) Event() *types.Event { return e.evt }

// NewListingCreatedEvent returns the canonical payload for a new listing.
func NewListingCreatedEvent(l *Listing) *types.Event {
	return newListingEvent(EventTypeListingCreated, l, nil)
}

// NewListingUpdatedEvent returns the payload for a listing term change.
func NewListingUpdatedEvent(l *Listing) *types.Event {
	return newListingEvent(EventTypeListingUpdated, l, nil)
}

// NewListingCancelledEvent returns the payload for a cancelled listing.
func NewListingCancelledEvent(l *Listing) *types.Event {
	return newListingEvent(EventTypeListingCancelled, l, nil)
}

// NewListingSoldEvent returns the settlement payload carrying the final
// price, fee and loan payoff for off-chain indexing.
func NewListingSoldEvent(l *Listing, buyer [20]byte, fee, loanPayoff *big.Int, route Route) *types.Event {
	extra := map[string]string{
		"buyer": hex.EncodeToString(buyer[:]),
		"route": route.String(),
	}
	if fee != nil {
		extra["fee"] = fee.String()
	}
	if loanPayoff != nil && loanPayoff.Sign() > 0 {
		extra["loanPayoff"] = loanPayoff.String()
	}
	return newListingEvent(EventTypeListingSold, l, extra)
}

// NewOfferCreatedEvent returns the canonical payload for a new offer.
func NewOfferCreatedEvent(o *Offer) *types.Event {
	return newOfferEvent(EventTypeOfferCreated, o, nil)
}

// NewOfferUpdatedEvent returns the payload for an offer term change.
func NewOfferUpdatedEvent(o *Offer) *types.Event {
	return newOfferEvent(EventTypeOfferUpdated, o, nil)
}

// NewOfferCancelledEvent returns the payload for a cancelled offer.
func NewOfferCancelledEvent(o *Offer) *types.Event {
	return newOfferEvent(EventTypeOfferCancelled, o, nil)
}

// NewOfferFilledEvent returns the settlement payload for a filled offer.
func NewOfferFilledEvent(o *Offer, positionID uint64, seller [20]byte, fee, loanPayoff *big.Int, route Route) *types.Event {
	extra := map[string]string{
		"positionId": strconv.FormatUint(positionID, 10),
		"seller":     hex.EncodeToString(seller[:]),
		"route":      route.String(),
	}
	if fee != nil {
		extra["fee"] = fee.String()
	}
	if loanPayoff != nil && loanPayoff.Sign() > 0 {
		extra["loanPayoff"] = loanPayoff.String()
	}
	return newOfferEvent(EventTypeOfferFilled, o, extra)
}

// NewOperatorApprovalEvent returns the payload for an operator grant or
// revocation.
func NewOperatorApprovalEvent(controller, operator [20]byte, approved bool) *types.Event {
	return &types.Event{Type: EventTypeOperatorApproval, Attributes: map[string]string{
		"controller": hex.EncodeToString(controller[:]),
		"operator":   hex.EncodeToString(operator[:]),
		"approved":   strconv.FormatBool(approved),
	}}
}

// NewExternalPurchaseEvent returns the payload for a purchase completed
// through a registered external-marketplace adapter.
func NewExternalPurchaseEvent(adapterKey [32]byte, positionID uint64, buyer [20]byte) *types.Event {
	return &types.Event{Type: EventTypeExternalPurchase, Attributes: map[string]string{
		"adapter":    hex.EncodeToString(adapterKey[:]),
		"positionId": strconv.FormatUint(positionID, 10),
		"buyer":      hex.EncodeToString(buyer[:]),
	}}
}

func newListingEvent(eventType string, l *Listing, extra map[string]string) *types.Event {
	attrs := make(map[string]string)
	if l != nil {
		attrs["positionId"] = strconv.FormatUint(l.PositionID, 10)
		attrs["owner"] = hex.EncodeToString(l.Owner[:])
		attrs["paymentAsset"] = l.PaymentAsset
		if l.Price != nil {
			attrs["price"] = l.Price.String()
		}
		attrs["hasOutstandingLoan"] = strconv.FormatBool(l.HasOutstandingLoan)
		attrs["expiresAt"] = strconv.FormatInt(l.ExpiresAt, 10)
	}
	for k, v := range extra {
		attrs[k] = v
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func newOfferEvent(eventType string, o *Offer, extra map[string]string) *types.Event {
	attrs := make(map[string]string)
	if o != nil {
		attrs["offerId"] = strconv.FormatUint(o.ID, 10)
		attrs["creator"] = hex.EncodeToString(o.Creator[:])
		attrs["paymentAsset"] = o.PaymentAsset
		if o.Price != nil {
			attrs["price"] = o.Price.String()
		}
		if o.MinWeight != nil {
			attrs["minWeight"] = o.MinWeight.String()
		}
		if o.MaxWeight != nil {
			attrs["maxWeight"] = o.MaxWeight.String()
		}
		if o.DebtTolerance != nil {
			attrs["debtTolerance"] = o.DebtTolerance.String()
		}
		attrs["maxLockTime"] = strconv.FormatInt(o.MaxLockTime, 10)
		attrs["expiresAt"] = strconv.FormatInt(o.ExpiresAt, 10)
	}
	for k, v := range extra {
		attrs[k] = v
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
