package market

import (
	"encoding/hex"
	"strconv"

	"nftmarket/core/types"
)

const (
	EventTypeListingCreated         = "market.listing.created"
	EventTypeListingSold            = "market.listing.sold"
	EventTypeListingCancelled       = "market.listing.cancelled"
	EventTypeSettlementInconsistent = "market.settlement.inconsistent"
	EventTypeSettlementRecovered    = "market.settlement.recovered"
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

func (e marketEvent) Event() *types.Event { return e.evt }

// NewListingCreatedEvent returns the canonical payload for a new listing.
func NewListingCreatedEvent(l *Listing) *types.Event {
	return newListingEvent(EventTypeListingCreated, l)
}

// NewListingSoldEvent returns the payload emitted once the buyer holds the
// asset and the seller has been paid.
func NewListingSoldEvent(l *Listing, buyer [20]byte) *types.Event {
	evt := newListingEvent(EventTypeListingSold, l)
	evt.Attributes["buyer"] = hex.EncodeToString(buyer[:])
	return evt
}

// NewListingCancelledEvent returns the payload emitted when the seller
// withdraws a listing.
func NewListingCancelledEvent(l *Listing) *types.Event {
	return newListingEvent(EventTypeListingCancelled, l)
}

// NewSettlementInconsistentEvent reports a recorded incident.
func NewSettlementInconsistentEvent(i *Incident) *types.Event {
	return newIncidentEvent(EventTypeSettlementInconsistent, i)
}

// NewSettlementRecoveredEvent reports that an incident was resolved.
func NewSettlementRecoveredEvent(i *Incident) *types.Event {
	return newIncidentEvent(EventTypeSettlementRecovered, i)
}

func newListingEvent(eventType string, l *Listing) *types.Event {
	attrs := make(map[string]string)
	if l == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = hex.EncodeToString(l.ID[:])
	attrs["collection"] = hex.EncodeToString(l.Collection[:])
	attrs["assetId"] = l.AssetID.Dec()
	attrs["seller"] = hex.EncodeToString(l.Seller[:])
	attrs["currency"] = l.Currency.String()
	if l.Price != nil {
		attrs["price"] = l.Price.String()
	} else {
		attrs["price"] = "0"
	}
	attrs["status"] = l.Status.String()
	attrs["createdAt"] = strconv.FormatInt(l.CreatedAt, 10)
	return &types.Event{Type: eventType, Attributes: attrs}
}

func newIncidentEvent(eventType string, i *Incident) *types.Event {
	attrs := make(map[string]string)
	if i == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["incident"] = i.ID
	attrs["stage"] = i.Stage
	attrs["collection"] = hex.EncodeToString(i.Collection[:])
	attrs["assetId"] = i.AssetID
	attrs["listingId"] = hex.EncodeToString(i.ListingID[:])
	if i.Buyer != ([20]byte{}) {
		attrs["buyer"] = hex.EncodeToString(i.Buyer[:])
	}
	if i.Amount != nil {
		attrs["amount"] = i.Amount.String()
	}
	if i.Cause != "" {
		attrs["cause"] = i.Cause
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
