// Package propagation fans committed mutations out to subscribers.
//
// Every committed change to a listing, bid, offer, or purchase is published
// as the fully reloaded current state of the record, not a diff. Delivery
// is at-least-once and best-effort: a slow or failed subscriber never
// blocks others and never rolls back the underlying mutation. Ordering is
// preserved per topic, matching commit order; nothing is guaranteed across
// topics.
package propagation

import (
	"time"

	"github.com/google/uuid"
)

// Well-known topics. Scoped variants are built with TopicBids and
// TopicOffersForFPO.
const (
	// TopicListings carries all listing mutations.
	TopicListings = "listings:*"
	// TopicBidsAll carries all bid mutations, used by producers watching
	// inventory-wide dashboards.
	TopicBidsAll = "bids:*"
	// TopicOffersAll carries all offer and purchase mutations.
	TopicOffersAll = "offers:*"
)

// TopicBids scopes bid mutations to a single listing.
func TopicBids(listingID uuid.UUID) string {
	return "bids:" + listingID.String()
}

// TopicOffersForFPO scopes offer and purchase mutations to one FPO.
func TopicOffersForFPO(fpoID uuid.UUID) string {
	return "offers:" + fpoID.String()
}

// Event kinds.
const (
	KindListingCreated = "listing.created"
	KindListingClosed  = "listing.closed"
	KindListingSold    = "listing.sold"
	KindBidPlaced      = "bid.placed"
	KindBidAccepted    = "bid.accepted"
	KindBidRejected    = "bid.rejected"
	KindOfferCreated   = "offer.created"
	KindOfferReserved  = "offer.reserved"
	KindOfferReopened  = "offer.reopened"
	KindOfferSold      = "offer.sold"
	KindPurchaseUpdate = "purchase.updated"
)

// Event is one committed mutation. Payload holds the full current state of
// the affected record.
type Event struct {
	ID         uuid.UUID `json:"id"`
	Topic      string    `json:"topic"`
	Kind       string    `json:"kind"`
	Entity     string    `json:"entity"`
	EntityID   uuid.UUID `json:"entity_id"`
	Payload    any       `json:"payload"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewEvent builds an event for a mutated record.
func NewEvent(kind, entity string, entityID uuid.UUID, payload any) Event {
	return Event{
		ID:         uuid.New(),
		Kind:       kind,
		Entity:     entity,
		EntityID:   entityID,
		Payload:    payload,
		OccurredAt: time.Now(),
	}
}
