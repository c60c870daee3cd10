package bids

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the persistence boundary for bids.
type Repository interface {
	CreateBid(ctx context.Context, bid *Bid) error
	GetBid(ctx context.Context, id uuid.UUID) (*Bid, error)

	// ListBidsForListing returns a listing's bids ordered by submission time.
	ListBidsForListing(ctx context.Context, listingID uuid.UUID) ([]*Bid, error)

	// UpdateBidStatus applies a conditional transition guarded on the
	// current status; a failed predicate surfaces as a conflict fault.
	UpdateBidStatus(ctx context.Context, id uuid.UUID, from, to Status) error
}
