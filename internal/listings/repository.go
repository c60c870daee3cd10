package listings

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the persistence boundary for listings. Implementations
// live in internal/storage: a Postgres adapter, an in-memory adapter, and
// a resilient wrapper that mirrors the last known state.
type Repository interface {
	CreateListing(ctx context.Context, listing *Listing) error
	GetListing(ctx context.Context, id uuid.UUID) (*Listing, error)
	ListActiveListings(ctx context.Context) ([]*Listing, error)
	ListListingsByProducer(ctx context.Context, producerID uuid.UUID) ([]*Listing, error)

	// UpdateListingStatus applies a conditional transition: the row is
	// updated only while its status still equals from. A failed predicate
	// surfaces as a conflict fault.
	UpdateListingStatus(ctx context.Context, id uuid.UUID, from, to Status) error
}
