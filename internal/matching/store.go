package matching

import (
	"context"

	"github.com/google/uuid"

	"agrimandi/marketplace-backend/internal/bids"
	"agrimandi/marketplace-backend/internal/listings"
	"agrimandi/marketplace-backend/internal/offers"
)

// AcceptResult is the full post-commit state of an accept-bid transition.
type AcceptResult struct {
	Listing  *listings.Listing
	Accepted *bids.Bid
	Rejected []*bids.Bid
}

// ReserveResult is the full post-commit state of an offer/purchase
// transition.
type ReserveResult struct {
	Offer    *offers.SalesOffer
	Purchase *offers.Purchase
}

// Store is the atomic multi-record boundary the coordinator commits
// through. Every method either applies all of its transitions or none:
// when the gating record is no longer in the required status the call
// fails with a conflict fault and nothing changes.
type Store interface {
	// AcceptBid atomically marks the listing Sold, the target bid
	// Accepted, and every other pending bid on the listing Rejected.
	AcceptBid(ctx context.Context, listingID, bidID uuid.UUID) (*AcceptResult, error)

	// ReserveOffer atomically moves the offer Available to Reserved and
	// records the purchase as Pending. Exactly one concurrent reservation
	// can win.
	ReserveOffer(ctx context.Context, offerID uuid.UUID, purchase *offers.Purchase) (*ReserveResult, error)

	// ConfirmPurchase moves a purchase Pending to Confirmed; the offer
	// stays Reserved.
	ConfirmPurchase(ctx context.Context, purchaseID uuid.UUID) (*ReserveResult, error)

	// CompletePurchase atomically moves the purchase Confirmed to
	// Completed and the offer Reserved to Sold.
	CompletePurchase(ctx context.Context, purchaseID uuid.UUID) (*ReserveResult, error)

	// CancelPurchase atomically cancels a pending or confirmed purchase
	// and re-opens the offer (Reserved back to Available).
	CancelPurchase(ctx context.Context, purchaseID uuid.UUID) (*ReserveResult, error)
}
