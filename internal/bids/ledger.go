package bids

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"agrimandi/marketplace-backend/internal/faults"
	"agrimandi/marketplace-backend/internal/listings"
	"agrimandi/marketplace-backend/internal/propagation"
	"agrimandi/marketplace-backend/pkg/locks"
)

// DefaultPriceCeiling caps the bid price per unit-quantity in currency
// units when no ceiling is configured.
const DefaultPriceCeiling int64 = 25000

// Ledger owns bid records and enforces bid state transitions plus the
// price ceiling. Accepting a bid is not done here: that is the matching
// coordinator's atomic operation.
type Ledger struct {
	repo         Repository
	listingRepo  listings.Repository
	bus          *propagation.Bus
	locks        *locks.Keyed
	priceCeiling int64
	logger       *zap.Logger
}

// NewLedger creates a bid ledger. A non-positive ceiling falls back to
// DefaultPriceCeiling.
func NewLedger(repo Repository, listingRepo listings.Repository, bus *propagation.Bus,
	keyed *locks.Keyed, priceCeiling int64, logger *zap.Logger) *Ledger {
	if priceCeiling <= 0 {
		priceCeiling = DefaultPriceCeiling
	}
	return &Ledger{
		repo:         repo,
		listingRepo:  listingRepo,
		bus:          bus,
		locks:        keyed,
		priceCeiling: priceCeiling,
		logger:       logger,
	}
}

// PlaceBid records a Pending bid against an Active listing.
//
// An over-ceiling price is clamped to the ceiling rather than rejected.
// That mirrors long-standing marketplace behavior that counterparties
// rely on; see DESIGN.md before treating it as a bug.
func (l *Ledger) PlaceBid(ctx context.Context, listingID, bidderID uuid.UUID, req PlaceBidRequest) (*Bid, error) {
	if bidderID == uuid.Nil {
		return nil, faults.Validation("bidder id is required")
	}
	if req.Price <= 0 {
		return nil, faults.Validation("price must be positive, got %d", req.Price)
	}
	if req.Quantity <= 0 {
		return nil, faults.Validation("quantity must be positive, got %v", req.Quantity)
	}

	release, err := l.locks.Acquire(ctx, listings.LockKey(listingID))
	if err != nil {
		return nil, err
	}
	defer release()

	listing, err := l.listingRepo.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.Status != listings.StatusActive {
		return nil, faults.InvalidState("listing %s is %s, not accepting bids", listingID, listing.Status)
	}

	price := req.Price
	if price > l.priceCeiling {
		l.logger.Info("clamping over-ceiling bid price",
			zap.Int64("price", price),
			zap.Int64("ceiling", l.priceCeiling))
		price = l.priceCeiling
	}

	now := time.Now()
	bid := &Bid{
		ID:         uuid.New(),
		ListingID:  listingID,
		BidderID:   bidderID,
		BidderName: req.BidderName,
		Price:      price,
		Quantity:   req.Quantity,
		Message:    req.Message,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := l.repo.CreateBid(ctx, bid); err != nil {
		return nil, err
	}

	l.logger.Info("bid placed",
		zap.String("bid_id", bid.ID.String()),
		zap.String("listing_id", listingID.String()),
		zap.Int64("price", bid.Price))

	l.bus.Publish(
		propagation.NewEvent(propagation.KindBidPlaced, "bid", bid.ID, bid),
		propagation.TopicBids(listingID), propagation.TopicBidsAll)
	return bid, nil
}

// ListForListing returns a listing's bids ordered by submission time.
func (l *Ledger) ListForListing(ctx context.Context, listingID uuid.UUID) ([]*Bid, error) {
	if _, err := l.listingRepo.GetListing(ctx, listingID); err != nil {
		return nil, err
	}
	return l.repo.ListBidsForListing(ctx, listingID)
}

// RejectBid transitions one Pending bid to Rejected. Only the listing's
// producer may reject.
func (l *Ledger) RejectBid(ctx context.Context, listingID, bidID, requesterID uuid.UUID) (*Bid, error) {
	release, err := l.locks.Acquire(ctx, listings.LockKey(listingID))
	if err != nil {
		return nil, err
	}
	defer release()

	listing, err := l.listingRepo.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.ProducerID != requesterID {
		return nil, faults.Permission("requester %s does not own listing %s", requesterID, listingID)
	}

	bid, err := l.repo.GetBid(ctx, bidID)
	if err != nil {
		return nil, err
	}
	if bid.ListingID != listingID {
		return nil, faults.InvalidState("bid %s does not belong to listing %s", bidID, listingID)
	}
	if !Transitions.CanTransition(string(bid.Status), string(StatusRejected)) {
		return nil, faults.InvalidState("bid %s is %s, only pending bids can be rejected", bidID, bid.Status)
	}

	if err := l.repo.UpdateBidStatus(ctx, bidID, StatusPending, StatusRejected); err != nil {
		return nil, err
	}

	bid, err = l.repo.GetBid(ctx, bidID)
	if err != nil {
		return nil, err
	}

	l.logger.Info("bid rejected",
		zap.String("bid_id", bidID.String()),
		zap.String("listing_id", listingID.String()))

	l.bus.Publish(
		propagation.NewEvent(propagation.KindBidRejected, "bid", bidID, bid),
		propagation.TopicBids(listingID), propagation.TopicBidsAll)
	return bid, nil
}
