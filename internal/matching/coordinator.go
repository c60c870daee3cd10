// Package matching orchestrates the settlement transitions that touch two
// record types at once: accepting a bid against a listing and moving a
// purchase through an offer's reservation lifecycle.
package matching

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"agrimandi/marketplace-backend/internal/bids"
	"agrimandi/marketplace-backend/internal/faults"
	"agrimandi/marketplace-backend/internal/listings"
	"agrimandi/marketplace-backend/internal/offers"
	"agrimandi/marketplace-backend/internal/propagation"
	"agrimandi/marketplace-backend/pkg/locks"
)

// Coordinator performs the accept/reserve settlements. Acceptance is
// always producer-initiated and explicit: the producer may accept any
// pending bid regardless of price ordering, there is no automatic
// highest-bid-wins rule.
type Coordinator struct {
	store       Store
	listingRepo listings.Repository
	bidRepo     bids.Repository
	offerRepo   offers.Repository
	bus         *propagation.Bus
	locks       *locks.Keyed
	logger      *zap.Logger
}

// NewCoordinator creates a matching coordinator.
func NewCoordinator(store Store, listingRepo listings.Repository, bidRepo bids.Repository,
	offerRepo offers.Repository, bus *propagation.Bus, keyed *locks.Keyed, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		store:       store,
		listingRepo: listingRepo,
		bidRepo:     bidRepo,
		offerRepo:   offerRepo,
		bus:         bus,
		locks:       keyed,
		logger:      logger,
	}
}

// AcceptBid settles a listing on one bid: the target bid becomes
// Accepted, every other pending bid on the listing becomes Rejected, and
// the listing becomes Sold, all in one atomic transition. Losing a
// concurrent race fails with a conflict fault and mutates nothing.
//
// Events are published in the order rejected bids, accepted bid, listing,
// so subscribers never observe the listing flip before the winning bid.
func (c *Coordinator) AcceptBid(ctx context.Context, listingID, bidID, requesterID uuid.UUID) (*AcceptResult, error) {
	release, err := c.locks.Acquire(ctx, listings.LockKey(listingID))
	if err != nil {
		return nil, err
	}
	defer release()

	listing, err := c.listingRepo.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.ProducerID != requesterID {
		return nil, faults.Permission("requester %s does not own listing %s", requesterID, listingID)
	}
	if listing.Status == listings.StatusSold {
		return nil, faults.Conflict("listing %s was already sold by a concurrent accept", listingID)
	}
	if listing.Status != listings.StatusActive {
		return nil, faults.InvalidState("listing %s is %s, cannot accept bids", listingID, listing.Status)
	}

	bid, err := c.bidRepo.GetBid(ctx, bidID)
	if err != nil {
		return nil, err
	}
	if bid.ListingID != listingID {
		return nil, faults.InvalidState("bid %s does not belong to listing %s", bidID, listingID)
	}
	if !bids.Transitions.CanTransition(string(bid.Status), string(bids.StatusAccepted)) {
		return nil, faults.InvalidState("bid %s is %s, only pending bids can be accepted", bidID, bid.Status)
	}

	result, err := c.store.AcceptBid(ctx, listingID, bidID)
	if err != nil {
		return nil, err
	}

	c.logger.Info("bid accepted",
		zap.String("listing_id", listingID.String()),
		zap.String("bid_id", bidID.String()),
		zap.Int("rejected_bids", len(result.Rejected)))

	bidTopics := []string{propagation.TopicBids(listingID), propagation.TopicBidsAll}
	for _, rejected := range result.Rejected {
		c.bus.Publish(
			propagation.NewEvent(propagation.KindBidRejected, "bid", rejected.ID, rejected),
			bidTopics...)
	}
	c.bus.Publish(
		propagation.NewEvent(propagation.KindBidAccepted, "bid", result.Accepted.ID, result.Accepted),
		bidTopics...)
	c.bus.Publish(
		propagation.NewEvent(propagation.KindListingSold, "listing", result.Listing.ID, result.Listing),
		propagation.TopicListings)

	return result, nil
}

// ReserveOffer is the processor's purchase-reserve: the offer moves
// Available to Reserved and a Pending purchase is recorded, atomically.
// Of two concurrent reservations exactly one succeeds; the other fails
// with a conflict fault and mutates nothing.
func (c *Coordinator) ReserveOffer(ctx context.Context, offerID, processorID uuid.UUID, quantity float64, agreedPrice int64) (*ReserveResult, error) {
	if processorID == uuid.Nil {
		return nil, faults.Validation("processor id is required")
	}
	if quantity <= 0 {
		return nil, faults.Validation("quantity must be positive, got %v", quantity)
	}
	if agreedPrice <= 0 {
		return nil, faults.Validation("agreed price must be positive, got %d", agreedPrice)
	}

	release, err := c.locks.Acquire(ctx, offers.LockKey(offerID))
	if err != nil {
		return nil, err
	}
	defer release()

	offer, err := c.offerRepo.GetOffer(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if !offers.OfferTransitions.CanTransition(string(offer.Status), string(offers.OfferReserved)) {
		// Reserved and Sold both mean another purchase claimed the offer
		// first, the retry-safe lost-race signal.
		return nil, faults.Conflict("offer %s is %s, a concurrent reservation won", offerID, offer.Status)
	}
	if quantity > offer.Quantity {
		return nil, faults.Validation("requested quantity %v exceeds offered %v", quantity, offer.Quantity)
	}

	now := time.Now()
	purchase := &offers.Purchase{
		ID:          uuid.New(),
		OfferID:     offerID,
		ProcessorID: processorID,
		Quantity:    quantity,
		AgreedPrice: agreedPrice,
		Status:      offers.PurchasePending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	result, err := c.store.ReserveOffer(ctx, offerID, purchase)
	if err != nil {
		return nil, err
	}

	c.logger.Info("offer reserved",
		zap.String("offer_id", offerID.String()),
		zap.String("purchase_id", purchase.ID.String()))

	c.publishReserve(propagation.KindOfferReserved, result)
	return result, nil
}

// ConfirmPurchase moves a purchase Pending to Confirmed. Only the FPO
// that owns the offer may confirm.
func (c *Coordinator) ConfirmPurchase(ctx context.Context, purchaseID, requesterID uuid.UUID) (*ReserveResult, error) {
	return c.purchaseTransition(ctx, purchaseID, requesterID, fpoOnly, propagation.KindPurchaseUpdate,
		c.store.ConfirmPurchase)
}

// CompletePurchase moves a purchase Confirmed to Completed and the offer
// Reserved to Sold. Only the owning FPO may complete.
func (c *Coordinator) CompletePurchase(ctx context.Context, purchaseID, requesterID uuid.UUID) (*ReserveResult, error) {
	return c.purchaseTransition(ctx, purchaseID, requesterID, fpoOnly, propagation.KindOfferSold,
		c.store.CompletePurchase)
}

// CancelPurchase cancels a pending or confirmed purchase and re-opens the
// offer. Either the processor who made the purchase or the owning FPO may
// cancel.
func (c *Coordinator) CancelPurchase(ctx context.Context, purchaseID, requesterID uuid.UUID) (*ReserveResult, error) {
	return c.purchaseTransition(ctx, purchaseID, requesterID, fpoOrProcessor, propagation.KindOfferReopened,
		c.store.CancelPurchase)
}

type permissionRule int

const (
	fpoOnly permissionRule = iota
	fpoOrProcessor
)

func (c *Coordinator) purchaseTransition(ctx context.Context, purchaseID, requesterID uuid.UUID,
	rule permissionRule, kind string,
	apply func(context.Context, uuid.UUID) (*ReserveResult, error)) (*ReserveResult, error) {

	purchase, err := c.offerRepo.GetPurchase(ctx, purchaseID)
	if err != nil {
		return nil, err
	}
	offer, err := c.offerRepo.GetOffer(ctx, purchase.OfferID)
	if err != nil {
		return nil, err
	}

	switch rule {
	case fpoOnly:
		if offer.FPOID != requesterID {
			return nil, faults.Permission("requester %s does not own offer %s", requesterID, offer.ID)
		}
	case fpoOrProcessor:
		if offer.FPOID != requesterID && purchase.ProcessorID != requesterID {
			return nil, faults.Permission("requester %s is not a party to purchase %s", requesterID, purchaseID)
		}
	}

	release, err := c.locks.Acquire(ctx, offers.LockKey(offer.ID))
	if err != nil {
		return nil, err
	}
	defer release()

	result, err := apply(ctx, purchaseID)
	if err != nil {
		return nil, err
	}

	c.logger.Info("purchase transitioned",
		zap.String("purchase_id", purchaseID.String()),
		zap.String("status", string(result.Purchase.Status)))

	c.publishReserve(kind, result)
	return result, nil
}

// publishReserve emits the purchase event before the offer event,
// matching the rejected-then-accepted-then-listing order on the bid side.
func (c *Coordinator) publishReserve(offerKind string, result *ReserveResult) {
	topics := []string{propagation.TopicOffersAll, propagation.TopicOffersForFPO(result.Offer.FPOID)}
	c.bus.Publish(
		propagation.NewEvent(propagation.KindPurchaseUpdate, "purchase", result.Purchase.ID, result.Purchase),
		topics...)
	c.bus.Publish(
		propagation.NewEvent(offerKind, "offer", result.Offer.ID, result.Offer),
		topics...)
}
