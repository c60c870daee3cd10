package storage

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"agrimandi/marketplace-backend/internal/bids"
	"agrimandi/marketplace-backend/internal/faults"
	"agrimandi/marketplace-backend/internal/listings"
	"agrimandi/marketplace-backend/internal/matching"
	"agrimandi/marketplace-backend/internal/offers"
)

// Resilient wraps a primary backend with an in-process mirror. Successful
// primary operations keep the mirror current; when the primary fails with
// an infrastructure error, reads and writes transparently continue against
// the mirror and the engine is flagged degraded. Domain faults (not found,
// conflict, invalid state) pass through untouched; only connectivity
// problems trigger the fallback.
//
// Degraded mode is sticky: it clears when a Warm probe against the primary
// succeeds. Mutations applied to the mirror while degraded are not
// replayed to the primary; the mirror exists so dashboards keep working,
// the primary stays authoritative.
type Resilient struct {
	primary  Backend
	mirror   *Memory
	degraded atomic.Bool
	logger   *zap.Logger
}

// NewResilient creates the fallback wrapper around a primary backend.
func NewResilient(primary Backend, mirror *Memory, logger *zap.Logger) *Resilient {
	return &Resilient{primary: primary, mirror: mirror, logger: logger}
}

// Degraded reports whether the engine is running on the mirror.
func (r *Resilient) Degraded() bool { return r.degraded.Load() }

// infra reports whether err is an infrastructure failure rather than a
// domain fault.
func infra(err error) bool {
	return err != nil && faults.KindOf(err) == 0
}

func (r *Resilient) degrade(err error) {
	if !r.degraded.Swap(true) {
		r.logger.Warn("primary store unavailable, serving from in-process mirror", zap.Error(err))
	}
}

func (r *Resilient) recovered() {
	if r.degraded.Swap(false) {
		r.logger.Info("primary store reachable again, leaving degraded mode")
	}
}

// Warm reloads the mirror from the primary store. It doubles as the
// degraded-mode probe: a successful pass clears the flag.
func (r *Resilient) Warm(ctx context.Context) error {
	active, err := r.primary.ListActiveListings(ctx)
	if err != nil {
		r.degrade(err)
		return err
	}
	for _, l := range active {
		r.mirror.SeedListing(l)
	}
	available, err := r.primary.ListAvailableOffers(ctx)
	if err != nil {
		r.degrade(err)
		return err
	}
	for _, o := range available {
		r.mirror.SeedOffer(o)
	}
	r.recovered()
	return nil
}

// =====================================================
// Listings
// =====================================================

func (r *Resilient) CreateListing(ctx context.Context, listing *listings.Listing) error {
	err := r.primary.CreateListing(ctx, listing)
	if infra(err) {
		r.degrade(err)
		return r.mirror.CreateListing(ctx, listing)
	}
	if err == nil {
		r.mirror.SeedListing(listing)
	}
	return err
}

func (r *Resilient) GetListing(ctx context.Context, id uuid.UUID) (*listings.Listing, error) {
	listing, err := r.primary.GetListing(ctx, id)
	if infra(err) {
		r.degrade(err)
		return r.mirror.GetListing(ctx, id)
	}
	if err == nil {
		r.mirror.SeedListing(listing)
	}
	return listing, err
}

func (r *Resilient) ListActiveListings(ctx context.Context) ([]*listings.Listing, error) {
	out, err := r.primary.ListActiveListings(ctx)
	if infra(err) {
		r.degrade(err)
		return r.mirror.ListActiveListings(ctx)
	}
	if err == nil {
		for _, l := range out {
			r.mirror.SeedListing(l)
		}
	}
	return out, err
}

func (r *Resilient) ListListingsByProducer(ctx context.Context, producerID uuid.UUID) ([]*listings.Listing, error) {
	out, err := r.primary.ListListingsByProducer(ctx, producerID)
	if infra(err) {
		r.degrade(err)
		return r.mirror.ListListingsByProducer(ctx, producerID)
	}
	if err == nil {
		for _, l := range out {
			r.mirror.SeedListing(l)
		}
	}
	return out, err
}

func (r *Resilient) UpdateListingStatus(ctx context.Context, id uuid.UUID, from, to listings.Status) error {
	err := r.primary.UpdateListingStatus(ctx, id, from, to)
	if infra(err) {
		r.degrade(err)
		return r.mirror.UpdateListingStatus(ctx, id, from, to)
	}
	if err == nil {
		r.mirror.SeedListingStatus(id, to)
	}
	return err
}

// =====================================================
// Bids
// =====================================================

func (r *Resilient) CreateBid(ctx context.Context, bid *bids.Bid) error {
	err := r.primary.CreateBid(ctx, bid)
	if infra(err) {
		r.degrade(err)
		return r.mirror.CreateBid(ctx, bid)
	}
	if err == nil {
		r.mirror.SeedBid(bid)
	}
	return err
}

func (r *Resilient) GetBid(ctx context.Context, id uuid.UUID) (*bids.Bid, error) {
	bid, err := r.primary.GetBid(ctx, id)
	if infra(err) {
		r.degrade(err)
		return r.mirror.GetBid(ctx, id)
	}
	if err == nil {
		r.mirror.SeedBid(bid)
	}
	return bid, err
}

func (r *Resilient) ListBidsForListing(ctx context.Context, listingID uuid.UUID) ([]*bids.Bid, error) {
	out, err := r.primary.ListBidsForListing(ctx, listingID)
	if infra(err) {
		r.degrade(err)
		return r.mirror.ListBidsForListing(ctx, listingID)
	}
	if err == nil {
		for _, b := range out {
			r.mirror.SeedBid(b)
		}
	}
	return out, err
}

func (r *Resilient) UpdateBidStatus(ctx context.Context, id uuid.UUID, from, to bids.Status) error {
	err := r.primary.UpdateBidStatus(ctx, id, from, to)
	if infra(err) {
		r.degrade(err)
		return r.mirror.UpdateBidStatus(ctx, id, from, to)
	}
	if err == nil {
		r.mirror.SeedBidStatus(id, to)
	}
	return err
}

// =====================================================
// Offers and purchases
// =====================================================

func (r *Resilient) CreateOffer(ctx context.Context, offer *offers.SalesOffer) error {
	err := r.primary.CreateOffer(ctx, offer)
	if infra(err) {
		r.degrade(err)
		return r.mirror.CreateOffer(ctx, offer)
	}
	if err == nil {
		r.mirror.SeedOffer(offer)
	}
	return err
}

func (r *Resilient) GetOffer(ctx context.Context, id uuid.UUID) (*offers.SalesOffer, error) {
	offer, err := r.primary.GetOffer(ctx, id)
	if infra(err) {
		r.degrade(err)
		return r.mirror.GetOffer(ctx, id)
	}
	if err == nil {
		r.mirror.SeedOffer(offer)
	}
	return offer, err
}

func (r *Resilient) ListAvailableOffers(ctx context.Context) ([]*offers.SalesOffer, error) {
	out, err := r.primary.ListAvailableOffers(ctx)
	if infra(err) {
		r.degrade(err)
		return r.mirror.ListAvailableOffers(ctx)
	}
	if err == nil {
		for _, o := range out {
			r.mirror.SeedOffer(o)
		}
	}
	return out, err
}

func (r *Resilient) ListOffersByFPO(ctx context.Context, fpoID uuid.UUID) ([]*offers.SalesOffer, error) {
	out, err := r.primary.ListOffersByFPO(ctx, fpoID)
	if infra(err) {
		r.degrade(err)
		return r.mirror.ListOffersByFPO(ctx, fpoID)
	}
	if err == nil {
		for _, o := range out {
			r.mirror.SeedOffer(o)
		}
	}
	return out, err
}

func (r *Resilient) UpdateOfferStatus(ctx context.Context, id uuid.UUID, from, to offers.OfferStatus) error {
	err := r.primary.UpdateOfferStatus(ctx, id, from, to)
	if infra(err) {
		r.degrade(err)
		return r.mirror.UpdateOfferStatus(ctx, id, from, to)
	}
	if err == nil {
		r.mirror.SeedOfferStatus(id, to)
	}
	return err
}

func (r *Resilient) GetPurchase(ctx context.Context, id uuid.UUID) (*offers.Purchase, error) {
	purchase, err := r.primary.GetPurchase(ctx, id)
	if infra(err) {
		r.degrade(err)
		return r.mirror.GetPurchase(ctx, id)
	}
	if err == nil {
		r.mirror.SeedPurchase(purchase)
	}
	return purchase, err
}

func (r *Resilient) ListPurchasesByProcessor(ctx context.Context, processorID uuid.UUID) ([]*offers.Purchase, error) {
	out, err := r.primary.ListPurchasesByProcessor(ctx, processorID)
	if infra(err) {
		r.degrade(err)
		return r.mirror.ListPurchasesByProcessor(ctx, processorID)
	}
	if err == nil {
		for _, p := range out {
			r.mirror.SeedPurchase(p)
		}
	}
	return out, err
}

func (r *Resilient) ListPurchasesForOffer(ctx context.Context, offerID uuid.UUID) ([]*offers.Purchase, error) {
	out, err := r.primary.ListPurchasesForOffer(ctx, offerID)
	if infra(err) {
		r.degrade(err)
		return r.mirror.ListPurchasesForOffer(ctx, offerID)
	}
	if err == nil {
		for _, p := range out {
			r.mirror.SeedPurchase(p)
		}
	}
	return out, err
}

// =====================================================
// Atomic multi-record transitions
// =====================================================

func (r *Resilient) seedReserve(res *matching.ReserveResult) {
	if res == nil {
		return
	}
	r.mirror.SeedOffer(res.Offer)
	r.mirror.SeedPurchase(res.Purchase)
}

func (r *Resilient) AcceptBid(ctx context.Context, listingID, bidID uuid.UUID) (*matching.AcceptResult, error) {
	res, err := r.primary.AcceptBid(ctx, listingID, bidID)
	if infra(err) {
		r.degrade(err)
		return r.mirror.AcceptBid(ctx, listingID, bidID)
	}
	if err == nil {
		r.mirror.SeedListing(res.Listing)
		r.mirror.SeedBid(res.Accepted)
		for _, b := range res.Rejected {
			r.mirror.SeedBid(b)
		}
	}
	return res, err
}

func (r *Resilient) ReserveOffer(ctx context.Context, offerID uuid.UUID, purchase *offers.Purchase) (*matching.ReserveResult, error) {
	res, err := r.primary.ReserveOffer(ctx, offerID, purchase)
	if infra(err) {
		r.degrade(err)
		return r.mirror.ReserveOffer(ctx, offerID, purchase)
	}
	if err == nil {
		r.seedReserve(res)
	}
	return res, err
}

func (r *Resilient) ConfirmPurchase(ctx context.Context, purchaseID uuid.UUID) (*matching.ReserveResult, error) {
	res, err := r.primary.ConfirmPurchase(ctx, purchaseID)
	if infra(err) {
		r.degrade(err)
		return r.mirror.ConfirmPurchase(ctx, purchaseID)
	}
	if err == nil {
		r.seedReserve(res)
	}
	return res, err
}

func (r *Resilient) CompletePurchase(ctx context.Context, purchaseID uuid.UUID) (*matching.ReserveResult, error) {
	res, err := r.primary.CompletePurchase(ctx, purchaseID)
	if infra(err) {
		r.degrade(err)
		return r.mirror.CompletePurchase(ctx, purchaseID)
	}
	if err == nil {
		r.seedReserve(res)
	}
	return res, err
}

func (r *Resilient) CancelPurchase(ctx context.Context, purchaseID uuid.UUID) (*matching.ReserveResult, error) {
	res, err := r.primary.CancelPurchase(ctx, purchaseID)
	if infra(err) {
		r.degrade(err)
		return r.mirror.CancelPurchase(ctx, purchaseID)
	}
	if err == nil {
		r.seedReserve(res)
	}
	return res, err
}

// =====================================================
// Change events
// =====================================================

func (r *Resilient) ListChangeEvents(ctx context.Context, limit int) ([]*ChangeEvent, error) {
	out, err := r.primary.ListChangeEvents(ctx, limit)
	if infra(err) {
		r.degrade(err)
		return r.mirror.ListChangeEvents(ctx, limit)
	}
	return out, err
}
