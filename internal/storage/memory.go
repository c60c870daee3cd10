package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"agrimandi/marketplace-backend/internal/bids"
	"agrimandi/marketplace-backend/internal/faults"
	"agrimandi/marketplace-backend/internal/listings"
	"agrimandi/marketplace-backend/internal/matching"
	"agrimandi/marketplace-backend/internal/offers"
)

// Memory keeps all marketplace records in process. It backs two roles:
// the configured primary store for single-node deployments, and the mirror
// the resilient wrapper falls back to when the durable store is
// unreachable. All returned records are copies; callers never share memory
// with the store.
type Memory struct {
	mu        sync.RWMutex
	listings  map[uuid.UUID]*listings.Listing
	bids      map[uuid.UUID]*bids.Bid
	offers    map[uuid.UUID]*offers.SalesOffer
	purchases map[uuid.UUID]*offers.Purchase
	changes   []*ChangeEvent
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		listings:  make(map[uuid.UUID]*listings.Listing),
		bids:      make(map[uuid.UUID]*bids.Bid),
		offers:    make(map[uuid.UUID]*offers.SalesOffer),
		purchases: make(map[uuid.UUID]*offers.Purchase),
	}
}

func cloneListing(l *listings.Listing) *listings.Listing {
	cp := *l
	if l.BidIDs != nil {
		cp.BidIDs = append([]uuid.UUID(nil), l.BidIDs...)
	}
	return &cp
}

func cloneBid(b *bids.Bid) *bids.Bid {
	cp := *b
	return &cp
}

func cloneOffer(o *offers.SalesOffer) *offers.SalesOffer {
	cp := *o
	return &cp
}

func clonePurchase(p *offers.Purchase) *offers.Purchase {
	cp := *p
	return &cp
}

// appendChange records an audit entry. Callers hold the write lock.
func (m *Memory) appendChange(entity string, entityID uuid.UUID, action string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = nil
	}
	m.changes = append(m.changes, &ChangeEvent{
		ID:        uuid.New(),
		Entity:    entity,
		EntityID:  entityID,
		Action:    action,
		Payload:   raw,
		CreatedAt: time.Now(),
	})
}

// =====================================================
// Listings
// =====================================================

func (m *Memory) CreateListing(_ context.Context, listing *listings.Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.listings[listing.ID]; exists {
		return faults.Conflict("listing %s already exists", listing.ID)
	}
	m.listings[listing.ID] = cloneListing(listing)
	m.appendChange("listing", listing.ID, "created", listing)
	return nil
}

func (m *Memory) GetListing(_ context.Context, id uuid.UUID) (*listings.Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	listing, ok := m.listings[id]
	if !ok {
		return nil, faults.NotFound("listing %s not found", id)
	}
	out := cloneListing(listing)
	out.BidIDs = m.bidIDsLocked(id)
	return out, nil
}

// bidIDsLocked returns a listing's bid ids ordered by submission time.
// Callers hold at least the read lock.
func (m *Memory) bidIDsLocked(listingID uuid.UUID) []uuid.UUID {
	var owned []*bids.Bid
	for _, b := range m.bids {
		if b.ListingID == listingID {
			owned = append(owned, b)
		}
	}
	sort.Slice(owned, func(i, j int) bool { return owned[i].CreatedAt.Before(owned[j].CreatedAt) })
	ids := make([]uuid.UUID, len(owned))
	for i, b := range owned {
		ids[i] = b.ID
	}
	return ids
}

func (m *Memory) ListActiveListings(_ context.Context) ([]*listings.Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*listings.Listing
	for _, l := range m.listings {
		if l.Status == listings.StatusActive {
			out = append(out, cloneListing(l))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ListListingsByProducer(_ context.Context, producerID uuid.UUID) ([]*listings.Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*listings.Listing
	for _, l := range m.listings {
		if l.ProducerID == producerID {
			out = append(out, cloneListing(l))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) UpdateListingStatus(_ context.Context, id uuid.UUID, from, to listings.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	listing, ok := m.listings[id]
	if !ok {
		return faults.NotFound("listing %s not found", id)
	}
	if listing.Status != from {
		return faults.Conflict("listing %s is no longer %s", id, from)
	}
	listing.Status = to
	listing.UpdatedAt = time.Now()
	m.appendChange("listing", id, fmt.Sprintf("status:%s->%s", from, to), listing)
	return nil
}

// =====================================================
// Bids
// =====================================================

func (m *Memory) CreateBid(_ context.Context, bid *bids.Bid) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.bids[bid.ID]; exists {
		return faults.Conflict("bid %s already exists", bid.ID)
	}
	m.bids[bid.ID] = cloneBid(bid)
	m.appendChange("bid", bid.ID, "created", bid)
	return nil
}

func (m *Memory) GetBid(_ context.Context, id uuid.UUID) (*bids.Bid, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bid, ok := m.bids[id]
	if !ok {
		return nil, faults.NotFound("bid %s not found", id)
	}
	return cloneBid(bid), nil
}

func (m *Memory) ListBidsForListing(_ context.Context, listingID uuid.UUID) ([]*bids.Bid, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*bids.Bid
	for _, b := range m.bids {
		if b.ListingID == listingID {
			out = append(out, cloneBid(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) UpdateBidStatus(_ context.Context, id uuid.UUID, from, to bids.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bid, ok := m.bids[id]
	if !ok {
		return faults.NotFound("bid %s not found", id)
	}
	if bid.Status != from {
		return faults.Conflict("bid %s is no longer %s", id, from)
	}
	bid.Status = to
	bid.UpdatedAt = time.Now()
	m.appendChange("bid", id, fmt.Sprintf("status:%s->%s", from, to), bid)
	return nil
}

// =====================================================
// Offers and purchases
// =====================================================

func (m *Memory) CreateOffer(_ context.Context, offer *offers.SalesOffer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.offers[offer.ID]; exists {
		return faults.Conflict("offer %s already exists", offer.ID)
	}
	m.offers[offer.ID] = cloneOffer(offer)
	m.appendChange("offer", offer.ID, "created", offer)
	return nil
}

func (m *Memory) GetOffer(_ context.Context, id uuid.UUID) (*offers.SalesOffer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	offer, ok := m.offers[id]
	if !ok {
		return nil, faults.NotFound("offer %s not found", id)
	}
	return cloneOffer(offer), nil
}

func (m *Memory) ListAvailableOffers(_ context.Context) ([]*offers.SalesOffer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*offers.SalesOffer
	for _, o := range m.offers {
		if o.Status == offers.OfferAvailable {
			out = append(out, cloneOffer(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ListOffersByFPO(_ context.Context, fpoID uuid.UUID) ([]*offers.SalesOffer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*offers.SalesOffer
	for _, o := range m.offers {
		if o.FPOID == fpoID {
			out = append(out, cloneOffer(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) UpdateOfferStatus(_ context.Context, id uuid.UUID, from, to offers.OfferStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateOfferStatusLocked(id, from, to)
}

func (m *Memory) updateOfferStatusLocked(id uuid.UUID, from, to offers.OfferStatus) error {
	offer, ok := m.offers[id]
	if !ok {
		return faults.NotFound("offer %s not found", id)
	}
	if offer.Status != from {
		return faults.Conflict("offer %s is no longer %s", id, from)
	}
	offer.Status = to
	offer.UpdatedAt = time.Now()
	m.appendChange("offer", id, fmt.Sprintf("status:%s->%s", from, to), offer)
	return nil
}

func (m *Memory) GetPurchase(_ context.Context, id uuid.UUID) (*offers.Purchase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	purchase, ok := m.purchases[id]
	if !ok {
		return nil, faults.NotFound("purchase %s not found", id)
	}
	return clonePurchase(purchase), nil
}

func (m *Memory) ListPurchasesByProcessor(_ context.Context, processorID uuid.UUID) ([]*offers.Purchase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*offers.Purchase
	for _, p := range m.purchases {
		if p.ProcessorID == processorID {
			out = append(out, clonePurchase(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ListPurchasesForOffer(_ context.Context, offerID uuid.UUID) ([]*offers.Purchase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*offers.Purchase
	for _, p := range m.purchases {
		if p.OfferID == offerID {
			out = append(out, clonePurchase(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// =====================================================
// Atomic multi-record transitions
// =====================================================

// AcceptBid applies the whole settlement under one lock so concurrent
// accepts observe either all of it or none of it.
func (m *Memory) AcceptBid(_ context.Context, listingID, bidID uuid.UUID) (*matching.AcceptResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	listing, ok := m.listings[listingID]
	if !ok {
		return nil, faults.NotFound("listing %s not found", listingID)
	}
	if listing.Status != listings.StatusActive {
		return nil, faults.Conflict("listing %s is no longer active", listingID)
	}
	target, ok := m.bids[bidID]
	if !ok || target.ListingID != listingID || target.Status != bids.StatusPending {
		return nil, faults.InvalidState("bid %s is not pending on listing %s", bidID, listingID)
	}

	now := time.Now()
	var rejected []*bids.Bid
	for _, b := range m.bids {
		if b.ListingID == listingID && b.Status == bids.StatusPending && b.ID != bidID {
			b.Status = bids.StatusRejected
			b.UpdatedAt = now
			rejected = append(rejected, cloneBid(b))
		}
	}
	sort.Slice(rejected, func(i, j int) bool { return rejected[i].CreatedAt.Before(rejected[j].CreatedAt) })

	target.Status = bids.StatusAccepted
	target.UpdatedAt = now
	listing.Status = listings.StatusSold
	listing.UpdatedAt = now

	for _, b := range rejected {
		m.appendChange("bid", b.ID, "status:Pending->Rejected", b)
	}
	m.appendChange("bid", target.ID, "status:Pending->Accepted", target)
	m.appendChange("listing", listing.ID, "status:Active->Sold", listing)

	out := cloneListing(listing)
	out.BidIDs = m.bidIDsLocked(listingID)
	return &matching.AcceptResult{
		Listing:  out,
		Accepted: cloneBid(target),
		Rejected: rejected,
	}, nil
}

func (m *Memory) ReserveOffer(_ context.Context, offerID uuid.UUID, purchase *offers.Purchase) (*matching.ReserveResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	offer, ok := m.offers[offerID]
	if !ok {
		return nil, faults.NotFound("offer %s not found", offerID)
	}
	if offer.Status != offers.OfferAvailable {
		return nil, faults.Conflict("offer %s is no longer available", offerID)
	}

	now := time.Now()
	offer.Status = offers.OfferReserved
	offer.UpdatedAt = now
	m.purchases[purchase.ID] = clonePurchase(purchase)

	m.appendChange("purchase", purchase.ID, "created", purchase)
	m.appendChange("offer", offer.ID, "status:Available->Reserved", offer)

	return &matching.ReserveResult{
		Offer:    cloneOffer(offer),
		Purchase: clonePurchase(purchase),
	}, nil
}

func (m *Memory) ConfirmPurchase(_ context.Context, purchaseID uuid.UUID) (*matching.ReserveResult, error) {
	return m.purchaseTransition(purchaseID, offers.PurchaseConfirmed, "", "")
}

func (m *Memory) CompletePurchase(_ context.Context, purchaseID uuid.UUID) (*matching.ReserveResult, error) {
	return m.purchaseTransition(purchaseID, offers.PurchaseCompleted,
		offers.OfferReserved, offers.OfferSold)
}

func (m *Memory) CancelPurchase(_ context.Context, purchaseID uuid.UUID) (*matching.ReserveResult, error) {
	return m.purchaseTransition(purchaseID, offers.PurchaseCancelled,
		offers.OfferReserved, offers.OfferAvailable)
}

func (m *Memory) purchaseTransition(purchaseID uuid.UUID, to offers.PurchaseStatus,
	offerFrom, offerTo offers.OfferStatus) (*matching.ReserveResult, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	purchase, ok := m.purchases[purchaseID]
	if !ok {
		return nil, faults.NotFound("purchase %s not found", purchaseID)
	}
	if !offers.PurchaseTransitions.CanTransition(string(purchase.Status), string(to)) {
		return nil, faults.InvalidState("purchase %s is %s, cannot become %s", purchaseID, purchase.Status, to)
	}

	if offerFrom != "" {
		if err := m.updateOfferStatusLocked(purchase.OfferID, offerFrom, offerTo); err != nil {
			return nil, err
		}
	}

	prev := purchase.Status
	purchase.Status = to
	purchase.UpdatedAt = time.Now()
	m.appendChange("purchase", purchaseID, fmt.Sprintf("status:%s->%s", prev, to), purchase)

	offer := m.offers[purchase.OfferID]
	if offer == nil {
		return nil, faults.NotFound("offer %s not found", purchase.OfferID)
	}
	return &matching.ReserveResult{
		Offer:    cloneOffer(offer),
		Purchase: clonePurchase(purchase),
	}, nil
}

// =====================================================
// Change events and mirror seeding
// =====================================================

func (m *Memory) ListChangeEvents(_ context.Context, limit int) ([]*ChangeEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := len(m.changes)
	if limit > n {
		limit = n
	}
	out := make([]*ChangeEvent, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		cp := *m.changes[i]
		out = append(out, &cp)
	}
	return out, nil
}

// Seed methods upsert records without audit entries. The resilient wrapper
// uses them to keep the mirror tracking the primary store.

func (m *Memory) SeedListing(l *listings.Listing) {
	m.mu.Lock()
	m.listings[l.ID] = cloneListing(l)
	m.mu.Unlock()
}

func (m *Memory) SeedBid(b *bids.Bid) {
	m.mu.Lock()
	m.bids[b.ID] = cloneBid(b)
	m.mu.Unlock()
}

func (m *Memory) SeedOffer(o *offers.SalesOffer) {
	m.mu.Lock()
	m.offers[o.ID] = cloneOffer(o)
	m.mu.Unlock()
}

func (m *Memory) SeedPurchase(p *offers.Purchase) {
	m.mu.Lock()
	m.purchases[p.ID] = clonePurchase(p)
	m.mu.Unlock()
}

// SeedListingStatus mirrors a committed status transition when the full
// record is not at hand. Missing rows are ignored.
func (m *Memory) SeedListingStatus(id uuid.UUID, to listings.Status) {
	m.mu.Lock()
	if l, ok := m.listings[id]; ok {
		l.Status = to
		l.UpdatedAt = time.Now()
	}
	m.mu.Unlock()
}

// SeedBidStatus mirrors a committed bid transition.
func (m *Memory) SeedBidStatus(id uuid.UUID, to bids.Status) {
	m.mu.Lock()
	if b, ok := m.bids[id]; ok {
		b.Status = to
		b.UpdatedAt = time.Now()
	}
	m.mu.Unlock()
}

// SeedOfferStatus mirrors a committed offer transition.
func (m *Memory) SeedOfferStatus(id uuid.UUID, to offers.OfferStatus) {
	m.mu.Lock()
	if o, ok := m.offers[id]; ok {
		o.Status = to
		o.UpdatedAt = time.Now()
	}
	m.mu.Unlock()
}
