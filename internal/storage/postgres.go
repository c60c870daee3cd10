package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"agrimandi/marketplace-backend/internal/bids"
	"agrimandi/marketplace-backend/internal/faults"
	"agrimandi/marketplace-backend/internal/listings"
	"agrimandi/marketplace-backend/internal/matching"
	"agrimandi/marketplace-backend/internal/offers"
)

// Postgres persists marketplace records through gorm. Conditional status
// updates ("update row only if status = X") carry the optimistic-concurrency
// guarantee; multi-record transitions run in a single transaction.
type Postgres struct {
	db *gorm.DB
}

// NewPostgres creates a Postgres storage adapter.
func NewPostgres(db *gorm.DB) *Postgres {
	return &Postgres{db: db}
}

// Migrate creates or updates the marketplace tables.
func (p *Postgres) Migrate() error {
	return p.db.AutoMigrate(
		&listings.Listing{},
		&bids.Bid{},
		&offers.SalesOffer{},
		&offers.Purchase{},
		&ChangeEvent{},
	)
}

// appendChange writes an audit row inside the caller's transaction.
func appendChange(tx *gorm.DB, entity string, entityID uuid.UUID, action string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal change payload: %w", err)
	}
	return tx.Create(&ChangeEvent{
		ID:        uuid.New(),
		Entity:    entity,
		EntityID:  entityID,
		Action:    action,
		Payload:   raw,
		CreatedAt: time.Now(),
	}).Error
}

// =====================================================
// Listings
// =====================================================

func (p *Postgres) CreateListing(ctx context.Context, listing *listings.Listing) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(listing).Error; err != nil {
			return err
		}
		return appendChange(tx, "listing", listing.ID, "created", listing)
	})
}

func (p *Postgres) GetListing(ctx context.Context, id uuid.UUID) (*listings.Listing, error) {
	var listing listings.Listing
	err := p.db.WithContext(ctx).First(&listing, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, faults.NotFound("listing %s not found", id)
	}
	if err != nil {
		return nil, err
	}

	var bidIDs []uuid.UUID
	err = p.db.WithContext(ctx).Model(&bids.Bid{}).
		Where("listing_id = ?", id).
		Order("created_at ASC").
		Pluck("id", &bidIDs).Error
	if err != nil {
		return nil, err
	}
	listing.BidIDs = bidIDs
	return &listing, nil
}

func (p *Postgres) ListActiveListings(ctx context.Context) ([]*listings.Listing, error) {
	var out []*listings.Listing
	err := p.db.WithContext(ctx).
		Where("status = ?", listings.StatusActive).
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}

func (p *Postgres) ListListingsByProducer(ctx context.Context, producerID uuid.UUID) ([]*listings.Listing, error) {
	var out []*listings.Listing
	err := p.db.WithContext(ctx).
		Where("producer_id = ?", producerID).
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}

func (p *Postgres) UpdateListingStatus(ctx context.Context, id uuid.UUID, from, to listings.Status) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&listings.Listing{}).
			Where("id = ? AND status = ?", id, from).
			Updates(map[string]any{"status": to, "updated_at": time.Now()})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var n int64
			if err := tx.Model(&listings.Listing{}).Where("id = ?", id).Count(&n).Error; err != nil {
				return err
			}
			if n == 0 {
				return faults.NotFound("listing %s not found", id)
			}
			return faults.Conflict("listing %s is no longer %s", id, from)
		}

		var listing listings.Listing
		if err := tx.First(&listing, "id = ?", id).Error; err != nil {
			return err
		}
		return appendChange(tx, "listing", id, fmt.Sprintf("status:%s->%s", from, to), &listing)
	})
}

// =====================================================
// Bids
// =====================================================

func (p *Postgres) CreateBid(ctx context.Context, bid *bids.Bid) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(bid).Error; err != nil {
			return err
		}
		return appendChange(tx, "bid", bid.ID, "created", bid)
	})
}

func (p *Postgres) GetBid(ctx context.Context, id uuid.UUID) (*bids.Bid, error) {
	var bid bids.Bid
	err := p.db.WithContext(ctx).First(&bid, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, faults.NotFound("bid %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &bid, nil
}

func (p *Postgres) ListBidsForListing(ctx context.Context, listingID uuid.UUID) ([]*bids.Bid, error) {
	var out []*bids.Bid
	err := p.db.WithContext(ctx).
		Where("listing_id = ?", listingID).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}

func (p *Postgres) UpdateBidStatus(ctx context.Context, id uuid.UUID, from, to bids.Status) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&bids.Bid{}).
			Where("id = ? AND status = ?", id, from).
			Updates(map[string]any{"status": to, "updated_at": time.Now()})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var n int64
			if err := tx.Model(&bids.Bid{}).Where("id = ?", id).Count(&n).Error; err != nil {
				return err
			}
			if n == 0 {
				return faults.NotFound("bid %s not found", id)
			}
			return faults.Conflict("bid %s is no longer %s", id, from)
		}

		var bid bids.Bid
		if err := tx.First(&bid, "id = ?", id).Error; err != nil {
			return err
		}
		return appendChange(tx, "bid", id, fmt.Sprintf("status:%s->%s", from, to), &bid)
	})
}

// =====================================================
// Offers and purchases
// =====================================================

func (p *Postgres) CreateOffer(ctx context.Context, offer *offers.SalesOffer) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(offer).Error; err != nil {
			return err
		}
		return appendChange(tx, "offer", offer.ID, "created", offer)
	})
}

func (p *Postgres) GetOffer(ctx context.Context, id uuid.UUID) (*offers.SalesOffer, error) {
	var offer offers.SalesOffer
	err := p.db.WithContext(ctx).First(&offer, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, faults.NotFound("offer %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &offer, nil
}

func (p *Postgres) ListAvailableOffers(ctx context.Context) ([]*offers.SalesOffer, error) {
	var out []*offers.SalesOffer
	err := p.db.WithContext(ctx).
		Where("status = ?", offers.OfferAvailable).
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}

func (p *Postgres) ListOffersByFPO(ctx context.Context, fpoID uuid.UUID) ([]*offers.SalesOffer, error) {
	var out []*offers.SalesOffer
	err := p.db.WithContext(ctx).
		Where("fpo_id = ?", fpoID).
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}

func (p *Postgres) UpdateOfferStatus(ctx context.Context, id uuid.UUID, from, to offers.OfferStatus) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return p.updateOfferStatusTx(tx, id, from, to)
	})
}

func (p *Postgres) updateOfferStatusTx(tx *gorm.DB, id uuid.UUID, from, to offers.OfferStatus) error {
	res := tx.Model(&offers.SalesOffer{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{"status": to, "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var n int64
		if err := tx.Model(&offers.SalesOffer{}).Where("id = ?", id).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return faults.NotFound("offer %s not found", id)
		}
		return faults.Conflict("offer %s is no longer %s", id, from)
	}

	var offer offers.SalesOffer
	if err := tx.First(&offer, "id = ?", id).Error; err != nil {
		return err
	}
	return appendChange(tx, "offer", id, fmt.Sprintf("status:%s->%s", from, to), &offer)
}

func (p *Postgres) GetPurchase(ctx context.Context, id uuid.UUID) (*offers.Purchase, error) {
	var purchase offers.Purchase
	err := p.db.WithContext(ctx).First(&purchase, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, faults.NotFound("purchase %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &purchase, nil
}

func (p *Postgres) ListPurchasesByProcessor(ctx context.Context, processorID uuid.UUID) ([]*offers.Purchase, error) {
	var out []*offers.Purchase
	err := p.db.WithContext(ctx).
		Where("processor_id = ?", processorID).
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}

func (p *Postgres) ListPurchasesForOffer(ctx context.Context, offerID uuid.UUID) ([]*offers.Purchase, error) {
	var out []*offers.Purchase
	err := p.db.WithContext(ctx).
		Where("offer_id = ?", offerID).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}

// =====================================================
// Atomic multi-record transitions
// =====================================================

// AcceptBid runs the settlement transaction. The conditional update on the
// listing row is the gate: a concurrent accept that already flipped the
// listing makes this one fail with a conflict and roll back untouched.
func (p *Postgres) AcceptBid(ctx context.Context, listingID, bidID uuid.UUID) (*matching.AcceptResult, error) {
	var result *matching.AcceptResult
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()

		res := tx.Model(&listings.Listing{}).
			Where("id = ? AND status = ?", listingID, listings.StatusActive).
			Updates(map[string]any{"status": listings.StatusSold, "updated_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var n int64
			if err := tx.Model(&listings.Listing{}).Where("id = ?", listingID).Count(&n).Error; err != nil {
				return err
			}
			if n == 0 {
				return faults.NotFound("listing %s not found", listingID)
			}
			return faults.Conflict("listing %s is no longer active", listingID)
		}

		res = tx.Model(&bids.Bid{}).
			Where("id = ? AND listing_id = ? AND status = ?", bidID, listingID, bids.StatusPending).
			Updates(map[string]any{"status": bids.StatusAccepted, "updated_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return faults.InvalidState("bid %s is not pending on listing %s", bidID, listingID)
		}

		var rejected []*bids.Bid
		err := tx.Where("listing_id = ? AND status = ? AND id <> ?", listingID, bids.StatusPending, bidID).
			Order("created_at ASC").
			Find(&rejected).Error
		if err != nil {
			return err
		}
		if len(rejected) > 0 {
			ids := make([]uuid.UUID, len(rejected))
			for i, b := range rejected {
				ids[i] = b.ID
			}
			err = tx.Model(&bids.Bid{}).
				Where("id IN ?", ids).
				Updates(map[string]any{"status": bids.StatusRejected, "updated_at": now}).Error
			if err != nil {
				return err
			}
			for _, b := range rejected {
				b.Status = bids.StatusRejected
				b.UpdatedAt = now
			}
		}

		var accepted bids.Bid
		if err := tx.First(&accepted, "id = ?", bidID).Error; err != nil {
			return err
		}
		var listing listings.Listing
		if err := tx.First(&listing, "id = ?", listingID).Error; err != nil {
			return err
		}

		// Audit rows follow the propagation order: rejected bids, then the
		// accepted bid, then the listing.
		for _, b := range rejected {
			if err := appendChange(tx, "bid", b.ID, "status:Pending->Rejected", b); err != nil {
				return err
			}
		}
		if err := appendChange(tx, "bid", accepted.ID, "status:Pending->Accepted", &accepted); err != nil {
			return err
		}
		if err := appendChange(tx, "listing", listing.ID, "status:Active->Sold", &listing); err != nil {
			return err
		}

		result = &matching.AcceptResult{
			Listing:  &listing,
			Accepted: &accepted,
			Rejected: rejected,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ReserveOffer gates on the offer's Available status and records the
// purchase in the same transaction.
func (p *Postgres) ReserveOffer(ctx context.Context, offerID uuid.UUID, purchase *offers.Purchase) (*matching.ReserveResult, error) {
	var result *matching.ReserveResult
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&offers.SalesOffer{}).
			Where("id = ? AND status = ?", offerID, offers.OfferAvailable).
			Updates(map[string]any{"status": offers.OfferReserved, "updated_at": time.Now()})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var n int64
			if err := tx.Model(&offers.SalesOffer{}).Where("id = ?", offerID).Count(&n).Error; err != nil {
				return err
			}
			if n == 0 {
				return faults.NotFound("offer %s not found", offerID)
			}
			return faults.Conflict("offer %s is no longer available", offerID)
		}

		if err := tx.Create(purchase).Error; err != nil {
			return err
		}

		var offer offers.SalesOffer
		if err := tx.First(&offer, "id = ?", offerID).Error; err != nil {
			return err
		}

		if err := appendChange(tx, "purchase", purchase.ID, "created", purchase); err != nil {
			return err
		}
		if err := appendChange(tx, "offer", offer.ID, "status:Available->Reserved", &offer); err != nil {
			return err
		}

		result = &matching.ReserveResult{Offer: &offer, Purchase: purchase}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (p *Postgres) ConfirmPurchase(ctx context.Context, purchaseID uuid.UUID) (*matching.ReserveResult, error) {
	return p.purchaseTransition(ctx, purchaseID, offers.PurchaseConfirmed, "", "")
}

func (p *Postgres) CompletePurchase(ctx context.Context, purchaseID uuid.UUID) (*matching.ReserveResult, error) {
	return p.purchaseTransition(ctx, purchaseID, offers.PurchaseCompleted,
		offers.OfferReserved, offers.OfferSold)
}

func (p *Postgres) CancelPurchase(ctx context.Context, purchaseID uuid.UUID) (*matching.ReserveResult, error) {
	return p.purchaseTransition(ctx, purchaseID, offers.PurchaseCancelled,
		offers.OfferReserved, offers.OfferAvailable)
}

// purchaseTransition applies a guarded purchase status change and, when
// offerFrom/offerTo are set, the paired offer transition in the same
// transaction. The legal source statuses come from the purchase state
// machine.
func (p *Postgres) purchaseTransition(ctx context.Context, purchaseID uuid.UUID,
	to offers.PurchaseStatus,
	offerFrom, offerTo offers.OfferStatus) (*matching.ReserveResult, error) {

	var result *matching.ReserveResult
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var purchase offers.Purchase
		err := tx.First(&purchase, "id = ?", purchaseID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return faults.NotFound("purchase %s not found", purchaseID)
		}
		if err != nil {
			return err
		}

		prev := purchase.Status
		now := time.Now()
		res := tx.Model(&offers.Purchase{}).
			Where("id = ? AND status IN ?", purchaseID, offers.PurchaseTransitions.Sources(string(to))).
			Updates(map[string]any{"status": to, "updated_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return faults.InvalidState("purchase %s is %s, cannot become %s", purchaseID, prev, to)
		}
		purchase.Status = to
		purchase.UpdatedAt = now

		if offerFrom != "" {
			if err := p.updateOfferStatusTx(tx, purchase.OfferID, offerFrom, offerTo); err != nil {
				return err
			}
		}

		var offer offers.SalesOffer
		if err := tx.First(&offer, "id = ?", purchase.OfferID).Error; err != nil {
			return err
		}

		if err := appendChange(tx, "purchase", purchase.ID, fmt.Sprintf("status:%s->%s", prev, to), &purchase); err != nil {
			return err
		}

		result = &matching.ReserveResult{Offer: &offer, Purchase: &purchase}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// =====================================================
// Change events
// =====================================================

func (p *Postgres) ListChangeEvents(ctx context.Context, limit int) ([]*ChangeEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []*ChangeEvent
	err := p.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}
