package offers

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"agrimandi/marketplace-backend/internal/faults"
	"agrimandi/marketplace-backend/internal/propagation"
)

// Service owns sales offers: the FPO-to-processor side of the
// marketplace. Reservation and the purchase lifecycle run through the
// matching coordinator.
type Service struct {
	repo   Repository
	bus    *propagation.Bus
	logger *zap.Logger
}

// NewService creates an offer service.
func NewService(repo Repository, bus *propagation.Bus, logger *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		bus:    bus,
		logger: logger,
	}
}

// LockKey is the per-aggregate lock key for an offer.
func LockKey(id uuid.UUID) string {
	return "offer:" + id.String()
}

// CreateOffer validates and persists a new Available offer, then
// broadcasts it.
func (s *Service) CreateOffer(ctx context.Context, fpoID uuid.UUID, req CreateOfferRequest) (*SalesOffer, error) {
	if fpoID == uuid.Nil {
		return nil, faults.Validation("fpo id is required")
	}
	if req.CropKind == "" {
		return nil, faults.Validation("crop kind is required")
	}
	if req.Quantity <= 0 {
		return nil, faults.Validation("quantity must be positive, got %v", req.Quantity)
	}
	if req.PricePerUnit <= 0 {
		return nil, faults.Validation("price per unit must be positive, got %d", req.PricePerUnit)
	}

	now := time.Now()
	offer := &SalesOffer{
		ID:           uuid.New(),
		FPOID:        fpoID,
		CropKind:     req.CropKind,
		Quantity:     req.Quantity,
		Quality:      req.Quality,
		PricePerUnit: req.PricePerUnit,
		WarehouseRef: req.WarehouseRef,
		Status:       OfferAvailable,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.repo.CreateOffer(ctx, offer); err != nil {
		return nil, err
	}

	s.logger.Info("offer created",
		zap.String("offer_id", offer.ID.String()),
		zap.String("fpo_id", fpoID.String()),
		zap.String("crop_kind", offer.CropKind))

	s.bus.Publish(
		propagation.NewEvent(propagation.KindOfferCreated, "offer", offer.ID, offer),
		propagation.TopicOffersAll, propagation.TopicOffersForFPO(fpoID))
	return offer, nil
}

// ListAvailable returns all Available offers, newest first.
func (s *Service) ListAvailable(ctx context.Context) ([]*SalesOffer, error) {
	return s.repo.ListAvailableOffers(ctx)
}

// ListByFPO returns one FPO's offers, newest first.
func (s *Service) ListByFPO(ctx context.Context, fpoID uuid.UUID) ([]*SalesOffer, error) {
	return s.repo.ListOffersByFPO(ctx, fpoID)
}

// GetOffer returns one offer.
func (s *Service) GetOffer(ctx context.Context, id uuid.UUID) (*SalesOffer, error) {
	return s.repo.GetOffer(ctx, id)
}

// ListPurchasesForOffer returns an offer's purchases ordered by
// submission time. Only the owning FPO may inspect them.
func (s *Service) ListPurchasesForOffer(ctx context.Context, offerID, requesterID uuid.UUID) ([]*Purchase, error) {
	offer, err := s.repo.GetOffer(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if offer.FPOID != requesterID {
		return nil, faults.Permission("requester %s does not own offer %s", requesterID, offerID)
	}
	return s.repo.ListPurchasesForOffer(ctx, offerID)
}

// ListPurchasesByProcessor returns a processor's own purchases, newest
// first.
func (s *Service) ListPurchasesByProcessor(ctx context.Context, processorID uuid.UUID) ([]*Purchase, error) {
	return s.repo.ListPurchasesByProcessor(ctx, processorID)
}
