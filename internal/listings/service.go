package listings

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"agrimandi/marketplace-backend/internal/faults"
	"agrimandi/marketplace-backend/internal/propagation"
	"agrimandi/marketplace-backend/pkg/locks"
)

// Service owns listing records and enforces the listing state machine.
// Listings are mutated only here and by the matching coordinator, never
// directly by a counterparty.
type Service struct {
	repo   Repository
	bus    *propagation.Bus
	locks  *locks.Keyed
	logger *zap.Logger
}

// NewService creates a listing service.
func NewService(repo Repository, bus *propagation.Bus, keyed *locks.Keyed, logger *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		bus:    bus,
		locks:  keyed,
		logger: logger,
	}
}

// LockKey is the per-aggregate lock key for a listing. The bid ledger and
// the matching coordinator serialize on the same key, so all mutations of
// one listing and its bids are single-writer.
func LockKey(id uuid.UUID) string {
	return "listing:" + id.String()
}

// CreateListing validates and persists a new Active listing, then
// broadcasts it.
func (s *Service) CreateListing(ctx context.Context, producerID uuid.UUID, req CreateListingRequest) (*Listing, error) {
	if producerID == uuid.Nil {
		return nil, faults.Validation("producer id is required")
	}
	if req.CropKind == "" {
		return nil, faults.Validation("crop kind is required")
	}
	if req.Quantity <= 0 {
		return nil, faults.Validation("quantity must be positive, got %v", req.Quantity)
	}
	if req.MinimumPrice <= 0 {
		return nil, faults.Validation("minimum price must be positive, got %d", req.MinimumPrice)
	}
	if !ValidGrade(req.QualityGrade) {
		return nil, faults.Validation("quality grade must be %s or %s", GradeOrganic, GradeConventionalChemical)
	}

	now := time.Now()
	listing := &Listing{
		ID:           uuid.New(),
		ProducerID:   producerID,
		CropKind:     req.CropKind,
		Quantity:     req.Quantity,
		MinimumPrice: req.MinimumPrice,
		QualityGrade: req.QualityGrade,
		Location:     req.Location,
		HarvestDate:  req.HarvestDate,
		Status:       StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.repo.CreateListing(ctx, listing); err != nil {
		return nil, err
	}

	s.logger.Info("listing created",
		zap.String("listing_id", listing.ID.String()),
		zap.String("producer_id", producerID.String()),
		zap.String("crop_kind", listing.CropKind))

	s.bus.Publish(
		propagation.NewEvent(propagation.KindListingCreated, "listing", listing.ID, listing),
		propagation.TopicListings)
	return listing, nil
}

// ListActive returns all Active listings, newest first.
func (s *Service) ListActive(ctx context.Context) ([]*Listing, error) {
	return s.repo.ListActiveListings(ctx)
}

// ListByProducer returns a producer's listings, newest first.
func (s *Service) ListByProducer(ctx context.Context, producerID uuid.UUID) ([]*Listing, error) {
	return s.repo.ListListingsByProducer(ctx, producerID)
}

// GetListing returns one listing with its owned bid id collection.
func (s *Service) GetListing(ctx context.Context, id uuid.UUID) (*Listing, error) {
	return s.repo.GetListing(ctx, id)
}

// CloseListing transitions a producer's own listing Active to Closed.
func (s *Service) CloseListing(ctx context.Context, id, requesterID uuid.UUID) (*Listing, error) {
	release, err := s.locks.Acquire(ctx, LockKey(id))
	if err != nil {
		return nil, err
	}
	defer release()

	listing, err := s.repo.GetListing(ctx, id)
	if err != nil {
		return nil, err
	}
	if listing.ProducerID != requesterID {
		return nil, faults.Permission("requester %s does not own listing %s", requesterID, id)
	}
	if !Transitions.CanTransition(string(listing.Status), string(StatusClosed)) {
		return nil, faults.InvalidState("listing %s is %s, cannot close", id, listing.Status)
	}

	if err := s.repo.UpdateListingStatus(ctx, id, StatusActive, StatusClosed); err != nil {
		return nil, err
	}

	listing, err = s.repo.GetListing(ctx, id)
	if err != nil {
		return nil, err
	}

	s.logger.Info("listing closed", zap.String("listing_id", id.String()))
	s.bus.Publish(
		propagation.NewEvent(propagation.KindListingClosed, "listing", id, listing),
		propagation.TopicListings)
	return listing, nil
}
