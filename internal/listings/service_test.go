package listings_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"agrimandi/marketplace-backend/internal/bids"
	"agrimandi/marketplace-backend/internal/faults"
	"agrimandi/marketplace-backend/internal/listings"
	"agrimandi/marketplace-backend/internal/propagation"
	"agrimandi/marketplace-backend/internal/storage"
	"agrimandi/marketplace-backend/pkg/locks"
)

func newService(t *testing.T) (*listings.Service, *storage.Memory, *propagation.Bus) {
	t.Helper()
	store := storage.NewMemory()
	bus := propagation.NewBus(nil, 64, zap.NewNop())
	t.Cleanup(bus.Close)
	svc := listings.NewService(store, bus, locks.NewKeyed(2*time.Second), zap.NewNop())
	return svc, store, bus
}

func validRequest() listings.CreateListingRequest {
	return listings.CreateListingRequest{
		CropKind:     "wheat",
		Quantity:     80,
		MinimumPrice: 2300,
		QualityGrade: listings.GradeOrganic,
		Location:     "Nagpur",
		HarvestDate:  time.Now().AddDate(0, 1, 0),
	}
}

func TestCreateListingStartsActive(t *testing.T) {
	svc, _, _ := newService(t)

	listing, err := svc.CreateListing(context.Background(), uuid.New(), validRequest())
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, listing.ID)
	assert.Equal(t, listings.StatusActive, listing.Status)
	assert.Equal(t, "wheat", listing.CropKind)

	stored, err := svc.GetListing(context.Background(), listing.ID)
	require.NoError(t, err)
	assert.Equal(t, listing.ID, stored.ID)
}

func TestCreateListingValidation(t *testing.T) {
	svc, _, _ := newService(t)
	producer := uuid.New()

	cases := []struct {
		name   string
		mutate func(*listings.CreateListingRequest)
	}{
		{"missing crop kind", func(r *listings.CreateListingRequest) { r.CropKind = "" }},
		{"zero quantity", func(r *listings.CreateListingRequest) { r.Quantity = 0 }},
		{"negative price", func(r *listings.CreateListingRequest) { r.MinimumPrice = -5 }},
		{"unknown grade", func(r *listings.CreateListingRequest) { r.QualityGrade = "Hydroponic" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest()
			tc.mutate(&req)
			_, err := svc.CreateListing(context.Background(), producer, req)
			assert.True(t, faults.IsKind(err, faults.KindValidation))
		})
	}

	_, err := svc.CreateListing(context.Background(), uuid.Nil, validRequest())
	assert.True(t, faults.IsKind(err, faults.KindValidation))
}

func TestCreateListingPublishesEvent(t *testing.T) {
	svc, _, bus := newService(t)

	events := make(chan propagation.Event, 8)
	bus.Subscribe(propagation.TopicListings, func(ev propagation.Event) { events <- ev })

	listing, err := svc.CreateListing(context.Background(), uuid.New(), validRequest())
	require.NoError(t, err)

	select {
	case ev := <-events:
		assert.Equal(t, propagation.KindListingCreated, ev.Kind)
		assert.Equal(t, listing.ID, ev.EntityID)
	case <-time.After(2 * time.Second):
		t.Fatal("no listing event")
	}
}

func TestListActiveNewestFirst(t *testing.T) {
	svc, store, _ := newService(t)
	producer := uuid.New()

	older := &listings.Listing{
		ID:         uuid.New(),
		ProducerID: producer,
		CropKind:   "wheat",
		Quantity:   10,
		Status:     listings.StatusActive,
		CreatedAt:  time.Now().Add(-time.Hour),
	}
	newer := &listings.Listing{
		ID:         uuid.New(),
		ProducerID: producer,
		CropKind:   "rice",
		Quantity:   20,
		Status:     listings.StatusActive,
		CreatedAt:  time.Now(),
	}
	closed := &listings.Listing{
		ID:         uuid.New(),
		ProducerID: producer,
		CropKind:   "chana",
		Quantity:   30,
		Status:     listings.StatusClosed,
		CreatedAt:  time.Now(),
	}
	store.SeedListing(older)
	store.SeedListing(newer)
	store.SeedListing(closed)

	active, err := svc.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, newer.ID, active[0].ID)
	assert.Equal(t, older.ID, active[1].ID)
}

func TestGetListingIncludesBidIDs(t *testing.T) {
	svc, store, _ := newService(t)

	listing, err := svc.CreateListing(context.Background(), uuid.New(), validRequest())
	require.NoError(t, err)

	first := seedBidAt(store, listing.ID, time.Now().Add(-time.Minute))
	second := seedBidAt(store, listing.ID, time.Now())

	stored, err := svc.GetListing(context.Background(), listing.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{first, second}, stored.BidIDs)
}

func seedBidAt(store *storage.Memory, listingID uuid.UUID, at time.Time) uuid.UUID {
	bid := &bids.Bid{
		ID:        uuid.New(),
		ListingID: listingID,
		BidderID:  uuid.New(),
		Price:     2500,
		Quantity:  10,
		Status:    bids.StatusPending,
		CreatedAt: at,
		UpdatedAt: at,
	}
	store.SeedBid(bid)
	return bid.ID
}

func TestCloseListing(t *testing.T) {
	svc, _, _ := newService(t)
	producer := uuid.New()

	listing, err := svc.CreateListing(context.Background(), producer, validRequest())
	require.NoError(t, err)

	closed, err := svc.CloseListing(context.Background(), listing.ID, producer)
	require.NoError(t, err)
	assert.Equal(t, listings.StatusClosed, closed.Status)

	// Closing again is invalid; Closed is terminal.
	_, err = svc.CloseListing(context.Background(), listing.ID, producer)
	assert.True(t, faults.IsKind(err, faults.KindInvalidState))
}

func TestCloseListingRequiresOwnership(t *testing.T) {
	svc, _, _ := newService(t)

	listing, err := svc.CreateListing(context.Background(), uuid.New(), validRequest())
	require.NoError(t, err)

	_, err = svc.CloseListing(context.Background(), listing.ID, uuid.New())
	assert.True(t, faults.IsKind(err, faults.KindPermission))
}

func TestCloseUnknownListing(t *testing.T) {
	svc, _, _ := newService(t)
	_, err := svc.CloseListing(context.Background(), uuid.New(), uuid.New())
	assert.True(t, faults.IsKind(err, faults.KindNotFound))
}
