package matching_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"agrimandi/marketplace-backend/internal/bids"
	"agrimandi/marketplace-backend/internal/faults"
	"agrimandi/marketplace-backend/internal/listings"
	"agrimandi/marketplace-backend/internal/matching"
	"agrimandi/marketplace-backend/internal/offers"
	"agrimandi/marketplace-backend/internal/propagation"
	"agrimandi/marketplace-backend/internal/storage"
	"agrimandi/marketplace-backend/pkg/locks"
)

type fixture struct {
	store       *storage.Memory
	bus         *propagation.Bus
	coordinator *matching.Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := storage.NewMemory()
	bus := propagation.NewBus(nil, 64, zap.NewNop())
	t.Cleanup(bus.Close)

	coordinator := matching.NewCoordinator(store, store, store, store,
		bus, locks.NewKeyed(2*time.Second), zap.NewNop())
	return &fixture{store: store, bus: bus, coordinator: coordinator}
}

func seedListing(f *fixture, producerID uuid.UUID) *listings.Listing {
	listing := &listings.Listing{
		ID:           uuid.New(),
		ProducerID:   producerID,
		CropKind:     "soybean",
		Quantity:     120,
		MinimumPrice: 4200,
		QualityGrade: listings.GradeOrganic,
		Status:       listings.StatusActive,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	f.store.SeedListing(listing)
	return listing
}

func seedBid(f *fixture, listingID uuid.UUID, price int64, status bids.Status) *bids.Bid {
	bid := &bids.Bid{
		ID:        uuid.New(),
		ListingID: listingID,
		BidderID:  uuid.New(),
		Price:     price,
		Quantity:  120,
		Status:    status,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	f.store.SeedBid(bid)
	return bid
}

func seedOffer(f *fixture, fpoID uuid.UUID, status offers.OfferStatus) *offers.SalesOffer {
	offer := &offers.SalesOffer{
		ID:           uuid.New(),
		FPOID:        fpoID,
		CropKind:     "chana",
		Quantity:     400,
		PricePerUnit: 5100,
		Status:       status,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	f.store.SeedOffer(offer)
	return offer
}

func TestAcceptBidSettlesListing(t *testing.T) {
	f := newFixture(t)
	producer := uuid.New()
	listing := seedListing(f, producer)
	winner := seedBid(f, listing.ID, 4800, bids.StatusPending)
	loserA := seedBid(f, listing.ID, 4500, bids.StatusPending)
	loserB := seedBid(f, listing.ID, 4600, bids.StatusPending)

	result, err := f.coordinator.AcceptBid(context.Background(), listing.ID, winner.ID, producer)
	require.NoError(t, err)

	assert.Equal(t, listings.StatusSold, result.Listing.Status)
	assert.Equal(t, bids.StatusAccepted, result.Accepted.Status)
	require.Len(t, result.Rejected, 2)
	for _, rejected := range result.Rejected {
		assert.Equal(t, bids.StatusRejected, rejected.Status)
		assert.Contains(t, []uuid.UUID{loserA.ID, loserB.ID}, rejected.ID)
	}

	// Persisted state matches the returned snapshot.
	stored, err := f.store.GetListing(context.Background(), listing.ID)
	require.NoError(t, err)
	assert.Equal(t, listings.StatusSold, stored.Status)
}

func TestAcceptBidAllowsAnyPendingBid(t *testing.T) {
	f := newFixture(t)
	producer := uuid.New()
	listing := seedListing(f, producer)
	low := seedBid(f, listing.ID, 4300, bids.StatusPending)
	seedBid(f, listing.ID, 5000, bids.StatusPending)

	// The producer may pick the lower bid; price never decides.
	result, err := f.coordinator.AcceptBid(context.Background(), listing.ID, low.ID, producer)
	require.NoError(t, err)
	assert.Equal(t, low.ID, result.Accepted.ID)
}

func TestAcceptBidEmitsEventsInSettlementOrder(t *testing.T) {
	f := newFixture(t)
	producer := uuid.New()
	listing := seedListing(f, producer)
	winner := seedBid(f, listing.ID, 4800, bids.StatusPending)
	seedBid(f, listing.ID, 4500, bids.StatusPending)
	seedBid(f, listing.ID, 4600, bids.StatusPending)

	bidEvents := make(chan propagation.Event, 16)
	listingEvents := make(chan propagation.Event, 16)
	f.bus.Subscribe(propagation.TopicBids(listing.ID), func(ev propagation.Event) { bidEvents <- ev })
	f.bus.Subscribe(propagation.TopicListings, func(ev propagation.Event) { listingEvents <- ev })

	_, err := f.coordinator.AcceptBid(context.Background(), listing.ID, winner.ID, producer)
	require.NoError(t, err)

	var kinds []string
	for len(kinds) < 3 {
		select {
		case ev := <-bidEvents:
			kinds = append(kinds, ev.Kind)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d bid events", len(kinds))
		}
	}
	assert.Equal(t, []string{
		propagation.KindBidRejected,
		propagation.KindBidRejected,
		propagation.KindBidAccepted,
	}, kinds)

	select {
	case ev := <-listingEvents:
		assert.Equal(t, propagation.KindListingSold, ev.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("no listing event")
	}
}

func TestAcceptBidRequiresOwnership(t *testing.T) {
	f := newFixture(t)
	listing := seedListing(f, uuid.New())
	bid := seedBid(f, listing.ID, 4800, bids.StatusPending)

	_, err := f.coordinator.AcceptBid(context.Background(), listing.ID, bid.ID, uuid.New())
	assert.True(t, faults.IsKind(err, faults.KindPermission))
}

func TestAcceptBidRejectsWrongListing(t *testing.T) {
	f := newFixture(t)
	producer := uuid.New()
	listing := seedListing(f, producer)
	other := seedListing(f, producer)
	bid := seedBid(f, other.ID, 4800, bids.StatusPending)

	_, err := f.coordinator.AcceptBid(context.Background(), listing.ID, bid.ID, producer)
	assert.True(t, faults.IsKind(err, faults.KindInvalidState))
}

func TestAcceptBidRejectsResolvedBid(t *testing.T) {
	f := newFixture(t)
	producer := uuid.New()
	listing := seedListing(f, producer)
	bid := seedBid(f, listing.ID, 4800, bids.StatusRejected)

	_, err := f.coordinator.AcceptBid(context.Background(), listing.ID, bid.ID, producer)
	assert.True(t, faults.IsKind(err, faults.KindInvalidState))
}

func TestAcceptBidOnSoldListingConflicts(t *testing.T) {
	f := newFixture(t)
	producer := uuid.New()
	listing := seedListing(f, producer)
	bid := seedBid(f, listing.ID, 4800, bids.StatusPending)
	f.store.SeedListingStatus(listing.ID, listings.StatusSold)

	// A listing already sold means another accept won the race; the
	// caller gets the retry-safe conflict, not an invalid-state fault.
	_, err := f.coordinator.AcceptBid(context.Background(), listing.ID, bid.ID, producer)
	assert.True(t, faults.IsKind(err, faults.KindConflict), "got %v", err)
}

func TestAcceptBidOnClosedListingInvalidState(t *testing.T) {
	f := newFixture(t)
	producer := uuid.New()
	listing := seedListing(f, producer)
	bid := seedBid(f, listing.ID, 4800, bids.StatusPending)
	f.store.SeedListingStatus(listing.ID, listings.StatusClosed)

	_, err := f.coordinator.AcceptBid(context.Background(), listing.ID, bid.ID, producer)
	assert.True(t, faults.IsKind(err, faults.KindInvalidState), "got %v", err)
}

func TestConcurrentAcceptsSettleExactlyOnce(t *testing.T) {
	f := newFixture(t)
	producer := uuid.New()
	listing := seedListing(f, producer)

	const n = 8
	contenders := make([]*bids.Bid, n)
	for i := range contenders {
		contenders[i] = seedBid(f, listing.ID, 4400+int64(i)*10, bids.StatusPending)
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.coordinator.AcceptBid(context.Background(), listing.ID, contenders[i].ID, producer)
		}(i)
	}
	wg.Wait()

	// Losers of the race get the retry-safe conflict fault, nothing else.
	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.True(t, faults.IsKind(err, faults.KindConflict), "unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)

	remaining, err := f.store.ListBidsForListing(context.Background(), listing.ID)
	require.NoError(t, err)
	accepted := 0
	for _, b := range remaining {
		if b.Status == bids.StatusAccepted {
			accepted++
		} else {
			assert.Equal(t, bids.StatusRejected, b.Status)
		}
	}
	assert.Equal(t, 1, accepted)
}

func TestReserveOfferCreatesPendingPurchase(t *testing.T) {
	f := newFixture(t)
	offer := seedOffer(f, uuid.New(), offers.OfferAvailable)
	processor := uuid.New()

	result, err := f.coordinator.ReserveOffer(context.Background(), offer.ID, processor, 200, 5100)
	require.NoError(t, err)

	assert.Equal(t, offers.OfferReserved, result.Offer.Status)
	assert.Equal(t, offers.PurchasePending, result.Purchase.Status)
	assert.Equal(t, processor, result.Purchase.ProcessorID)
}

func TestReserveOfferValidatesTerms(t *testing.T) {
	f := newFixture(t)
	offer := seedOffer(f, uuid.New(), offers.OfferAvailable)

	_, err := f.coordinator.ReserveOffer(context.Background(), offer.ID, uuid.New(), 0, 5100)
	assert.True(t, faults.IsKind(err, faults.KindValidation))

	_, err = f.coordinator.ReserveOffer(context.Background(), offer.ID, uuid.New(), 200, -1)
	assert.True(t, faults.IsKind(err, faults.KindValidation))

	_, err = f.coordinator.ReserveOffer(context.Background(), offer.ID, uuid.New(), offer.Quantity+1, 5100)
	assert.True(t, faults.IsKind(err, faults.KindValidation))
}

func TestReserveTakenOfferConflicts(t *testing.T) {
	f := newFixture(t)

	for _, status := range []offers.OfferStatus{offers.OfferReserved, offers.OfferSold} {
		offer := seedOffer(f, uuid.New(), status)
		_, err := f.coordinator.ReserveOffer(context.Background(), offer.ID, uuid.New(), 100, 5100)
		assert.True(t, faults.IsKind(err, faults.KindConflict), "status %s: got %v", status, err)
	}
}

func TestConcurrentReservesWinOnce(t *testing.T) {
	f := newFixture(t)
	offer := seedOffer(f, uuid.New(), offers.OfferAvailable)

	const n = 6
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.coordinator.ReserveOffer(context.Background(), offer.ID, uuid.New(), 100, 5100)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.True(t, faults.IsKind(err, faults.KindConflict), "unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
}

func TestPurchaseLifecycle(t *testing.T) {
	f := newFixture(t)
	fpo := uuid.New()
	offer := seedOffer(f, fpo, offers.OfferAvailable)
	processor := uuid.New()

	reserved, err := f.coordinator.ReserveOffer(context.Background(), offer.ID, processor, 200, 5100)
	require.NoError(t, err)

	confirmed, err := f.coordinator.ConfirmPurchase(context.Background(), reserved.Purchase.ID, fpo)
	require.NoError(t, err)
	assert.Equal(t, offers.PurchaseConfirmed, confirmed.Purchase.Status)
	assert.Equal(t, offers.OfferReserved, confirmed.Offer.Status)

	completed, err := f.coordinator.CompletePurchase(context.Background(), reserved.Purchase.ID, fpo)
	require.NoError(t, err)
	assert.Equal(t, offers.PurchaseCompleted, completed.Purchase.Status)
	assert.Equal(t, offers.OfferSold, completed.Offer.Status)
}

func TestConfirmPurchaseRequiresOwningFPO(t *testing.T) {
	f := newFixture(t)
	offer := seedOffer(f, uuid.New(), offers.OfferAvailable)
	processor := uuid.New()

	reserved, err := f.coordinator.ReserveOffer(context.Background(), offer.ID, processor, 200, 5100)
	require.NoError(t, err)

	// Neither the processor nor a stranger can confirm.
	_, err = f.coordinator.ConfirmPurchase(context.Background(), reserved.Purchase.ID, processor)
	assert.True(t, faults.IsKind(err, faults.KindPermission))
	_, err = f.coordinator.ConfirmPurchase(context.Background(), reserved.Purchase.ID, uuid.New())
	assert.True(t, faults.IsKind(err, faults.KindPermission))
}

func TestCancelPurchaseReopensOffer(t *testing.T) {
	f := newFixture(t)
	fpo := uuid.New()
	offer := seedOffer(f, fpo, offers.OfferAvailable)
	processor := uuid.New()

	reserved, err := f.coordinator.ReserveOffer(context.Background(), offer.ID, processor, 200, 5100)
	require.NoError(t, err)

	cancelled, err := f.coordinator.CancelPurchase(context.Background(), reserved.Purchase.ID, processor)
	require.NoError(t, err)
	assert.Equal(t, offers.PurchaseCancelled, cancelled.Purchase.Status)
	assert.Equal(t, offers.OfferAvailable, cancelled.Offer.Status)

	// The re-opened offer can be reserved again.
	_, err = f.coordinator.ReserveOffer(context.Background(), offer.ID, uuid.New(), 150, 5000)
	require.NoError(t, err)
}

func TestCancelCompletedPurchaseFails(t *testing.T) {
	f := newFixture(t)
	fpo := uuid.New()
	offer := seedOffer(f, fpo, offers.OfferAvailable)
	processor := uuid.New()

	reserved, err := f.coordinator.ReserveOffer(context.Background(), offer.ID, processor, 200, 5100)
	require.NoError(t, err)
	_, err = f.coordinator.ConfirmPurchase(context.Background(), reserved.Purchase.ID, fpo)
	require.NoError(t, err)
	_, err = f.coordinator.CompletePurchase(context.Background(), reserved.Purchase.ID, fpo)
	require.NoError(t, err)

	_, err = f.coordinator.CancelPurchase(context.Background(), reserved.Purchase.ID, processor)
	assert.True(t, faults.IsKind(err, faults.KindInvalidState), "got %v", err)
}
