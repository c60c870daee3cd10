package storage

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"agrimandi/marketplace-backend/internal/faults"
	"agrimandi/marketplace-backend/internal/listings"
	"agrimandi/marketplace-backend/internal/offers"
)

var errConnRefused = errors.New("dial tcp 127.0.0.1:5432: connection refused")

// flakyBackend wraps a working backend and can be switched into a failure
// mode where every overridden call fails like a dead database.
type flakyBackend struct {
	Backend
	down atomic.Bool
}

func (f *flakyBackend) CreateListing(ctx context.Context, l *listings.Listing) error {
	if f.down.Load() {
		return errConnRefused
	}
	return f.Backend.CreateListing(ctx, l)
}

func (f *flakyBackend) GetListing(ctx context.Context, id uuid.UUID) (*listings.Listing, error) {
	if f.down.Load() {
		return nil, errConnRefused
	}
	return f.Backend.GetListing(ctx, id)
}

func (f *flakyBackend) ListActiveListings(ctx context.Context) ([]*listings.Listing, error) {
	if f.down.Load() {
		return nil, errConnRefused
	}
	return f.Backend.ListActiveListings(ctx)
}

func (f *flakyBackend) ListAvailableOffers(ctx context.Context) ([]*offers.SalesOffer, error) {
	if f.down.Load() {
		return nil, errConnRefused
	}
	return f.Backend.ListAvailableOffers(ctx)
}

func newResilientFixture(t *testing.T) (*Resilient, *flakyBackend, *Memory) {
	t.Helper()
	primary := &flakyBackend{Backend: NewMemory()}
	mirror := NewMemory()
	return NewResilient(primary, mirror, zap.NewNop()), primary, mirror
}

func activeListing(producerID uuid.UUID) *listings.Listing {
	now := time.Now()
	return &listings.Listing{
		ID:           uuid.New(),
		ProducerID:   producerID,
		CropKind:     "groundnut",
		Quantity:     90,
		MinimumPrice: 5200,
		QualityGrade: listings.GradeOrganic,
		Status:       listings.StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestDomainFaultsDoNotTriggerFallback(t *testing.T) {
	store, _, _ := newResilientFixture(t)

	_, err := store.GetListing(context.Background(), uuid.New())
	assert.True(t, faults.IsKind(err, faults.KindNotFound))
	assert.False(t, store.Degraded())
}

func TestInfraFailureServesFromMirror(t *testing.T) {
	store, primary, _ := newResilientFixture(t)
	ctx := context.Background()

	// Healthy period: the mirror is seeded as a side effect.
	seeded := activeListing(uuid.New())
	require.NoError(t, store.CreateListing(ctx, seeded))
	require.False(t, store.Degraded())

	primary.down.Store(true)

	// Reads keep working from the mirror.
	got, err := store.GetListing(ctx, seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, got.ID)
	assert.True(t, store.Degraded())

	// Writes keep working too, applied to the mirror.
	degraded := activeListing(uuid.New())
	require.NoError(t, store.CreateListing(ctx, degraded))

	active, err := store.ListActiveListings(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestWarmRecoversFromDegradedMode(t *testing.T) {
	store, primary, mirror := newResilientFixture(t)
	ctx := context.Background()

	onPrimary := activeListing(uuid.New())
	require.NoError(t, store.CreateListing(ctx, onPrimary))

	primary.down.Store(true)
	_, err := store.ListActiveListings(ctx)
	require.NoError(t, err)
	require.True(t, store.Degraded())

	// Probe fails while the primary is still down.
	require.Error(t, store.Warm(ctx))
	assert.True(t, store.Degraded())

	primary.down.Store(false)
	require.NoError(t, store.Warm(ctx))
	assert.False(t, store.Degraded())

	// The mirror was reloaded from the primary.
	got, err := mirror.GetListing(ctx, onPrimary.ID)
	require.NoError(t, err)
	assert.Equal(t, onPrimary.ID, got.ID)
}

func TestSuccessfulReadsKeepMirrorCurrent(t *testing.T) {
	store, primary, mirror := newResilientFixture(t)
	ctx := context.Background()

	// Record created out-of-band on the primary, unknown to the mirror.
	direct := activeListing(uuid.New())
	require.NoError(t, primary.Backend.CreateListing(ctx, direct))
	_, err := mirror.GetListing(ctx, direct.ID)
	require.True(t, faults.IsKind(err, faults.KindNotFound))

	// Reading through the wrapper seeds the mirror.
	_, err = store.GetListing(ctx, direct.ID)
	require.NoError(t, err)

	got, err := mirror.GetListing(ctx, direct.ID)
	require.NoError(t, err)
	assert.Equal(t, direct.ID, got.ID)
}

func TestDegradedModeIsStickyUntilWarm(t *testing.T) {
	store, primary, _ := newResilientFixture(t)
	ctx := context.Background()

	primary.down.Store(true)
	_, err := store.ListActiveListings(ctx)
	require.NoError(t, err)
	require.True(t, store.Degraded())

	// The primary coming back alone does not clear the flag; only a Warm
	// probe does. Non-overridden operations still succeed directly.
	primary.down.Store(false)
	assert.True(t, store.Degraded())

	require.NoError(t, store.Warm(ctx))
	assert.False(t, store.Degraded())
}
