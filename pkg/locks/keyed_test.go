package locks

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agrimandi/marketplace-backend/internal/faults"
)

func TestAcquireRelease(t *testing.T) {
	k := NewKeyed(time.Second)

	release, err := k.Acquire(context.Background(), "listing:1")
	require.NoError(t, err)
	release()

	release, err = k.Acquire(context.Background(), "listing:1")
	require.NoError(t, err)
	release()
}

func TestIndependentKeysDoNotContend(t *testing.T) {
	k := NewKeyed(50 * time.Millisecond)

	r1, err := k.Acquire(context.Background(), "listing:1")
	require.NoError(t, err)
	defer r1()

	// A different key must be acquirable while listing:1 is held.
	r2, err := k.Acquire(context.Background(), "listing:2")
	require.NoError(t, err)
	r2()
}

func TestWaitTimesOut(t *testing.T) {
	k := NewKeyed(30 * time.Millisecond)

	release, err := k.Acquire(context.Background(), "hot")
	require.NoError(t, err)
	defer release()

	_, err = k.Acquire(context.Background(), "hot")
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindTimeout))
}

func TestContextCancellation(t *testing.T) {
	k := NewKeyed(time.Minute)

	release, err := k.Acquire(context.Background(), "hot")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err = k.Acquire(ctx, "hot")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSerializesHolders(t *testing.T) {
	k := NewKeyed(time.Second)

	var mu sync.Mutex
	var concurrent, peak int

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := k.Acquire(context.Background(), "same")
			if err != nil {
				return
			}
			mu.Lock()
			concurrent++
			if concurrent > peak {
				peak = concurrent
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			concurrent--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, peak)
}
