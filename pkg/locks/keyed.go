// Package locks provides per-key mutual exclusion with a bounded wait.
//
// The marketplace serializes mutations per aggregate (one listing, one
// offer) rather than process-wide, so unrelated aggregates never contend.
package locks

import (
	"context"
	"sync"
	"time"

	"agrimandi/marketplace-backend/internal/faults"
)

type entry struct {
	ch   chan struct{}
	refs int
}

// Keyed hands out one mutex per key. Entries are created on first use and
// dropped once the last holder or waiter is gone.
type Keyed struct {
	wait    time.Duration
	mu      sync.Mutex
	entries map[string]*entry
}

// DefaultWait bounds lock acquisition when no explicit wait is configured.
const DefaultWait = 5 * time.Second

// NewKeyed creates a keyed lock set with the given maximum wait per
// acquisition. A non-positive wait falls back to DefaultWait.
func NewKeyed(wait time.Duration) *Keyed {
	if wait <= 0 {
		wait = DefaultWait
	}
	return &Keyed{
		wait:    wait,
		entries: make(map[string]*entry),
	}
}

// Acquire takes the lock for key, waiting at most the configured bound.
// It returns a release function on success. A wait past the bound fails
// with a timeout fault so hot aggregates shed load instead of queueing
// indefinitely.
func (k *Keyed) Acquire(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	timer := time.NewTimer(k.wait)
	defer timer.Stop()

	select {
	case e.ch <- struct{}{}:
		return func() {
			<-e.ch
			k.drop(key, e)
		}, nil
	case <-ctx.Done():
		k.drop(key, e)
		return nil, ctx.Err()
	case <-timer.C:
		k.drop(key, e)
		return nil, faults.Timeout("timed out waiting for lock on %s", key)
	}
}

// drop releases one reference and removes the entry once unused. The entry
// is never removed while a holder still references it, so two goroutines
// can never hold separate locks for the same key.
func (k *Keyed) drop(key string, e *entry) {
	k.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(k.entries, key)
	}
	k.mu.Unlock()
}
