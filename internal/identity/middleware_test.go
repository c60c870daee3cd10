package identity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterPoolReusesBucketPerKey(t *testing.T) {
	pool := newLimiterPool(1, 1)
	now := time.Now()

	first := pool.get("user-a", now)
	assert.Same(t, first, pool.get("user-a", now))
	assert.NotSame(t, first, pool.get("user-b", now))
}

func TestLimiterPoolEvictsIdleEntries(t *testing.T) {
	pool := newLimiterPool(1, 1)
	pool.sweepLen = 4
	pool.idleTTL = time.Minute

	start := time.Now()
	for _, key := range []string{"a", "b", "c", "d"} {
		pool.get(key, start)
	}
	require.Len(t, pool.entries, 4)

	// A later arrival triggers the sweep; everything idle past the TTL
	// goes, the newcomer stays.
	pool.get("e", start.Add(2*time.Minute))
	assert.Len(t, pool.entries, 1)
	assert.Contains(t, pool.entries, "e")
}

func TestLimiterPoolKeepsActiveEntriesOnSweep(t *testing.T) {
	pool := newLimiterPool(1, 1)
	pool.sweepLen = 2
	pool.idleTTL = time.Minute

	start := time.Now()
	pool.get("stale", start)
	pool.get("fresh", start.Add(50*time.Second))

	pool.get("next", start.Add(90*time.Second))
	assert.NotContains(t, pool.entries, "stale")
	assert.Contains(t, pool.entries, "fresh")
	assert.Contains(t, pool.entries, "next")
}
