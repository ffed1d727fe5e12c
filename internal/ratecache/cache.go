// Package ratecache holds the latest aggregation result behind an atomic
// pointer so HTTP handlers and the trading engines read without locking the
// poll loop.
package ratecache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hldesk/hldesk/internal/domain"
)

// TTL after which Get recomputes instead of serving the cached result.
const staleAfter = 30 * time.Second

// Refresher produces a fresh aggregation result.
type Refresher func(ctx context.Context) domain.AggregatedResult

type entry struct {
	result  domain.AggregatedResult
	fetched time.Time
}

// Cache is a single-writer, many-reader holder for the latest aggregation.
// Reads are lock-free; only a stale Get takes the refresh mutex.
type Cache struct {
	current   atomic.Pointer[entry]
	refresh   Refresher
	refreshMu sync.Mutex
	clock     func() time.Time
}

// New returns an empty cache. refresh may be nil, in which case Get serves
// whatever Update last stored regardless of age.
func New(refresh Refresher) *Cache {
	c := &Cache{refresh: refresh, clock: time.Now}
	c.current.Store(&entry{
		result: domain.AggregatedResult{
			Spreads:  []domain.FundingSpread{},
			AllRates: []domain.FundingRate{},
		},
	})
	return c
}

// Update replaces the cached result. Called by the poll loop.
func (c *Cache) Update(result domain.AggregatedResult) {
	c.current.Store(&entry{result: result, fetched: c.clock()})
}

// Get returns the latest result, recomputing when it is older than the TTL.
// Concurrent stale readers coalesce onto one refresh. Callers must not mutate
// the returned slices.
func (c *Cache) Get(ctx context.Context) domain.AggregatedResult {
	e := c.current.Load()
	if c.fresh(e) || c.refresh == nil {
		return e.result
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	// Another reader may have refreshed while we waited for the lock.
	if e := c.current.Load(); c.fresh(e) {
		return e.result
	}

	result := c.refresh(ctx)
	c.Update(result)
	return result
}

// Latest returns the cached result without triggering a refresh.
func (c *Cache) Latest() domain.AggregatedResult {
	return c.current.Load().result
}

func (c *Cache) fresh(e *entry) bool {
	return !e.fetched.IsZero() && c.clock().Sub(e.fetched) < staleAfter
}

// AgeMs returns milliseconds since the last update, or -1 before the first.
func (c *Cache) AgeMs() int64 {
	e := c.current.Load()
	if e.fetched.IsZero() {
		return -1
	}
	return c.clock().Sub(e.fetched).Milliseconds()
}

// LastFetchMs returns the wall-clock of the last update in epoch millis,
// or 0 before the first.
func (c *Cache) LastFetchMs() int64 {
	e := c.current.Load()
	if e.fetched.IsZero() {
		return 0
	}
	return e.fetched.UnixMilli()
}

// AssetCount returns the number of primary-venue assets in the cached result.
func (c *Cache) AssetCount() int {
	return len(c.current.Load().result.Spreads)
}
