package dialer

import (
	"context"
	"sync"
	"time"

	"github.com/birchvoice/dialer/pkg/platform"
)

// ============================================
// POLLING CACHE
// Short-TTL memoization of list-calls, shared by every poller
// ============================================

// DefaultCacheTTL bounds how stale a shared call list may be. It sits well
// under the fastest poll period so no poller ever acts on another cycle's data,
// while still collapsing the bursts the platform rate-limits.
const DefaultCacheTTL = 3 * time.Second

// CallLister is the slice of the platform API the cache needs.
type CallLister interface {
	ListCalls(ctx context.Context) ([]platform.CallRecord, error)
}

// CallCache memoizes list-calls fetches. The main reconciler, the fast-path
// watcher, and the stale-room checker all read through it, so a burst of
// ticks costs one request instead of three. Duplicate in-flight fetches can
// still happen under contention; last writer wins on the timestamp, which is
// harmless because both fetched the same remote state.
type CallCache struct {
	mu        sync.Mutex
	lister    CallLister
	ttl       time.Duration
	data      []platform.CallRecord
	fetchedAt time.Time
	now       func() time.Time
}

// NewCallCache wraps lister with a TTL cache. ttl <= 0 selects DefaultCacheTTL.
func NewCallCache(lister CallLister, ttl time.Duration) *CallCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CallCache{
		lister: lister,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Calls returns the last successful fetch if it is fresher than the TTL,
// otherwise fetches, stores, and returns the new list.
func (c *CallCache) Calls(ctx context.Context) ([]platform.CallRecord, error) {
	c.mu.Lock()
	if c.data != nil && c.now().Sub(c.fetchedAt) < c.ttl {
		data := c.data
		c.mu.Unlock()
		return data, nil
	}
	c.mu.Unlock()

	fresh, err := c.lister.ListCalls(ctx)
	if err != nil {
		return nil, err
	}
	if fresh == nil {
		fresh = []platform.CallRecord{}
	}

	c.mu.Lock()
	c.data = fresh
	c.fetchedAt = c.now()
	c.mu.Unlock()
	return fresh, nil
}

// Invalidate drops the cached list so the next caller forces a fresh fetch.
// Called after any action that changes server-side call state.
func (c *CallCache) Invalidate() {
	c.mu.Lock()
	c.data = nil
	c.fetchedAt = time.Time{}
	c.mu.Unlock()
}
