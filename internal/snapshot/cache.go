package snapshot

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Source produces snapshots. *Builder is the production Source.
type Source interface {
	Build(ctx context.Context) (*Snapshot, error)
}

// Cache serves a Snapshot until it is older than the refresh interval or
// has been invalidated, then rebuilds it. Concurrent callers that need a
// rebuild share a single one.
//
// Changes made by other store clients become visible within one refresh
// interval. An interval of zero rebuilds on every call.
type Cache struct {
	source   Source
	interval time.Duration
	now      func() time.Time

	mu      sync.RWMutex
	current *Snapshot
	builtAt time.Time
	// generation is bumped by Invalidate so that a build started before an
	// invalidation is not installed as fresh.
	generation uint64

	group singleflight.Group
}

// NewCache wraps source with a cache refreshed every interval.
func NewCache(source Source, interval time.Duration) *Cache {
	if interval < 0 {
		interval = 0
	}
	return &Cache{
		source:   source,
		interval: interval,
		now:      time.Now,
	}
}

// Interval returns the refresh interval.
func (c *Cache) Interval() time.Duration {
	return c.interval
}

func (c *Cache) fresh() (*Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil || c.interval == 0 {
		return nil, false
	}
	if c.now().Sub(c.builtAt) >= c.interval {
		return nil, false
	}
	return c.current, true
}

// Snapshot returns the current view of the store, rebuilding it if needed.
// A failed rebuild is returned as an error; the stale snapshot is not served
// in its place.
func (c *Cache) Snapshot(ctx context.Context) (*Snapshot, error) {
	if snap, ok := c.fresh(); ok {
		return snap, nil
	}

	c.mu.RLock()
	gen := c.generation
	c.mu.RUnlock()

	v, err, shared := c.group.Do("snapshot", func() (interface{}, error) {
		// the build is shared, so one caller going away must not fail the rest
		snap, err := c.source.Build(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		c.install(gen, snap)
		return snap, nil
	})
	if err != nil {
		logger.Warn("Snapshot rebuild failed: %v", err)
		return nil, err
	}
	if shared {
		logger.Trace("Shared snapshot rebuild with concurrent request")
	}
	return v.(*Snapshot), nil
}

// Warm builds a snapshot under ctx, so its deadline bounds the build, and
// installs it. It is meant for the single caller at startup; concurrent
// requests go through Snapshot.
func (c *Cache) Warm(ctx context.Context) (*Snapshot, error) {
	c.mu.RLock()
	gen := c.generation
	c.mu.RUnlock()

	snap, err := c.source.Build(ctx)
	if err != nil {
		return nil, err
	}
	c.install(gen, snap)
	return snap, nil
}

// install makes snap current unless the cache was invalidated after gen.
func (c *Cache) install(gen uint64, snap *Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation == gen {
		c.current = snap
		c.builtAt = c.now()
	}
}

// Invalidate forces the next call to Snapshot to rebuild.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = nil
	c.generation++
	c.group.Forget("snapshot")
}
