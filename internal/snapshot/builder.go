package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"kvfs/internal/inode"
	"kvfs/internal/logging"
	"kvfs/internal/store"

	"golang.org/x/sync/errgroup"
)

var (
	logger = logging.GetLogger().WithPrefix("snapshot")
)

// DefaultConcurrency bounds the number of in-flight store requests while a
// snapshot is built.
const DefaultConcurrency = 16

// Builder queries a store and produces Snapshots.
type Builder struct {
	store       store.Store
	ids         *inode.Allocator
	concurrency int
	now         func() time.Time
}

// NewBuilder creates a Builder. A concurrency below 1 selects
// DefaultConcurrency.
func NewBuilder(s store.Store, ids *inode.Allocator, concurrency int) *Builder {
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	return &Builder{
		store:       s,
		ids:         ids,
		concurrency: concurrency,
		now:         time.Now,
	}
}

// ValidName reports whether key can be shown as a file in a flat directory.
func ValidName(key string) bool {
	if key == "" || key == "." || key == ".." {
		return false
	}
	return !strings.ContainsAny(key, "/\x00")
}

// Build enumerates the store and returns a Snapshot of every simple-value
// key. Any store failure fails the whole build; a key that vanishes while the
// snapshot is being assembled is left out.
func (b *Builder) Build(ctx context.Context) (*Snapshot, error) {
	start := b.now()

	keys, err := b.store.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing keys: %w", err)
	}

	// sorted so that collisions between new keys resolve the same way on
	// every build
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	candidates := make([]string, 0, len(sorted))
	for i, k := range sorted {
		if i > 0 && sorted[i-1] == k {
			continue
		}
		if !ValidName(k) {
			logger.Debug("Skipping key %q: not a valid file name", k)
			continue
		}
		candidates = append(candidates, k)
	}

	values := make([][]byte, len(candidates))
	present := make([]bool, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for i, key := range candidates {
		i, key := i, key
		g.Go(func() error {
			kind, err := b.store.Kind(gctx, key)
			if err != nil {
				return fmt.Errorf("checking type of %q: %w", key, err)
			}
			if kind != store.KindValue {
				logger.Trace("Skipping key %q of kind %s", key, kind)
				return nil
			}

			value, err := b.store.Get(gctx, key)
			if errors.Is(err, store.ErrNotFound) {
				logger.Debug("Key %q disappeared during snapshot", key)
				return nil
			}
			if err != nil {
				return fmt.Errorf("fetching %q: %w", key, err)
			}

			values[i] = value
			present[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var (
		retained []string
		entries  []Entry
	)
	for i, key := range candidates {
		if present[i] {
			retained = append(retained, key)
			entries = append(entries, Entry{Key: key, Value: values[i]})
		}
	}

	ids := b.ids.Retain(retained)
	if err := b.ids.Sync(); err != nil {
		logger.Warn("Failed to persist identifier table: %v", err)
	}
	for i := range entries {
		entries[i].Ino = ids[i]
	}

	snap := New(entries, start)
	logger.Debug("Built snapshot of %d entries (%d keys listed) in %v",
		snap.Len(), len(keys), b.now().Sub(start))
	return snap, nil
}
