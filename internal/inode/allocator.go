// Package inode assigns the numeric identifiers the kernel uses for store
// keys.
//
// Identifier 1 is the root directory. Every key receives an identifier
// derived from a blake3 hash of its name, so the same key keeps the same
// identifier across snapshots and, with a Table, across mounts. Hash
// collisions are resolved by probing upward; the first key to claim an
// identifier keeps it for as long as it exists.
package inode

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"kvfs/internal/logging"

	"github.com/zeebo/blake3"
)

var (
	logger = logging.GetLogger().WithPrefix("inode")
)

const (
	// RootID is the identifier of the mount root.
	RootID uint64 = 1
	// FirstID is the lowest identifier handed to a key.
	FirstID uint64 = 2
)

// Table persists the key to identifier mapping between runs.
type Table interface {
	LoadIdentifiers() (map[string]uint64, error)
	SaveIdentifiers(ids map[string]uint64) error
}

// HashFunc maps a key to a candidate identifier.
type HashFunc func(key string) uint64

// Hash is the default HashFunc: the first eight bytes of the key's blake3
// digest, shifted out of the reserved range.
func Hash(key string) uint64 {
	sum := blake3.Sum256([]byte(key))
	return normalize(binary.LittleEndian.Uint64(sum[:8]))
}

func normalize(id uint64) uint64 {
	if id < FirstID {
		return id + FirstID
	}
	return id
}

// Allocator hands out identifiers. It is safe for concurrent use.
type Allocator struct {
	hash  HashFunc
	table Table

	mu    sync.RWMutex
	byKey map[string]uint64
	byID  map[uint64]string
	dirty bool
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithHash replaces the hash function.
func WithHash(h HashFunc) Option {
	return func(a *Allocator) { a.hash = h }
}

// WithTable loads previously assigned identifiers from t and saves changes
// back to it on Sync.
func WithTable(t Table) Option {
	return func(a *Allocator) { a.table = t }
}

// New creates an Allocator, loading the table if one is configured.
func New(opts ...Option) (*Allocator, error) {
	a := &Allocator{
		hash:  Hash,
		byKey: map[string]uint64{},
		byID:  map[uint64]string{},
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.table == nil {
		return a, nil
	}

	saved, err := a.table.LoadIdentifiers()
	if err != nil {
		return nil, fmt.Errorf("loading identifier table: %w", err)
	}
	// sorted so that a corrupt table with duplicates loads deterministically
	keys := make([]string, 0, len(saved))
	for key := range saved {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		id := saved[key]
		if id < FirstID {
			logger.Warn("Ignoring reserved identifier %d for key %q", id, key)
			continue
		}
		if other, taken := a.byID[id]; taken {
			logger.Warn("Identifier %d claimed by both %q and %q, keeping %q", id, other, key, other)
			continue
		}
		a.byKey[key] = id
		a.byID[id] = key
	}
	logger.Debug("Loaded %d identifiers from table", len(a.byKey))

	return a, nil
}

// ID returns the identifier for key, assigning one if needed.
func (a *Allocator) ID(key string) uint64 {
	a.mu.RLock()
	id, ok := a.byKey[key]
	a.mu.RUnlock()
	if ok {
		return id
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.assignLocked(key)
}

func (a *Allocator) assignLocked(key string) uint64 {
	if id, ok := a.byKey[key]; ok {
		return id
	}

	id := a.hash(key)
	for {
		id = normalize(id)
		if _, taken := a.byID[id]; !taken {
			break
		}
		logger.Debug("Identifier collision for %q at %d", key, id)
		id++
	}

	a.byKey[key] = id
	a.byID[id] = key
	a.dirty = true
	logger.Trace("Assigned identifier %d to %q", id, key)
	return id
}

// Lookup returns the identifier already assigned to key.
func (a *Allocator) Lookup(key string) (uint64, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	id, ok := a.byKey[key]
	return id, ok
}

// Key returns the key an identifier is assigned to.
func (a *Allocator) Key(id uint64) (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	key, ok := a.byID[id]
	return key, ok
}

// Retain assigns identifiers to keys and forgets every key not in the list,
// returning the identifiers in the same order as keys. Keys are assigned in
// the given order, which decides who wins a collision between two new keys.
func (a *Allocator) Retain(keys []string) []uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	live := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		live[k] = struct{}{}
	}
	for key, id := range a.byKey {
		if _, ok := live[key]; ok {
			continue
		}
		delete(a.byKey, key)
		delete(a.byID, id)
		a.dirty = true
		logger.Trace("Released identifier %d of removed key %q", id, key)
	}

	ids := make([]uint64, len(keys))
	for i, k := range keys {
		ids[i] = a.assignLocked(k)
	}
	return ids
}

// Len returns the number of assigned identifiers.
func (a *Allocator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.byKey)
}

// Sync writes the mapping to the table if it changed since the last Sync.
func (a *Allocator) Sync() error {
	if a.table == nil {
		return nil
	}

	a.mu.Lock()
	if !a.dirty {
		a.mu.Unlock()
		return nil
	}
	snapshot := make(map[string]uint64, len(a.byKey))
	for k, v := range a.byKey {
		snapshot[k] = v
	}
	a.dirty = false
	a.mu.Unlock()

	if err := a.table.SaveIdentifiers(snapshot); err != nil {
		a.mu.Lock()
		a.dirty = true
		a.mu.Unlock()
		return fmt.Errorf("saving identifier table: %w", err)
	}
	return nil
}
