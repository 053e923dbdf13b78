// Package snapshot builds point-in-time views of the store for the
// filesystem.
//
// A Snapshot maps identifiers to entries for every simple-value key whose
// name is a usable file name. Snapshots are immutable once built; the Cache
// hands the same Snapshot to concurrent requests until it is refreshed or
// invalidated.
package snapshot

import (
	"sort"
	"time"
)

// Entry is one store key presented as a file.
type Entry struct {
	Ino   uint64
	Key   string
	Value []byte
}

// Size returns the value length in bytes.
func (e Entry) Size() uint64 {
	return uint64(len(e.Value))
}

// Snapshot is an immutable identifier to Entry mapping.
type Snapshot struct {
	entries []Entry
	byIno   map[uint64]int
	byKey   map[string]int
	taken   time.Time
}

// New builds a Snapshot from entries. Entries are ordered by key.
func New(entries []Entry, taken time.Time) *Snapshot {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	s := &Snapshot{
		entries: sorted,
		byIno:   make(map[uint64]int, len(sorted)),
		byKey:   make(map[string]int, len(sorted)),
		taken:   taken,
	}
	for i, e := range sorted {
		s.byIno[e.Ino] = i
		s.byKey[e.Key] = i
	}
	return s
}

// Get resolves an identifier.
func (s *Snapshot) Get(ino uint64) (Entry, bool) {
	i, ok := s.byIno[ino]
	if !ok {
		return Entry{}, false
	}
	return s.entries[i], true
}

// Lookup resolves a file name.
func (s *Snapshot) Lookup(name string) (Entry, bool) {
	i, ok := s.byKey[name]
	if !ok {
		return Entry{}, false
	}
	return s.entries[i], true
}

// Entries returns every entry in key order. The slice must not be modified.
func (s *Snapshot) Entries() []Entry {
	return s.entries
}

// Len returns the number of entries.
func (s *Snapshot) Len() int {
	return len(s.entries)
}

// Taken returns when the snapshot was built.
func (s *Snapshot) Taken() time.Time {
	return s.taken
}
