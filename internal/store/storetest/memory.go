// Package storetest provides an in-memory store.Store for tests.
package storetest

import (
	"context"
	"fmt"
	"sync"

	"kvfs/internal/store"
)

// Memory is a map-backed store.Store. Composite keys can be registered to
// mimic lists or hashes, and a failure can be injected to mimic an outage.
type Memory struct {
	mu        sync.RWMutex
	values    map[string][]byte
	composite map[string]struct{}
	fail      error
	calls     map[string]int
	closed    bool
}

var _ store.Store = (*Memory)(nil)

// NewMemory returns a store holding the given string values.
func NewMemory(values map[string]string) *Memory {
	m := &Memory{
		values:    make(map[string][]byte, len(values)),
		composite: map[string]struct{}{},
		calls:     map[string]int{},
	}
	for k, v := range values {
		m.values[k] = []byte(v)
	}
	return m
}

// Put sets a simple value.
func (m *Memory) Put(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.composite, key)
	m.values[key] = []byte(value)
}

// PutComposite registers key as a non-simple type.
func (m *Memory) PutComposite(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	m.composite[key] = struct{}{}
}

// Delete removes key of any kind.
func (m *Memory) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	delete(m.composite, key)
}

// Value returns the stored value of key.
func (m *Memory) Value(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return string(v), ok
}

// Fail makes every subsequent call return ErrUnavailable wrapping err, until
// Fail(nil) is called.
func (m *Memory) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

// Calls returns how often the named method has been invoked.
func (m *Memory) Calls(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[method]
}

// Closed reports whether Close has been called.
func (m *Memory) Closed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

func (m *Memory) begin(method string) error {
	m.calls[method]++
	if m.fail != nil {
		return fmt.Errorf("%s: %w: %w", method, store.ErrUnavailable, m.fail)
	}
	return nil
}

func (m *Memory) Keys(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("Keys"); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(m.values)+len(m.composite))
	for k := range m.values {
		keys = append(keys, k)
	}
	for k := range m.composite {
		keys = append(keys, k)
	}
	return keys, nil
}

func (m *Memory) Kind(_ context.Context, key string) (store.Kind, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("Kind"); err != nil {
		return store.KindNone, err
	}

	if _, ok := m.values[key]; ok {
		return store.KindValue, nil
	}
	if _, ok := m.composite[key]; ok {
		return store.KindComposite, nil
	}
	return store.KindNone, nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("Get"); err != nil {
		return nil, err
	}

	v, ok := m.values[key]
	if !ok {
		return nil, fmt.Errorf("get %q: %w", key, store.ErrNotFound)
	}
	return append([]byte(nil), v...), nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("Set"); err != nil {
		return err
	}

	delete(m.composite, key)
	m.values[key] = append([]byte(nil), value...)
	return nil
}

func (m *Memory) Ping(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.begin("Ping")
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
