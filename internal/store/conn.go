package store

import (
	"context"
	"fmt"
	"sync"

	"kvfs/internal/logging"
)

var (
	connLogger = logging.GetLogger().WithPrefix("conn")
)

// Dialer opens a new Store.
type Dialer func(ctx context.Context) (Store, error)

// Conn is the long-lived store handle owned by the filesystem. It dials once
// at creation and, whenever a call fails with ErrUnavailable, closes the
// client it used so the next call dials a fresh one. A broken client is
// therefore never reused by later requests.
type Conn struct {
	dial Dialer

	mu     sync.Mutex
	cur    Store
	closed bool
	dials  int
}

var _ Store = (*Conn)(nil)

// Connect dials the store immediately; an error here means the store is
// unusable at startup.
func Connect(ctx context.Context, dial Dialer) (*Conn, error) {
	c := &Conn{dial: dial}
	if _, err := c.acquire(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Conn) acquire(ctx context.Context) (Store, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("connection closed: %w", ErrUnavailable)
	}
	if c.cur != nil {
		return c.cur, nil
	}

	c.dials++
	if c.dials > 1 {
		connLogger.Info("Reconnecting to store (attempt %d)", c.dials)
	}

	s, err := c.dial(ctx)
	if err != nil {
		return nil, unavailable("dial", err)
	}
	c.cur = s
	return s, nil
}

// release drops s if it is still the current client and err shows the
// connection is broken.
func (c *Conn) release(s Store, err error) {
	if !IsUnavailable(err) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur != s {
		return
	}

	connLogger.Warn("Dropping store connection after error: %v", err)
	if cerr := s.Close(); cerr != nil {
		connLogger.Debug("Closing broken connection: %v", cerr)
	}
	c.cur = nil
}

// Dials returns how many times a client has been dialed.
func (c *Conn) Dials() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dials
}

func (c *Conn) Keys(ctx context.Context) ([]string, error) {
	s, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	keys, err := s.Keys(ctx)
	c.release(s, err)
	return keys, err
}

func (c *Conn) Kind(ctx context.Context, key string) (Kind, error) {
	s, err := c.acquire(ctx)
	if err != nil {
		return KindNone, err
	}
	kind, err := s.Kind(ctx, key)
	c.release(s, err)
	return kind, err
}

func (c *Conn) Get(ctx context.Context, key string) ([]byte, error) {
	s, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	value, err := s.Get(ctx, key)
	c.release(s, err)
	return value, err
}

func (c *Conn) Set(ctx context.Context, key string, value []byte) error {
	s, err := c.acquire(ctx)
	if err != nil {
		return err
	}
	err = s.Set(ctx, key, value)
	c.release(s, err)
	return err
}

func (c *Conn) Ping(ctx context.Context) error {
	s, err := c.acquire(ctx)
	if err != nil {
		return err
	}
	err = s.Ping(ctx)
	c.release(s, err)
	return err
}

// Close closes the current client; later calls fail with ErrUnavailable.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	if c.cur == nil {
		return nil
	}
	err := c.cur.Close()
	c.cur = nil
	return err
}
