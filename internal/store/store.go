// Package store defines the key-value store client used by kvfs and its
// backends.
//
// A Store exposes exactly what the filesystem needs from a key-value
// system: enumerate keys, classify a key, and get or put a raw byte value.
// Backends translate their own transport failures into ErrUnavailable and a
// missing key into ErrNotFound so callers can reason about failures without
// knowing which backend is in use.
package store

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnavailable indicates the store could not be reached or a request
	// to it failed.
	ErrUnavailable = errors.New("store unavailable")

	// ErrNotFound indicates the requested key does not exist.
	ErrNotFound = errors.New("key not found")
)

// Kind classifies a stored key.
type Kind int

const (
	// KindNone means the key does not exist.
	KindNone Kind = iota
	// KindValue is a simple value that can be represented as file contents.
	KindValue
	// KindComposite is a structured type (list, set, hash, folder, ...)
	// that has no file representation.
	KindComposite
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindValue:
		return "value"
	case KindComposite:
		return "composite"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Store is a connection to a key-value store. Implementations must be safe
// for concurrent use.
type Store interface {
	// Keys returns every key currently in the store, in no particular order.
	Keys(ctx context.Context) ([]string, error)
	// Kind reports how the store classifies key.
	Kind(ctx context.Context, key string) (Kind, error)
	// Get returns the full value of key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set replaces the value of key.
	Set(ctx context.Context, key string, value []byte) error
	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error
	// Close releases the underlying connection.
	Close() error
}

// unavailable wraps err so that errors.Is(err, ErrUnavailable) holds while
// keeping the backend's message.
func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUnavailable) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

// IsUnavailable reports whether err means the store connection is unusable.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
