// Package fs provides filesystem implementations.
//
// This file contains error types and error handling utilities.
package fs

import (
	"context"
	"errors"
	"fmt"
	"syscall"

	"kvfs/internal/logging"
	"kvfs/internal/store"
)

var (
	errLogger = logging.GetLogger().WithPrefix("error")

	// ErrNotFound indicates an identifier or name has no live entry
	ErrNotFound = errors.New("no such entry")

	// ErrInvalidPath indicates a request outside the flat namespace
	ErrInvalidPath = errors.New("invalid path")

	// ErrReadOnly indicates attempt to modify read-only filesystem
	ErrReadOnly = errors.New("filesystem is read-only")

	// ErrNotSupported indicates an operation the store cannot represent
	ErrNotSupported = errors.New("operation not supported")

	// ErrTooLarge indicates a write or truncate past the maximum value size
	ErrTooLarge = errors.New("value too large")
)

// Error wraps filesystem errors with context about the operation and
// affected key to provide more detailed error information.
type Error struct {
	Op   string // Operation that failed (e.g., "lookup", "readdir")
	Path string // Affected key, empty for the root
	Err  error  // Underlying error
}

// Error implements the error interface, providing a formatted error message
func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("operation %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("operation %s on %s failed: %v", e.Op, e.Path, e.Err)
}

// Unwrap implements error unwrapping for the errors.Is/As functions
func (e *Error) Unwrap() error {
	return e.Err
}

// ToFuseError converts an error to the errno FUSE replies with. Store
// failures become EIO so callers see an ordinary I/O error and the process
// keeps serving.
func ToFuseError(err error) error {
	if err == nil {
		return nil
	}

	var errno syscall.Errno
	switch {
	case errors.As(err, &errno):
		return errno
	case errors.Is(err, ErrNotFound), errors.Is(err, store.ErrNotFound):
		return syscall.ENOENT
	case errors.Is(err, ErrInvalidPath):
		return syscall.EINVAL
	case errors.Is(err, ErrReadOnly):
		return syscall.EROFS
	case errors.Is(err, ErrNotSupported):
		return syscall.ENOTSUP
	case errors.Is(err, ErrTooLarge):
		return syscall.EFBIG
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return syscall.EINTR
	case errors.Is(err, store.ErrUnavailable):
		errLogger.Trace("Store unavailable, returning EIO: %v", err)
		return syscall.EIO
	default:
		errLogger.Debug("Unknown error type, returning EIO: %v", err)
		return syscall.EIO
	}
}

// NewFSError creates a new Error with the given operation, key, and underlying error
func NewFSError(op string, path string, err error) *Error {
	fsErr := &Error{
		Op:   op,
		Path: path,
		Err:  err,
	}
	errLogger.Trace("Created new FSError: %v", fsErr)
	return fsErr
}

// Common operation names for consistent logging and error reporting
const (
	OpStatfs   = "statfs"   // Filesystem statistics
	OpLookup   = "lookup"   // Looking up a name in the root
	OpGetattr  = "getattr"  // Getting attributes
	OpSetattr  = "setattr"  // Setting attributes (truncate)
	OpOpen     = "open"     // Opening a file
	OpRead     = "read"     // Reading from a file
	OpWrite    = "write"    // Writing to a file
	OpReadDir  = "readdir"  // Reading directory contents
	OpSnapshot = "snapshot" // Building a view of the store
)

// IsTemporary returns true if the error is likely temporary and the
// operation could succeed if retried. Store outages are temporary: the
// connection is re-established on a later request.
func IsTemporary(err error) bool {
	switch {
	case errors.Is(err, store.ErrUnavailable):
		return true
	case errors.Is(err, syscall.EAGAIN):
		return true
	case errors.Is(err, syscall.EBUSY):
		return true
	case errors.Is(err, syscall.ETIMEDOUT):
		return true
	default:
		return false
	}
}

// reply converts err for the kernel and logs it at a level matching its
// severity.
func reply(log *logging.Logger, err error) error {
	if err == nil {
		return nil
	}
	errno := ToFuseError(err)
	switch {
	case errno == syscall.ENOENT:
		log.Trace("%v", err)
	case IsTemporary(err):
		log.Warn("%v", err)
	case errno == syscall.EIO:
		log.Error("%v", err)
	default:
		log.Debug("%v", err)
	}
	return errno
}
