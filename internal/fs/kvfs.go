package fs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"kvfs/internal/logging"
	"kvfs/internal/snapshot"
	"kvfs/internal/store"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
)

var (
	vfsLogger = logging.GetLogger().WithPrefix("vfs")
)

const (
	// DefaultEntryTTL is how long the kernel may cache lookups and attributes.
	DefaultEntryTTL = time.Second

	// MaxValueSize bounds writes and truncation; it matches the largest
	// string value Redis accepts.
	MaxValueSize = 512 << 20

	// nameLen is the maximum name length reported by statfs.
	nameLen = 256
)

// Options configures a KVFS.
type Options struct {
	// EntryTTL is the validity duration attached to lookups and attributes.
	EntryTTL time.Duration
	// ReadOnly rejects writes and truncation with EROFS.
	ReadOnly bool
	// UID and GID own every entry.
	UID uint32
	GID uint32
	// AllowOther lets users other than the mounting user access the mount.
	AllowOther bool
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		EntryTTL: DefaultEntryTTL,
		UID:      DefaultUID,
		GID:      DefaultGID,
	}
}

// KVFS presents a key-value store as a flat directory of files.
//
// Every request resolves identifiers against a Snapshot obtained from the
// cache. Requests do not share any other state, so a key removed between a
// lookup and a read makes the read fail with ENOENT; changes are visible
// from the next snapshot on.
type KVFS struct {
	store store.Store
	cache *snapshot.Cache
	attrs *Attributes
	opts  Options

	// writeMu serializes read-modify-store sequences issued through this mount.
	writeMu sync.Mutex

	conn *fuse.Conn
}

var (
	_ fusefs.FS         = (*KVFS)(nil)
	_ fusefs.FSStatfser = (*KVFS)(nil)
)

// New creates a filesystem serving snapshots from cache and writing through s.
func New(s store.Store, cache *snapshot.Cache, opts Options) *KVFS {
	vfsLogger.Info("Creating key-value filesystem")
	vfsLogger.Debug("Entry TTL: %v, read-only: %v, owner: %d:%d",
		opts.EntryTTL, opts.ReadOnly, opts.UID, opts.GID)

	return &KVFS{
		store: s,
		cache: cache,
		attrs: NewAttributes(opts.EntryTTL, opts.UID, opts.GID, opts.ReadOnly),
		opts:  opts,
	}
}

// Root implements the fusefs.FS interface, returning the root directory node.
func (kfs *KVFS) Root() (fusefs.Node, error) {
	vfsLogger.Trace("Getting root directory node")
	return &Dir{fs: kfs}, nil
}

// Statfs reports fixed placeholder statistics: a key-value store has no
// meaningful capacity to account for.
func (kfs *KVFS) Statfs(_ context.Context, _ *fuse.StatfsRequest, resp *fuse.StatfsResponse) error {
	vfsLogger.Trace("Statfs")
	*resp = fuse.StatfsResponse{
		Bsize:   BlockSize,
		Namelen: nameLen,
	}
	return nil
}

// MountOptions returns the bazil mount options for this filesystem.
func (kfs *KVFS) MountOptions() []fuse.MountOption {
	opts := []fuse.MountOption{
		fuse.FSName("kvfs"),
		fuse.Subtype("kvfs"),
		fuse.AsyncRead(),
	}
	if kfs.opts.ReadOnly {
		opts = append(opts, fuse.ReadOnly())
	}
	if kfs.opts.AllowOther {
		opts = append(opts, fuse.AllowOther())
	}
	return opts
}

// Mount attaches the filesystem at mountPoint. Serve must be called to
// answer requests.
func (kfs *KVFS) Mount(mountPoint string) error {
	vfsLogger.Info("Mounting key-value filesystem")
	vfsLogger.Debug("Mount point: %s", mountPoint)

	c, err := fuse.Mount(mountPoint, kfs.MountOptions()...)
	if err != nil {
		return fmt.Errorf("mount failed: %w", err)
	}
	kfs.conn = c

	vfsLogger.Info("Filesystem mounted successfully")
	return nil
}

// Serve answers kernel requests until the filesystem is unmounted. Requests
// are handled concurrently, one goroutine each.
func (kfs *KVFS) Serve() error {
	if kfs.conn == nil {
		return fmt.Errorf("filesystem is not mounted")
	}

	config := &fusefs.Config{}
	if logging.GetLogger().Level() >= logging.LevelTrace {
		config.Debug = func(msg interface{}) {
			vfsLogger.Trace("fuse: %v", msg)
		}
	}

	if err := fusefs.New(kfs.conn, config).Serve(kfs); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// Unmount cleanly unmounts the filesystem and closes the FUSE connection.
func (kfs *KVFS) Unmount(mountPoint string) error {
	vfsLogger.Info("Unmounting filesystem from: %s", mountPoint)
	if kfs.conn == nil {
		return nil
	}

	if err := fuse.Unmount(mountPoint); err != nil {
		vfsLogger.Error("Unmount failed: %v", err)
		return err
	}

	vfsLogger.Info("Unmount completed successfully")
	return nil
}

// Close releases the FUSE connection.
func (kfs *KVFS) Close() error {
	if kfs.conn == nil {
		return nil
	}
	return kfs.conn.Close()
}
