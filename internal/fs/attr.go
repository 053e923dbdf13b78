package fs

import (
	"os"
	"time"

	"kvfs/internal/inode"
	"kvfs/internal/snapshot"

	"bazil.org/fuse"
)

const (
	// BlockSize is reported by statfs and in every attribute.
	BlockSize = 4096

	// DefaultUID and DefaultGID own every entry unless configured otherwise.
	DefaultUID = 501
	DefaultGID = 20

	rootPerm         = 0o755
	filePerm         = 0o644
	readOnlyFilePerm = 0o444
)

// epoch is used for every timestamp; the store keeps none.
var epoch = time.Unix(0, 0)

// Attributes synthesizes metadata for the root directory and for entries.
type Attributes struct {
	ttl      time.Duration
	uid      uint32
	gid      uint32
	fileMode os.FileMode
}

// NewAttributes returns a synthesizer advertising ttl as the validity of
// every attribute.
func NewAttributes(ttl time.Duration, uid, gid uint32, readOnly bool) *Attributes {
	mode := os.FileMode(filePerm)
	if readOnly {
		mode = readOnlyFilePerm
	}
	return &Attributes{
		ttl:      ttl,
		uid:      uid,
		gid:      gid,
		fileMode: mode,
	}
}

// TTL returns how long the kernel may cache attributes and lookups.
func (s *Attributes) TTL() time.Duration {
	return s.ttl
}

// Root fills a with the fixed attributes of the mount root.
func (s *Attributes) Root(a *fuse.Attr) {
	*a = fuse.Attr{
		Valid:     s.ttl,
		Inode:     inode.RootID,
		Mode:      os.ModeDir | rootPerm,
		Nlink:     2,
		Uid:       0,
		Gid:       0,
		BlockSize: BlockSize,
		Atime:     epoch,
		Mtime:     epoch,
		Ctime:     epoch,
		Crtime:    epoch,
	}
}

// Entry fills a with the attributes of e; the size is the length of its value.
func (s *Attributes) Entry(e snapshot.Entry, a *fuse.Attr) {
	size := e.Size()
	*a = fuse.Attr{
		Valid:     s.ttl,
		Inode:     e.Ino,
		Size:      size,
		Blocks:    (size + 511) / 512,
		Mode:      s.fileMode,
		Nlink:     1,
		Uid:       s.uid,
		Gid:       s.gid,
		BlockSize: BlockSize,
		Atime:     epoch,
		Mtime:     epoch,
		Ctime:     epoch,
		Crtime:    epoch,
	}
}
