package fs

import (
	"context"

	"kvfs/internal/inode"
	"kvfs/internal/logging"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
)

var (
	dirLogger = logging.GetLogger().WithPrefix("dir")
)

// Dir is the mount root: the one directory, listing every store key.
type Dir struct {
	fs *KVFS
}

// Attr implements the Node interface, returning the fixed root attributes.
func (d *Dir) Attr(ctx context.Context, a *fuse.Attr) error {
	dirLogger.Trace("Getting root attributes")
	return reply(dirLogger, d.fs.getattr(ctx, inode.RootID, a))
}

// Lookup implements the NodeRequestLookuper interface, resolving a key name.
func (d *Dir) Lookup(ctx context.Context, req *fuse.LookupRequest, resp *fuse.LookupResponse) (fusefs.Node, error) {
	dirLogger.Debug("Looking up %q", req.Name)

	e, err := d.fs.lookup(ctx, inode.RootID, req.Name)
	if err != nil {
		return nil, reply(dirLogger, err)
	}

	resp.EntryValid = d.fs.attrs.TTL()
	d.fs.attrs.Entry(e, &resp.Attr)

	dirLogger.Trace("Found %q as inode %d", e.Key, e.Ino)
	return &File{fs: d.fs, ino: e.Ino, key: e.Key}, nil
}

// ReadDirAll implements the HandleReadDirAller interface, listing directory contents.
func (d *Dir) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	dirLogger.Debug("Reading root directory")

	entries, err := d.fs.readDir(ctx, inode.RootID)
	if err != nil {
		return nil, reply(dirLogger, err)
	}

	dirLogger.Debug("Root directory contains %d entries", len(entries))
	return entries, nil
}
