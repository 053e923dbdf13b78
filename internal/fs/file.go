package fs

import (
	"context"
	"fmt"

	"kvfs/internal/logging"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
)

var (
	fileLogger = logging.GetLogger().WithPrefix("file")
)

// File is one store key. It holds the identifier and resolves it against
// the current snapshot on every request.
type File struct {
	fs  *KVFS
	ino uint64
	key string
}

// Attr implements the Node interface, returning the file's attributes.
func (f *File) Attr(ctx context.Context, a *fuse.Attr) error {
	fileLogger.Trace("Getting attributes for %q (inode %d)", f.key, f.ino)
	return reply(fileLogger, f.fs.getattr(ctx, f.ino, a))
}

// Open implements the NodeOpener interface. Opening never fails and checks
// no access mode; writes are checked when they arrive.
func (f *File) Open(_ context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fusefs.Handle, error) {
	fileLogger.Debug("Opening %q with flags %v", f.key, req.Flags)

	// Values change behind the kernel's back; bypass the page cache
	resp.Flags |= fuse.OpenDirectIO

	return &FileHandle{fs: f.fs, ino: f.ino, key: f.key}, nil
}

// Setattr implements the NodeSetattrer interface. Only size changes reach
// the store; mode and time changes are accepted and have no effect because
// attributes are synthetic.
func (f *File) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	fileLogger.Debug("Setattr on %q: %v", f.key, req.Valid)

	if req.Valid.Uid() || req.Valid.Gid() {
		return reply(fileLogger, NewFSError(OpSetattr, f.key,
			fmt.Errorf("changing ownership: %w", ErrNotSupported)))
	}

	if req.Valid.Size() {
		if err := f.fs.truncate(ctx, f.ino, req.Size); err != nil {
			return reply(fileLogger, err)
		}
	}

	return reply(fileLogger, f.fs.getattr(ctx, f.ino, &resp.Attr))
}

// Fsync implements the NodeFsyncer interface. Writes reach the store before
// they are acknowledged, so there is nothing to flush.
func (f *File) Fsync(_ context.Context, _ *fuse.FsyncRequest) error {
	return nil
}

// FileHandle is an open file. Handles carry no state of their own.
type FileHandle struct {
	fs  *KVFS
	ino uint64
	key string
}

// Read implements the HandleReader interface. Short reads are normal and a
// read past the end returns no data.
func (fh *FileHandle) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	fileLogger.Trace("Reading %d bytes from %q at offset %d", req.Size, fh.key, req.Offset)

	data, err := fh.fs.read(ctx, fh.ino, req.Offset, req.Size)
	if err != nil {
		return reply(fileLogger, err)
	}

	resp.Data = data
	fileLogger.Trace("Read %d bytes", len(data))
	return nil
}

// Write implements the HandleWriter interface.
func (fh *FileHandle) Write(ctx context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	fileLogger.Debug("Writing %d bytes to %q at offset %d", len(req.Data), fh.key, req.Offset)

	n, err := fh.fs.write(ctx, fh.ino, req.Offset, req.Data)
	if err != nil {
		return reply(fileLogger, err)
	}

	resp.Size = n
	return nil
}

// Flush implements the HandleFlusher interface.
func (fh *FileHandle) Flush(_ context.Context, _ *fuse.FlushRequest) error {
	return nil
}

// Release implements the HandleReleaser interface.
func (fh *FileHandle) Release(_ context.Context, _ *fuse.ReleaseRequest) error {
	fileLogger.Trace("Releasing handle for %q", fh.key)
	return nil
}
