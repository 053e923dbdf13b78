package fs

import (
	"context"
	"fmt"

	"kvfs/internal/inode"
	"kvfs/internal/snapshot"

	"bazil.org/fuse"
)

// view returns the current snapshot, tagging failures with op.
func (kfs *KVFS) view(ctx context.Context, op string) (*snapshot.Snapshot, error) {
	snap, err := kfs.cache.Snapshot(ctx)
	if err != nil {
		return nil, NewFSError(op, "", fmt.Errorf("%s: %w", OpSnapshot, err))
	}
	return snap, nil
}

// resolve finds the entry behind a non-root identifier.
func (kfs *KVFS) resolve(ctx context.Context, op string, ino uint64) (snapshot.Entry, error) {
	snap, err := kfs.view(ctx, op)
	if err != nil {
		return snapshot.Entry{}, err
	}
	e, ok := snap.Get(ino)
	if !ok {
		return snapshot.Entry{}, NewFSError(op, fmt.Sprintf("#%d", ino), ErrNotFound)
	}
	return e, nil
}

// lookup resolves name inside parent. Only the root has children.
func (kfs *KVFS) lookup(ctx context.Context, parent uint64, name string) (snapshot.Entry, error) {
	if parent != inode.RootID {
		return snapshot.Entry{}, NewFSError(OpLookup, name, ErrNotFound)
	}

	snap, err := kfs.view(ctx, OpLookup)
	if err != nil {
		return snapshot.Entry{}, err
	}
	e, ok := snap.Lookup(name)
	if !ok {
		return snapshot.Entry{}, NewFSError(OpLookup, name, ErrNotFound)
	}
	return e, nil
}

// getattr fills a for ino. The root never touches the store.
func (kfs *KVFS) getattr(ctx context.Context, ino uint64, a *fuse.Attr) error {
	if ino == inode.RootID {
		kfs.attrs.Root(a)
		return nil
	}

	e, err := kfs.resolve(ctx, OpGetattr, ino)
	if err != nil {
		return err
	}
	kfs.attrs.Entry(e, a)
	return nil
}

// read returns up to size bytes of the value starting at offset. Reading at
// or past the end yields an empty slice.
func (kfs *KVFS) read(ctx context.Context, ino uint64, offset int64, size int) ([]byte, error) {
	if offset < 0 || size < 0 {
		return nil, NewFSError(OpRead, fmt.Sprintf("#%d", ino), ErrInvalidPath)
	}

	e, err := kfs.resolve(ctx, OpRead, ino)
	if err != nil {
		return nil, err
	}
	return window(e.Value, offset, size), nil
}

func window(value []byte, offset int64, size int) []byte {
	if offset >= int64(len(value)) {
		return []byte{}
	}
	end := offset + int64(size)
	if end > int64(len(value)) {
		end = int64(len(value))
	}
	return value[offset:end]
}

// write patches data into the stored value at offset and stores the result.
// The value is fetched from the store rather than the snapshot so that a
// write never resurrects older content.
func (kfs *KVFS) write(ctx context.Context, ino uint64, offset int64, data []byte) (int, error) {
	e, err := kfs.resolve(ctx, OpWrite, ino)
	if err != nil {
		return 0, err
	}
	if kfs.opts.ReadOnly {
		return 0, NewFSError(OpWrite, e.Key, ErrReadOnly)
	}
	if offset < 0 {
		return 0, NewFSError(OpWrite, e.Key, ErrInvalidPath)
	}
	if int64(len(data)) > MaxValueSize || offset > MaxValueSize-int64(len(data)) {
		return 0, NewFSError(OpWrite, e.Key, ErrTooLarge)
	}

	err = kfs.modify(ctx, OpWrite, e.Key, func(value []byte) []byte {
		return patch(value, offset, data)
	})
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

// truncate resizes the stored value, zero-filling when it grows.
func (kfs *KVFS) truncate(ctx context.Context, ino uint64, size uint64) error {
	e, err := kfs.resolve(ctx, OpSetattr, ino)
	if err != nil {
		return err
	}
	if kfs.opts.ReadOnly {
		return NewFSError(OpSetattr, e.Key, ErrReadOnly)
	}
	if size > MaxValueSize {
		return NewFSError(OpSetattr, e.Key, ErrTooLarge)
	}

	return kfs.modify(ctx, OpSetattr, e.Key, func(value []byte) []byte {
		return resize(value, int(size))
	})
}

// modify runs one read-modify-store cycle on key and invalidates the
// snapshot cache so the change is visible to the next request.
func (kfs *KVFS) modify(ctx context.Context, op, key string, change func([]byte) []byte) error {
	kfs.writeMu.Lock()
	defer kfs.writeMu.Unlock()

	current, err := kfs.store.Get(ctx, key)
	if err != nil {
		return NewFSError(op, key, err)
	}

	updated := change(current)
	if err := kfs.store.Set(ctx, key, updated); err != nil {
		return NewFSError(op, key, err)
	}
	kfs.cache.Invalidate()

	vfsLogger.Debug("Stored %d bytes for %q (%s)", len(updated), key, op)
	return nil
}

// patch returns value with data copied in at offset. Any gap between the
// old end and offset is zero-filled. value is not modified.
func patch(value []byte, offset int64, data []byte) []byte {
	end := int(offset) + len(data)
	size := len(value)
	if end > size {
		size = end
	}

	out := make([]byte, size)
	copy(out, value)
	copy(out[offset:], data)
	return out
}

// resize returns a copy of value cut or zero-extended to size bytes.
func resize(value []byte, size int) []byte {
	out := make([]byte, size)
	copy(out, value)
	return out
}

// readDir lists the root: "." and ".." followed by one file per entry in
// key order.
func (kfs *KVFS) readDir(ctx context.Context, ino uint64) ([]fuse.Dirent, error) {
	if ino != inode.RootID {
		return nil, NewFSError(OpReadDir, fmt.Sprintf("#%d", ino), ErrNotFound)
	}

	snap, err := kfs.view(ctx, OpReadDir)
	if err != nil {
		return nil, err
	}

	entries := make([]fuse.Dirent, 0, snap.Len()+2)
	entries = append(entries,
		fuse.Dirent{Inode: inode.RootID, Name: ".", Type: fuse.DT_Dir},
		fuse.Dirent{Inode: inode.RootID, Name: "..", Type: fuse.DT_Dir},
	)
	for _, e := range snap.Entries() {
		entries = append(entries, fuse.Dirent{
			Inode: e.Ino,
			Name:  e.Key,
			Type:  fuse.DT_File,
		})
	}
	return entries, nil
}
