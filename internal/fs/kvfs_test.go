package fs

import (
	"context"
	"errors"
	"math"
	"os"
	"sort"
	"syscall"
	"testing"
	"time"

	"kvfs/internal/inode"
	"kvfs/internal/snapshot"
	"kvfs/internal/store/storetest"

	"bazil.org/fuse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestFS(t *testing.T, values map[string]string, opts Options) (*KVFS, *storetest.Memory) {
	t.Helper()
	return setupCachedFS(t, values, opts, 0)
}

// setupCachedFS builds a filesystem whose snapshots are reused for interval.
func setupCachedFS(t *testing.T, values map[string]string, opts Options, interval time.Duration) (*KVFS, *storetest.Memory) {
	t.Helper()

	mem := storetest.NewMemory(values)
	ids, err := inode.New()
	require.NoError(t, err)

	cache := snapshot.NewCache(snapshot.NewBuilder(mem, ids, 4), interval)
	return New(mem, cache, opts), mem
}

func rootDir(t *testing.T, kfs *KVFS) *Dir {
	t.Helper()
	root, err := kfs.Root()
	require.NoError(t, err)
	return root.(*Dir)
}

func lookupFile(t *testing.T, kfs *KVFS, name string) (*File, *fuse.LookupResponse) {
	t.Helper()
	resp := &fuse.LookupResponse{}
	node, err := rootDir(t, kfs).Lookup(context.Background(), &fuse.LookupRequest{Name: name}, resp)
	require.NoError(t, err)
	return node.(*File), resp
}

func openFile(t *testing.T, kfs *KVFS, name string) *FileHandle {
	t.Helper()
	f, _ := lookupFile(t, kfs, name)
	resp := &fuse.OpenResponse{}
	h, err := f.Open(context.Background(), &fuse.OpenRequest{Flags: fuse.OpenReadWrite}, resp)
	require.NoError(t, err)
	assert.NotZero(t, resp.Flags&fuse.OpenDirectIO)
	return h.(*FileHandle)
}

func readAt(t *testing.T, h *FileHandle, offset int64, size int) ([]byte, error) {
	t.Helper()
	resp := &fuse.ReadResponse{}
	err := h.Read(context.Background(), &fuse.ReadRequest{Offset: offset, Size: size}, resp)
	return resp.Data, err
}

func names(entries []fuse.Dirent) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name)
	}
	return out
}

func TestExampleStore(t *testing.T) {
	kfs, _ := setupTestFS(t, map[string]string{"alpha": "hello-world!!!"}, DefaultOptions())
	ctx := context.Background()

	t.Run("ReadDir", func(t *testing.T) {
		entries, err := rootDir(t, kfs).ReadDirAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{".", "..", "alpha"}, names(entries))
		assert.Equal(t, fuse.DT_Dir, entries[0].Type)
		assert.Equal(t, inode.RootID, entries[1].Inode)
		assert.Equal(t, fuse.DT_File, entries[2].Type)
		assert.GreaterOrEqual(t, entries[2].Inode, inode.FirstID)
	})

	t.Run("Lookup", func(t *testing.T) {
		f, resp := lookupFile(t, kfs, "alpha")
		assert.Equal(t, DefaultEntryTTL, resp.EntryValid)
		assert.Equal(t, f.ino, resp.Attr.Inode)
		assert.True(t, resp.Attr.Mode.IsRegular())
		assert.Equal(t, uint64(14), resp.Attr.Size)
	})

	t.Run("ReadWhole", func(t *testing.T) {
		data, err := readAt(t, openFile(t, kfs, "alpha"), 0, 4096)
		require.NoError(t, err)
		assert.Equal(t, "hello-world!!!", string(data))
	})

	t.Run("ReadPastEnd", func(t *testing.T) {
		data, err := readAt(t, openFile(t, kfs, "alpha"), 20, 4096)
		require.NoError(t, err)
		assert.Empty(t, data)
	})

	t.Run("ShortRead", func(t *testing.T) {
		data, err := readAt(t, openFile(t, kfs, "alpha"), 6, 5)
		require.NoError(t, err)
		assert.Equal(t, "world", string(data))

		data, err = readAt(t, openFile(t, kfs, "alpha"), 12, 100)
		require.NoError(t, err)
		assert.Equal(t, "!!", string(data))
	})

	t.Run("LookupMissing", func(t *testing.T) {
		_, err := rootDir(t, kfs).Lookup(ctx, &fuse.LookupRequest{Name: "missing"}, &fuse.LookupResponse{})
		assert.Equal(t, syscall.ENOENT, err)
	})
}

func TestReadDirListsEverySimpleKeyOnce(t *testing.T) {
	values := map[string]string{"a": "1", "b": "2", "c": "3", "d": ""}
	kfs, mem := setupTestFS(t, values, DefaultOptions())
	mem.PutComposite("list")
	mem.PutComposite("hash")

	entries, err := rootDir(t, kfs).ReadDirAll(context.Background())
	require.NoError(t, err)

	got := names(entries)
	assert.Equal(t, []string{".", ".."}, got[:2])
	files := got[2:]
	sort.Strings(files)
	assert.Equal(t, []string{"a", "b", "c", "d"}, files)

	seen := map[uint64]bool{}
	for _, e := range entries[2:] {
		assert.False(t, seen[e.Inode])
		seen[e.Inode] = true
	}

	_, err = rootDir(t, kfs).Lookup(context.Background(), &fuse.LookupRequest{Name: "list"}, &fuse.LookupResponse{})
	assert.Equal(t, syscall.ENOENT, err)
}

func TestRootAttributes(t *testing.T) {
	kfs, mem := setupTestFS(t, map[string]string{"alpha": "x"}, DefaultOptions())
	ctx := context.Background()

	check := func(t *testing.T) {
		var a fuse.Attr
		require.NoError(t, rootDir(t, kfs).Attr(ctx, &a))
		assert.Equal(t, inode.RootID, a.Inode)
		assert.Equal(t, os.ModeDir|0o755, a.Mode)
		assert.Equal(t, uint32(2), a.Nlink)
		assert.Equal(t, uint64(0), a.Size)
		assert.Equal(t, uint32(0), a.Uid)
		assert.Equal(t, uint32(0), a.Gid)
	}

	t.Run("StoreUp", check)

	t.Run("StoreDown", func(t *testing.T) {
		mem.Fail(errors.New("down"))
		defer mem.Fail(nil)
		check(t)
	})
}

func TestEntryAttributes(t *testing.T) {
	kfs, _ := setupTestFS(t, map[string]string{"big": string(make([]byte, 1000))}, DefaultOptions())

	f, _ := lookupFile(t, kfs, "big")
	var a fuse.Attr
	require.NoError(t, f.Attr(context.Background(), &a))

	assert.Equal(t, f.ino, a.Inode)
	assert.Equal(t, os.FileMode(0o644), a.Mode)
	assert.Equal(t, uint32(1), a.Nlink)
	assert.Equal(t, uint32(DefaultUID), a.Uid)
	assert.Equal(t, uint32(DefaultGID), a.Gid)
	assert.Equal(t, uint64(1000), a.Size)
	assert.Equal(t, uint64(2), a.Blocks)
	assert.Equal(t, DefaultEntryTTL, a.Valid)
	assert.Equal(t, time.Unix(0, 0), a.Mtime)
}

func TestGetattrAfterDelete(t *testing.T) {
	kfs, mem := setupTestFS(t, map[string]string{"alpha": "x"}, DefaultOptions())
	ctx := context.Background()

	f, _ := lookupFile(t, kfs, "alpha")
	h := openFile(t, kfs, "alpha")
	mem.Delete("alpha")

	var a fuse.Attr
	assert.Equal(t, syscall.ENOENT, f.Attr(ctx, &a))

	_, err := readAt(t, h, 0, 10)
	assert.Equal(t, syscall.ENOENT, err)
}

func TestStoreOutageIsPerRequest(t *testing.T) {
	kfs, mem := setupTestFS(t, map[string]string{"alpha": "hello"}, DefaultOptions())
	ctx := context.Background()
	h := openFile(t, kfs, "alpha")

	mem.Fail(errors.New("connection refused"))
	_, err := readAt(t, h, 0, 10)
	assert.Equal(t, syscall.EIO, err)

	_, err = rootDir(t, kfs).ReadDirAll(ctx)
	assert.Equal(t, syscall.EIO, err)

	mem.Fail(nil)
	data, err := readAt(t, h, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestIdentifiersStableAcrossRequests(t *testing.T) {
	kfs, mem := setupTestFS(t, map[string]string{"alpha": "1", "beta": "2"}, DefaultOptions())

	before, _ := lookupFile(t, kfs, "beta")
	mem.Put("aardvark", "0")
	mem.Put("zebra", "9")
	after, _ := lookupFile(t, kfs, "beta")

	assert.Equal(t, before.ino, after.ino)
}

func TestWrite(t *testing.T) {
	ctx := context.Background()

	write := func(t *testing.T, h *FileHandle, offset int64, data string) {
		t.Helper()
		resp := &fuse.WriteResponse{}
		require.NoError(t, h.Write(ctx, &fuse.WriteRequest{Offset: offset, Data: []byte(data)}, resp))
		assert.Equal(t, len(data), resp.Size)
	}

	t.Run("Overwrite", func(t *testing.T) {
		kfs, mem := setupTestFS(t, map[string]string{"alpha": "hello-world!!!"}, DefaultOptions())
		h := openFile(t, kfs, "alpha")

		write(t, h, 6, "WORLD")
		v, _ := mem.Value("alpha")
		assert.Equal(t, "hello-WORLD!!!", v)

		data, err := readAt(t, h, 0, 100)
		require.NoError(t, err)
		assert.Equal(t, "hello-WORLD!!!", string(data))
	})

	t.Run("ExtendWithGap", func(t *testing.T) {
		kfs, mem := setupTestFS(t, map[string]string{"alpha": "ab"}, DefaultOptions())
		write(t, openFile(t, kfs, "alpha"), 4, "cd")

		v, _ := mem.Value("alpha")
		assert.Equal(t, "ab\x00\x00cd", v)
	})

	t.Run("SizeFollowsWrite", func(t *testing.T) {
		kfs, _ := setupTestFS(t, map[string]string{"alpha": "ab"}, DefaultOptions())
		write(t, openFile(t, kfs, "alpha"), 2, "cdef")

		f, _ := lookupFile(t, kfs, "alpha")
		var a fuse.Attr
		require.NoError(t, f.Attr(ctx, &a))
		assert.Equal(t, uint64(6), a.Size)
	})

	t.Run("Missing", func(t *testing.T) {
		kfs, mem := setupTestFS(t, map[string]string{"alpha": "ab"}, DefaultOptions())
		h := openFile(t, kfs, "alpha")
		mem.Delete("alpha")

		err := h.Write(ctx, &fuse.WriteRequest{Data: []byte("x")}, &fuse.WriteResponse{})
		assert.Equal(t, syscall.ENOENT, err)
		_, ok := mem.Value("alpha")
		assert.False(t, ok, "write must not recreate a deleted key")
	})

	t.Run("ReadOnly", func(t *testing.T) {
		opts := DefaultOptions()
		opts.ReadOnly = true
		kfs, mem := setupTestFS(t, map[string]string{"alpha": "ab"}, opts)

		err := openFile(t, kfs, "alpha").Write(ctx, &fuse.WriteRequest{Data: []byte("x")}, &fuse.WriteResponse{})
		assert.Equal(t, syscall.EROFS, err)
		v, _ := mem.Value("alpha")
		assert.Equal(t, "ab", v)

		f, _ := lookupFile(t, kfs, "alpha")
		var a fuse.Attr
		require.NoError(t, f.Attr(ctx, &a))
		assert.Equal(t, os.FileMode(0o444), a.Mode)
	})

	t.Run("TooLarge", func(t *testing.T) {
		kfs, _ := setupTestFS(t, map[string]string{"alpha": "ab"}, DefaultOptions())
		err := openFile(t, kfs, "alpha").Write(ctx,
			&fuse.WriteRequest{Offset: MaxValueSize, Data: []byte("x")}, &fuse.WriteResponse{})
		assert.Equal(t, syscall.EFBIG, err)
	})

	t.Run("OffsetOverflow", func(t *testing.T) {
		kfs, mem := setupTestFS(t, map[string]string{"alpha": "ab"}, DefaultOptions())
		err := openFile(t, kfs, "alpha").Write(ctx,
			&fuse.WriteRequest{Offset: math.MaxInt64, Data: []byte("xy")}, &fuse.WriteResponse{})
		assert.Equal(t, syscall.EFBIG, err)
		v, _ := mem.Value("alpha")
		assert.Equal(t, "ab", v)
	})

	t.Run("VisibleUnderLiveCache", func(t *testing.T) {
		kfs, mem := setupCachedFS(t, map[string]string{"alpha": "hello"}, DefaultOptions(), time.Hour)
		h := openFile(t, kfs, "alpha")

		// a change from another client stays hidden until the next rebuild
		mem.Put("beta", "other")
		_, err := rootDir(t, kfs).Lookup(ctx, &fuse.LookupRequest{Name: "beta"}, &fuse.LookupResponse{})
		assert.Equal(t, syscall.ENOENT, err)

		write(t, h, 0, "HE")

		data, err := readAt(t, h, 0, 100)
		require.NoError(t, err)
		assert.Equal(t, "HEllo", string(data))

		f, _ := lookupFile(t, kfs, "beta")
		assert.NotZero(t, f.ino)
	})

	t.Run("StoreDown", func(t *testing.T) {
		kfs, mem := setupTestFS(t, map[string]string{"alpha": "ab"}, DefaultOptions())
		h := openFile(t, kfs, "alpha")
		mem.Fail(errors.New("broken pipe"))

		err := h.Write(ctx, &fuse.WriteRequest{Data: []byte("x")}, &fuse.WriteResponse{})
		assert.Equal(t, syscall.EIO, err)
	})
}

func TestSetattr(t *testing.T) {
	ctx := context.Background()

	t.Run("Truncate", func(t *testing.T) {
		kfs, mem := setupTestFS(t, map[string]string{"alpha": "hello"}, DefaultOptions())
		f, _ := lookupFile(t, kfs, "alpha")

		resp := &fuse.SetattrResponse{}
		require.NoError(t, f.Setattr(ctx, &fuse.SetattrRequest{Valid: fuse.SetattrSize, Size: 2}, resp))
		assert.Equal(t, uint64(2), resp.Attr.Size)

		v, _ := mem.Value("alpha")
		assert.Equal(t, "he", v)
	})

	t.Run("TruncateThenWrite", func(t *testing.T) {
		kfs, mem := setupTestFS(t, map[string]string{"alpha": "hello"}, DefaultOptions())
		f, _ := lookupFile(t, kfs, "alpha")

		require.NoError(t, f.Setattr(ctx, &fuse.SetattrRequest{Valid: fuse.SetattrSize, Size: 0}, &fuse.SetattrResponse{}))
		require.NoError(t, openFile(t, kfs, "alpha").Write(ctx,
			&fuse.WriteRequest{Data: []byte("bye\n")}, &fuse.WriteResponse{}))

		v, _ := mem.Value("alpha")
		assert.Equal(t, "bye\n", v)
	})

	t.Run("ModeIgnored", func(t *testing.T) {
		kfs, _ := setupTestFS(t, map[string]string{"alpha": "hello"}, DefaultOptions())
		f, _ := lookupFile(t, kfs, "alpha")

		resp := &fuse.SetattrResponse{}
		require.NoError(t, f.Setattr(ctx, &fuse.SetattrRequest{Valid: fuse.SetattrMode, Mode: 0o600}, resp))
		assert.Equal(t, os.FileMode(0o644), resp.Attr.Mode)
	})

	t.Run("ChownUnsupported", func(t *testing.T) {
		kfs, _ := setupTestFS(t, map[string]string{"alpha": "hello"}, DefaultOptions())
		f, _ := lookupFile(t, kfs, "alpha")

		err := f.Setattr(ctx, &fuse.SetattrRequest{Valid: fuse.SetattrUid, Uid: 0}, &fuse.SetattrResponse{})
		assert.Equal(t, syscall.ENOTSUP, err)
	})

	t.Run("ReadOnly", func(t *testing.T) {
		opts := DefaultOptions()
		opts.ReadOnly = true
		kfs, _ := setupTestFS(t, map[string]string{"alpha": "hello"}, opts)
		f, _ := lookupFile(t, kfs, "alpha")

		err := f.Setattr(ctx, &fuse.SetattrRequest{Valid: fuse.SetattrSize, Size: 0}, &fuse.SetattrResponse{})
		assert.Equal(t, syscall.EROFS, err)
	})
}

func TestStatfs(t *testing.T) {
	kfs, mem := setupTestFS(t, nil, DefaultOptions())
	mem.Fail(errors.New("down"))

	resp := &fuse.StatfsResponse{Blocks: 99}
	require.NoError(t, kfs.Statfs(context.Background(), &fuse.StatfsRequest{}, resp))
	assert.Equal(t, uint32(BlockSize), resp.Bsize)
	assert.Equal(t, uint32(nameLen), resp.Namelen)
	assert.Zero(t, resp.Blocks)
	assert.Zero(t, resp.Files)
	assert.Zero(t, resp.Ffree)
}

func TestAdapterRejectsNonRoot(t *testing.T) {
	kfs, _ := setupTestFS(t, map[string]string{"alpha": "x"}, DefaultOptions())
	ctx := context.Background()
	f, _ := lookupFile(t, kfs, "alpha")

	_, err := kfs.lookup(ctx, f.ino, "alpha")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = kfs.readDir(ctx, f.ino)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, syscall.ENOENT, ToFuseError(err))
}

func TestMountOptions(t *testing.T) {
	kfs, _ := setupTestFS(t, nil, DefaultOptions())
	base := len(kfs.MountOptions())

	opts := DefaultOptions()
	opts.ReadOnly = true
	opts.AllowOther = true
	kfs, _ = setupTestFS(t, nil, opts)
	assert.Len(t, kfs.MountOptions(), base+2)
}
