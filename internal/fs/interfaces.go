// internal/fs/interfaces.go

package fs

import (
	"bazil.org/fuse/fs"
)

// Node represents a filesystem node (file or directory)
type Node interface {
	fs.Node
}

// Directory represents the root directory of the filesystem
type Directory interface {
	Node
	fs.NodeRequestLookuper
	fs.HandleReadDirAller
}

// FileInterface represents a store key presented as a file
type FileInterface interface {
	Node
	fs.NodeOpener
	fs.NodeSetattrer
	fs.NodeFsyncer
}

// FileHandleInterface represents an open file handle
type FileHandleInterface interface {
	fs.Handle
	fs.HandleReader
	fs.HandleWriter
	fs.HandleFlusher
	fs.HandleReleaser
}

var (
	_ Directory           = (*Dir)(nil)
	_ FileInterface       = (*File)(nil)
	_ FileHandleInterface = (*FileHandle)(nil)
)
