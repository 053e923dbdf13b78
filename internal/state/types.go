// Package state provides persistent state management for the virtual filesystem.
package state

// currentVersion is written into every saved state file.
const currentVersion = 1

// FSState represents the filesystem state
type FSState struct {
	// Map of store keys to the inode identifiers handed to the kernel
	Identifiers map[string]uint64 `json:"identifiers"`

	// Version for future compatibility
	Version int `json:"version"`
}

func newState() *FSState {
	return &FSState{
		Identifiers: make(map[string]uint64),
		Version:     currentVersion,
	}
}
