package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupManager(t *testing.T) (*Manager, string) {
	t.Helper()

	dir := t.TempDir()
	sm, err := NewManager(filepath.Join(dir, "nested", "state.json"))
	require.NoError(t, err)

	return sm, dir
}

func TestNewManagerCreatesFiles(t *testing.T) {
	sm, dir := setupManager(t)

	_, err := os.Stat(sm.Path())
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(dir, "nested", ".kvfs-backups"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestLoadStateEmpty(t *testing.T) {
	sm, _ := setupManager(t)

	state, err := sm.LoadState()
	require.NoError(t, err)
	assert.Empty(t, state.Identifiers)
	assert.Equal(t, currentVersion, state.Version)
}

func TestSaveAndLoadIdentifiers(t *testing.T) {
	sm, _ := setupManager(t)

	ids := map[string]uint64{"alpha": 42, "beta": 7}
	require.NoError(t, sm.SaveIdentifiers(ids))

	loaded, err := sm.LoadIdentifiers()
	require.NoError(t, err)
	assert.Equal(t, ids, loaded)

	// a second manager on the same path sees the same table
	other, err := NewManager(sm.Path())
	require.NoError(t, err)
	loaded, err = other.LoadIdentifiers()
	require.NoError(t, err)
	assert.Equal(t, ids, loaded)
}

func TestLoadStateRejectsGarbage(t *testing.T) {
	sm, _ := setupManager(t)
	require.NoError(t, os.WriteFile(sm.Path(), []byte("{not json"), 0600))

	_, err := sm.LoadState()
	assert.ErrorContains(t, err, "failed to parse state file")
}

func TestLoadStateRejectsNewerVersion(t *testing.T) {
	sm, _ := setupManager(t)
	require.NoError(t, os.WriteFile(sm.Path(), []byte(`{"identifiers":{},"version":99}`), 0600))

	_, err := sm.LoadState()
	assert.ErrorContains(t, err, "newer than supported")
}

func TestBackupsAreRotated(t *testing.T) {
	sm, dir := setupManager(t)

	for i := 0; i < sm.backupCount+3; i++ {
		require.NoError(t, sm.SaveIdentifiers(map[string]uint64{"k": uint64(i + 2)}))
	}

	entries, err := os.ReadDir(filepath.Join(dir, "nested", ".kvfs-backups"))
	require.NoError(t, err)
	assert.Len(t, entries, sm.backupCount)

	loaded, err := sm.LoadIdentifiers()
	require.NoError(t, err)
	assert.Equal(t, uint64(sm.backupCount+4), loaded["k"])
}
