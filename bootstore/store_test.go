package bootstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waveform80/pibootctl/bootctlerrors"
	"github.com/waveform80/pibootctl/bootparser"
	"github.com/waveform80/pibootctl/platforminfo"
)

func testPlatform() platforminfo.Simulated {
	return platforminfo.Simulated{Type: bootparser.Pi4, HasType: true, MemoryMB: 1024}
}

// newTestStore builds a Store over a real temporary directory: List uses
// godirwalk, which always walks the real filesystem regardless of the
// afero.Fs passed to Store, so snapshot enumeration tests need a real
// directory to see.
func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	return New(afero.NewOsFs(), testPlatform(), dir, "pibootctl"), dir
}

func TestCurrentAndDefaultAlwaysPresent(t *testing.T) {
	store, _ := newTestStore(t)
	assert.True(t, store.Contains(Current))
	assert.True(t, store.Contains(Default))
	def, err := store.Get(Default)
	require.NoError(t, err)
	assert.Equal(t, "da39a3ee5e6b4b0d3255bfef95601890afd80709", def.Hash())
	assert.Empty(t, def.Files())
}

func TestSnapshotRoundTrip(t *testing.T) {
	store, dir := newTestStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.txt"), []byte("gpu_mem=128\n"), 0o644))

	current, err := store.Get(Current)
	require.NoError(t, err)
	assert.Equal(t, 128, current.Settings().Get("gpu.mem").Value(current.Context()))

	require.NoError(t, store.Set("foo", current))

	names, err := store.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"foo"}, names)
	assert.True(t, store.Contains("foo"))

	stored, err := store.Get("foo")
	require.NoError(t, err)
	assert.Equal(t, current.Hash(), stored.Hash())
	assert.Equal(t, 128, stored.Settings().Get("gpu.mem").Value(stored.Context()))
}

func TestSetRefusesDuplicateName(t *testing.T) {
	store, _ := newTestStore(t)
	current, err := store.Get(Current)
	require.NoError(t, err)
	require.NoError(t, store.Set("foo", current))

	err = store.Set("foo", current)
	require.Error(t, err)
	var storeErr *bootctlerrors.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, bootctlerrors.AlreadyExists, storeErr.Code)
}

func TestGetUnknownSnapshotIsNotFound(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Get("nope")
	require.Error(t, err)
	var storeErr *bootctlerrors.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, bootctlerrors.NotFound, storeErr.Code)
}

func TestDeleteRemovesSnapshot(t *testing.T) {
	store, _ := newTestStore(t)
	current, err := store.Get(Current)
	require.NoError(t, err)
	require.NoError(t, store.Set("foo", current))
	require.NoError(t, store.Delete("foo"))

	names, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestDeleteCurrentAndDefaultAreRefused(t *testing.T) {
	store, _ := newTestStore(t)
	err := store.Delete(Current)
	var storeErr *bootctlerrors.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, bootctlerrors.ReadOnly, storeErr.Code)

	err = store.Delete(Default)
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, bootctlerrors.ReadOnly, storeErr.Code)
}

func TestSetDefaultIsRefused(t *testing.T) {
	store, _ := newTestStore(t)
	current, err := store.Get(Current)
	require.NoError(t, err)
	err = store.Set(Default, current)
	var storeErr *bootctlerrors.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, bootctlerrors.ReadOnly, storeErr.Code)
}

func TestActiveReportsMatchingSnapshot(t *testing.T) {
	store, dir := newTestStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.txt"), []byte("gpu_mem=64\n"), 0o644))
	current, err := store.Get(Current)
	require.NoError(t, err)
	require.NoError(t, store.Set("checkpoint", current))

	name, active, err := store.Active()
	require.NoError(t, err)
	require.True(t, active)
	assert.Equal(t, "checkpoint", name)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.txt"), []byte("gpu_mem=256\n"), 0o644))
	_, active, err = store.Active()
	require.NoError(t, err)
	assert.False(t, active)
}

func TestSetCurrentRemovesStaleFiles(t *testing.T) {
	store, dir := newTestStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.txt"), []byte("include extra.txt\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "extra.txt"), []byte("gpu_mem=64\n"), 0o644))

	original, err := store.Get(Current)
	require.NoError(t, err)
	require.Contains(t, original.Files(), "extra.txt")

	base, err := store.Get(Default)
	require.NoError(t, err)
	mutable := base.Mutable()
	require.NoError(t, mutable.Update(map[string]any{"gpu.mem": 128}, bootparser.Conditions{}))

	require.NoError(t, store.Set(Current, &mutable.BootConfiguration))

	_, err = os.Stat(filepath.Join(dir, "extra.txt"))
	assert.True(t, os.IsNotExist(err))

	updated, err := store.Get(Current)
	require.NoError(t, err)
	assert.Equal(t, 128, updated.Settings().Get("gpu.mem").Value(updated.Context()))
}

func TestInvalidArchiveIsNotRecognized(t *testing.T) {
	store, dir := newTestStore(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "pibootctl"), 0o777))
	// A zip archive with no pibootctl header comment at all (e.g. one not
	// written by this tool) must never be mistaken for a snapshot.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pibootctl", "stray.zip"), []byte("PK\x05\x06"+
		"\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00"), 0o644))

	assert.False(t, store.Contains("stray"))
	names, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, names)
}
