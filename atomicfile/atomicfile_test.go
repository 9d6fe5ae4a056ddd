package atomicfile

import (
	"errors"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplaceCommitsOnSuccess(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/boot/config.txt", []byte("foo"), 0o644))

	err := Replace(fs, "/boot/config.txt", func(f afero.File) error {
		_, werr := f.Write([]byte("bar"))
		return werr
	})
	require.NoError(t, err)

	got, err := afero.ReadFile(fs, "/boot/config.txt")
	require.NoError(t, err)
	assert.Equal(t, "bar", string(got))
}

func TestReplaceLeavesTargetUntouchedOnError(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/boot/config.txt", []byte("foo"), 0o644))

	sentinel := errors.New("something went wrong")
	err := Replace(fs, "/boot/config.txt", func(f afero.File) error {
		f.Write([]byte("bar"))
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	got, err := afero.ReadFile(fs, "/boot/config.txt")
	require.NoError(t, err)
	assert.Equal(t, "foo", string(got), "target must be unchanged when the write callback errors")

	entries, err := afero.ReadDir(fs, "/boot")
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no orphan temp file should remain visible alongside the target")
}

func TestUmaskCached(t *testing.T) {
	a := Umask()
	b := Umask()
	assert.Equal(t, a, b)
}
