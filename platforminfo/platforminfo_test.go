package platforminfo

import (
	"encoding/binary"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waveform80/pibootctl/bootparser"
)

func writeBE32(t *testing.T, fs afero.Fs, path string, v uint32) {
	t.Helper()
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	require.NoError(t, afero.WriteFile(fs, path, buf[:], 0o444))
}

func writeBE64(t *testing.T, fs afero.Fs, path string, v uint64) {
	t.Helper()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	require.NoError(t, afero.WriteFile(fs, path, buf[:], 0o444))
}

func TestRealProbesPi4(t *testing.T) {
	fs := afero.NewMemMapFs()
	// A pi4 4GB board: new-style revision, memory code 4, type code 0x11.
	writeBE32(t, fs, "/proc/device-tree/system/linux,revision", 0x00c03111)
	writeBE64(t, fs, "/proc/device-tree/system/linux,serial", 0xdeadbeef)

	r := Real{Fs: fs}
	bt, ok := r.BoardType()
	require.True(t, ok)
	assert.Equal(t, bootparser.Pi4, bt)
	assert.True(t, r.BoardTypes()[bootparser.Pi4])
	serial, ok := r.BoardSerial()
	require.True(t, ok)
	assert.Equal(t, uint64(0xdeadbeef), serial)
}

func TestRealPi3PlusMatchesPi3(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeBE32(t, fs, "/proc/device-tree/system/linux,revision", 0x00a020d3)

	r := Real{Fs: fs}
	types := r.BoardTypes()
	assert.True(t, types[bootparser.Pi3])
	assert.True(t, types[bootparser.Pi3P])
}

func TestRealMissingFileIsNotFound(t *testing.T) {
	r := Real{Fs: afero.NewMemMapFs()}
	_, ok := r.BoardType()
	assert.False(t, ok)
}

func TestLoadFixture(t *testing.T) {
	sim, err := LoadFixture([]byte(`
board = "pi3+"
serial = "00000000a1b2c3d4"
memory_mb = 1024
`))
	require.NoError(t, err)
	bt, ok := sim.BoardType()
	require.True(t, ok)
	assert.Equal(t, bootparser.Pi3P, bt)
	assert.Equal(t, 1024, sim.BoardMemoryMB())
	serial, ok := sim.BoardSerial()
	require.True(t, ok)
	assert.Equal(t, uint64(0xa1b2c3d4), serial)
}
