// Package platforminfo determines which Raspberry Pi model, serial number,
// and memory size the boot configuration engine is reasoning about, and
// supplies the bootparser.Platform implementations that drive conditional
// section evaluation. A Real probe reads the running board's device-tree
// properties; a Simulated value lets every other package test against any
// board without touching hardware.
package platforminfo

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/waveform80/pibootctl/bootparser"
)

// boardTypeSets mirrors the conditional-filter membership table: a pi3+
// also matches [pi3], a pi0w also matches [pi0].
var boardTypeSets = map[bootparser.BoardType]map[bootparser.BoardType]bool{
	bootparser.Pi0:  {bootparser.Pi0: true},
	bootparser.Pi0W: {bootparser.Pi0: true, bootparser.Pi0W: true},
	bootparser.Pi1:  {bootparser.Pi1: true},
	bootparser.Pi2:  {bootparser.Pi2: true},
	bootparser.Pi3:  {bootparser.Pi3: true},
	bootparser.Pi3P: {bootparser.Pi3: true, bootparser.Pi3P: true},
	bootparser.Pi4:  {bootparser.Pi4: true},
}

var newStyleBoardTypes = map[uint32]bootparser.BoardType{
	0x0:  bootparser.Pi1,
	0x1:  bootparser.Pi1,
	0x2:  bootparser.Pi1,
	0x3:  bootparser.Pi1,
	0x4:  bootparser.Pi2,
	0x5:  bootparser.Pi1,
	0x6:  bootparser.Pi1,
	0x8:  bootparser.Pi3,
	0x9:  bootparser.Pi0,
	0xa:  bootparser.Pi3,
	0xc:  bootparser.Pi0W,
	0xd:  bootparser.Pi3P,
	0xe:  bootparser.Pi3P,
	0x10: bootparser.Pi3P,
	0x11: bootparser.Pi4,
}

var newStyleMemoryMB = map[uint32]int{
	0: 256, 1: 512, 2: 1024, 3: 2048, 4: 4096, 5: 8192,
}

var oldStyleMemoryMB = map[uint32]int{
	0x0002: 256, 0x0003: 256, 0x0004: 256, 0x0005: 256,
	0x0006: 256, 0x0007: 256, 0x0008: 256, 0x0009: 256,
	0x0012: 256, 0x0015: 256,
	0x000d: 512, 0x000e: 512, 0x000f: 512, 0x0010: 512,
	0x0011: 512, 0x0013: 512, 0x0014: 512,
}

// boardTypeFromRevision decodes the board model from a raw revision code,
// per the Raspberry Pi Foundation's published revision codes table. Old
// (pre-2014) style codes carry no model information recoverable this way;
// they are all first-generation boards.
func boardTypeFromRevision(rev uint32) (bootparser.BoardType, bool) {
	if rev&0x800000 == 0 {
		return bootparser.Pi1, true
	}
	t, ok := newStyleBoardTypes[(rev>>4)&0xff]
	return t, ok
}

func memoryFromRevision(rev uint32) int {
	if rev&0x800000 != 0 {
		return newStyleMemoryMB[(rev>>20)&0x7]
	}
	return oldStyleMemoryMB[rev]
}

// Real probes the actual running board's device-tree properties through an
// afero.Fs, so it can be exercised against an afero.NewMemMapFs populated
// with fixture files as easily as against the real filesystem.
type Real struct {
	Fs afero.Fs
}

func (r Real) revision() (uint32, bool) {
	v, ok := readBigEndian32(r.Fs, "/proc/device-tree/system/linux,revision")
	return v, ok
}

// BoardType implements bootparser.Platform.
func (r Real) BoardType() (bootparser.BoardType, bool) {
	rev, ok := r.revision()
	if !ok {
		return "", false
	}
	return boardTypeFromRevision(rev)
}

// BoardTypes implements bootparser.Platform.
func (r Real) BoardTypes() map[bootparser.BoardType]bool {
	t, ok := r.BoardType()
	if !ok {
		return map[bootparser.BoardType]bool{}
	}
	return boardTypeSets[t]
}

// BoardSerial implements bootparser.Platform.
func (r Real) BoardSerial() (uint64, bool) {
	return readBigEndian64(r.Fs, "/proc/device-tree/system/linux,serial")
}

// BoardMemoryMB implements bootparser.Platform.
func (r Real) BoardMemoryMB() int {
	rev, ok := r.revision()
	if !ok {
		return 0
	}
	return memoryFromRevision(rev)
}

func readBigEndian32(fs afero.Fs, filename string) (uint32, bool) {
	f, err := fs.Open(filename)
	if err != nil {
		return 0, false
	}
	defer f.Close()
	var buf [4]byte
	if _, err := io.ReadFull(f, buf[:]); err != nil {
		return 0, false
	}
	return binary.BigEndian.Uint32(buf[:]), true
}

func readBigEndian64(fs afero.Fs, filename string) (uint64, bool) {
	f, err := fs.Open(filename)
	if err != nil {
		return 0, false
	}
	defer f.Close()
	var buf [8]byte
	if _, err := io.ReadFull(f, buf[:]); err != nil {
		return 0, false
	}
	return binary.BigEndian.Uint64(buf[:]), true
}

// Simulated is a fully explicit bootparser.Platform, used by tests and by
// the "--platform" simulation mode: every field is supplied directly,
// rather than probed.
type Simulated struct {
	Type     bootparser.BoardType
	HasType  bool
	Serial   uint64
	HasSerial bool
	MemoryMB int
}

func (s Simulated) BoardType() (bootparser.BoardType, bool) { return s.Type, s.HasType }

func (s Simulated) BoardTypes() map[bootparser.BoardType]bool {
	if !s.HasType {
		return map[bootparser.BoardType]bool{}
	}
	return boardTypeSets[s.Type]
}

func (s Simulated) BoardSerial() (uint64, bool) { return s.Serial, s.HasSerial }

func (s Simulated) BoardMemoryMB() int { return s.MemoryMB }

// Fixture is the TOML-decoded shape of a simulated platform definition,
// letting test suites and the "--platform" CLI flag describe a board
// declaratively instead of constructing a Simulated literal by hand.
type Fixture struct {
	Board    string `toml:"board"`
	Serial   string `toml:"serial"`
	MemoryMB int    `toml:"memory_mb"`
}

// LoadFixture decodes a TOML platform fixture from data into a Simulated
// value. Serial, if present, is a hex string (as it appears in
// /proc/cpuinfo), e.g. "00000000a1b2c3d4".
func LoadFixture(data []byte) (Simulated, error) {
	var fx Fixture
	if err := decodeFixtureTOML(data, &fx); err != nil {
		return Simulated{}, errors.Wrap(err, "decoding platform fixture")
	}
	sim := Simulated{MemoryMB: fx.MemoryMB}
	if fx.Board != "" {
		sim.Type, sim.HasType = bootparser.BoardType(fx.Board), true
	}
	if fx.Serial != "" {
		serial, err := parseHexSerial(fx.Serial)
		if err != nil {
			return Simulated{}, errors.Wrap(err, "parsing fixture serial")
		}
		sim.Serial, sim.HasSerial = serial, true
	}
	return sim, nil
}
