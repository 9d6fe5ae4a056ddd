package bootparser

import (
	"fmt"
	"strconv"
	"strings"
)

// BoardType identifies a Raspberry Pi model family, as used in [section]
// conditional tags.
type BoardType string

// The model tags recognized by the boot configuration dialect.
const (
	Pi0  BoardType = "pi0"
	Pi0W BoardType = "pi0w"
	Pi1  BoardType = "pi1"
	Pi2  BoardType = "pi2"
	Pi3  BoardType = "pi3"
	Pi3P BoardType = "pi3+"
	Pi4  BoardType = "pi4"
)

var validBoardTypes = map[BoardType]bool{
	Pi0: true, Pi0W: true, Pi1: true, Pi2: true, Pi3: true, Pi3P: true, Pi4: true,
}

// Platform is the small capability the configuration engine consumes to
// resolve board-dependent defaults and to evaluate whether a BootConditions
// is currently in effect. It is always injected, never read from process
// globals, so tests can simulate any board (see package platforminfo).
type Platform interface {
	// BoardType returns the board's primary model tag, if known.
	BoardType() (BoardType, bool)
	// BoardTypes returns every model tag the board matches, e.g. a pi3+
	// also matches pi3.
	BoardTypes() map[BoardType]bool
	// BoardSerial returns the board's serial number, if known.
	BoardSerial() (uint64, bool)
	// BoardMemoryMB returns the total RAM fitted to the board, in
	// megabytes.
	BoardMemoryMB() int
}

// GPIOState is a (number, level) pair as matched by a [gpioN=0|1] section.
type GPIOState struct {
	Number int
	Level  bool
}

// Conditions represents the immutable conjunction of filters active at a
// point in the parse (or at a point a setting's output should be placed).
// All fields are comparable value types, but SuppressCount participates in
// Go's built-in == even though two conditions that differ only in
// SuppressCount are semantically equivalent placements — callers that need
// that looser comparison must use Equal, and the rewrite engine always
// goes through Equal/LessEqual rather than ==.
type Conditions struct {
	Pi            BoardType
	HasPi         bool
	HDMI          int
	HasHDMI       bool
	EDID          string
	HasEDID       bool
	Serial        uint64
	HasSerial     bool
	GPIO          GPIOState
	HasGPIO       bool
	None          bool
	SuppressCount int
}

// Equal reports whether two Conditions represent the same filters,
// deliberately ignoring SuppressCount (an artefact of include-suppression,
// not a filter in its own right).
func (c Conditions) Equal(other Conditions) bool {
	return c.Pi == other.Pi && c.HasPi == other.HasPi &&
		c.HDMI == other.HDMI && c.HasHDMI == other.HasHDMI &&
		c.EDID == other.EDID && c.HasEDID == other.HasEDID &&
		c.Serial == other.Serial && c.HasSerial == other.HasSerial &&
		c.GPIO == other.GPIO && c.HasGPIO == other.HasGPIO &&
		c.None == other.None
}

// LessEqual reports whether c is "at least as specific as" other: every
// filter set on other is equal (or a recognized special case) on c, and
// every filter absent on other places no constraint. pi3+ is considered
// at-least-as-specific as pi3, and pi0w as pi0, matching the firmware's own
// overlay-model relationship.
func (c Conditions) LessEqual(other Conditions) bool {
	piOK := !other.HasPi || (c.HasPi && c.Pi == other.Pi) ||
		(c.Pi == Pi3P && other.Pi == Pi3 && c.HasPi && other.HasPi) ||
		(c.Pi == Pi0W && other.Pi == Pi0 && c.HasPi && other.HasPi)
	hdmiOK := !other.HasHDMI || (c.HasHDMI && c.HDMI == other.HDMI)
	edidOK := !other.HasEDID || (c.HasEDID && c.EDID == other.EDID)
	serialOK := !other.HasSerial || (c.HasSerial && c.Serial == other.Serial)
	gpioOK := !other.HasGPIO || (c.HasGPIO && c.GPIO == other.GPIO)
	noneOK := !other.None || c.None
	return piOK && hdmiOK && edidOK && serialOK && gpioOK && noneOK
}

// Less reports strict specificity: c <= other and c != other (conditions
// equality, per Equal).
func (c Conditions) Less(other Conditions) bool {
	return c.LessEqual(other) && !c.Equal(other)
}

// Suppress returns a copy of c with SuppressCount incremented by one, if c
// is not currently Enabled. It is used when recursing into an include that
// occurs within a currently-disabled section, so that nested sections
// cannot accidentally re-enable themselves.
func (c Conditions) Suppress(platform Platform) Conditions {
	if !c.Enabled(platform) {
		c.SuppressCount++
	}
	return c
}

// Enabled reports whether lines under these conditions are currently
// effective, given platform. HDMI, EDID, and GPIO criteria cannot be
// evaluated outside the firmware itself, so they are deliberately ignored
// here.
func (c Conditions) Enabled(platform Platform) bool {
	if c.None {
		return false
	}
	if c.SuppressCount != 0 {
		return false
	}
	if c.HasPi {
		types := platform.BoardTypes()
		if !types[c.Pi] {
			return false
		}
	}
	if c.HasSerial {
		serial, ok := platform.BoardSerial()
		if !ok || serial != c.Serial {
			return false
		}
	}
	return true
}

// Evaluate returns the new Conditions that apply after encountering the
// [section] header section, relative to the current conditions c.
func (c Conditions) Evaluate(section string) (Conditions, bool) {
	switch {
	case section == "all":
		return Conditions{SuppressCount: c.SuppressCount}, true
	case section == "none":
		c.None = true
		return c, true
	case strings.HasPrefix(section, "HDMI:"):
		// Unrecognized indices (anything but 0 or 1) are accepted but
		// left unchanged, matching the firmware's own tolerance of
		// filters it doesn't understand.
		switch section {
		case "HDMI:0":
			c.HDMI, c.HasHDMI = 0, true
		case "HDMI:1":
			c.HDMI, c.HasHDMI = 1, true
		}
		return c, true
	case strings.HasPrefix(section, "EDID="):
		c.EDID, c.HasEDID = section[len("EDID="):], true
		return c, true
	case strings.HasPrefix(section, "gpio"):
		rest := section[len("gpio"):]
		parts := strings.SplitN(rest, "=", 2)
		if len(parts) != 2 {
			return c, true
		}
		num, err1 := strconv.Atoi(parts[0])
		val, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil {
			return c, true
		}
		c.GPIO, c.HasGPIO = GPIOState{Number: num, Level: val != 0}, true
		return c, true
	case strings.HasPrefix(section, "0x"):
		serial, err := strconv.ParseUint(section[2:], 16, 64)
		if err != nil {
			return c, true
		}
		c.Serial, c.HasSerial = serial, true
		return c, true
	case strings.HasPrefix(section, "pi"):
		if validBoardTypes[BoardType(section)] {
			c.Pi, c.HasPi = BoardType(section), true
			return c, true
		}
		return c, true
	default:
		return c, false
	}
}

// Generate yields the [section] headers required to move from context to
// c. If a filter must be *widened* (present in context but absent in c),
// [all] is emitted first to reset every filter, since there is no way to
// remove a single filter other than resetting them all.
func (c Conditions) Generate(context Conditions) []string {
	var out []string
	mustReset := context.None ||
		(context.HasPi && !c.HasPi) ||
		(context.HasHDMI && !c.HasHDMI) ||
		(context.HasEDID && !c.HasEDID) ||
		(context.HasSerial && !c.HasSerial) ||
		(context.HasGPIO && !c.HasGPIO)
	if mustReset {
		out = append(out, "[all]")
	}
	if c.HasPi {
		out = append(out, fmt.Sprintf("[%s]", c.Pi))
	}
	if c.HasHDMI {
		out = append(out, fmt.Sprintf("[HDMI:%d]", c.HDMI))
	}
	if c.HasEDID {
		out = append(out, fmt.Sprintf("[EDID=%s]", c.EDID))
	}
	if c.HasSerial {
		out = append(out, fmt.Sprintf("[0x%X]", c.Serial))
	}
	if c.HasGPIO {
		level := 0
		if c.GPIO.Level {
			level = 1
		}
		out = append(out, fmt.Sprintf("[gpio%d=%d]", c.GPIO.Number, level))
	}
	return out
}
