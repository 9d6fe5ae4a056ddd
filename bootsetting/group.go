package bootsetting

import (
	"fmt"
	"math/bits"

	"github.com/pkg/errors"

	"github.com/waveform80/pibootctl/bootctlerrors"
	"github.com/waveform80/pibootctl/bootparser"
	"github.com/waveform80/pibootctl/userstr"
)

// MaskField represents one bitfield of an integer command shared by
// several settings, e.g. "dpi_output_format" packs video.dpi.format,
// video.dpi.rgb and video.dpi.hsync.polarity into one configuration line
// (video.dpi.enabled is the separate enable_dpi_lcd command). Every field independently extracts and updates its
// own masked slice of the underlying integer; only the "master" field (the
// one constructed with names set) ever produces output, and it does so by
// combining every named field's current value, so a change to any dummy
// still causes the whole group to be re-rendered.
type MaskField struct {
	base
	command string
	mask    int
	shift   uint
	isBool  bool
	def     int
	names   []string // non-nil only on the master field
}

// NewMaskMaster constructs the master field of a bit-packed group: the one
// responsible for rendering the combined command line. dummyNames are the
// names of the sibling fields (resolved relative to name per the
// "leading-dot" convention: ".foo" is a sibling, "..foo" a cousin, and so
// on) that also contribute bits.
func NewMaskMaster(name, doc, command string, mask, def int, dummyNames ...string) *MaskField {
	f := newMaskField(name, doc, command, mask, def)
	f.names = append([]string{name}, resolveRelative(name, dummyNames)...)
	return f
}

// NewMaskDummy constructs a subordinate field of a bit-packed group. Its
// own Output is always empty; the master renders the combined value.
func NewMaskDummy(name, doc, command string, mask, def int) *MaskField {
	return newMaskField(name, doc, command, mask, def)
}

func newMaskField(name, doc, command string, mask, def int) *MaskField {
	shift := uint(bits.TrailingZeros(uint(mask)))
	return &MaskField{
		base: newBase(name, doc), command: command, mask: mask, shift: shift,
		isBool: (mask >> shift) == 1, def: def,
	}
}

// resolveRelative applies the "foo.bar"/"."/".."-prefix convention used
// throughout the catalog to express a setting name relative to another.
func resolveRelative(base string, paths []string) []string {
	out := make([]string, len(paths))
	for i, path := range paths {
		parts := splitDots(base)
		for len(path) > 0 && path[0] == '.' {
			parts = parts[:len(parts)-1]
			path = path[1:]
		}
		out[i] = joinDots(append(parts, splitDots(path)...))
	}
	return out
}

func splitDots(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

func joinDots(parts []string) string {
	out := parts[0]
	for _, p := range parts[1:] {
		out += "." + p
	}
	return out
}

func (f *MaskField) Key() []string { return []string{"commands", f.command} }

func (f *MaskField) Default(Context) any {
	if f.isBool {
		return f.def != 0
	}
	return f.def
}

func (f *MaskField) Value(Context) any {
	if f.isBool {
		return f.currentOrDefault(f.def != 0)
	}
	return f.currentOrDefault(f.def)
}

func (f *MaskField) Extract(lines []bootparser.Line, ctx Context) {
	f.lines = commandLines(lines, f.command, false, 0)
	l := firstEnabled(f.lines, ctx)
	if l == nil {
		return
	}
	c := l.(bootparser.CommandLine)
	raw, err := userstr.ToInt(userstr.UserStr(c.Params))
	if err != nil || raw == nil {
		return
	}
	fieldBits := (*raw & f.mask) >> f.shift
	if f.isBool {
		f.value, f.hasValue = fieldBits != 0, true
	} else {
		f.value, f.hasValue = fieldBits, true
	}
}

func (f *MaskField) Update(value any) error {
	if value == nil {
		f.Reset()
		return nil
	}
	if f.isBool {
		v, err := userstr.ToBool(value)
		if err != nil {
			return errors.Wrapf(err, "updating %s", f.name)
		}
		if v == nil {
			f.Reset()
		} else {
			f.setValue(*v)
		}
		return nil
	}
	v, err := userstr.ToInt(value)
	if err != nil {
		return errors.Wrapf(err, "updating %s", f.name)
	}
	if v == nil {
		f.Reset()
	} else {
		f.setValue(*v)
	}
	return nil
}

func (f *MaskField) Validate(Context) error { return nil }
func (f *MaskField) Hint(Context) string    { return "" }

func (f *MaskField) bits(ctx Context) int {
	v := f.Value(ctx)
	if f.isBool {
		if v.(bool) {
			return 1 << f.shift
		}
		return 0
	}
	return v.(int) << f.shift
}

func (f *MaskField) Output(ctx Context) bootctlerrors.OutputResult {
	if f.names == nil {
		return bootctlerrors.OutputResult{}
	}
	anyModified := false
	combined := 0
	for _, name := range f.names {
		sibling, ok := ctx.Registry.all[name].(*MaskField)
		if !ok {
			continue
		}
		if sibling.Modified() {
			anyModified = true
		}
		combined |= sibling.bits(ctx)
	}
	if !anyModified {
		return bootctlerrors.OutputResult{}
	}
	return bootctlerrors.Emit(fmt.Sprintf("%s=%#x", f.command, combined))
}

func (f *MaskField) clone() Setting { c := *f; return &c }

// CommandDisplayRotate and CommandDisplayFlip jointly represent a single
// rotate/flip command (e.g. display_lcd_rotate): rotate holds degrees of
// rotation (0/90/180/270), flip holds a 0-3 mirror code, and both are
// packed into one integer, rotate in the low 2 bits and flip in bits
// 16-17. Flip's own Output always delegates to rotate.
type CommandDisplayRotate struct {
	base
	command  string
	flipName string
	def      int
	preferLCD bool
}

func NewCommandDisplayRotate(name, doc, command string, def int) *CommandDisplayRotate {
	return &CommandDisplayRotate{
		base: newBase(name, doc), command: command, def: def,
		flipName: resolveRelative(name, []string{".flip"})[0],
	}
}

func (s *CommandDisplayRotate) Key() []string       { return []string{"commands", s.command} }
func (s *CommandDisplayRotate) Default(Context) any { return s.def }
func (s *CommandDisplayRotate) Value(Context) any   { return s.currentOrDefault(s.def) }

func (s *CommandDisplayRotate) Extract(lines []bootparser.Line, ctx Context) {
	s.lines = commandLines(lines, s.command, false, 0)
	l := firstEnabled(s.lines, ctx)
	if l == nil {
		return
	}
	c := l.(bootparser.CommandLine)
	raw, err := userstr.ToInt(userstr.UserStr(c.Params))
	if err != nil || raw == nil {
		return
	}
	s.value, s.hasValue = (*raw&0x3)*90, true
}

func (s *CommandDisplayRotate) Update(value any) error {
	if value == nil {
		s.Reset()
		return nil
	}
	v, err := userstr.ToInt(value)
	if err != nil {
		return errors.Wrapf(err, "updating %s", s.name)
	}
	if v == nil {
		s.Reset()
	} else {
		s.setValue(*v)
	}
	return nil
}

func (s *CommandDisplayRotate) Validate(ctx Context) error {
	v := s.Value(ctx).(int)
	if v != 0 && v != 90 && v != 180 && v != 270 {
		return errors.Errorf("%s must be 0, 90, 180, or 270", s.name)
	}
	return nil
}

func (s *CommandDisplayRotate) Hint(Context) string { return "" }

func (s *CommandDisplayRotate) Output(ctx Context) bootctlerrors.OutputResult {
	flip, ok := ctx.Registry.all[s.flipName].(*CommandDisplayFlip)
	if !ok || (!s.Modified() && !flip.Modified()) {
		return bootctlerrors.OutputResult{}
	}
	value := (s.Value(ctx).(int) / 90) | (flip.Value(ctx).(int) << 16)
	return bootctlerrors.Emit(fmt.Sprintf("%s=%#x", s.command, value))
}

func (s *CommandDisplayRotate) clone() Setting { c := *s; return &c }

// CommandDisplayFlip is the subordinate half of a rotate/flip pair; see
// CommandDisplayRotate.
type CommandDisplayFlip struct {
	base
	command   string
	rotateName string
	def       int
}

func NewCommandDisplayFlip(name, doc, command, rotateName string, def int) *CommandDisplayFlip {
	return &CommandDisplayFlip{base: newBase(name, doc), command: command, rotateName: rotateName, def: def}
}

func (s *CommandDisplayFlip) Key() []string       { return []string{"commands", s.command} }
func (s *CommandDisplayFlip) Default(Context) any { return s.def }
func (s *CommandDisplayFlip) Value(Context) any   { return s.currentOrDefault(s.def) }

func (s *CommandDisplayFlip) Extract(lines []bootparser.Line, ctx Context) {
	s.lines = commandLines(lines, s.command, false, 0)
	l := firstEnabled(s.lines, ctx)
	if l == nil {
		return
	}
	c := l.(bootparser.CommandLine)
	raw, err := userstr.ToInt(userstr.UserStr(c.Params))
	if err != nil || raw == nil {
		return
	}
	s.value, s.hasValue = (*raw>>16)&0x3, true
}

func (s *CommandDisplayFlip) Update(value any) error {
	if value == nil {
		s.Reset()
		return nil
	}
	v, err := userstr.ToInt(value)
	if err != nil {
		return errors.Wrapf(err, "updating %s", s.name)
	}
	if v == nil {
		s.Reset()
	} else {
		s.setValue(*v)
	}
	return nil
}

func (s *CommandDisplayFlip) Validate(ctx Context) error {
	v := s.Value(ctx).(int)
	if v < 0 || v > 3 {
		return errors.Errorf("%s must be 0-3", s.name)
	}
	return nil
}

func (s *CommandDisplayFlip) Hint(Context) string { return "" }

// Output always delegates to the paired rotate setting, which combines
// both fields into one rendered command.
func (s *CommandDisplayFlip) Output(Context) bootctlerrors.OutputResult {
	return bootctlerrors.Delegated(s.rotateName)
}

func (s *CommandDisplayFlip) clone() Setting { c := *s; return &c }

// CommandBootDelay2 represents boot.delay as the combination of the
// whole-second boot_delay command and the millisecond boot_delay_ms
// command.
type CommandBootDelay2 struct {
	base
	def float64
}

func NewCommandBootDelay2(name, doc string, def float64) *CommandBootDelay2 {
	return &CommandBootDelay2{base: newBase(name, doc), def: def}
}

func (s *CommandBootDelay2) Key() []string       { return []string{"commands", "boot_delay"} }
func (s *CommandBootDelay2) Default(Context) any { return s.def }
func (s *CommandBootDelay2) Value(Context) any   { return s.currentOrDefault(s.def) }

func (s *CommandBootDelay2) Extract(lines []bootparser.Line, ctx Context) {
	s.lines = nil
	var delayLines, delayMSLines []bootparser.Line
	for i := len(lines) - 1; i >= 0; i-- {
		c, ok := lines[i].(bootparser.CommandLine)
		if !ok {
			continue
		}
		switch c.Command {
		case "boot_delay":
			s.lines = append(s.lines, lines[i])
			delayLines = append(delayLines, lines[i])
		case "boot_delay_ms":
			s.lines = append(s.lines, lines[i])
			delayMSLines = append(delayMSLines, lines[i])
		}
	}
	s.hasValue = false
	var delay, delayMS int
	haveDelay, haveDelayMS := false, false
	if l := firstEnabled(delayLines, ctx); l != nil {
		if v, err := userstr.ToInt(userstr.UserStr(l.(bootparser.CommandLine).Params)); err == nil && v != nil {
			delay, haveDelay = *v, true
		}
	}
	if l := firstEnabled(delayMSLines, ctx); l != nil {
		if v, err := userstr.ToInt(userstr.UserStr(l.(bootparser.CommandLine).Params)); err == nil && v != nil {
			delayMS, haveDelayMS = *v, true
		}
	}
	if haveDelay || haveDelayMS {
		s.value, s.hasValue = float64(delay)+float64(delayMS)/1000.0, true
	}
}

func (s *CommandBootDelay2) Update(value any) error {
	if value == nil {
		s.Reset()
		return nil
	}
	v, err := userstr.ToFloat(value)
	if err != nil {
		return errors.Wrapf(err, "updating %s", s.name)
	}
	if v == nil {
		s.Reset()
	} else {
		s.setValue(*v)
	}
	return nil
}

func (s *CommandBootDelay2) Validate(ctx Context) error {
	if s.Value(ctx).(float64) < 0 {
		return errors.Errorf("%s cannot be negative", s.name)
	}
	return nil
}

func (s *CommandBootDelay2) Hint(Context) string { return "" }

func (s *CommandBootDelay2) Output(ctx Context) bootctlerrors.OutputResult {
	if !s.Modified() {
		return bootctlerrors.OutputResult{}
	}
	value := s.Value(ctx).(float64)
	whole := int(value)
	frac := int((value - float64(whole)) * 1000)
	var lines []string
	if whole != 0 {
		lines = append(lines, fmt.Sprintf("boot_delay=%d", whole))
	}
	if frac != 0 {
		lines = append(lines, fmt.Sprintf("boot_delay_ms=%d", frac))
	}
	return bootctlerrors.Emit(lines...)
}

func (s *CommandBootDelay2) clone() Setting { c := *s; return &c }
