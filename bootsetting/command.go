package bootsetting

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"

	"github.com/waveform80/pibootctl/bootctlerrors"
	"github.com/waveform80/pibootctl/bootparser"
	"github.com/waveform80/pibootctl/userstr"
)

// commandLines extracts every CommandLine matching command and hdmiIndex
// (hasHDMI false means "no HDMI index"), most recently encountered first.
// With hasHDMI, a line carrying no HDMI index counts as index 0.
func commandLines(lines []bootparser.Line, command string, hasHDMI bool, hdmiIndex int) []bootparser.Line {
	var out []bootparser.Line
	for i := len(lines) - 1; i >= 0; i-- {
		c, ok := lines[i].(bootparser.CommandLine)
		if !ok || c.Command != command || c.IsInitramfs {
			continue
		}
		if hasHDMI {
			lineHDMI := 0
			if c.HasHDMI {
				lineHDMI = c.HDMI
			}
			if lineHDMI != hdmiIndex {
				continue
			}
		} else if c.HasHDMI {
			continue
		}
		out = append(out, c)
	}
	return out
}

// CommandStr is a string-valued "key=value" command.
type CommandStr struct {
	base
	command string
	def     string
}

func NewCommandStr(name, doc, command, def string) *CommandStr {
	return &CommandStr{base: newBase(name, doc), command: command, def: def}
}

func (s *CommandStr) Key() []string       { return []string{"commands", s.command} }
func (s *CommandStr) Default(Context) any { return s.def }
func (s *CommandStr) Value(Context) any   { return s.currentOrDefault(s.def) }

func (s *CommandStr) Extract(lines []bootparser.Line, ctx Context) {
	s.lines = commandLines(lines, s.command, false, 0)
	s.hasValue = false
	l := firstEnabled(s.lines, ctx)
	if l == nil {
		return
	}
	c := l.(bootparser.CommandLine)
	s.value, s.hasValue = c.Params, true
}

func (s *CommandStr) Update(value any) error {
	if value == nil {
		s.Reset()
		return nil
	}
	v, err := userstr.ToStr(value)
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

func (s *CommandStr) Validate(Context) error { return nil }
func (s *CommandStr) Hint(Context) string    { return "" }

func (s *CommandStr) Output(ctx Context) bootctlerrors.OutputResult {
	if !s.Modified() {
		return bootctlerrors.OutputResult{}
	}
	return bootctlerrors.Emit(fmt.Sprintf("%s=%s", s.command, s.Value(ctx).(string)))
}

func (s *CommandStr) clone() Setting { c := *s; return &c }

// CommandInt is an integer-valued command, optionally indexed by HDMI port
// and optionally constrained by a Validator.
type CommandInt struct {
	base
	command   string
	def       int
	hasHDMI   bool
	hdmiIndex int
	hex       bool
	Validator func(ctx Context, value int) error
	// DefaultFunc, when set, overrides def with a context-dependent
	// default (board-type-sensitive frequencies, cross-setting
	// derivations, and the like).
	DefaultFunc func(ctx Context) int
}

func NewCommandInt(name, doc, command string, def int) *CommandInt {
	return &CommandInt{base: newBase(name, doc), command: command, def: def}
}

// NewCommandIntHDMI constructs a command keyed by a specific HDMI port
// index, e.g. "hdmi_group:1".
func NewCommandIntHDMI(name, doc, command string, hdmiIndex, def int) *CommandInt {
	return &CommandInt{base: newBase(name, doc), command: command, def: def, hasHDMI: true, hdmiIndex: hdmiIndex}
}

func (s *CommandInt) Key() []string {
	if s.hasHDMI {
		return []string{"commands", fmt.Sprintf("%s:%d", s.command, s.hdmiIndex)}
	}
	return []string{"commands", s.command}
}

func (s *CommandInt) Default(ctx Context) any {
	if s.DefaultFunc != nil {
		return s.DefaultFunc(ctx)
	}
	return s.def
}
func (s *CommandInt) Value(ctx Context) any { return s.currentOrDefault(s.Default(ctx)) }

func (s *CommandInt) Extract(lines []bootparser.Line, ctx Context) {
	s.lines = commandLines(lines, s.command, s.hasHDMI, s.hdmiIndex)
	s.hasValue = false
	l := firstEnabled(s.lines, ctx)
	if l == nil {
		return
	}
	c := l.(bootparser.CommandLine)
	v, err := userstr.ToInt(userstr.UserStr(c.Params))
	if err == nil && v != nil {
		s.value, s.hasValue = *v, true
	}
}

func (s *CommandInt) Update(value any) error {
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

func (s *CommandInt) Validate(ctx Context) error {
	if s.Validator == nil {
		return nil
	}
	return s.Validator(ctx, s.Value(ctx).(int))
}

func (s *CommandInt) Hint(Context) string { return "" }

func (s *CommandInt) Output(ctx Context) bootctlerrors.OutputResult {
	if !s.Modified() {
		return bootctlerrors.OutputResult{}
	}
	v := s.Value(ctx).(int)
	rendered := strconv.Itoa(v)
	if s.hex {
		rendered = fmt.Sprintf("0x%x", v)
	}
	command := s.command
	if s.hasHDMI {
		command = fmt.Sprintf("%s:%d", s.command, s.hdmiIndex)
	}
	return bootctlerrors.Emit(fmt.Sprintf("%s=%s", command, rendered))
}

func (s *CommandInt) clone() Setting { c := *s; return &c }

// NewCommandIntHex is like NewCommandInt but renders its value in
// hexadecimal, e.g. "kernel_address=0x80000" (parsing accepts decimal or
// "0x"-prefixed hexadecimal, as for every integer setting).
func NewCommandIntHex(name, doc, command string, def int) *CommandInt {
	c := NewCommandInt(name, doc, command, def)
	c.hex = true
	return c
}

// CommandBool is an on/off command rendered as "1"/"0".
type CommandBool struct {
	base
	command      string
	def          bool
	inverted     bool
	onlyWhenTrue bool
	// ignoreZero makes Extract skip recording a line whose value parses
	// to zero/false instead of recording an explicit false, matching the
	// firmware's "start_x=0" is meaningless once start_debug has fired"
	// parsing quirk.
	ignoreZero bool
	DefaultFunc func(ctx Context) bool
	Validator   func(ctx Context, value bool) error
}

func NewCommandBool(name, doc, command string, def bool) *CommandBool {
	return &CommandBool{base: newBase(name, doc), command: command, def: def}
}

// NewCommandBoolInv is a CommandBool whose stored line value is the
// logical inverse of the setting's own value, used for settings phrased
// negatively from the firmware's viewpoint (e.g. disable_overscan).
func NewCommandBoolInv(name, doc, command string, def bool) *CommandBool {
	c := NewCommandBool(name, doc, command, def)
	c.inverted = true
	return c
}

func (s *CommandBool) Key() []string { return []string{"commands", s.command} }
func (s *CommandBool) Default(ctx Context) any {
	if s.DefaultFunc != nil {
		return s.DefaultFunc(ctx)
	}
	return s.def
}
func (s *CommandBool) Value(ctx Context) any { return s.currentOrDefault(s.Default(ctx)) }

// NewFirmwareFlag constructs a CommandBool that only ever renders output
// when true (turning it off is simply the absence of the command), and
// whose Extract ignores an explicit "=0", mirroring start_x/start_debug's
// firmware semantics.
func NewFirmwareFlag(name, doc, command string, defaultFunc func(ctx Context) bool) *CommandBool {
	return &CommandBool{base: newBase(name, doc), command: command, onlyWhenTrue: true, ignoreZero: true, DefaultFunc: defaultFunc}
}

func (s *CommandBool) Extract(lines []bootparser.Line, ctx Context) {
	all := commandLines(lines, s.command, false, 0)
	if s.ignoreZero {
		s.lines = nil
		for _, l := range all {
			c := l.(bootparser.CommandLine)
			if v, err := userstr.ToInt(userstr.UserStr(c.Params)); err == nil && v != nil && *v != 0 {
				s.lines = append(s.lines, l)
			}
		}
	} else {
		s.lines = all
	}
	s.hasValue = false
	l := firstEnabled(s.lines, ctx)
	if l == nil {
		return
	}
	c := l.(bootparser.CommandLine)
	v, err := userstr.ToBool(userstr.UserStr(c.Params))
	if err != nil || v == nil {
		return
	}
	value := *v
	if s.inverted {
		value = !value
	}
	s.value, s.hasValue = value, true
}

func (s *CommandBool) Update(value any) error {
	if value == nil {
		s.Reset()
		return nil
	}
	v, err := userstr.ToBool(value)
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

func (s *CommandBool) Validate(ctx Context) error {
	if s.Validator == nil {
		return nil
	}
	return s.Validator(ctx, s.Value(ctx).(bool))
}
func (s *CommandBool) Hint(Context) string { return "" }

func (s *CommandBool) Output(ctx Context) bootctlerrors.OutputResult {
	if !s.Modified() {
		return bootctlerrors.OutputResult{}
	}
	value := s.Value(ctx).(bool)
	if s.onlyWhenTrue {
		if !value {
			return bootctlerrors.OutputResult{}
		}
		return bootctlerrors.Emit(s.command + "=1")
	}
	if s.inverted {
		value = !value
	}
	rendered := "0"
	if value {
		rendered = "1"
	}
	return bootctlerrors.Emit(fmt.Sprintf("%s=%s", s.command, rendered))
}

func (s *CommandBool) clone() Setting { c := *s; return &c }

// CommandForceIgnore is a tri-state setting backed by a pair of commands
// (e.g. "hdmi_force_hotplug" / "hdmi_ignore_hotplug"), one of which forces
// the feature on, the other off; neither set means "auto". Force takes
// precedence if, improbably, both are set.
type CommandForceIgnore struct {
	base
	forceCommand, ignoreCommand string
}

func NewCommandForceIgnore(name, doc, forceCommand, ignoreCommand string) *CommandForceIgnore {
	return &CommandForceIgnore{base: newBase(name, doc), forceCommand: forceCommand, ignoreCommand: ignoreCommand}
}

func (s *CommandForceIgnore) Key() []string { return []string{"commands", s.forceCommand} }

// Default is nil, meaning "auto" (neither forced on nor off).
func (s *CommandForceIgnore) Default(Context) any { return nil }

func (s *CommandForceIgnore) Value(Context) any { return s.currentOrDefault(nil) }

func (s *CommandForceIgnore) Extract(lines []bootparser.Line, ctx Context) {
	force := commandLines(lines, s.forceCommand, false, 0)
	ignore := commandLines(lines, s.ignoreCommand, false, 0)
	s.lines = append(append([]bootparser.Line{}, force...), ignore...)
	s.hasValue = false
	if l := firstEnabled(force, ctx); l != nil {
		if c, ok := l.(bootparser.CommandLine); ok && c.Params == "1" {
			s.value, s.hasValue = true, true
			return
		}
	}
	if l := firstEnabled(ignore, ctx); l != nil {
		if c, ok := l.(bootparser.CommandLine); ok && c.Params == "1" {
			s.value, s.hasValue = false, true
			return
		}
	}
}

func (s *CommandForceIgnore) Update(value any) error {
	if value == nil {
		s.Reset()
		return nil
	}
	v, err := userstr.ToBool(value)
	if err != nil {
		return errors.Wrapf(err, "updating %s", s.name)
	}
	if v == nil {
		s.Reset()
	} else {
		s.value, s.hasValue = *v, true
	}
	return nil
}

func (s *CommandForceIgnore) Validate(Context) error { return nil }
func (s *CommandForceIgnore) Hint(ctx Context) string {
	switch v := s.Value(ctx); v {
	case nil:
		return "auto"
	case true:
		return "forced on"
	default:
		return "forced off"
	}
}

func (s *CommandForceIgnore) Output(ctx Context) bootctlerrors.OutputResult {
	v := s.Value(ctx)
	if v == nil {
		return bootctlerrors.OutputResult{}
	}
	if v.(bool) {
		return bootctlerrors.Emit(s.forceCommand + "=1")
	}
	return bootctlerrors.Emit(s.ignoreCommand + "=1")
}

func (s *CommandForceIgnore) clone() Setting { c := *s; return &c }

// CommandFilename is a string command naming a file on the boot partition.
type CommandFilename struct {
	base
	command string
	def     string
	// DefaultFunc, when set, overrides def with a context-dependent
	// default (board/64-bit/debug-sensitive firmware filenames).
	DefaultFunc func(ctx Context) string
}

func NewCommandFilename(name, doc, command, def string) *CommandFilename {
	return &CommandFilename{base: newBase(name, doc), command: command, def: def}
}

func (s *CommandFilename) Key() []string { return []string{"commands", s.command} }
func (s *CommandFilename) Default(ctx Context) any {
	if s.DefaultFunc != nil {
		return s.DefaultFunc(ctx)
	}
	return s.def
}
func (s *CommandFilename) Value(ctx Context) any { return s.currentOrDefault(s.Default(ctx)) }

func (s *CommandFilename) Extract(lines []bootparser.Line, ctx Context) {
	s.lines = commandLines(lines, s.command, false, 0)
	s.hasValue = false
	l := firstEnabled(s.lines, ctx)
	if l == nil {
		return
	}
	c := l.(bootparser.CommandLine)
	s.value, s.hasValue = c.Params, true
}

func (s *CommandFilename) Update(value any) error {
	if value == nil {
		s.Reset()
		return nil
	}
	v, err := userstr.ToStr(value)
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

func (s *CommandFilename) Validate(Context) error { return nil }

// FullFilename returns the value prefixed with the current boot.prefix
// setting, the path the firmware will actually look for on the boot
// partition.
func (s *CommandFilename) FullFilename(ctx Context) string {
	prefix, _ := ctx.Query("boot.prefix").(string)
	return prefix + s.Value(ctx).(string)
}

func (s *CommandFilename) Hint(ctx Context) string {
	prefix := ctx.Registry.Get("boot.prefix")
	if s.Value(ctx).(string) == "" || prefix == nil || !prefix.Modified() {
		return ""
	}
	return fmt.Sprintf("%q with boot.prefix", s.FullFilename(ctx))
}

func (s *CommandFilename) Output(ctx Context) bootctlerrors.OutputResult {
	if !s.Modified() {
		return bootctlerrors.OutputResult{}
	}
	return bootctlerrors.Emit(fmt.Sprintf("%s=%s", s.command, s.Value(ctx).(string)))
}

func (s *CommandFilename) clone() Setting { c := *s; return &c }

// IncludedFileSetting is implemented by settings whose value names an
// auxiliary file that must be read and folded into the configuration's
// content hash (e.g. boot.cmdline naming cmdline.txt), even though the
// file is never itself parsed as boot configuration.
type IncludedFileSetting interface {
	Setting
	AuxFilename(ctx Context) string
}

// CommandIncludedFile is a CommandFilename whose named file must be
// registered with the parser so its content participates in the
// configuration's hash.
type CommandIncludedFile struct {
	CommandFilename
}

func NewCommandIncludedFile(name, doc, command, def string) *CommandIncludedFile {
	return &CommandIncludedFile{CommandFilename: *NewCommandFilename(name, doc, command, def)}
}

func (s *CommandIncludedFile) AuxFilename(ctx Context) string {
	return s.Value(ctx).(string)
}

func (s *CommandIncludedFile) clone() Setting {
	c := *s
	return &c
}
