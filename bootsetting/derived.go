package bootsetting

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/waveform80/pibootctl/bootctlerrors"
	"github.com/waveform80/pibootctl/bootparser"
	"github.com/waveform80/pibootctl/userstr"
)

// GPUMem represents gpu_mem, whose Validate rejects values outside the
// range the board's fitted memory allows, overridden by the size-specific gpu_mem_256 /
// gpu_mem_512 / gpu_mem_1024 variant matching the board's actual memory,
// regardless of line ordering.
type GPUMem struct {
	base
	def int
}

// NewGPUMem constructs the gpu.mem setting.
func NewGPUMem(name, doc string, def int) *GPUMem {
	return &GPUMem{base: newBase(name, doc), def: def}
}

func (s *GPUMem) Key() []string       { return []string{"commands", "gpu_mem"} }
func (s *GPUMem) Default(Context) any { return s.def }
func (s *GPUMem) Value(Context) any   { return s.currentOrDefault(s.def) }

func (s *GPUMem) Extract(lines []bootparser.Line, ctx Context) {
	s.lines = nil
	override := fmt.Sprintf("gpu_mem_%d", minInt(1024, ctx.Platform.BoardMemoryMB()))
	var plainLines, sizedLines []bootparser.Line
	for i := len(lines) - 1; i >= 0; i-- {
		c, ok := lines[i].(bootparser.CommandLine)
		if !ok {
			continue
		}
		switch c.Command {
		case "gpu_mem":
			s.lines = append(s.lines, lines[i])
			plainLines = append(plainLines, lines[i])
		case override:
			s.lines = append(s.lines, lines[i])
			sizedLines = append(sizedLines, lines[i])
		}
	}
	s.hasValue = false
	if l := firstEnabled(sizedLines, ctx); l != nil {
		if v, err := userstr.ToInt(userstr.UserStr(l.(bootparser.CommandLine).Params)); err == nil && v != nil {
			s.value, s.hasValue = *v, true
			return
		}
	}
	if l := firstEnabled(plainLines, ctx); l != nil {
		if v, err := userstr.ToInt(userstr.UserStr(l.(bootparser.CommandLine).Params)); err == nil && v != nil {
			s.value, s.hasValue = *v, true
		}
	}
}

func (s *GPUMem) Update(value any) error {
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

func (s *GPUMem) Validate(ctx Context) error {
	v := s.Value(ctx).(int)
	if v < 16 {
		return errors.Errorf("%s must be at least 16Mb", s.name)
	}
	max := 944
	switch ctx.Platform.BoardMemoryMB() {
	case 256:
		max = 192
	case 512:
		max = 448
	}
	if v > max {
		return errors.Errorf("%s must be less than %dMb", s.name, max)
	}
	return nil
}

func (s *GPUMem) Hint(Context) string { return "Mb" }

func (s *GPUMem) Output(ctx Context) bootctlerrors.OutputResult {
	if !s.Modified() {
		return bootctlerrors.OutputResult{}
	}
	return bootctlerrors.Emit(fmt.Sprintf("gpu_mem=%d", s.Value(ctx).(int)))
}

func (s *GPUMem) clone() Setting { c := *s; return &c }

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// GPUFreqField represents one member of the core/h264/isp/v3d frequency
// block (at either the max or min bound): when every member of the group
// carries the same value, the primary member (the one with a non-empty
// combinedCommand, i.e. core_freq/core_freq_min) renders a single
// "gpu_freq=value" line covering the whole group and the others render
// nothing; otherwise each modified member renders its own command.
type GPUFreqField struct {
	base
	command         string
	combinedCommand string
	isPrimary       bool
	groupNames      []string
	def             int
	DefaultFunc     func(ctx Context) int
}

// NewGPUFreqPrimary constructs the "core" member of a frequency group,
// the only one that can emit the combined command.
func NewGPUFreqPrimary(name, doc, command, combinedCommand string, def int) *GPUFreqField {
	return &GPUFreqField{base: newBase(name, doc), command: command, combinedCommand: combinedCommand, isPrimary: true, def: def}
}

// NewGPUFreqMember constructs a non-primary member (h264/isp/v3d) of a
// frequency group.
func NewGPUFreqMember(name, doc, command string, def int) *GPUFreqField {
	return &GPUFreqField{base: newBase(name, doc), command: command, def: def}
}

// LinkGPUFreqGroup records, on every given field, the full set of sibling
// names that must agree before the group collapses into one combined
// command line. Call once per group (max and min are separate groups)
// after constructing all four members.
func LinkGPUFreqGroup(fields ...*GPUFreqField) {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.name
	}
	for _, f := range fields {
		f.groupNames = names
	}
}

func (f *GPUFreqField) Key() []string { return []string{"commands", f.command} }

func (f *GPUFreqField) Default(ctx Context) any {
	if f.DefaultFunc != nil {
		return f.DefaultFunc(ctx)
	}
	return f.def
}
func (f *GPUFreqField) Value(ctx Context) any { return f.currentOrDefault(f.Default(ctx)) }

func (f *GPUFreqField) Extract(lines []bootparser.Line, ctx Context) {
	f.lines = commandLines(lines, f.command, false, 0)
	l := firstEnabled(f.lines, ctx)
	if l == nil {
		return
	}
	c := l.(bootparser.CommandLine)
	v, err := userstr.ToInt(userstr.UserStr(c.Params))
	if err == nil && v != nil {
		f.value, f.hasValue = *v, true
	}
}

func (f *GPUFreqField) Update(value any) error {
	if value == nil {
		f.Reset()
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

func (f *GPUFreqField) Validate(ctx Context) error {
	if !strings.HasSuffix(f.name, ".max") {
		return nil
	}
	minName := resolveRelative(f.name, []string{".min"})[0]
	other, ok := ctx.Registry.all[minName]
	if !ok {
		return nil
	}
	if f.Value(ctx).(int) < other.Value(ctx).(int) {
		return errors.Errorf("%s cannot be less than %s", f.name, minName)
	}
	return nil
}

func (f *GPUFreqField) Hint(Context) string { return "MHz" }

func (f *GPUFreqField) Output(ctx Context) bootctlerrors.OutputResult {
	if len(f.groupNames) == 0 {
		if !f.Modified() {
			return bootctlerrors.OutputResult{}
		}
		return bootctlerrors.Emit(fmt.Sprintf("%s=%d", f.command, f.Value(ctx).(int)))
	}
	anyModified := false
	values := make([]int, 0, len(f.groupNames))
	for _, n := range f.groupNames {
		m, ok := ctx.Registry.all[n].(*GPUFreqField)
		if !ok {
			continue
		}
		if m.Modified() {
			anyModified = true
		}
		values = append(values, m.Value(ctx).(int))
	}
	if !anyModified {
		return bootctlerrors.OutputResult{}
	}
	uniform := true
	for _, v := range values[1:] {
		if v != values[0] {
			uniform = false
			break
		}
	}
	if uniform {
		if !f.isPrimary {
			return bootctlerrors.OutputResult{}
		}
		return bootctlerrors.Emit(fmt.Sprintf("%s=%d", f.combinedCommand, values[0]))
	}
	if !f.Modified() {
		return bootctlerrors.OutputResult{}
	}
	return bootctlerrors.Emit(fmt.Sprintf("%s=%d", f.command, f.Value(ctx).(int)))
}

func (f *GPUFreqField) clone() Setting { c := *f; return &c }
