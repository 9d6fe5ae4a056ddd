package bootconfig

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/waveform80/pibootctl/bootctlerrors"
	"github.com/waveform80/pibootctl/bootparser"
	"github.com/waveform80/pibootctl/bootsetting"
)

// MutableConfiguration is a BootConfiguration backed by an in-memory working
// copy of its files, changeable through Update. No link is kept to whatever
// configuration it was derived from: updating it never rewrites anything on
// disk until the result is assigned back into a store.
type MutableConfiguration struct {
	BootConfiguration
	work bootparser.MapSource
}

// Update applies values (setting name to new value, or nil to reset to
// default) against context, the BootConditions the change should take
// effect under. It runs the full nine-phase rewrite: validate the desired
// endpoint in isolation, blank or comment out every line that would
// conflict with it, re-parse, compute and splice the lines actually needed
// to reach that endpoint (reusing matching comments where possible), and
// finally re-parse once more to confirm nothing outside the mutable file
// set overrode the result.
//
// Update returns *bootctlerrors.InvalidConfigurationError if any requested
// value fails validation (nothing is touched in that case), or
// *bootctlerrors.IneffectiveConfigurationError if the rewrite completed but
// a post-write re-parse shows the result does not match what was asked for.
func (m *MutableConfiguration) Update(values map[string]any, context bootparser.Conditions) error {
	m.ensureParsed()

	updatedReg := m.registry.Copy()
	updatedCtx := bootsetting.Context{Registry: updatedReg, Platform: m.platform}
	for name, value := range values {
		s := updatedReg.Get(name)
		if s == nil {
			return errors.Errorf("no such setting: %s", name)
		}
		if err := s.Update(value); err != nil {
			return errors.Wrapf(err, "updating %s", name)
		}
	}
	errs := map[string]error{}
	for _, s := range updatedReg.All() {
		if err := s.Validate(updatedCtx); err != nil {
			errs[s.Name()] = err
		}
	}
	if len(errs) > 0 {
		return &bootctlerrors.InvalidConfigurationError{Errors: errs}
	}

	m.applyPath(m.cleanConfig(values, context))
	m.reparse()

	m.applyPath(m.finalConfig(updatedReg, updatedCtx, context))
	m.reparse()

	ctx := bootsetting.Context{Registry: m.registry, Platform: m.platform}
	diff := updatedReg.Diff(m.registry, updatedCtx)
	if len(diff) > 0 {
		return &bootctlerrors.IneffectiveConfigurationError{
			Overrides: m.buildOverrides(diff, updatedReg, updatedCtx, ctx),
		}
	}
	return nil
}

func (m *MutableConfiguration) reparse() {
	m.parsed = false
	m.parse()
}

// currentLines returns the working copy's current content for filename,
// split into lines that each retain their trailing newline, or nil if the
// file does not yet exist.
func (m *MutableConfiguration) currentLines(filename string) []string {
	f, ok := m.work[filename]
	if !ok {
		return nil
	}
	return append([]string(nil), f.Lines()...)
}

// applyPath merges newPath (filename to full line list) into the working
// copy, replacing each named file's content wholesale.
func (m *MutableConfiguration) applyPath(newPath map[string][]string) {
	now := time.Now()
	for filename, lines := range newPath {
		content := []byte(strings.Join(lines, ""))
		m.work[filename] = bootparser.NewBootFile(filename, now, content)
	}
}

// cleanConfig blanks (or comments out, per commentLines) every line that
// previously affected one of the changed settings, restricted to files in
// the mutable set and to lines whose conditions are at least as specific as
// context. Lines outside the mutable set are left alone; if one of them
// still overrides the edit, Update's final verification pass will catch it.
func (m *MutableConfiguration) cleanConfig(values map[string]any, context bootparser.Conditions) map[string][]string {
	files := map[string]bool{}
	for name := range values {
		s := m.registry.Get(name)
		if s == nil {
			continue
		}
		for _, l := range s.Lines() {
			files[l.Filename()] = true
		}
	}
	newPath := map[string][]string{}
	for filename := range files {
		newPath[filename] = m.currentLines(filename)
	}
	for name := range values {
		s := m.registry.Get(name)
		if s == nil {
			continue
		}
		for _, l := range s.Lines() {
			if !m.writable(l.Filename()) || !l.Conditions().LessEqual(context) {
				continue
			}
			nf := newPath[l.Filename()]
			idx := l.LineNum() - 1
			if idx < 0 || idx >= len(nf) {
				continue
			}
			if m.commentLines {
				if !strings.HasPrefix(nf[idx], "#") {
					nf[idx] = "#" + nf[idx]
				}
			} else {
				nf[idx] = ""
			}
		}
	}
	return newPath
}

// emission is one setting's rendered output, keyed for the final sort-by-
// key pass that decides emission order (e.g. an overlay header before its
// own params).
type emission struct {
	key   []string
	lines []string
}

func keyLess(a, b []string) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// finalConfig computes the lines needed to bring the working copy from its
// just-cleaned state to updatedReg's desired values: it diffs the two
// registries, renders each differing setting's output (following
// delegation to a master setting where one is signalled), searches for
// existing comments that can be uncommented instead of writing a fresh
// line, and finally splices whatever remains into the root file at the
// best available insertion point.
func (m *MutableConfiguration) finalConfig(updatedReg *bootsetting.Registry, updatedCtx bootsetting.Context, context bootparser.Conditions) map[string][]string {
	ctx := bootsetting.Context{Registry: m.registry, Platform: m.platform}
	diff := m.registry.Diff(updatedReg, ctx)
	done := map[string]bool{}
	var emissions []emission
	for _, name := range diff {
		if done[name] {
			continue
		}
		setting := updatedReg.Get(name)
		for setting != nil {
			done[setting.Name()] = true
			out := setting.Output(updatedCtx)
			if out.Delegate != "" {
				setting = updatedReg.Get(out.Delegate)
				continue
			}
			if len(out.Lines) > 0 {
				emissions = append(emissions, emission{key: setting.Key(), lines: out.Lines})
			}
			break
		}
	}
	sort.SliceStable(emissions, func(i, j int) bool {
		return keyLess(emissions[i].key, emissions[j].key)
	})

	newPath := map[string][]string{}
	fileLines := func(filename string) []string {
		if nf, ok := newPath[filename]; ok {
			return nf
		}
		nf := m.currentLines(filename)
		newPath[filename] = nf
		return nf
	}

	var newConfig []string
	for _, e := range emissions {
		for _, newLine := range e.lines {
			matched := false
			for _, old := range m.lines {
				c, ok := old.(bootparser.CommentLine)
				if !ok {
					continue
				}
				if c.Conditions().Equal(context) && c.Comment() == newLine {
					nf := fileLines(c.Filename())
					idx := c.LineNum() - 1
					if idx >= 0 && idx < len(nf) {
						nf[idx] = c.Comment() + "\n"
					}
					matched = true
					break
				}
			}
			if !matched {
				newConfig = append(newConfig, newLine)
			}
		}
	}

	// Any new lines remaining past the uncomment search still need a home,
	// but the root file is the only place this engine ever writes content
	// that does not already exist somewhere as a matched comment. If the
	// root file itself is not in the mutable set, there is nowhere safe to
	// put them: per the "never edit a file it is not permitted to edit"
	// rule, they are simply not written, and Update's verification re-parse
	// will surface the resulting mismatch as IneffectiveConfigurationError.
	if len(newConfig) > 0 && m.writable(m.configRoot) {
		var insertAt bootparser.Line
		for i := len(m.lines) - 1; i >= 0; i-- {
			line := m.lines[i]
			if line.Filename() != m.configRoot {
				continue
			}
			if insertAt == nil {
				insertAt = line
			}
			if line.Conditions().Equal(context) {
				insertAt = line
				break
			}
		}
		if insertAt == nil {
			insertAt = bootparser.NewCommentLine(m.configRoot, 0, bootparser.Conditions{}, "")
		}

		if !insertAt.Conditions().Equal(context) {
			headers := context.Generate(insertAt.Conditions())
			prefixed := make([]string, 0, len(headers)+1+len(newConfig))
			prefixed = append(prefixed, "")
			prefixed = append(prefixed, headers...)
			prefixed = append(prefixed, newConfig...)
			newConfig = prefixed
		}

		rootLines := fileLines(m.configRoot)
		withNL := make([]string, len(newConfig))
		for i, l := range newConfig {
			withNL[i] = l + "\n"
		}
		insertIdx := insertAt.LineNum()
		if insertIdx < 0 {
			insertIdx = 0
		}
		if insertIdx > len(rootLines) {
			insertIdx = len(rootLines)
		}
		merged := make([]string, 0, len(rootLines)+len(withNL))
		merged = append(merged, rootLines[:insertIdx]...)
		merged = append(merged, withNL...)
		merged = append(merged, rootLines[insertIdx:]...)
		newPath[m.configRoot] = merged
	}

	return newPath
}

func (m *MutableConfiguration) buildOverrides(names []string, updatedReg *bootsetting.Registry, updatedCtx, ctx bootsetting.Context) []bootctlerrors.Override {
	overrides := make([]bootctlerrors.Override, 0, len(names))
	for _, name := range names {
		actual := m.registry.Get(name)
		expected := updatedReg.Get(name)
		ov := bootctlerrors.Override{
			Setting:  name,
			Expected: fmt.Sprint(expected.Value(updatedCtx)),
			Actual:   fmt.Sprint(actual.Value(ctx)),
		}
		if lines := actual.Lines(); len(lines) > 0 {
			ov.File = lines[0].Filename()
			ov.Line = lines[0].LineNum()
		}
		overrides = append(overrides, ov)
	}
	return overrides
}
