// Package bootsetting layers a typed, named Setting model over the flat
// line sequence bootparser produces: each Setting knows how to recognize
// the lines that affect it, how to accept a new value from user input, how
// to validate itself against its neighbours, and how to render itself back
// out as configuration lines.
package bootsetting

import (
	"fmt"
	"sort"

	"github.com/waveform80/pibootctl/bootctlerrors"
	"github.com/waveform80/pibootctl/bootparser"
)

// Context is the capability a Setting uses to reach its neighbours: the
// registry it belongs to, and the platform it is running against. The
// original implementation does this through a weak back-reference set on
// each setting at construction time; Go has no equivalent weak reference
// safe to embed in a value type, so the back-reference is instead realized
// as an explicit argument threaded through every method that needs it. This
// also makes the dependency visible at every call site instead of hidden in
// object state.
type Context struct {
	Registry *Registry
	Platform bootparser.Platform
}

// Query returns the named sibling setting's current context-dependent
// value. It must be used instead of reaching into ctx.Registry directly,
// because callers may be iterating a Filter()'d view that hides the
// setting they want: queries always bypass that filter.
func (ctx Context) Query(name string) any {
	s, ok := ctx.Registry.all[name]
	if !ok {
		return nil
	}
	return s.Value(ctx)
}

// Setting represents one named, typed entry in the boot configuration.
// Implementations form a closed family defined in this package; external
// packages only construct settings through Catalog.
type Setting interface {
	// Name is the dot-delimited identifier uniquely naming this setting,
	// e.g. "boot.kernel.64bit".
	Name() string
	// Key orders this setting's output relative to its neighbours in a
	// generated configuration file.
	Key() []string
	// Doc is a short human-readable description.
	Doc() string
	// Modified reports whether the setting holds a value of its own since
	// the last Reset: one found by Extract in an enabled line, or one
	// given to Update as a non-nil value.
	Modified() bool
	// Reset discards any update, returning the setting to its default.
	Reset()
	// Default returns the context-dependent default value.
	Default(ctx Context) any
	// Value returns the current value: the update if Modified, the
	// Default otherwise.
	Value(ctx Context) any
	// Extract scans lines for ones that affect this setting, recording
	// them (in reverse encounter order, matching the original's contract)
	// and taking the setting's value from the *last* (first in reverse
	// order) enabled one.
	Extract(lines []bootparser.Line, ctx Context)
	// Lines returns the lines recorded by the most recent Extract, most
	// recently encountered first.
	Lines() []bootparser.Line
	// Update converts a user- or API-supplied value to the setting's
	// native type and records it as the pending value. A nil value resets
	// to default.
	Update(value any) error
	// Validate checks the setting's current value against its neighbours,
	// returning a non-nil error for any violation. No setting in the
	// catalog returns a *bootctlerrors.ValueWarning, and
	// MutableConfiguration.Update treats every non-nil result as a
	// validation failure.
	Validate(ctx Context) error
	// Hint returns a human-readable interpretation of the current value,
	// or "" if none is necessary.
	Hint(ctx Context) string
	// Output renders the setting's current state as configuration lines,
	// or signals that another setting's Output already covers it.
	Output(ctx Context) bootctlerrors.OutputResult
}

// base implements the bookkeeping shared by every concrete Setting: name,
// doc, the pending value, and the most recently extracted lines.
type base struct {
	name     string
	doc      string
	value    any
	hasValue bool
	lines    []bootparser.Line
}

func newBase(name, doc string) base { return base{name: name, doc: doc} }

// firstEnabled returns the first line in lines (ordered most-recently
// encountered first) whose Conditions are currently in effect under
// ctx.Platform, or nil if none are. A setting's value always comes from
// the last enabled match, even though every match, enabled or not, is
// still recorded in Lines.
func firstEnabled(lines []bootparser.Line, ctx Context) bootparser.Line {
	for _, l := range lines {
		if l.Conditions().Enabled(ctx.Platform) {
			return l
		}
	}
	return nil
}

func (b *base) Name() string    { return b.name }
func (b *base) Doc() string     { return b.doc }
func (b *base) Modified() bool  { return b.hasValue }
func (b *base) Reset()          { b.hasValue, b.value = false, nil }
func (b *base) Lines() []bootparser.Line { return b.lines }

func (b *base) setValue(v any) {
	if v == nil {
		b.Reset()
		return
	}
	b.hasValue, b.value = true, v
}

func (b *base) currentOrDefault(def any) any {
	if b.hasValue {
		return b.value
	}
	return def
}

// Registry is an ordered collection of Settings, keyed by name, supporting
// the copy/diff/filter operations the rewrite engine and CLI both need.
type Registry struct {
	order []string
	all   map[string]Setting
}

// NewRegistry builds a Registry from a Catalog's settings.
func NewRegistry(settings []Setting) *Registry {
	r := &Registry{all: map[string]Setting{}}
	for _, s := range settings {
		r.order = append(r.order, s.Name())
		r.all[s.Name()] = s
	}
	return r
}

// Get returns the named setting, or nil if no such setting exists.
func (r *Registry) Get(name string) Setting { return r.all[name] }

// Names returns every setting name, in catalog declaration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// All returns every setting, in catalog declaration order.
func (r *Registry) All() []Setting {
	out := make([]Setting, len(r.order))
	for i, name := range r.order {
		out[i] = r.all[name]
	}
	return out
}

// Copy returns a deep-enough copy of the registry: a new Registry over
// clones of r's settings, carrying their current values, so that mutating
// the copy (as MutableConfiguration's clean-room does) never affects r.
func (r *Registry) Copy() *Registry {
	settings := make([]Setting, len(r.order))
	for i, name := range r.order {
		settings[i] = r.all[name].(cloner).clone()
	}
	return NewRegistry(settings)
}

// Modified returns the subset of settings with pending updates, keyed by
// name.
func (r *Registry) Modified() map[string]Setting {
	out := map[string]Setting{}
	for _, name := range r.order {
		if s := r.all[name]; s.Modified() {
			out[name] = s
		}
	}
	return out
}

// Filter returns the settings whose name matches one of the given
// dot-path prefixes (an empty patterns list matches everything).
func (r *Registry) Filter(patterns ...string) []Setting {
	if len(patterns) == 0 {
		return r.All()
	}
	var out []Setting
	for _, name := range r.order {
		for _, p := range patterns {
			if name == p || len(name) > len(p) && name[:len(p)+1] == p+"." {
				out = append(out, r.all[name])
				break
			}
		}
	}
	return out
}

// Diff returns the names of settings whose Value differs between r and
// other under ctx (which must reference r; a second context is built
// internally for other).
func (r *Registry) Diff(other *Registry, ctx Context) []string {
	otherCtx := Context{Registry: other, Platform: ctx.Platform}
	var diffs []string
	for _, name := range r.order {
		a := r.all[name].Value(ctx)
		b := other.all[name].Value(otherCtx)
		if fmt.Sprint(a) != fmt.Sprint(b) {
			diffs = append(diffs, name)
		}
	}
	sort.Strings(diffs)
	return diffs
}

// cloner is implemented by every concrete setting so Registry.Copy can
// produce independent instances.
type cloner interface {
	clone() Setting
}

// sortKeys orders a slice of Settings by their Key(), breaking ties by
// Name so output order is fully deterministic.
func sortKeys(settings []Setting) {
	sort.SliceStable(settings, func(i, j int) bool {
		ki, kj := settings[i].Key(), settings[j].Key()
		for n := 0; n < len(ki) && n < len(kj); n++ {
			if ki[n] != kj[n] {
				return ki[n] < kj[n]
			}
		}
		if len(ki) != len(kj) {
			return len(ki) < len(kj)
		}
		return settings[i].Name() < settings[j].Name()
	})
}

// SortedByKey returns every setting in the registry ordered per sortKeys.
func (r *Registry) SortedByKey() []Setting {
	out := r.All()
	sortKeys(out)
	return out
}
