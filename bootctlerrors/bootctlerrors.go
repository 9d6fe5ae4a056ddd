// Package bootctlerrors defines the typed error taxonomy shared by the
// pibootctl configuration engine. Keeping these in their own leaf package
// lets every layer (parser, settings, rewrite engine, store) raise and
// recognize the same error values without creating import cycles.
package bootctlerrors

import (
	"fmt"
	"sort"
	"strings"
)

// ErrCode identifies the broad category of a bootctlerrors error.
type ErrCode int

const (
	// NotFound indicates a requested snapshot does not exist in the store.
	NotFound ErrCode = iota
	// AlreadyExists indicates a snapshot write was refused because the
	// name is already taken (and force-overwrite was not requested).
	AlreadyExists
	// ReadOnly indicates an attempt to change or remove the Default entry,
	// or to remove the Current entry, neither of which the store permits.
	ReadOnly
)

// InvalidConfigurationError is raised when a desired set of setting updates
// fails validation before any file is touched. It carries every failure,
// not just the first, so an operator sees every reason a change was
// rejected in one pass.
type InvalidConfigurationError struct {
	Errors map[string]error
}

func (e *InvalidConfigurationError) Error() string {
	names := make([]string, 0, len(e.Errors))
	for name := range e.Errors {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %s", name, e.Errors[name]))
	}
	return "invalid configuration: " + strings.Join(parts, "; ")
}

// Override records that a setting's desired value was overridden by a line
// outside the engine's control, discovered during post-write verification.
type Override struct {
	Setting  string
	Expected string
	Actual   string
	File     string
	Line     int
}

// IneffectiveConfigurationError is raised when a rewrite that validated
// successfully is, after re-parsing, still not in effect because some line
// outside the mutable file set overrides it.
type IneffectiveConfigurationError struct {
	Overrides []Override
}

func (e *IneffectiveConfigurationError) Error() string {
	parts := make([]string, 0, len(e.Overrides))
	for _, o := range e.Overrides {
		parts = append(parts, fmt.Sprintf(
			"%s: wanted %s, got %s (overridden at %s:%d)",
			o.Setting, o.Expected, o.Actual, o.File, o.Line))
	}
	return "ineffective configuration: " + strings.Join(parts, "; ")
}

// StoreError wraps a store-level failure (snapshot not found, or already
// exists) with the offending name.
type StoreError struct {
	Code ErrCode
	Name string
}

func (e *StoreError) Error() string {
	switch e.Code {
	case NotFound:
		return fmt.Sprintf("no stored configuration named %q", e.Name)
	case AlreadyExists:
		return fmt.Sprintf("a stored configuration named %q already exists", e.Name)
	case ReadOnly:
		return fmt.Sprintf("%q cannot be changed or removed", e.Name)
	default:
		return fmt.Sprintf("store error for %q", e.Name)
	}
}

// ValueWarning describes a setting value that validated successfully but is
// dangerous or inadvisable. It is distinct from a hard validation error:
// callers may collect and display these without aborting the operation.
type ValueWarning struct {
	Setting string
	Message string
}

func (w *ValueWarning) Error() string {
	return fmt.Sprintf("%s: %s", w.Setting, w.Message)
}

// OutputResult is the return value of Setting.Output: either a set of
// config lines to emit, or a Delegate naming another setting that should be
// asked to emit on this setting's behalf.
type OutputResult struct {
	Lines    []string
	Delegate string
}

// Delegated returns an OutputResult signalling that master should be asked
// to emit output instead of the setting that produced this result.
func Delegated(master string) OutputResult {
	return OutputResult{Delegate: master}
}

// Emit returns an OutputResult carrying literal output lines.
func Emit(lines ...string) OutputResult {
	return OutputResult{Lines: lines}
}
