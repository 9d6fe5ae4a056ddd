// Package atomicfile provides a scoped primitive for replacing a file's
// content such that any concurrent reader (including, on a Raspberry Pi,
// the firmware itself at the next boot) always sees either the complete
// old content or the complete new content, never a partial write.
//
// It is built on afero.Fs, so tests can exercise it entirely against an
// in-memory filesystem.
package atomicfile

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"golang.org/x/sys/unix"
)

var (
	umaskOnce  sync.Once
	umaskValue int
)

// Umask returns the process umask. The value is read exactly once (via the
// only POSIX-portable means of querying it: temporarily clearing and
// immediately restoring it) and cached for the remainder of the process
// lifetime, since reading it is itself mutating.
func Umask() int {
	umaskOnce.Do(func() {
		mask := unix.Umask(0)
		unix.Umask(mask)
		umaskValue = mask
	})
	return umaskValue
}

// Writer is a scoped writer bound to a target path. Construct one with
// New, write to the returned afero.File, then call Commit on success or
// Abort on failure. Writer is not safe for concurrent use by multiple
// goroutines against the same target.
type Writer struct {
	fs       afero.Fs
	target   string
	tempPath string
	file     afero.File
	done     bool
}

// New opens a uniquely-named temporary file alongside target (so that a
// later rename is guaranteed to be same-filesystem, hence atomic) and
// returns a Writer wrapping it. Callers must write to File() and then call
// either Commit or Abort exactly once.
func New(fs afero.Fs, target string) (*Writer, error) {
	dir := filepath.Dir(target)
	name := filepath.Join(dir, fmt.Sprintf(".%s.%d.tmp", filepath.Base(target), rand.Int63()))
	f, err := fs.OpenFile(name, afero.DefaultFileFlags, 0o600)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create temporary file for %s", target)
	}
	return &Writer{fs: fs, target: target, tempPath: name, file: f}, nil
}

// File returns the handle callers should write the new content to.
func (w *Writer) File() afero.File {
	return w.file
}

// Commit chmods the temporary file to 0666&^umask, closes it, and renames
// it over the target. It must be called at most once, and never after
// Abort.
func (w *Writer) Commit() error {
	if w.done {
		return errors.New("atomicfile: writer already finalized")
	}
	w.done = true
	if err := w.fs.Chmod(w.tempPath, 0o666&^umaskMode()); err != nil {
		w.fs.Remove(w.tempPath)
		return errors.Wrapf(err, "failed to chmod temporary file for %s", w.target)
	}
	if err := w.file.Close(); err != nil {
		w.fs.Remove(w.tempPath)
		return errors.Wrapf(err, "failed to close temporary file for %s", w.target)
	}
	if err := w.fs.Rename(w.tempPath, w.target); err != nil {
		w.fs.Remove(w.tempPath)
		return errors.Wrapf(err, "failed to replace %s", w.target)
	}
	return nil
}

// Abort closes and unlinks the temporary file, leaving target untouched.
// It must be called exactly once whenever Commit is not called (typically
// via defer, guarded by a "committed" flag).
func (w *Writer) Abort() {
	if w.done {
		return
	}
	w.done = true
	w.file.Close()
	w.fs.Remove(w.tempPath)
}

func umaskMode() uint32 {
	return uint32(Umask())
}

// Replace is a convenience wrapper for the common case: it calls fn with a
// fresh Writer's File(), then Commits on success or Aborts and returns fn's
// error otherwise. It is the AtomicFile equivalent used by every
// multi-file rewrite in bootstore.
func Replace(fs afero.Fs, target string, fn func(afero.File) error) (err error) {
	w, err := New(fs, target)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			w.Abort()
		}
	}()
	if err = fn(w.File()); err != nil {
		return err
	}
	return w.Commit()
}
