// Package bootstore implements the store of boot configuration snapshots:
// the live boot partition (Current), the synthetic empty configuration
// (Default), and any number of named snapshots persisted as zip archives.
//
// Snapshots carry an identifying comment in their zip footer
// ("pibootctl:0:<sha1 hash>"), which lets Store answer Contains and List
// without decompressing a single file. Get (and so Active) reads and
// decompresses every file of an archive; only the hash comes from the
// footer.
package bootstore

import (
	"archive/zip"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/karrick/godirwalk"
	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/waveform80/pibootctl/atomicfile"
	"github.com/waveform80/pibootctl/bootconfig"
	"github.com/waveform80/pibootctl/bootctlerrors"
	"github.com/waveform80/pibootctl/bootparser"
)

// headerPrefix begins the comment embedded in every snapshot archive.
// "0" is the header format version; everything after the hash is purely
// informational and never parsed back.
const headerPrefix = "pibootctl:0:"

const headerWarning = "Do not edit the content of this archive; the line above is a hash of " +
	"the content which will not match after manual editing. Use the pibootctl tool to " +
	"manipulate stored boot configurations."

// currentKey and defaultKey back the exported Current and Default values.
// Using dedicated unexported types rather than plain strings means a
// snapshot can never accidentally be named "Current" or "Default" and
// collide with either sentinel.
type currentKey struct{}
type defaultKey struct{}

// Current identifies the live boot configuration within a Store.
var Current any = currentKey{}

// Default identifies the synthetic, always-present empty configuration.
var Default any = defaultKey{}

// Store is a named collection of boot configuration snapshots, plus the
// two synthetic entries Current and Default. Snapshots live as zip
// archives under storePath, itself relative to bootPath, on fs.
type Store struct {
	fs           afero.Fs
	platform     bootparser.Platform
	bootPath     string
	storePath    string
	configRoot   string
	mutableFiles map[string]bool
	immutable    map[string]bool
	commentLines bool
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithConfigRoot names the root file of every configuration the store
// produces (default "config.txt").
func WithConfigRoot(root string) Option {
	return func(s *Store) { s.configRoot = root }
}

// WithMutableFiles sets the files MutableConfiguration copies drawn from
// this store are permitted to edit (default: just "config.txt", whatever
// WithConfigRoot names).
func WithMutableFiles(files ...string) Option {
	return func(s *Store) {
		s.mutableFiles = map[string]bool{}
		for _, f := range files {
			s.mutableFiles[f] = true
		}
	}
}

// WithImmutable further restricts specific files from ever being edited,
// even if they appear in the mutable set.
func WithImmutable(files ...string) Option {
	return func(s *Store) {
		s.immutable = map[string]bool{}
		for _, f := range files {
			s.immutable[f] = true
		}
	}
}

// WithCommentLines selects commenting out superseded lines over deleting
// them, in every MutableConfiguration drawn from this store.
func WithCommentLines(v bool) Option {
	return func(s *Store) { s.commentLines = v }
}

// New constructs a Store rooted at bootPath on fs, keeping snapshots under
// storePath (relative to bootPath).
func New(fs afero.Fs, platform bootparser.Platform, bootPath, storePath string, opts ...Option) *Store {
	s := &Store{
		fs:           fs,
		platform:     platform,
		bootPath:     bootPath,
		storePath:    storePath,
		configRoot:   "config.txt",
		mutableFiles: map[string]bool{"config.txt": true},
		immutable:    map[string]bool{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) configOptions() []bootconfig.Option {
	mutable := make([]string, 0, len(s.mutableFiles))
	for f := range s.mutableFiles {
		mutable = append(mutable, f)
	}
	immutable := make([]string, 0, len(s.immutable))
	for f := range s.immutable {
		immutable = append(immutable, f)
	}
	return []bootconfig.Option{
		bootconfig.WithConfigRoot(s.configRoot),
		bootconfig.WithMutableFiles(mutable...),
		bootconfig.WithImmutable(immutable...),
		bootconfig.WithCommentLines(s.commentLines),
	}
}

func (s *Store) pathOf(name string) string {
	return filepath.Join(s.bootPath, s.storePath, name+".zip")
}

// Get returns the BootConfiguration identified by key: Current, Default,
// or a snapshot name. It returns *bootctlerrors.StoreError{Code: NotFound}
// if key names a snapshot that does not exist.
func (s *Store) Get(key any) (*bootconfig.BootConfiguration, error) {
	switch key.(type) {
	case currentKey:
		src := bootparser.DirSource{Fs: s.fs, Root: s.bootPath}
		return bootconfig.New(src, s.platform, s.configOptions()...), nil
	case defaultKey:
		return bootconfig.NewDefault(s.platform, s.configOptions()...), nil
	}
	name, ok := key.(string)
	if !ok || name == "" {
		return nil, &bootctlerrors.StoreError{Code: bootctlerrors.NotFound, Name: fmt.Sprint(key)}
	}
	files, hash, timestamp, err := s.readArchive(name)
	if err != nil {
		return nil, err
	}
	opts := append(s.configOptions(), bootconfig.WithPreset(hash, timestamp))
	return bootconfig.New(files, s.platform, opts...), nil
}

// Contains reports whether key names an entry currently in the store.
// Current and Default are always present.
func (s *Store) Contains(key any) bool {
	switch key.(type) {
	case currentKey, defaultKey:
		return true
	}
	name, ok := key.(string)
	if !ok || name == "" {
		return false
	}
	return s.has(name)
}

// has reports whether name is a valid snapshot, checking only the zip
// footer comment: no file in the archive is decompressed.
func (s *Store) has(name string) bool {
	zr, f, err := s.openArchive(name)
	if err != nil {
		return false
	}
	defer f.Close()
	_, err = parseHeader(zr.Comment)
	return err == nil
}

// List returns the names of every snapshot currently in the store, sorted.
// It does not include Current or Default.
func (s *Store) List() ([]string, error) {
	dir := filepath.Join(s.bootPath, s.storePath)
	var names []string
	err := godirwalk.Walk(dir, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() || filepath.Ext(path) != ".zip" {
				return nil
			}
			name := strings.TrimSuffix(filepath.Base(path), ".zip")
			if s.has(name) {
				names = append(names, name)
			}
			return nil
		},
		ErrorCallback: func(path string, err error) godirwalk.ErrorAction {
			return godirwalk.SkipNode
		},
	})
	if err != nil {
		// A store directory that has never been written to yet is not an
		// error: it simply contains no snapshots.
		if exists, existsErr := afero.DirExists(s.fs, dir); existsErr == nil && !exists {
			return nil, nil
		}
		return nil, errors.Wrap(err, "enumerating stored configurations")
	}
	sort.Strings(names)
	return names, nil
}

// Active returns the name of the stored snapshot whose hash matches the
// current boot configuration's hash, and true, or "", false if no
// snapshot currently matches.
func (s *Store) Active() (string, bool, error) {
	current, err := s.Get(Current)
	if err != nil {
		return "", false, err
	}
	names, err := s.List()
	if err != nil {
		return "", false, err
	}
	for _, name := range names {
		stored, err := s.Get(name)
		if err != nil {
			return "", false, err
		}
		if stored.Hash() == current.Hash() {
			return name, true, nil
		}
	}
	return "", false, nil
}

// Set assigns cfg to key. Assigning to Current atomically rewrites the
// live boot partition's files (the config root last, so a boot directory
// switched via os_prefix flips over in one step) and removes any file
// present in the old configuration but absent from cfg. Assigning to a
// snapshot name creates a new zip archive; it fails with
// *bootctlerrors.StoreError{Code: AlreadyExists} if the name is taken.
// Assigning to Default always fails.
func (s *Store) Set(key any, cfg *bootconfig.BootConfiguration) error {
	switch key.(type) {
	case defaultKey:
		return &bootctlerrors.StoreError{Code: bootctlerrors.ReadOnly, Name: "Default"}
	case currentKey:
		return s.writeCurrent(cfg)
	}
	name, ok := key.(string)
	if !ok || name == "" {
		return errors.Errorf("%v is not a valid stored configuration name", key)
	}
	return s.writeArchive(name, cfg)
}

// Delete removes a stored snapshot. Deleting Current or Default always
// fails; deleting an unknown name fails with
// *bootctlerrors.StoreError{Code: NotFound}.
func (s *Store) Delete(key any) error {
	switch key.(type) {
	case defaultKey:
		return &bootctlerrors.StoreError{Code: bootctlerrors.ReadOnly, Name: "Default"}
	case currentKey:
		return &bootctlerrors.StoreError{Code: bootctlerrors.ReadOnly, Name: "Current"}
	}
	name, ok := key.(string)
	if !ok || name == "" || !s.has(name) {
		return &bootctlerrors.StoreError{Code: bootctlerrors.NotFound, Name: fmt.Sprint(key)}
	}
	return s.fs.Remove(s.pathOf(name))
}

func (s *Store) openArchive(name string) (*zip.Reader, afero.File, error) {
	path := s.pathOf(name)
	f, err := s.fs.Open(path)
	if err != nil {
		return nil, nil, &bootctlerrors.StoreError{Code: bootctlerrors.NotFound, Name: name}
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, errors.Wrapf(err, "stat %s", path)
	}
	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		f.Close()
		return nil, nil, errors.Wrapf(err, "snapshot %s is not a valid archive", name)
	}
	return zr, f, nil
}

// parseHeader validates and extracts the hash from a snapshot's zip
// comment, which must read "pibootctl:0:<40 lowercase hex digits>" (plus
// whatever human-readable text follows).
func parseHeader(comment string) (string, error) {
	if !strings.HasPrefix(comment, headerPrefix) {
		return "", errors.New("invalid stored configuration: missing header")
	}
	rest := comment[len(headerPrefix):]
	if len(rest) < 40 {
		return "", errors.New("invalid stored configuration: invalid length")
	}
	hash := rest[:40]
	for _, r := range hash {
		if !strings.ContainsRune("0123456789abcdef", r) {
			return "", errors.New("invalid stored configuration: non-hex hash")
		}
	}
	return hash, nil
}

func (s *Store) readArchive(name string) (bootparser.MapSource, string, time.Time, error) {
	zr, f, err := s.openArchive(name)
	if err != nil {
		return nil, "", time.Time{}, err
	}
	defer f.Close()
	hash, err := parseHeader(zr.Comment)
	if err != nil {
		return nil, "", time.Time{}, errors.Wrapf(err, "snapshot %q", name)
	}
	files := make(bootparser.MapSource, len(zr.File))
	var latest time.Time
	for _, zf := range zr.File {
		rc, err := zf.Open()
		if err != nil {
			return nil, "", time.Time{}, errors.Wrapf(err, "reading %s from snapshot %q", zf.Name, name)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, "", time.Time{}, errors.Wrapf(err, "reading %s from snapshot %q", zf.Name, name)
		}
		modTime := zf.Modified
		files[zf.Name] = bootparser.NewBootFile(zf.Name, modTime, content)
		if modTime.After(latest) {
			latest = modTime
		}
	}
	if latest.IsZero() {
		latest = time.Unix(0, 0).UTC()
	}
	return files, hash, latest, nil
}

func (s *Store) writeArchive(name string, cfg *bootconfig.BootConfiguration) error {
	path := s.pathOf(name)
	if err := s.fs.MkdirAll(filepath.Dir(path), 0o777); err != nil {
		return errors.Wrapf(err, "creating %s", filepath.Dir(path))
	}
	if exists, err := afero.Exists(s.fs, path); err != nil {
		return errors.Wrapf(err, "checking %s", path)
	} else if exists {
		return &bootctlerrors.StoreError{Code: bootctlerrors.AlreadyExists, Name: name}
	}
	hash := cfg.Hash()
	files := cfg.Files()
	names := make([]string, 0, len(files))
	for n := range files {
		names = append(names, n)
	}
	sort.Strings(names)
	return atomicfile.Replace(s.fs, path, func(f afero.File) error {
		zw := zip.NewWriter(f)
		comment := fmt.Sprintf("%s%s\n\n%s", headerPrefix, hash, headerWarning)
		if err := zw.SetComment(comment); err != nil {
			return errors.Wrap(err, "setting snapshot comment")
		}
		for _, n := range names {
			file := files[n]
			hdr := &zip.FileHeader{Name: n, Method: zip.Deflate}
			hdr.Modified = file.Timestamp
			w, err := zw.CreateHeader(hdr)
			if err != nil {
				return errors.Wrapf(err, "writing %s to snapshot", n)
			}
			if _, err := w.Write(file.Content); err != nil {
				return errors.Wrapf(err, "writing %s to snapshot", n)
			}
		}
		return zw.Close()
	})
}

// writeCurrent replaces the live boot partition's files with cfg's,
// writing the config root last and removing any file that existed in the
// previous configuration but is absent from cfg.
func (s *Store) writeCurrent(cfg *bootconfig.BootConfiguration) error {
	current, err := s.Get(Current)
	if err != nil {
		return err
	}
	oldFiles := mapset.NewSet[string]()
	for name := range current.Files() {
		oldFiles.Add(name)
	}
	newFiles := mapset.NewSet[string]()
	for name := range cfg.Files() {
		newFiles.Add(name)
	}

	replaceFile := func(name string, file bootparser.BootFile) error {
		path := filepath.Join(s.bootPath, name)
		if err := s.fs.MkdirAll(filepath.Dir(path), 0o777); err != nil {
			return errors.Wrapf(err, "creating directory for %s", name)
		}
		if err := atomicfile.Replace(s.fs, path, func(f afero.File) error {
			_, err := f.Write(file.Content)
			return err
		}); err != nil {
			return errors.Wrapf(err, "writing %s", name)
		}
		return s.fs.Chtimes(path, time.Now(), file.Timestamp)
	}

	for name, file := range cfg.Files() {
		if name == s.configRoot {
			continue
		}
		if err := replaceFile(name, file); err != nil {
			return err
		}
	}
	// config.txt is written last so that, on systems switching boot
	// directories via os_prefix, the switch reads as atomic.
	if file, ok := cfg.Files()[s.configRoot]; ok {
		if err := replaceFile(s.configRoot, file); err != nil {
			return err
		}
	}

	for _, name := range oldFiles.Difference(newFiles).ToSlice() {
		path := filepath.Join(s.bootPath, name)
		if exists, _ := afero.Exists(s.fs, path); exists {
			if err := s.fs.Remove(path); err != nil {
				return errors.Wrapf(err, "removing %s", name)
			}
		}
	}
	return nil
}
