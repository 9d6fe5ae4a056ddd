// Package bootconfig ties bootparser and bootsetting together into a
// queryable boot configuration, and (via MutableConfiguration) the rewrite
// engine that turns a batch of desired setting values into an edited file
// set. A BootConfiguration is read-only and immutable once parsed; calling
// Mutable produces an independent working copy backed by its own in-memory
// file set, so nothing on disk changes until that copy is written back
// through a store.
package bootconfig

import (
	"time"

	"github.com/waveform80/pibootctl/bootparser"
	"github.com/waveform80/pibootctl/bootsetting"
)

// emptySHA1 is the hash of a zero-byte stream: the hash of the synthetic
// default configuration, which has no backing files at all.
const emptySHA1 = "da39a3ee5e6b4b0d3255bfef95601890afd80709"

// BootConfiguration represents a boot configuration as parsed from some
// Source: a live boot partition, a snapshot archive, or (via Mutable) an
// in-memory working copy. Parsing is deferred until first needed and then
// cached; every accessor forces it.
type BootConfiguration struct {
	src          bootparser.Source
	platform     bootparser.Platform
	configRoot   string
	mutableFiles map[string]bool
	immutable    map[string]bool
	commentLines bool
	isDefault    bool

	parsed    bool
	registry  *bootsetting.Registry
	files     map[string]bootparser.BootFile
	hash      string
	timestamp time.Time
	lines     []bootparser.Line

	hasPreset       bool
	presetHash      string
	presetTimestamp time.Time
}

// Option configures a BootConfiguration at construction time.
type Option func(*BootConfiguration)

// WithConfigRoot names the root file of the configuration (default
// "config.txt").
func WithConfigRoot(root string) Option {
	return func(c *BootConfiguration) { c.configRoot = root }
}

// WithMutableFiles replaces the set of files the rewrite engine is allowed
// to edit (default: just "config.txt", whatever WithConfigRoot names).
func WithMutableFiles(files ...string) Option {
	return func(c *BootConfiguration) {
		c.mutableFiles = map[string]bool{}
		for _, f := range files {
			c.mutableFiles[f] = true
		}
	}
}

// WithImmutable marks files the rewrite engine must never touch even if
// they appear in the mutable set, realizing the operator's ability to
// declare specific files off-limits.
func WithImmutable(files ...string) Option {
	return func(c *BootConfiguration) {
		c.immutable = map[string]bool{}
		for _, f := range files {
			c.immutable[f] = true
		}
	}
}

// WithCommentLines selects commenting-out superseded lines instead of
// deleting them outright.
func WithCommentLines(v bool) Option {
	return func(c *BootConfiguration) { c.commentLines = v }
}

// WithPreset supplies a hash and timestamp already known by the caller
// (typically read straight out of a snapshot archive's footer, without
// decompressing a single file) so that Hash and Timestamp can answer
// without forcing a parse. Settings and Files still trigger the full
// parse, same as always.
func WithPreset(hash string, timestamp time.Time) Option {
	return func(c *BootConfiguration) {
		c.hasPreset = true
		c.presetHash = hash
		c.presetTimestamp = timestamp
	}
}

// New constructs a BootConfiguration over src, rooted at config.txt unless
// overridden by WithConfigRoot. Nothing is read until an accessor or
// Mutable is called.
func New(src bootparser.Source, platform bootparser.Platform, opts ...Option) *BootConfiguration {
	c := &BootConfiguration{
		src:          src,
		platform:     platform,
		configRoot:   "config.txt",
		mutableFiles: map[string]bool{"config.txt": true},
		immutable:    map[string]bool{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// NewDefault returns the synthetic empty boot configuration: no files, the
// hash of an empty byte stream, and every setting at its platform-dependent
// default. It is the configuration implied by a boot partition that has
// never been touched.
func NewDefault(platform bootparser.Platform, opts ...Option) *BootConfiguration {
	c := &BootConfiguration{
		platform:     platform,
		configRoot:   "config.txt",
		mutableFiles: map[string]bool{"config.txt": true},
		immutable:    map[string]bool{},
		isDefault:    true,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *BootConfiguration) ensureParsed() {
	if !c.parsed {
		c.parse()
	}
}

// parse runs (or re-runs) the full parse: lex the source, build a fresh
// registry, extract every setting's value from the resulting lines, then
// register each IncludedFileSetting's auxiliary file into the running hash
// before finalizing it. This ordering matters: an included file's content
// must count towards the configuration's identity, but the setting that
// names it can only be known after the main parse has extracted it.
func (c *BootConfiguration) parse() {
	if c.isDefault {
		c.files = map[string]bootparser.BootFile{}
		c.hash = emptySHA1
		c.timestamp = time.Unix(0, 0).UTC()
		c.registry = bootsetting.NewRegistry(bootsetting.Catalog())
		c.lines = nil
		c.parsed = true
		return
	}
	p := bootparser.NewParser(c.src, c.platform)
	lines := p.Parse(c.configRoot)
	registry := bootsetting.NewRegistry(bootsetting.Catalog())
	ctx := bootsetting.Context{Registry: registry, Platform: c.platform}
	for _, s := range registry.All() {
		s.Extract(lines, ctx)
	}
	for _, s := range registry.All() {
		if aux, ok := s.(bootsetting.IncludedFileSetting); ok {
			p.Add(aux.AuxFilename(ctx))
		}
	}
	cfg := p.Finish(lines)
	c.files = cfg.Files
	c.hash = cfg.Hash
	c.timestamp = cfg.Timestamp
	c.registry = registry
	c.lines = lines
	c.parsed = true
}

// ConfigRoot returns the name of the configuration's root file.
func (c *BootConfiguration) ConfigRoot() string { return c.configRoot }

// Settings returns the registry of settings extracted from this
// configuration.
func (c *BootConfiguration) Settings() *bootsetting.Registry {
	c.ensureParsed()
	return c.registry
}

// Files returns every file making up this configuration, keyed by name.
func (c *BootConfiguration) Files() map[string]bootparser.BootFile {
	c.ensureParsed()
	return c.files
}

// Hash returns the SHA-1 hash identifying this configuration's content.
func (c *BootConfiguration) Hash() string {
	if c.hasPreset {
		return c.presetHash
	}
	c.ensureParsed()
	return c.hash
}

// Timestamp returns the latest modification time among this
// configuration's files.
func (c *BootConfiguration) Timestamp() time.Time {
	if c.hasPreset {
		return c.presetTimestamp
	}
	c.ensureParsed()
	return c.timestamp
}

// Context returns the bootsetting.Context for querying this
// configuration's own registry.
func (c *BootConfiguration) Context() bootsetting.Context {
	c.ensureParsed()
	return bootsetting.Context{Registry: c.registry, Platform: c.platform}
}

// Mutable returns a MutableConfiguration seeded from this configuration's
// files. The copy is entirely independent: editing it never touches c or
// whatever source c was read from.
func (c *BootConfiguration) Mutable() *MutableConfiguration {
	c.ensureParsed()
	work := make(bootparser.MapSource, len(c.files))
	for name, f := range c.files {
		work[name] = f
	}
	m := &MutableConfiguration{
		BootConfiguration: BootConfiguration{
			src:          work,
			platform:     c.platform,
			configRoot:   c.configRoot,
			mutableFiles: c.mutableFiles,
			immutable:    c.immutable,
			commentLines: c.commentLines,
		},
		work: work,
	}
	m.ensureParsed()
	return m
}

func (c *BootConfiguration) writable(filename string) bool {
	return c.mutableFiles[filename] && !c.immutable[filename]
}
