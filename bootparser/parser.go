// Package bootparser lexes and parses the Raspberry Pi boot configuration
// dialect: positional commands, key=value pairs, device-tree overlay
// parameters, include directives, and conditional [sections]. Parsing
// transparently follows include directives and produces a flat, ordered
// sequence of typed Line records alongside a content hash and the latest
// modification timestamp across every file actually read.
package bootparser

import (
	"bufio"
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"hash"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// Source abstracts over the three containers a boot configuration can live
// in: a directory on a real (or in-memory, via afero) filesystem, or an
// in-memory map of already-loaded files (the representation Config.Files
// itself uses, which is how MutableConfiguration re-parses its working
// copy without touching disk).
type Source interface {
	// Open returns the named file's content and modification time. ok is
	// false if the file does not exist, which is not an error: an absent
	// config.txt just means a purely default configuration.
	Open(filename string) (content []byte, modTime time.Time, ok bool)
}

// DirSource is a Source backed by a directory on an afero.Fs.
type DirSource struct {
	Fs   afero.Fs
	Root string
}

func (d DirSource) Open(filename string) ([]byte, time.Time, bool) {
	path := filename
	if d.Root != "" {
		path = d.Root + "/" + filename
	}
	info, err := d.Fs.Stat(path)
	if err != nil {
		return nil, time.Time{}, false
	}
	content, err := afero.ReadFile(d.Fs, path)
	if err != nil {
		return nil, time.Time{}, false
	}
	return content, info.ModTime(), true
}

// MapSource is a Source backed by an in-memory map of filename to content,
// i.e. the output of a previous parse, or the result of decompressing a
// snapshot archive.
type MapSource map[string]BootFile

func (m MapSource) Open(filename string) ([]byte, time.Time, bool) {
	f, ok := m[filename]
	if !ok {
		return nil, time.Time{}, false
	}
	return f.Content, f.Timestamp, true
}

// Config is the result of a successful Parse: the flat ordered sequence of
// lines, every file that was actually read (keyed by name), the SHA-1 hash
// of their concatenated content in read order, and the latest modification
// timestamp among them.
type Config struct {
	Lines     []Line
	Files     map[string]BootFile
	Hash      string
	Timestamp time.Time
}

// Option configures a parse.
type Option func(*Parser)

// WithLogger directs parser warnings (invalid lines, unrecognized
// sections) to logger instead of the default no-op logger. Warnings are
// never fatal: the line is simply dropped (or the section ignored) and
// parsing continues.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(p *Parser) { p.log = logger }
}

// Parse parses the boot configuration rooted at root (conventionally
// "config.txt"), reading files from src, and following include directives
// and device-tree overlay/parameter syntax. platform resolves which
// conditional sections are currently enabled (used only to decide whether
// an include's nested sections start out suppressed).
func Parse(src Source, platform Platform, root string, opts ...Option) (*Config, error) {
	p := NewParser(src, platform, opts...)
	lines := p.Parse(root)
	return p.Finish(lines), nil
}

// Parser is the running state of a parse: the files read so far, their
// combined hash, and the latest modification timestamp among them. Most
// callers only need the one-shot Parse function; bootconfig uses Parser
// directly so it can register auxiliary files (settings like boot.cmdline
// whose named file is never itself parsed as configuration, but whose
// content must still count towards the configuration's hash) after the
// settings that name them have been extracted from the main parse, but
// before the hash is finalized.
type Parser struct {
	src       Source
	platform  Platform
	files     map[string]BootFile
	hash      hash.Hash
	timestamp time.Time
	log       logrus.FieldLogger
}

// NewParser constructs a Parser reading from src.
func NewParser(src Source, platform Platform, opts ...Option) *Parser {
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	p := &Parser{
		src:      src,
		platform: platform,
		files:    map[string]BootFile{},
		hash:     sha1.New(),
		log:      discard,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Parse reads root and every file it includes, returning the flat ordered
// line sequence. It may be called only once per Parser.
func (p *Parser) Parse(root string) []Line {
	return p.parseFile(root, Conditions{})
}

// Finish returns the Config accumulated so far: lines (as returned by
// Parse, or assembled by the caller from a re-spliced source), every file
// read (including any registered via Add), the running SHA-1 hash, and
// the latest modification timestamp.
func (p *Parser) Finish(lines []Line) *Config {
	return &Config{
		Lines:     lines,
		Files:     p.files,
		Hash:      hex.EncodeToString(p.hash.Sum(nil)),
		Timestamp: p.timestamp,
	}
}

// Add registers an auxiliary file (one that is referenced by the boot
// configuration but is not itself parsed, e.g. EDID data or cmdline.txt)
// into the running hash and file map, exactly as parsing a config file
// would.
func (p *Parser) Add(filename string) {
	p.open(filename)
}

func (p *Parser) open(filename string) ([]byte, bool) {
	content, modTime, ok := p.src.Open(filename)
	if !ok {
		return nil, false
	}
	if modTime.After(p.timestamp) {
		p.timestamp = modTime
	}
	p.hash.Write(content)
	p.files[filename] = NewBootFile(filename, modTime, content)
	return content, true
}

func (p *Parser) parseFile(filename string, conditions Conditions) []Line {
	content, ok := p.open(filename)
	if !ok {
		return nil
	}
	var lines []Line
	overlay := "base"
	scanner := bufio.NewScanner(bytes.NewReader(content))
	linenum := 0
	for scanner.Scan() {
		linenum++
		raw := scanner.Text()
		text, comment, hasComment := splitComment(raw)
		if text == "" && !hasComment {
			continue
		}
		if text == "" {
			lines = append(lines, newComment(filename, linenum, conditions, comment))
			continue
		}
		switch {
		case strings.HasPrefix(text, "[") && strings.HasSuffix(text, "]"):
			section := text[1 : len(text)-1]
			newConditions, recognized := conditions.Evaluate(section)
			if !recognized {
				p.log.WithField("file", filename).WithField("line", linenum).
					Warn("unrecognized conditional: " + section)
			}
			conditions = newConditions
			lines = append(lines, newSection(filename, linenum, conditions, section, comment, hasComment))

		case strings.Contains(text, "="):
			cmd, value, _ := strings.Cut(text, "=")
			switch cmd {
			case "device_tree_overlay", "dtoverlay":
				if idx := strings.Index(value, ":"); idx >= 0 {
					overlay = value[:idx]
					params := value[idx+1:]
					lines = append(lines, OverlayLine{base{filename, linenum, conditions, comment, hasComment}, overlay})
					lines = append(lines, p.parseParams(filename, linenum, conditions, comment, hasComment, overlay, params)...)
				} else {
					overlay = value
					if overlay == "" {
						overlay = "base"
					}
					lines = append(lines, OverlayLine{base{filename, linenum, conditions, comment, hasComment}, overlay})
				}

			case "device_tree_param", "dtparam":
				lines = append(lines, p.parseParams(filename, linenum, conditions, comment, hasComment, overlay, value)...)

			default:
				hdmi, hasHDMI := 0, false
				if idx := strings.Index(cmd, ":"); idx >= 0 {
					if n, err := strconv.Atoi(cmd[idx+1:]); err == nil {
						hdmi, hasHDMI = n, true
					}
					cmd = cmd[:idx]
				} else if conditions.HasHDMI {
					hdmi, hasHDMI = conditions.HDMI, true
				}
				lines = append(lines, CommandLine{
					base:    base{filename, linenum, conditions, comment, hasComment},
					Command: cmd, Params: value, HDMI: hdmi, HasHDMI: hasHDMI,
				})
			}

		case strings.HasPrefix(text, "include") && (len(text) == len("include") || text[len("include")] == ' ' || text[len("include")] == '\t'):
			fields := strings.Fields(text)
			var included string
			if len(fields) >= 2 {
				included = fields[1]
			}
			lines = append(lines, IncludeLine{base{filename, linenum, conditions, comment, hasComment}, included})
			nested := conditions.Suppress(p.platform)
			lines = append(lines, p.parseFile(included, nested)...)

		case strings.HasPrefix(text, "initramfs") && (len(text) == len("initramfs") || text[len("initramfs")] == ' ' || text[len("initramfs")] == '\t'):
			fields := strings.Fields(text)
			if len(fields) >= 3 {
				lines = append(lines, CommandLine{
					base:        base{filename, linenum, conditions, comment, hasComment},
					Command:     "initramfs",
					IsInitramfs: true,
					Initrd:      [2]string{fields[1], fields[2]},
				})
			} else {
				p.log.WithField("file", filename).WithField("line", linenum).Warn("invalid line")
			}

		default:
			p.log.WithField("file", filename).WithField("line", linenum).Warn("invalid line")
		}
	}
	return lines
}

func (p *Parser) parseParams(filename string, linenum int, conditions Conditions, comment string, hasComment bool, overlay, params string) []Line {
	var lines []Line
	for _, token := range strings.Split(params, ",") {
		var param, value string
		if idx := strings.Index(token, "="); idx >= 0 {
			param, value = token[:idx], token[idx+1:]
		} else {
			param, value = token, "on"
		}
		if overlay == "base" {
			switch param {
			case "i2c", "i2c_arm", "i2c1":
				param = "i2c_arm"
			case "i2c_vc", "i2c0":
				param = "i2c_vc"
			case "i2c_baudrate":
				param = "i2c_arm_baudrate"
			}
		}
		lines = append(lines, ParamLine{base{filename, linenum, conditions, comment, hasComment}, overlay, param, value})
	}
	return lines
}

// splitComment splits raw at the first '#'; the content (not the comment)
// is truncated to the first 80 characters *before* stripping leading
// whitespace, since the firmware ignores everything beyond column 80 and
// ignores leading whitespace, in that order.
func splitComment(raw string) (text, comment string, hasComment bool) {
	var content string
	if idx := strings.IndexByte(raw, '#'); idx >= 0 {
		content = raw[:idx]
		comment = strings.TrimRight(raw[idx+1:], " \t\r\n")
		hasComment = true
	} else {
		content = raw
	}
	content = strings.TrimRight(content, " \t\r\n")
	if len(content) > 80 {
		content = content[:80]
	}
	content = strings.TrimLeft(content, " \t")
	return content, comment, hasComment
}
