package bootparser

import (
	"strings"
	"time"
)

// BootFile represents a single file making up a boot configuration: its
// name (relative to whatever container holds the configuration), its last
// modification time, and its raw content.
type BootFile struct {
	Filename  string
	Timestamp time.Time
	Content   []byte
}

// NewBootFile constructs a BootFile, truncating timestamp down to 2-second
// precision (all that PKZIP archives support) and flooring its year at
// 1980, to cope with boards whose clock has desynced to before the epoch
// PKZIP can represent.
func NewBootFile(filename string, timestamp time.Time, content []byte) BootFile {
	return BootFile{Filename: filename, Timestamp: truncateTimestamp(timestamp), Content: content}
}

func truncateTimestamp(t time.Time) time.Time {
	year := t.Year()
	if year < 1980 {
		year = 1980
	}
	sec := t.Second() / 2 * 2
	return time.Date(year, t.Month(), t.Day(), t.Hour(), t.Minute(), sec, 0, t.Location())
}

// EmptyBootFile returns an apparently-empty BootFile, used when a
// configuration file does not exist: parsing must still succeed (an absent
// config.txt just means a purely default configuration).
func EmptyBootFile(filename string) BootFile {
	return BootFile{Filename: filename, Timestamp: time.Unix(0, 0).UTC(), Content: nil}
}

// Lines splits the file's content into lines, each retaining its trailing
// newline (the last line excepted, if the content does not itself end with
// one). This is the representation the rewrite engine's insertion-point
// search and re-splicing need: plain line-splitting loses the information
// needed to reassemble a file byte-for-byte around an edit.
func (f BootFile) Lines() []string {
	return SplitLines(f.Content)
}

// SplitLines splits content the same way BootFile.Lines does, without
// requiring a BootFile.
func SplitLines(content []byte) []string {
	if len(content) == 0 {
		return nil
	}
	lines := strings.SplitAfter(string(content), "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	return lines
}
