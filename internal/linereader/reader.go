// Package linereader splits a chunked byte stream into trimmed text lines.
package linereader

import (
	"bytes"
	"strings"
)

// DefaultMaxPending bounds the unterminated tail kept between chunks.
const DefaultMaxPending = 64 * 1024

// Reader accumulates chunks and yields complete lines. Not safe for
// concurrent use.
type Reader struct {
	buf        []byte
	maxPending int
	dropped    int
	// discarding is set while skipping the rest of an oversized line.
	discarding bool
}

// New creates a Reader. maxPending <= 0 selects DefaultMaxPending.
func New(maxPending int) *Reader {
	if maxPending <= 0 {
		maxPending = DefaultMaxPending
	}
	return &Reader{maxPending: maxPending}
}

// Feed appends chunk and returns every complete line it terminates, trimmed
// of surrounding whitespace. Empty lines are skipped. Anything after the last
// newline is kept for the next call.
func (r *Reader) Feed(chunk []byte) []string {
	if r.discarding {
		i := bytes.IndexByte(chunk, '\n')
		if i < 0 {
			return nil
		}
		r.discarding = false
		chunk = chunk[i+1:]
	}
	r.buf = append(r.buf, chunk...)

	var lines []string
	for {
		i := bytes.IndexByte(r.buf, '\n')
		if i < 0 {
			break
		}
		if line := strings.TrimSpace(string(r.buf[:i])); line != "" {
			lines = append(lines, line)
		}
		r.buf = r.buf[i+1:]
	}

	if len(r.buf) > r.maxPending {
		r.buf = nil
		r.dropped++
		r.discarding = true
	}
	if len(r.buf) == 0 {
		r.buf = nil
	}
	return lines
}

// Flush returns the trimmed unterminated remainder, if any, and empties the
// buffer. Used when the stream has ended.
func (r *Reader) Flush() (string, bool) {
	line := strings.TrimSpace(string(r.buf))
	r.buf = nil
	r.discarding = false
	return line, line != ""
}

// Reset discards any buffered partial line.
func (r *Reader) Reset() {
	r.buf = nil
	r.discarding = false
}

// Pending returns the number of buffered bytes.
func (r *Reader) Pending() int {
	return len(r.buf)
}

// Dropped returns how many oversized lines have been discarded.
func (r *Reader) Dropped() int {
	return r.dropped
}
