// Package sse decodes text/event-stream framing into event payloads.
//
// Only data lines, comment lines and the blank-line terminator carry meaning.
// Other fields (event, id, retry) are ignored.
package sse

import (
	"bufio"
	"io"
	"strings"
)

const (
	dataPrefix    = "data:"
	commentPrefix = ":"

	// MaxLineBytes bounds a single line read from the stream.
	MaxLineBytes = 1 << 20
)

// Decoder accumulates data lines until a blank line completes an event.
// The zero value is ready to use. A Decoder must not be reused across
// connections; create a new one per stream.
type Decoder struct {
	acc strings.Builder
}

// Feed consumes one line without its terminator and reports a completed
// payload, if any.
func (d *Decoder) Feed(line string) (string, bool) {
	line = strings.TrimSuffix(line, "\r")

	switch {
	case line == "":
		if d.acc.Len() == 0 {
			return "", false
		}
		payload := d.acc.String()
		d.acc.Reset()
		return payload, true
	case strings.HasPrefix(line, dataPrefix):
		value := strings.TrimPrefix(line[len(dataPrefix):], " ")
		if d.acc.Len() > 0 {
			d.acc.WriteByte('\n')
		}
		d.acc.WriteString(value)
	case strings.HasPrefix(line, commentPrefix):
		// keepalive
	}

	return "", false
}

// Pending reports whether a partial event is buffered.
func (d *Decoder) Pending() bool {
	return d.acc.Len() > 0
}

// Reset drops any partial event.
func (d *Decoder) Reset() {
	d.acc.Reset()
}

// Scanner yields payloads from a reader one event at a time.
type Scanner struct {
	lines   *bufio.Scanner
	decoder Decoder
}

func NewScanner(r io.Reader) *Scanner {
	lines := bufio.NewScanner(r)
	lines.Buffer(make([]byte, 0, 4096), MaxLineBytes)
	return &Scanner{lines: lines}
}

// Next blocks until a complete payload is available. At end of input any
// partial event is discarded and io.EOF is returned; read errors are
// returned as is.
func (s *Scanner) Next() (string, error) {
	for s.lines.Scan() {
		if payload, ok := s.decoder.Feed(s.lines.Text()); ok {
			return payload, nil
		}
	}

	s.decoder.Reset()
	if err := s.lines.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}
