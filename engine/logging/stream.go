package logging

import (
	"bufio"
	"bytes"
	"errors"
	"io"

	"github.com/goccy/go-json"
)

// MaxLineSize is the longest line a Stream hands out. Longer lines are truncated.
const MaxLineSize = 1024 * 1024

// Stream reads line delimited output of a process.
// It never stops before the underlying reader is exhausted, so the process
// writing into it is never blocked by an unread pipe.
type Stream struct {
	r    *bufio.Reader
	line []byte
	err  error
}

// NewStream returns a Stream reading from r.
func NewStream(r io.Reader) *Stream {
	return &Stream{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next advances to the next non-empty line. It returns false at EOF or on a read error.
func (s *Stream) Next() bool {
	for s.err == nil {
		line, err := s.readLine()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.err = err
			} else {
				s.err = io.EOF
			}
		}
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			s.line = line
			return true
		}
	}
	return false
}

func (s *Stream) readLine() ([]byte, error) {
	var buf []byte
	for {
		chunk, err := s.r.ReadSlice('\n')
		if len(buf)+len(chunk) <= MaxLineSize {
			buf = append(buf, chunk...)
		} else if len(buf) < MaxLineSize {
			buf = append(buf, chunk[:MaxLineSize-len(buf)]...)
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return buf, err
	}
}

// Line returns the current line.
func (s *Stream) Line() string {
	return string(s.line)
}

// Bytes returns the current line. The slice is only valid until the next call to Next.
func (s *Stream) Bytes() []byte {
	return s.line
}

// Decode unmarshals the current line into v.
func (s *Stream) Decode(v any) error {
	return json.Unmarshal(s.line, v)
}

// Event decodes the current line as a backup event.
func (s *Stream) Event() (Event, error) {
	ev := Event{}
	err := s.Decode(&ev)
	return ev, err
}

// Err returns the first read error other than EOF.
func (s *Stream) Err() error {
	if errors.Is(s.err, io.EOF) {
		return nil
	}
	return s.err
}

// Drain discards everything left in the stream.
func (s *Stream) Drain() {
	_, _ = io.Copy(io.Discard, s.r)
}
