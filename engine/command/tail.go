package command

import (
	"strings"
	"sync"
)

const (
	// DefaultTailLines is the amount of stderr lines kept for error messages.
	DefaultTailLines = 20
	// DefaultTailBytes bounds the stderr tail in bytes.
	DefaultTailBytes = 4096
)

// TailBuffer is an io.Writer that only remembers the last lines written to it.
type TailBuffer struct {
	mu       sync.Mutex
	buf      []byte
	maxLines int
	maxBytes int
}

// NewTailBuffer returns a TailBuffer keeping at most maxLines lines and maxBytes bytes.
func NewTailBuffer(maxLines, maxBytes int) *TailBuffer {
	return &TailBuffer{maxLines: maxLines, maxBytes: maxBytes}
}

func (t *TailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = append(t.buf, p...)
	if len(t.buf) > 2*t.maxBytes {
		t.buf = append([]byte(nil), t.buf[len(t.buf)-t.maxBytes:]...)
	}
	return len(p), nil
}

// String returns the tail without trailing whitespace.
func (t *TailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	b := t.buf
	if len(b) > t.maxBytes {
		b = b[len(b)-t.maxBytes:]
	}
	lines := strings.Split(strings.TrimRight(string(b), "\r\n\t "), "\n")
	if len(lines) > t.maxLines {
		lines = lines[len(lines)-t.maxLines:]
	}
	return strings.Join(lines, "\n")
}
