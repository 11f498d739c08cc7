package logging

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/go-logr/logr"
)

type outFunc func(string)

// New creates a writer which directly writes to the given logger function.
// Every complete line is handed to out separately, partial lines are kept until
// the rest of the line arrives.
func New(out outFunc) io.WriteCloser {
	return &writer{out: out}
}

// NewInfoWriter returns a line writer logging every line of a process' stdout
// to l, named "stdout".
func NewInfoWriter(l logr.Logger) io.WriteCloser {
	return New((&infoPrinter{l}).out)
}

// NewErrorWriter returns a line writer logging every line of a process' stderr
// to l, named "stderr". Lines are logged at info level, restic reports
// progress and warnings on stderr.
func NewErrorWriter(l logr.Logger) io.WriteCloser {
	return New((&errPrinter{l}).out)
}

type writer struct {
	mu      sync.Mutex
	out     outFunc
	pending []byte
}

func (w *writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending = append(w.pending, p...)
	for {
		i := bytes.IndexByte(w.pending, '\n')
		if i < 0 {
			break
		}
		w.emit(w.pending[:i])
		w.pending = w.pending[i+1:]
	}
	return len(p), nil
}

// Close flushes a trailing line that was not terminated by a newline.
func (w *writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.pending) > 0 {
		w.emit(w.pending)
		w.pending = nil
	}
	return nil
}

func (w *writer) emit(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if len(line) == 0 {
		return
	}
	w.out(string(line))
}

type infoPrinter struct {
	log logr.Logger
}

func (l *infoPrinter) out(s string) {
	l.log.WithName("stdout").Info(s)
}

type errPrinter struct {
	log logr.Logger
}

func (l *errPrinter) out(s string) {
	l.log.WithName("stderr").Info(s)
}

// PrintPercentage logs the progress of a backup, p ranges from 0 to 1.
func PrintPercentage(logger logr.Logger, p float64) {
	logger.Info("progress of backup", "percentage", fmt.Sprintf("%.2f%%", p*100))
}
