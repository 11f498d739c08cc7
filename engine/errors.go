package engine

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownSnapshot = errors.New("unknown snapshot")
	ErrPathNotFound    = errors.New("path not found in snapshot")
	ErrNoSnapshotIDs   = errors.New("no snapshot ids given")
	ErrUnknownEngine   = errors.New("unknown engine")
	ErrRestoreConflict = errors.New("restore target exists")
)

// ExecutionError is a hard failure of the backend process.
type ExecutionError struct {
	Command string
	// ExitCode is -1 if the process could not be started or was terminated.
	ExitCode   int
	StderrTail string
	Err        error
}

func (e *ExecutionError) Error() string {
	msg := fmt.Sprintf("%s failed with exit code %d", e.Command, e.ExitCode)
	if e.ExitCode < 0 && e.Err != nil {
		msg = fmt.Sprintf("%s failed: %v", e.Command, e.Err)
	}
	if e.StderrTail != "" {
		msg += ": " + lastLine(e.StderrTail)
	}
	return msg
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// SoftBackupWarning describes a file the backend could not read during a backup.
type SoftBackupWarning struct {
	Item    string
	During  string
	Message string
}

func (w SoftBackupWarning) String() string {
	switch {
	case w.Item == "":
		return w.Message
	case w.During == "":
		return fmt.Sprintf("%s: %s", w.Item, w.Message)
	default:
		return fmt.Sprintf("%s (%s): %s", w.Item, w.During, w.Message)
	}
}

type UnknownSnapshotError struct {
	IDs []string
}

func (e *UnknownSnapshotError) Error() string {
	return fmt.Sprintf("%s: %s", ErrUnknownSnapshot, strings.Join(e.IDs, ", "))
}

func (e *UnknownSnapshotError) Is(target error) bool {
	return target == ErrUnknownSnapshot
}

type PathNotFoundError struct {
	SnapshotID string
	Path       string
}

func (e *PathNotFoundError) Error() string {
	return fmt.Sprintf("%s: %q in %s", ErrPathNotFound, e.Path, e.SnapshotID)
}

func (e *PathNotFoundError) Is(target error) bool {
	return target == ErrPathNotFound
}

// RestoreConflictError lists files that already exist at the restore target.
type RestoreConflictError struct {
	Target    string
	Conflicts []string
}

func (e *RestoreConflictError) Error() string {
	return fmt.Sprintf("%s: %d file(s) in %s would be overwritten (%s)",
		ErrRestoreConflict, len(e.Conflicts), e.Target, strings.Join(e.Conflicts, ", "))
}

func (e *RestoreConflictError) Is(target error) bool {
	return target == ErrRestoreConflict
}
