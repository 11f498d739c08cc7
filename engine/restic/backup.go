package restic

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/vshn/timevault/engine"
	"github.com/vshn/timevault/engine/logging"
)

// backupOutput collects what restic reports on stdout and stderr during a backup.
type backupOutput struct {
	mu         sync.Mutex
	summary    *logging.BackupSummary
	warnings   []engine.SoftBackupWarning
	plainLines []string
}

// Backup creates a snapshot of req.Paths.
// Exit code 3 (some source files could not be read) is a soft failure: the
// snapshot exists and the unreadable files are reported as warnings.
func (r *Restic) Backup(ctx context.Context, req engine.BackupRequest) (engine.BackupResult, error) {
	r.opLock.Lock()
	defer r.opLock.Unlock()

	backuplogger := r.logger.WithName("backup")

	if len(req.Paths) == 0 {
		return engine.BackupResult{}, fmt.Errorf("no paths to back up")
	}

	host := req.Host
	if host == "" {
		host = r.opts.Host
	}

	args := []string{"--json"}
	if host != "" {
		args = append(args, "--host", host)
	}
	for _, exclude := range req.Excludes {
		args = append(args, "--exclude", exclude)
	}
	for _, tag := range req.Tags {
		args = append(args, "--tag", tag)
	}
	args = append(args, "--")
	args = append(args, req.Paths...)

	backuplogger.Info("starting backup", "paths", req.Paths, "tags", req.Tags, "host", host)

	out := &backupOutput{}
	progressLogger := backuplogger.WithName("progress")
	resticLogger := backuplogger.WithName("restic")

	stdout, waitStdout := consumeLines(func(s *logging.Stream) {
		r.parseBackupOutput(s, out, progressLogger, resticLogger.WithName("stdout"), false)
	})
	stderr, waitStderr := consumeLines(func(s *logging.Stream) {
		r.parseBackupOutput(s, out, progressLogger, resticLogger.WithName("stderr"), true)
	})

	cmd := r.newCommand(ctx, backuplogger, r.opts.Timeout, r.globalFlags.ApplyToCommand("backup", args...), stdout, stderr, exitIncomplete)
	cmd.Run()
	waitStdout()
	waitStderr()

	if err := executionError("backup", cmd); err != nil {
		backuplogger.Error(err, "backup failed", "stderr", cmd.StderrTail())
		return engine.BackupResult{}, err
	}

	result := out.result()
	switch cmd.ExitCode {
	case exitOK:
		result.Warnings = nil
		backuplogger.Info("backup finished", "snapshot", result.SnapshotID, "filesNew", result.FilesNew, "bytesAdded", result.BytesAdded)
	case exitIncomplete:
		result.Warnings = out.softWarnings()
		backuplogger.Info("backup finished with warnings, some source files could not be read",
			"snapshot", result.SnapshotID, "warnings", len(result.Warnings))
	}
	if result.SnapshotID == "" {
		backuplogger.Info("restic did not report a summary, snapshot id unknown")
	}
	return result, nil
}

// incompleteSummary is the closing line restic prints after per item errors.
const incompleteSummary = "Warning: at least one source file could not be read"

// parseBackupOutput reads the JSON lines of `restic backup --json`.
// Lines that are not JSON are logged and, on stderr, kept as fallback warnings.
func (r *Restic) parseBackupOutput(s *logging.Stream, out *backupOutput, progressLogger, lineLogger logr.Logger, isStderr bool) {
	for s.Next() {
		event, err := s.Event()
		if err != nil || event.MessageType == "" {
			lineLogger.Info(s.Line())
			if isStderr && !strings.HasPrefix(s.Line(), incompleteSummary) {
				out.mu.Lock()
				out.plainLines = append(out.plainLines, s.Line())
				out.mu.Unlock()
			}
			continue
		}

		switch event.MessageType {
		case logging.MessageStatus:
			logging.PrintPercentage(progressLogger, event.PercentDone)
		case logging.MessageSummary:
			summary := event.BackupSummary
			out.mu.Lock()
			out.summary = &summary
			out.mu.Unlock()
		case logging.MessageError:
			warning := engine.SoftBackupWarning{
				Item:    event.Item,
				During:  event.During,
				Message: event.ErrorMessage(),
			}
			lineLogger.Info("unable to back up item", "item", warning.Item, "during", warning.During, "error", warning.Message)
			out.mu.Lock()
			out.warnings = append(out.warnings, warning)
			out.mu.Unlock()
		case logging.MessageExitError:
			lineLogger.Info("restic exited with error", "code", event.Code, "message", event.Message)
		default:
			// verbose_status and future message types
		}
	}
	if err := s.Err(); err != nil {
		lineLogger.Error(err, "cannot read restic output")
	}
}

func (o *backupOutput) result() engine.BackupResult {
	o.mu.Lock()
	defer o.mu.Unlock()

	result := engine.BackupResult{}
	if o.summary != nil {
		result.SnapshotID = o.summary.SnapshotID
		result.FilesNew = o.summary.FilesNew
		result.FilesChanged = o.summary.FilesChanged
		result.FilesUnmodified = o.summary.FilesUnmodified
		result.DirsNew = o.summary.DirsNew
		result.DirsChanged = o.summary.DirsChanged
		result.DirsUnmodified = o.summary.DirsUnmodified
		result.BytesAdded = o.summary.DataAdded
		result.TotalBytesProcessed = o.summary.TotalBytesProcessed
		result.Duration = time.Duration(o.summary.TotalDuration * float64(time.Second))
	}
	return result
}

// softWarnings returns the per item errors of the run. Older restic versions
// print them as plain text only, those lines are used as a fallback.
func (o *backupOutput) softWarnings() []engine.SoftBackupWarning {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.warnings) > 0 {
		return append([]engine.SoftBackupWarning(nil), o.warnings...)
	}
	warnings := make([]engine.SoftBackupWarning, 0, len(o.plainLines))
	for _, line := range o.plainLines {
		warnings = append(warnings, engine.SoftBackupWarning{Message: line})
	}
	if len(warnings) == 0 {
		warnings = append(warnings, engine.SoftBackupWarning{Message: "some source files could not be read"})
	}
	return warnings
}
