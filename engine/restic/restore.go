package restic

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/go-logr/logr"

	"github.com/vshn/timevault/engine"
	"github.com/vshn/timevault/engine/logging"
)

// maxReportedConflicts bounds the files listed in a RestoreConflictError.
const maxReportedConflicts = 10

type fileNode struct {
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	Mtime       time.Time `json:"mtime"`
	StructType  string    `json:"struct_type"`
	MessageType string    `json:"message_type"`
}

func (f fileNode) isNode() bool {
	return f.StructType == "node" || f.MessageType == "node"
}

// Restore restores req.SourcePath (or the whole snapshot) into req.TargetPath.
// Files keep their absolute path below the target.
func (r *Restic) Restore(ctx context.Context, req engine.RestoreRequest) (engine.RestoreResult, error) {
	r.opLock.RLock()
	defer r.opLock.RUnlock()

	restorelogger := r.logger.WithName("restore")

	if req.TargetPath == "" {
		return engine.RestoreResult{}, fmt.Errorf("restore target must be set")
	}

	snapshot, err := r.resolveSnapshot(ctx, req.SnapshotID)
	if err != nil {
		return engine.RestoreResult{}, err
	}
	restorelogger.Info("restore initialised", "snapshot", snapshot.ID, "date", snapshot.Time, "source", req.SourcePath, "target", req.TargetPath)

	nodes, err := r.listNodes(ctx, restorelogger, snapshot.ID, req.SourcePath)
	if err != nil {
		return engine.RestoreResult{}, err
	}
	if len(nodes) == 0 {
		return engine.RestoreResult{}, &engine.PathNotFoundError{SnapshotID: snapshot.ID, Path: req.SourcePath}
	}

	if !req.Overwrite {
		if conflicts := findConflicts(req.TargetPath, nodes); len(conflicts) > 0 {
			return engine.RestoreResult{}, &engine.RestoreConflictError{Target: req.TargetPath, Conflicts: conflicts}
		}
	}

	if err := os.MkdirAll(req.TargetPath, 0o700); err != nil {
		return engine.RestoreResult{}, fmt.Errorf("cannot create restore target: %w", err)
	}

	args := []string{snapshot.ID, "--target", req.TargetPath}
	if req.SourcePath != "" {
		args = append(args, "--include", req.SourcePath)
	}
	if req.Overwrite {
		args = append(args, "--overwrite", "always")
	}

	resticRestoreLogger := restorelogger.WithName("restic")
	cmd := r.newCommand(ctx, restorelogger, r.opts.Timeout, r.globalFlags.ApplyToCommand("restore", args...),
		logging.NewInfoWriter(resticRestoreLogger), logging.NewErrorWriter(resticRestoreLogger))
	cmd.Run()

	if err := executionError("restore", cmd); err != nil {
		return engine.RestoreResult{}, err
	}

	files := 0
	for _, n := range nodes {
		if n.Type != "dir" {
			files++
		}
	}
	restorelogger.Info("restore finished", "files", files)
	return engine.RestoreResult{SnapshotID: snapshot.ID, Target: req.TargetPath, Files: files}, nil
}

// listNodes returns the nodes of the snapshot at or below source.
func (r *Restic) listNodes(ctx context.Context, log logr.Logger, snapshotID, source string) ([]fileNode, error) {
	source = cleanSnapshotPath(source)

	args := []string{"--json", "--recursive", snapshotID}
	if source != "/" {
		args = append(args, source)
	}

	var nodes []fileNode
	stdout, waitStdout := consumeLines(func(s *logging.Stream) {
		for s.Next() {
			node := fileNode{}
			if err := s.Decode(&node); err != nil || !node.isNode() {
				continue
			}
			if withinPath(node.Path, source) {
				nodes = append(nodes, node)
			}
		}
	})

	cmd := r.newCommand(ctx, log, r.opts.ListTimeout, r.globalFlags.ApplyToCommand("ls", args...),
		stdout, logging.NewErrorWriter(log.WithName("restic")))
	cmd.Run()
	waitStdout()

	if err := executionError("ls", cmd); err != nil {
		return nil, err
	}
	return nodes, nil
}

func cleanSnapshotPath(p string) string {
	if p == "" {
		return "/"
	}
	return path.Clean("/" + filepath.ToSlash(p))
}

func withinPath(p, dir string) bool {
	if dir == "/" {
		return true
	}
	return p == dir || len(p) > len(dir) && p[:len(dir)] == dir && p[len(dir)] == '/'
}

// findConflicts returns the files at target that a restore of nodes would overwrite.
func findConflicts(target string, nodes []fileNode) []string {
	conflicts := make([]string, 0)
	for _, n := range nodes {
		if n.Type == "dir" {
			continue
		}
		dest := filepath.Join(target, filepath.FromSlash(n.Path))
		fi, err := os.Lstat(dest)
		if err != nil || fi.IsDir() {
			continue
		}
		conflicts = append(conflicts, dest)
		if len(conflicts) == maxReportedConflicts {
			break
		}
	}
	return conflicts
}
