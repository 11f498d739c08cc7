package restic

import (
	"context"
	"sync"

	"github.com/vshn/timevault/engine"
	"github.com/vshn/timevault/engine/logging"
)

// Check will check the repository for errors.
// Exit code 1 means restic found problems, those are returned as issues.
func (r *Restic) Check(ctx context.Context) (engine.CheckResult, error) {
	r.opLock.RLock()
	defer r.opLock.RUnlock()

	checkLogger := r.logger.WithName("check")

	checkLogger.Info("checking repository")

	resticCheckLogger := checkLogger.WithName("restic")

	var (
		mu     sync.Mutex
		issues []string
	)
	stderr, waitStderr := consumeLines(func(s *logging.Stream) {
		for s.Next() {
			resticCheckLogger.WithName("stderr").Info(s.Line())
			mu.Lock()
			issues = append(issues, s.Line())
			mu.Unlock()
		}
	})

	cmd := r.newCommand(ctx, checkLogger, r.opts.Timeout, r.globalFlags.ApplyToCommand("check"),
		logging.NewInfoWriter(resticCheckLogger), stderr, exitFatal)
	cmd.Run()
	waitStderr()

	if err := executionError("check", cmd); err != nil {
		return engine.CheckResult{}, err
	}

	if cmd.ExitCode == exitFatal {
		if len(issues) == 0 {
			issues = []string{"restic check reported errors"}
		}
		checkLogger.Info("repository check found issues", "issues", len(issues))
		return engine.CheckResult{OK: false, Issues: issues}, nil
	}

	checkLogger.Info("repository check passed")
	return engine.CheckResult{OK: true}, nil
}
