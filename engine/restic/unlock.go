package restic

import (
	"context"

	"github.com/vshn/timevault/engine/logging"
)

// Unlock will remove stale locks from the repository
// If the all flag is set to true, even non-stale locks are removed.
func (r *Restic) Unlock(ctx context.Context, all bool) error {
	unlocklogger := r.logger.WithName("unlock")

	unlocklogger.Info("unlocking repository", "all", all)

	args := []string{}
	if all {
		args = append(args, "--remove-all")
	}

	cmd := r.newCommand(ctx, unlocklogger, r.opts.ListTimeout, r.globalFlags.ApplyToCommand("unlock", args...),
		logging.NewInfoWriter(unlocklogger.WithName("restic")), logging.NewErrorWriter(unlocklogger.WithName("restic")))
	cmd.Run()

	return executionError("unlock", cmd)
}
