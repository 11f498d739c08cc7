package restic

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/go-logr/logr"

	"github.com/vshn/timevault/engine/command"
	"github.com/vshn/timevault/engine/logging"
)

const unmountTimeout = 10 * time.Second

// Mount serves the repository as a FUSE file system at mountpoint until ctx
// is cancelled. Cancellation interrupts restic, which then unmounts itself.
// Mount doesn't take the operation lock, restic allows backups into a mounted repository.
func (r *Restic) Mount(ctx context.Context, mountpoint string) error {
	mountLogger := r.logger.WithName("mount")

	if err := os.MkdirAll(mountpoint, 0o700); err != nil {
		return fmt.Errorf("cannot create mountpoint: %w", err)
	}
	defer r.unmount(mountLogger, mountpoint)

	mountLogger.Info("mounting repository", "mountpoint", mountpoint)

	resticLogger := mountLogger.WithName("restic")
	cmd := command.NewCommand(ctx, mountLogger, command.Options{
		Path:      r.resticPath,
		Args:      r.globalFlags.ApplyToCommand("mount", mountpoint),
		Env:       r.env,
		Dir:       r.opts.Dir,
		StdOut:    logging.NewInfoWriter(resticLogger),
		StdErr:    logging.NewErrorWriter(resticLogger),
		Interrupt: true,
	})
	cmd.Run()

	if ctx.Err() != nil {
		mountLogger.Info("repository unmounted", "mountpoint", mountpoint)
		return nil
	}
	return executionError("mount", cmd)
}

// unmount releases the mountpoint in case restic didn't. Failing is expected
// when restic already cleaned up.
func (r *Restic) unmount(log logr.Logger, mountpoint string) {
	bin, args := "umount", []string{mountpoint}
	if runtime.GOOS == "linux" {
		bin, args = "fusermount", []string{"-u", mountpoint}
	}

	cmd := command.NewCommand(context.Background(), log, command.Options{
		Path:    bin,
		Args:    args,
		Env:     map[string]string{"PATH": r.env["PATH"]},
		Timeout: unmountTimeout,
	})
	cmd.Run()
	if cmd.FatalError != nil {
		log.V(1).Info("unmount skipped", "mountpoint", mountpoint, "reason", cmd.FatalError.Error())
	}
}
