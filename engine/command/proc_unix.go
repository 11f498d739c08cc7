//go:build !windows

package command

import (
	"errors"
	"os/exec"
	"syscall"
	"time"
)

// setProcessGroup starts the child in its own process group so that the
// whole tree can be signalled on cancellation. SIGKILL follows after grace.
func setProcessGroup(cmd *exec.Cmd, interrupt bool, grace time.Duration) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	sig := syscall.SIGTERM
	if interrupt {
		sig = syscall.SIGINT
	}

	cmd.Cancel = func() error {
		pgid := cmd.Process.Pid
		err := syscall.Kill(-pgid, sig)
		time.AfterFunc(grace, func() {
			_ = syscall.Kill(-pgid, syscall.SIGKILL)
		})
		if err != nil && !errors.Is(err, syscall.ESRCH) {
			return err
		}
		return nil
	}
	cmd.WaitDelay = grace + time.Second
}
