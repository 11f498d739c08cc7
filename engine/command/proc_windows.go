//go:build windows

package command

import (
	"os/exec"
	"time"
)

// setProcessGroup falls back to killing the process itself, Windows has no
// process groups that could be signalled.
func setProcessGroup(cmd *exec.Cmd, _ bool, grace time.Duration) {
	cmd.Cancel = func() error {
		return cmd.Process.Kill()
	}
	cmd.WaitDelay = grace
}
