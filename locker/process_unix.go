//go:build !windows

package locker

import (
	"errors"
	"syscall"
)

// processExists reports whether a process with the given pid is running.
// A process owned by another user counts as running.
func processExists(pid int) bool {
	err := syscall.Kill(pid, 0)
	return !errors.Is(err, syscall.ESRCH)
}
