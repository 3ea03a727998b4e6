//go:build linux

package executor

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// applyChildLimits sets rlimits on a started child via prlimit(2). Go's
// SysProcAttr has no rlimit field on Linux, so this runs after Start and
// the child may run briefly with inherited limits.
func applyChildLimits(pid int, limits ChildLimits) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid: %d", pid)
	}

	var errs []error
	if limits.CPUSeconds > 0 {
		rlim := unix.Rlimit{Cur: limits.CPUSeconds, Max: limits.CPUSeconds}
		if err := unix.Prlimit(pid, unix.RLIMIT_CPU, &rlim, nil); err != nil {
			errs = append(errs, fmt.Errorf("RLIMIT_CPU: %w", err))
		}
	}
	if limits.MaxFDs > 0 {
		rlim := unix.Rlimit{Cur: limits.MaxFDs, Max: limits.MaxFDs}
		if err := unix.Prlimit(pid, unix.RLIMIT_NOFILE, &rlim, nil); err != nil {
			errs = append(errs, fmt.Errorf("RLIMIT_NOFILE: %w", err))
		}
	}
	return errors.Join(errs...)
}
