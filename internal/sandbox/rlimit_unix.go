//go:build unix

package sandbox

import "golang.org/x/sys/unix"

func fileLimit() (Rlimit, bool) {
	var rlim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlim); err != nil {
		return Rlimit{}, false
	}
	return Rlimit{Soft: uint64(rlim.Cur), Hard: uint64(rlim.Max)}, true
}
