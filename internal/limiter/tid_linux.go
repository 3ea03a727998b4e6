//go:build linux

package limiter

import "golang.org/x/sys/unix"

func currentThreadID() int {
	return unix.Gettid()
}
