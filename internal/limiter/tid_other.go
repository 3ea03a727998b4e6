//go:build !linux

package limiter

func currentThreadID() int {
	return 0
}
