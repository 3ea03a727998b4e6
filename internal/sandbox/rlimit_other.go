//go:build !unix

package sandbox

func fileLimit() (Rlimit, bool) {
	return Rlimit{}, false
}
