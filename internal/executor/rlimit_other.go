//go:build !linux

package executor

func applyChildLimits(pid int, limits ChildLimits) error {
	return nil
}
