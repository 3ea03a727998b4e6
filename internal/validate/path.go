package validate

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Path resolves path to an absolute, symlink-free form and checks that it
// lies within one of allowedRoots. Paths that do not exist yet are resolved
// through their nearest existing ancestor so a symlinked parent cannot be
// used to escape. Any literal ".." segment is refused before resolution.
func Path(path string, allowedRoots []string) (string, error) {
	if path == "" {
		return "", newError(InvalidFormat, path, "empty path")
	}
	if strings.ContainsRune(path, 0) {
		return "", newError(InvalidFormat, path, "path contains NUL byte")
	}
	if hasDotDot(path) {
		return "", newError(PathTraversal, path, "path contains '..' segment")
	}
	if len(allowedRoots) == 0 {
		return "", newError(PathTraversal, path, "no allowed roots configured")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", newError(InvalidFormat, path, err.Error())
	}
	resolved, err := resolveExisting(abs)
	if err != nil {
		return "", newError(InvalidFormat, path, err.Error())
	}

	for _, root := range allowedRoots {
		if root == "" {
			continue
		}
		rootAbs, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		rootResolved, err := resolveExisting(rootAbs)
		if err != nil {
			continue
		}
		if within(resolved, rootResolved) {
			return resolved, nil
		}
	}

	return "", newError(PathTraversal, path, "resolves outside allowed roots")
}

func hasDotDot(path string) bool {
	for _, seg := range strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return true
		}
	}
	return false
}

// within reports whether path equals root or is a descendant of it
func within(path, root string) bool {
	if path == root {
		return true
	}
	if root == string(filepath.Separator) {
		return strings.HasPrefix(path, root)
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}

// resolveExisting evaluates symlinks on the longest existing prefix of abs
// and re-appends the missing tail.
func resolveExisting(abs string) (string, error) {
	abs = filepath.Clean(abs)
	var tail []string
	cur := abs
	for {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			parts := append([]string{resolved}, reverse(tail)...)
			return filepath.Join(parts...), nil
		}
		if fi, statErr := os.Lstat(cur); statErr == nil {
			if fi.Mode()&os.ModeSymlink != 0 {
				return "", fmt.Errorf("dangling symlink %s", cur)
			}
			return "", err
		} else if !errors.Is(statErr, fs.ErrNotExist) {
			return "", statErr
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return abs, nil
		}
		tail = append(tail, filepath.Base(cur))
		cur = parent
	}
}

func reverse(s []string) []string {
	out := make([]string, len(s))
	for i, v := range s {
		out[len(s)-1-i] = v
	}
	return out
}
