package validate

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPath_WithinRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "themes"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "themes", "dark.yaml"), []byte("x"), 0o600))

	got, err := Path(filepath.Join(root, "themes", "dark.yaml"), []string{root})
	require.NoError(t, err)

	resolvedRoot, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(resolvedRoot, "themes", "dark.yaml"), got)
}

func TestPath_RootItself(t *testing.T) {
	root := t.TempDir()

	_, err := Path(root, []string{root})
	assert.NoError(t, err)
}

func TestPath_NonExistentChild(t *testing.T) {
	root := t.TempDir()

	got, err := Path(filepath.Join(root, "new", "file.conf"), []string{root})
	require.NoError(t, err)
	assert.Equal(t, "file.conf", filepath.Base(got))
}

func TestPath_DotDotAlwaysRejected(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "a", "b"), 0o755))

	tests := []string{
		"../../etc/passwd",
		filepath.Join(root, "a") + "/../a/b",
		root + "/a/b/..",
		`..\..\windows`,
	}
	for _, input := range tests {
		t.Run(input, func(t *testing.T) {
			_, err := Path(input, []string{root})
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrPathTraversal))
			assert.Equal(t, PathTraversal, KindOf(err))
		})
	}
}

func TestPath_ExampleEtcPasswd(t *testing.T) {
	_, err := Path("../../etc/passwd", []string{"/home/user/.config"})
	assert.Equal(t, PathTraversal, KindOf(err))
}

func TestPath_OutsideRoot(t *testing.T) {
	root := t.TempDir()
	other := t.TempDir()

	_, err := Path(filepath.Join(other, "x"), []string{root})
	assert.Equal(t, PathTraversal, KindOf(err))
}

func TestPath_PrefixSiblingRejected(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "config")
	sibling := filepath.Join(base, "config-evil")
	require.NoError(t, os.MkdirAll(root, 0o755))
	require.NoError(t, os.MkdirAll(sibling, 0o755))

	_, err := Path(filepath.Join(sibling, "x"), []string{root})
	assert.Equal(t, PathTraversal, KindOf(err))
}

func TestPath_SymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret"), []byte("s"), 0o600))

	link := filepath.Join(root, "link")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	_, err := Path(filepath.Join(link, "secret"), []string{root})
	assert.Equal(t, PathTraversal, KindOf(err))

	// Not-yet-existing file under the escaping link
	_, err = Path(filepath.Join(link, "new-file"), []string{root})
	assert.Equal(t, PathTraversal, KindOf(err))
}

func TestPath_SymlinkInsideRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "real"), 0o755))

	link := filepath.Join(root, "alias")
	if err := os.Symlink(filepath.Join(root, "real"), link); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	_, err := Path(filepath.Join(link, "file"), []string{root})
	assert.NoError(t, err)
}

func TestPath_InvalidInput(t *testing.T) {
	root := t.TempDir()

	_, err := Path("", []string{root})
	assert.Equal(t, InvalidFormat, KindOf(err))

	_, err = Path("a\x00b", []string{root})
	assert.Equal(t, InvalidFormat, KindOf(err))

	_, err = Path(root, nil)
	assert.Equal(t, PathTraversal, KindOf(err))
}
