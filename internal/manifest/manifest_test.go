package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyprrice/hyprsandbox/internal/policy"
	"github.com/hyprrice/hyprsandbox/internal/validate"
)

const fullHeader = `# name: waybar-colors
# version: 1.2.0
# author: Jane Doe
# description: Keeps waybar in sync with the theme
# security_level: strict
# entrypoint: setup
# depends: palette >=1.0.0 <2, fonts

def setup():
    return None
`

func TestParseHeader(t *testing.T) {
	m, err := ParseHeader([]byte(fullHeader), "file")
	require.NoError(t, err)

	assert.Equal(t, "waybar-colors", m.Name)
	assert.Equal(t, "1.2.0", m.Version)
	assert.Equal(t, "Jane Doe", m.Author)
	assert.Equal(t, "Keeps waybar in sync with the theme", m.Description)
	assert.Equal(t, policy.Strict, m.SecurityLevel)
	assert.Equal(t, "setup", m.Entrypoint)
	require.Len(t, m.Depends, 2)
	assert.Equal(t, "palette", m.Depends[0].Name)
	assert.Equal(t, ">=1.0.0 <2", m.Depends[0].Constraint)
	assert.Equal(t, "fonts", m.Depends[1].Name)
	assert.Empty(t, m.Depends[1].Constraint)
}

func TestParseHeader_StopsAtCode(t *testing.T) {
	src := "# name: early\n\nx = 1\n# name: late\n"
	m, err := ParseHeader([]byte(src), "stem")
	require.NoError(t, err)
	assert.Equal(t, "early", m.Name)
}

func TestParseHeader_DefaultsToStem(t *testing.T) {
	m, err := ParseHeader([]byte("# just a comment\nx = 1\n"), "my-ext")
	require.NoError(t, err)
	assert.Equal(t, "my-ext", m.Name)
	assert.Empty(t, m.SecurityLevel)
}

func TestParseHeader_InvalidLevel(t *testing.T) {
	_, err := ParseHeader([]byte("# security_level: paranoid\n"), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "header line 1")
}

func TestParseDepends(t *testing.T) {
	deps, err := ParseDepends([]string{"palette ^1.2", " ", "fonts"})
	require.NoError(t, err)
	require.Len(t, deps, 2)

	assert.True(t, deps[0].Allows(semver.MustParse("1.4.0")))
	assert.False(t, deps[0].Allows(semver.MustParse("2.0.0")))
	assert.True(t, deps[1].Allows(semver.MustParse("0.0.1")))
	assert.Equal(t, "palette ^1.2", deps[0].String())
	assert.Equal(t, "fonts", deps[1].String())

	_, err = ParseDepends([]string{"palette not-a-constraint"})
	assert.Error(t, err)

	_, err = ParseDepends([]string{"9bad"})
	assert.ErrorIs(t, err, validate.ErrInvalidFormat)
}

func TestValidate_Defaults(t *testing.T) {
	m := &Metadata{Name: "ext"}
	require.NoError(t, Validate(m))

	assert.Equal(t, DefaultVersion, m.Version)
	assert.Equal(t, DefaultEntrypoint, m.Entrypoint)
	require.NotNil(t, m.SemVersion())
	assert.Equal(t, "1.0.0", m.SemVersion().String())
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		m    *Metadata
	}{
		{"nil", nil},
		{"bad name", &Metadata{Name: "../evil"}},
		{"empty name", &Metadata{Name: ""}},
		{"bad version", &Metadata{Name: "ext", Version: "one"}},
		{"bad entrypoint", &Metadata{Name: "ext", Entrypoint: "do stuff"}},
		{"self dependency", &Metadata{Name: "ext", Depends: []Dependency{{Name: "ext"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, Validate(tt.m))
		})
	}
}

func TestValidate_SanitizesText(t *testing.T) {
	m := &Metadata{Name: "ext", Author: "Ja\x00ne\x1b", Description: "line\tone"}
	require.NoError(t, Validate(m))
	assert.Equal(t, "Jane", m.Author)
	assert.Equal(t, "line\tone", m.Description)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "colors.star")
	src := []byte("# version: 2.0.0\ndef register():\n    return None\n")
	require.NoError(t, os.WriteFile(path, src, 0o600))

	m, got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, src, got)
	assert.Equal(t, "colors", m.Name)
	assert.Equal(t, "2.0.0", m.Version)
	assert.Equal(t, path, m.Path)
	assert.Equal(t, Digest(src), m.Digest)
	assert.Equal(t, len(src), m.Size)
	assert.True(t, m.Limits.IsZero())
}

func TestLoad_Sidecar(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "colors.star")
	require.NoError(t, os.WriteFile(path, []byte("# author: header wins\nx = 1\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "colors.yaml"), []byte(`
author: sidecar loses
description: from the sidecar
depends:
  - fonts >=1.0.0
limits:
  max_memory: 10M
  max_wall_clock: 5s
`), 0o600))

	m, _, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "colors", m.Name)
	assert.Equal(t, "header wins", m.Author)
	assert.Equal(t, "from the sidecar", m.Description)
	assert.Empty(t, m.SecurityLevel)
	require.Len(t, m.Depends, 1)
	assert.Equal(t, "fonts", m.Depends[0].Name)
	assert.Equal(t, "10M", m.Limits.MaxMemory)
	assert.Equal(t, "5s", m.Limits.MaxWallClock)
}

func TestLoad_SidecarCannotSetHeaderFields(t *testing.T) {
	tests := []struct {
		name    string
		sidecar string
		field   string
	}{
		{"security level", "security_level: relaxed\n", "security_level"},
		{"entrypoint", "entrypoint: other\n", "entrypoint"},
		{"name", "name: palette\n", "name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "colors.star")
			require.NoError(t, os.WriteFile(path, []byte("x = 1\n"), 0o600))
			require.NoError(t, os.WriteFile(filepath.Join(dir, "colors.yaml"), []byte(tt.sidecar), 0o600))

			_, _, err := Load(path)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrSidecarField)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestLoad_BadSidecar(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "colors.star")
	require.NoError(t, os.WriteFile(path, []byte("x = 1\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "colors.yaml"), []byte("limits: [1, 2"), 0o600))

	_, _, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "colors.yaml")
}

func TestLoad_Missing(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "nope.star"))
	assert.Error(t, err)
}

func TestStem(t *testing.T) {
	assert.Equal(t, "colors", Stem("/a/b/colors.star"))
	assert.Equal(t, "notes.txt", Stem("notes.txt"))
}
