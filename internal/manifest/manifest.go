// Package manifest reads the metadata of an extension: the "# key: value"
// comment header at the top of its source and an optional yaml sidecar
// next to it.
package manifest

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/hyprrice/hyprsandbox/internal/policy"
	"github.com/hyprrice/hyprsandbox/internal/validate"
)

// Extension is the file suffix of extension sources
const Extension = ".star"

// DefaultVersion is assumed when the header has no version
const DefaultVersion = "1.0.0"

// ErrSidecarField is returned when a sidecar sets a header-only field
var ErrSidecarField = errors.New("field not allowed in sidecar")

// DefaultEntrypoint is the function called after the module executed
const DefaultEntrypoint = "register"

// Dependency is one "name constraint" entry of the depends key
type Dependency struct {
	Name       string `json:"name" yaml:"name"`
	Constraint string `json:"constraint,omitempty" yaml:"constraint,omitempty"`

	constraint *semver.Constraints
}

// Allows reports whether version satisfies the constraint. An empty
// constraint accepts any version.
func (d Dependency) Allows(version *semver.Version) bool {
	if d.constraint == nil {
		return true
	}
	return d.constraint.Check(version)
}

func (d Dependency) String() string {
	if d.Constraint == "" {
		return d.Name
	}
	return d.Name + " " + d.Constraint
}

// Metadata describes one extension
type Metadata struct {
	Name          string              `json:"name" yaml:"name"`
	Version       string              `json:"version" yaml:"version"`
	Author        string              `json:"author,omitempty" yaml:"author,omitempty"`
	Description   string              `json:"description,omitempty" yaml:"description,omitempty"`
	SecurityLevel policy.Level        `json:"security_level,omitempty" yaml:"security_level,omitempty"`
	Entrypoint    string              `json:"entrypoint" yaml:"entrypoint"`
	Depends       []Dependency        `json:"depends,omitempty" yaml:"depends,omitempty"`
	Limits        policy.LimitRequest `json:"limits,omitempty" yaml:"limits,omitempty"`
	Path          string              `json:"path,omitempty" yaml:"path,omitempty"`
	Digest        string              `json:"digest,omitempty" yaml:"digest,omitempty"`
	Size          int                 `json:"size" yaml:"size"`

	version *semver.Version
}

// SemVersion returns the parsed version. Valid after Validate.
func (m *Metadata) SemVersion() *semver.Version {
	return m.version
}

// sidecar is the optional <name>.yaml file next to the source
type sidecar struct {
	Name          string              `yaml:"name"`
	Version       string              `yaml:"version"`
	Author        string              `yaml:"author"`
	Description   string              `yaml:"description"`
	SecurityLevel string              `yaml:"security_level"`
	Entrypoint    string              `yaml:"entrypoint"`
	Depends       []string            `yaml:"depends"`
	Limits        policy.LimitRequest `yaml:"limits"`
}

// ParseHeader reads the leading comment block of src. Parsing stops at the
// first line that is neither blank nor a comment. stem names the extension
// when the header has no name.
func ParseHeader(src []byte, stem string) (*Metadata, error) {
	m := &Metadata{Name: stem}

	scanner := bufio.NewScanner(bytes.NewReader(src))
	scanner.Buffer(make([]byte, 0, 4096), 64*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "#") {
			break
		}

		key, value, ok := strings.Cut(strings.TrimSpace(strings.TrimPrefix(line, "#")), ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		if err := m.set(key, value); err != nil {
			return nil, fmt.Errorf("header line %d: %w", lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	return m, nil
}

func (m *Metadata) set(key, value string) error {
	switch key {
	case "name":
		m.Name = value
	case "version":
		m.Version = value
	case "author":
		m.Author = value
	case "description":
		m.Description = value
	case "security_level":
		level, err := policy.ParseLevel(value)
		if err != nil {
			return err
		}
		m.SecurityLevel = level
	case "entrypoint":
		m.Entrypoint = value
	case "depends":
		deps, err := ParseDepends(strings.Split(value, ","))
		if err != nil {
			return err
		}
		m.Depends = append(m.Depends, deps...)
	}
	return nil
}

// applySidecar fills descriptive fields the header left empty. Limits only
// come from the sidecar. Fields that decide identity or privilege are only
// accepted in the source header, which is what a pinned digest covers.
func (m *Metadata) applySidecar(sc sidecar) error {
	for _, f := range [...]struct{ key, value string }{
		{"name", sc.Name},
		{"security_level", sc.SecurityLevel},
		{"entrypoint", sc.Entrypoint},
	} {
		if f.value != "" {
			return fmt.Errorf("%w: %s is only accepted in the source header", ErrSidecarField, f.key)
		}
	}
	if m.Version == "" {
		m.Version = sc.Version
	}
	if m.Author == "" {
		m.Author = sc.Author
	}
	if m.Description == "" {
		m.Description = sc.Description
	}
	if len(m.Depends) == 0 && len(sc.Depends) > 0 {
		deps, err := ParseDepends(sc.Depends)
		if err != nil {
			return err
		}
		m.Depends = deps
	}
	m.Limits = sc.Limits
	return nil
}

// ParseDepends parses entries such as "colors" or "colors >=1.2 <2". In a
// header the entries are comma separated, so constraints combine with spaces.
// Blank entries are skipped.
func ParseDepends(entries []string) ([]Dependency, error) {
	var deps []Dependency
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		name, constraint, _ := strings.Cut(entry, " ")
		dep := Dependency{Name: name, Constraint: strings.TrimSpace(constraint)}
		if _, err := validate.Identifier(dep.Name, validate.NamePattern); err != nil {
			return nil, fmt.Errorf("depends: %w", err)
		}
		if dep.Constraint != "" {
			c, err := semver.NewConstraint(dep.Constraint)
			if err != nil {
				return nil, fmt.Errorf("depends %q: %w", entry, err)
			}
			dep.constraint = c
		}
		deps = append(deps, dep)
	}
	return deps, nil
}

// Validate applies defaults and checks every field
func Validate(m *Metadata) error {
	if m == nil {
		return errors.New("metadata cannot be nil")
	}

	if _, err := validate.Identifier(m.Name, validate.NamePattern); err != nil {
		return fmt.Errorf("name: %w", err)
	}

	if m.Version == "" {
		m.Version = DefaultVersion
	}
	v, err := semver.NewVersion(m.Version)
	if err != nil {
		return fmt.Errorf("version %q: %w", m.Version, err)
	}
	m.version = v

	if m.Entrypoint == "" {
		m.Entrypoint = DefaultEntrypoint
	}
	if _, err := validate.Identifier(m.Entrypoint, validate.NamePattern); err != nil {
		return fmt.Errorf("entrypoint: %w", err)
	}

	for _, field := range []*string{&m.Author, &m.Description} {
		clean, err := validate.SanitizeText(*field, 256)
		if err != nil {
			return err
		}
		*field = clean
	}

	for _, dep := range m.Depends {
		if dep.Name == m.Name {
			return fmt.Errorf("depends: %s cannot depend on itself", m.Name)
		}
	}

	return nil
}

// Load reads the source at path, its header and optional sidecar, and
// returns the validated metadata together with the source bytes.
func Load(path string) (*Metadata, []byte, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read extension: %w", err)
	}

	stem := Stem(path)
	m, err := ParseHeader(src, stem)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}

	sidecarPath := strings.TrimSuffix(path, Extension) + ".yaml"
	data, err := os.ReadFile(sidecarPath)
	switch {
	case err == nil:
		var sc sidecar
		if err := yaml.Unmarshal(data, &sc); err != nil {
			return nil, nil, fmt.Errorf("%s: %w", filepath.Base(sidecarPath), err)
		}
		if err := m.applySidecar(sc); err != nil {
			return nil, nil, fmt.Errorf("%s: %w", filepath.Base(sidecarPath), err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return nil, nil, fmt.Errorf("failed to read sidecar: %w", err)
	}

	if err := Validate(m); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}

	m.Path = path
	m.Digest = Digest(src)
	m.Size = len(src)
	return m, src, nil
}

// Stem returns the file name of path without its extension suffix
func Stem(path string) string {
	return strings.TrimSuffix(filepath.Base(path), Extension)
}
