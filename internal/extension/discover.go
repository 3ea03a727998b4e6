package extension

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hyprrice/hyprsandbox/internal/manifest"
)

// entry is one discovered extension
type entry struct {
	meta  *manifest.Metadata
	src   []byte
	order int
}

// Discover enumerates the extension directory and replaces the discovered
// set. Files that fail to parse or verify are skipped and reported in the
// returned error; the rest are still discovered. Loaded sessions are kept.
func (m *Manager) Discover() ([]*manifest.Metadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, errs := m.scanDir()

	m.discovered = make(map[string]*entry, len(entries))
	metas := make([]*manifest.Metadata, 0, len(entries))
	for _, e := range entries {
		m.discovered[e.meta.Name] = e
		metas = append(metas, e.meta)
	}
	m.renumberSessions()

	m.logger.Info("extensions discovered",
		slog.String("dir", m.dir),
		slog.Int("count", len(metas)),
		slog.Int("skipped", len(errs)),
	)
	return metas, errors.Join(errs...)
}

// renumberSessions moves loaded sessions to their new discovery position.
// Sessions whose file is gone keep their relative order after the rest.
func (m *Manager) renumberSessions() {
	var orphans []string
	for name, l := range m.sessions {
		if e, ok := m.discovered[name]; ok {
			l.order = e.order
			continue
		}
		orphans = append(orphans, name)
	}
	sort.Slice(orphans, func(i, j int) bool {
		a, b := m.sessions[orphans[i]], m.sessions[orphans[j]]
		if a.order != b.order {
			return a.order < b.order
		}
		return orphans[i] < orphans[j]
	})
	for i, name := range orphans {
		m.sessions[name].order = len(m.discovered) + i
	}
}

// scanDir reads every candidate file in name order
func (m *Manager) scanDir() ([]*entry, []error) {
	dirEntries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, []error{fmt.Errorf("failed to read extension directory: %w", err)}
	}

	var (
		found []*entry
		errs  []error
		names = make(map[string]string)
	)
	for _, de := range dirEntries {
		if de.IsDir() || !isCandidate(de.Name()) {
			continue
		}
		if m.maxExtensions > 0 && len(found) >= m.maxExtensions {
			errs = append(errs, fmt.Errorf("%w: limit is %d, ignoring %s and later files",
				ErrTooManyExtensions, m.maxExtensions, de.Name()))
			break
		}

		path := filepath.Join(m.dir, de.Name())
		e, err := m.readEntry(path)
		if err != nil {
			m.logger.Warn("skipping extension", slog.String("path", path), slog.String("error", err.Error()))
			errs = append(errs, err)
			continue
		}
		if prev, dup := names[e.meta.Name]; dup {
			err := fmt.Errorf("%s: extension %q is already defined by %s", de.Name(), e.meta.Name, prev)
			m.logger.Warn("skipping extension", slog.String("path", path), slog.String("error", err.Error()))
			errs = append(errs, err)
			continue
		}
		names[e.meta.Name] = de.Name()
		e.order = len(found)
		found = append(found, e)
	}
	return found, errs
}

// readEntry loads one file and checks its pinned digest
func (m *Manager) readEntry(path string) (*entry, error) {
	meta, src, err := manifest.Load(path)
	if err != nil {
		return nil, err
	}
	if pinned, ok := m.pinned[meta.Name]; ok {
		if err := manifest.ValidateDigest(src, pinned); err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}
	return &entry{meta: meta, src: src}, nil
}

// isCandidate reports whether a file name is an extension source
func isCandidate(name string) bool {
	if !strings.HasSuffix(name, manifest.Extension) {
		return false
	}
	return !strings.HasPrefix(name, "_") && !strings.HasPrefix(name, ".")
}
