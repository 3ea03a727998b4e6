// Package extension discovers extension sources, loads them through the
// sandbox executor and dispatches host events to the loaded sessions.
package extension

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/hyprrice/hyprsandbox/internal/event"
	"github.com/hyprrice/hyprsandbox/internal/limiter"
	"github.com/hyprrice/hyprsandbox/internal/manifest"
	"github.com/hyprrice/hyprsandbox/internal/metrics"
	"github.com/hyprrice/hyprsandbox/internal/policy"
	"github.com/hyprrice/hyprsandbox/internal/sandbox"
	"github.com/hyprrice/hyprsandbox/internal/scanner"
)

// Dispatch outcomes
const (
	OutcomeDelivered = "delivered"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

// Options configures a Manager
type Options struct {
	// Dir is the directory searched for *.star files
	Dir string
	// MaxExtensions caps discovery; zero means unlimited
	MaxExtensions int
	// PinnedDigests maps extension names to their expected sha256 digest
	PinnedDigests map[string]string
	Executor      *sandbox.Executor
}

// Info is a snapshot of one discovered or loaded extension
type Info struct {
	Name          string                    `json:"name" yaml:"name"`
	Version       string                    `json:"version" yaml:"version"`
	Author        string                    `json:"author,omitempty" yaml:"author,omitempty"`
	Description   string                    `json:"description,omitempty" yaml:"description,omitempty"`
	SecurityLevel policy.Level              `json:"security_level" yaml:"security_level"`
	Depends       []string                  `json:"depends,omitempty" yaml:"depends,omitempty"`
	Path          string                    `json:"path,omitempty" yaml:"path,omitempty"`
	Digest        string                    `json:"digest,omitempty" yaml:"digest,omitempty"`
	State         sandbox.State             `json:"state" yaml:"state"`
	Enabled       bool                      `json:"enabled" yaml:"enabled"`
	Handler       bool                      `json:"handler" yaml:"handler"`
	Usage         *limiter.Usage            `json:"usage,omitempty" yaml:"usage,omitempty"`
	Violations    []sandbox.ViolationRecord `json:"violations,omitempty" yaml:"violations,omitempty"`
}

// Delivery is the result of dispatching one event to one extension
type Delivery struct {
	Extension string `json:"extension" yaml:"extension"`
	Outcome   string `json:"outcome" yaml:"outcome"`
	Error     string `json:"error,omitempty" yaml:"error,omitempty"`
}

// loaded is a live session with its dispatch position
type loaded struct {
	session *sandbox.Session
	order   int
	enabled bool
}

// Manager owns the extension_id to session map. Its methods are safe for
// concurrent use but run one at a time, so dispatch is strictly sequential.
// The executor's host callbacks must not call back into the Manager.
type Manager struct {
	dir           string
	maxExtensions int
	pinned        map[string]string
	exec          *sandbox.Executor

	mu         sync.Mutex
	discovered map[string]*entry
	sessions   map[string]*loaded

	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewManager creates a manager. Nothing is discovered until Discover.
func NewManager(opts Options) (*Manager, error) {
	if opts.Executor == nil {
		return nil, fmt.Errorf("executor cannot be nil")
	}
	if opts.Dir == "" {
		return nil, fmt.Errorf("extension directory cannot be empty")
	}

	pinned := make(map[string]string, len(opts.PinnedDigests))
	for name, digest := range opts.PinnedDigests {
		pinned[name] = digest
	}
	return &Manager{
		dir:           opts.Dir,
		maxExtensions: opts.MaxExtensions,
		pinned:        pinned,
		exec:          opts.Executor,
		discovered:    make(map[string]*entry),
		sessions:      make(map[string]*loaded),
		logger:        slog.Default(),
	}, nil
}

// SetLogger sets the logger
func (m *Manager) SetLogger(logger *slog.Logger) {
	m.logger = logger
}

// SetMetrics attaches metrics collectors
func (m *Manager) SetMetrics(mt *metrics.Metrics) {
	m.metrics = mt
}

// Dir returns the extension directory
func (m *Manager) Dir() string {
	return m.dir
}

// Load loads one discovered extension and delivers on_startup to it
func (m *Manager) Load(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load(ctx, name)
}

// LoadAll loads every discovered extension that is not loaded yet, in
// dependency order. A failing extension does not stop the others; the
// names that loaded are returned with the joined failures.
func (m *Manager) LoadAll(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pending := make([]*entry, 0, len(m.discovered))
	for name, e := range m.discovered {
		if _, ok := m.sessions[name]; !ok {
			pending = append(pending, e)
		}
	}

	var (
		names []string
		errs  []error
	)
	for _, e := range loadOrder(pending) {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := m.load(ctx, e.meta.Name); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.meta.Name, err))
			continue
		}
		names = append(names, e.meta.Name)
	}
	return names, errors.Join(errs...)
}

func (m *Manager) load(ctx context.Context, name string) error {
	e, ok := m.discovered[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if _, ok := m.sessions[name]; ok {
		return fmt.Errorf("%w: %s (unload it first)", ErrAlreadyLoaded, name)
	}
	if err := m.checkDependencies(e.meta); err != nil {
		m.logger.Warn("extension dependencies not satisfied",
			slog.String("extension", name),
			slog.String("error", err.Error()),
		)
		return err
	}

	s, err := m.exec.LoadAndRun(ctx, e.src, e.meta, "")
	if err != nil {
		return err
	}
	m.sessions[name] = &loaded{session: s, order: e.order, enabled: true}
	m.metrics.SetLoaded(len(m.sessions))

	if err := m.exec.Invoke(ctx, s, event.Startup{}); err != nil {
		m.logger.Warn("on_startup failed",
			slog.String("extension", name),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// checkDependencies requires every declared dependency to be loaded at a
// satisfying version
func (m *Manager) checkDependencies(meta *manifest.Metadata) error {
	for _, dep := range meta.Depends {
		l, ok := m.sessions[dep.Name]
		if !ok || l.session.Terminated() {
			return fmt.Errorf("%w: %s requires %s, which is not loaded", ErrDependency, meta.Name, dep)
		}
		v := l.session.Metadata().SemVersion()
		if v == nil || !dep.Allows(v) {
			return fmt.Errorf("%w: %s requires %s, loaded version is %s",
				ErrDependency, meta.Name, dep, l.session.Metadata().Version)
		}
	}
	return nil
}

// Enable resumes event delivery to a loaded extension
func (m *Manager) Enable(name string) error {
	return m.setEnabled(name, true)
}

// Disable stops event delivery to a loaded extension without unloading it
func (m *Manager) Disable(name string) error {
	return m.setEnabled(name, false)
}

func (m *Manager) setEnabled(name string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.sessions[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotLoaded, name)
	}
	if l.enabled != enabled {
		l.enabled = enabled
		m.logger.Info("extension toggled", slog.String("extension", name), slog.Bool("enabled", enabled))
	}
	return nil
}

// Unload delivers on_shutdown on a best-effort basis and tears the session
// down. Unloading an extension that is not loaded is a no-op.
func (m *Manager) Unload(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unload(ctx, name)
	return nil
}

func (m *Manager) unload(ctx context.Context, name string) {
	l, ok := m.sessions[name]
	if !ok {
		return
	}
	if !l.session.Terminated() {
		if err := m.exec.Invoke(ctx, l.session, event.Shutdown{}); err != nil {
			m.logger.Warn("on_shutdown failed",
				slog.String("extension", name),
				slog.String("error", err.Error()),
			)
		}
	}
	m.exec.Teardown(l.session)
	delete(m.sessions, name)
	m.metrics.SetLoaded(len(m.sessions))
}

// Reload unloads name, reads its file again and loads it
func (m *Manager) Reload(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.discovered[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	m.unload(ctx, name)

	fresh, err := m.readEntry(e.meta.Path)
	if err != nil {
		delete(m.discovered, name)
		return err
	}
	if fresh.meta.Name != name {
		delete(m.discovered, name)
		return fmt.Errorf("%s: extension renamed to %q, run discovery again", e.meta.Path, fresh.meta.Name)
	}
	fresh.order = e.order
	m.discovered[name] = fresh
	return m.load(ctx, name)
}

// Dispatch delivers ev to every loaded, enabled extension in discovery
// order, one at a time. A failing extension is recorded and does not stop
// delivery to the rest; violated sessions are skipped.
func (m *Manager) Dispatch(ctx context.Context, ev event.Event) []Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Delivery
	for _, name := range m.dispatchOrder() {
		l := m.sessions[name]
		d := Delivery{Extension: name}

		switch {
		case !l.enabled:
			m.logger.Debug("extension disabled, skipping event",
				slog.String("extension", name),
				slog.String("event", string(ev.Kind())),
			)
			continue
		case l.session.Terminated():
			m.logger.Warn("extension is not running, skipping event",
				slog.String("extension", name),
				slog.String("state", string(l.session.State())),
				slog.String("event", string(ev.Kind())),
			)
			d.Outcome = OutcomeSkipped
		default:
			if err := m.exec.Invoke(ctx, l.session, ev); err != nil {
				m.logger.Warn("event handler failed",
					slog.String("extension", name),
					slog.String("event", string(ev.Kind())),
					slog.String("error", err.Error()),
				)
				d.Outcome = OutcomeFailed
				d.Error = err.Error()
			} else {
				d.Outcome = OutcomeDelivered
			}
		}

		m.metrics.Dispatch(d.Outcome)
		out = append(out, d)
	}
	return out
}

func (m *Manager) dispatchOrder() []string {
	names := make([]string, 0, len(m.sessions))
	for name := range m.sessions {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := m.sessions[names[i]].order, m.sessions[names[j]].order
		if a != b {
			return a < b
		}
		return names[i] < names[j]
	})
	return names
}

// Scan runs the static scan of a discovered extension without loading it
func (m *Manager) Scan(name string) (scanner.Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.discovered[name]
	if !ok {
		return scanner.Outcome{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return m.exec.Scan(e.meta, e.src), nil
}

// List returns every discovered or loaded extension in discovery order
func (m *Manager) List() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	type item struct {
		order int
		info  Info
	}
	items := make([]item, 0, len(m.discovered))
	for name, e := range m.discovered {
		items = append(items, item{order: e.order, info: m.info(name)})
	}
	for name, l := range m.sessions {
		if _, ok := m.discovered[name]; !ok {
			items = append(items, item{order: l.order, info: m.info(name)})
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].order != items[j].order {
			return items[i].order < items[j].order
		}
		return items[i].info.Name < items[j].info.Name
	})

	out := make([]Info, len(items))
	for i, it := range items {
		out[i] = it.info
	}
	return out
}

// Info returns the snapshot of one extension
func (m *Manager) Info(name string) (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, discovered := m.discovered[name]
	_, isLoaded := m.sessions[name]
	if !discovered && !isLoaded {
		return Info{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return m.info(name), nil
}

func (m *Manager) info(name string) Info {
	var meta *manifest.Metadata
	l, isLoaded := m.sessions[name]
	if isLoaded {
		meta = l.session.Metadata()
	} else {
		meta = m.discovered[name].meta
	}

	info := Info{
		Name:          meta.Name,
		Version:       meta.Version,
		Author:        meta.Author,
		Description:   meta.Description,
		SecurityLevel: m.exec.LevelOf(meta),
		Path:          meta.Path,
		Digest:        meta.Digest,
		State:         sandbox.StateUnloaded,
	}
	for _, dep := range meta.Depends {
		info.Depends = append(info.Depends, dep.String())
	}
	if isLoaded {
		usage := l.session.Usage()
		info.State = l.session.State()
		info.Enabled = l.enabled
		info.Handler = l.session.HasHandler()
		info.Usage = &usage
		info.Violations = l.session.Violations()
	}
	return info
}

// Loaded returns the names of loaded extensions in discovery order
func (m *Manager) Loaded() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dispatchOrder()
}

// Close unloads every extension in reverse discovery order
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := m.dispatchOrder()
	for i := len(names) - 1; i >= 0; i-- {
		m.unload(ctx, names[i])
	}
}
