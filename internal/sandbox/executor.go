package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/google/uuid"
	"go.starlark.net/starlark"

	"github.com/hyprrice/hyprsandbox/internal/audit"
	"github.com/hyprrice/hyprsandbox/internal/event"
	"github.com/hyprrice/hyprsandbox/internal/executor"
	"github.com/hyprrice/hyprsandbox/internal/limiter"
	"github.com/hyprrice/hyprsandbox/internal/manifest"
	"github.com/hyprrice/hyprsandbox/internal/metrics"
	"github.com/hyprrice/hyprsandbox/internal/policy"
	"github.com/hyprrice/hyprsandbox/internal/scanner"
)

// Options wires an Executor. Policy, Scanner and Limiter are required.
type Options struct {
	Policy  *policy.Policy
	Scanner *scanner.Scanner
	Limiter *limiter.Limiter

	// Runner serves host.run; nil disables it at every level
	Runner executor.Runner
	// HostConfig is exposed read-only through host.config
	HostConfig map[string]string
	// OnUIUpdate receives host.request_ui_update calls
	OnUIUpdate func(extension, component string)
	// Audit receives load, violation and unload records
	Audit audit.Sink
	// NewProbe creates the resource probe of each session
	NewProbe func() CallProbe
}

// Executor loads extensions into restricted interpreter sessions and
// invokes them under a wall-clock timeout
type Executor struct {
	policy     *policy.Policy
	scanner    *scanner.Scanner
	limiter    *limiter.Limiter
	runner     executor.Runner
	hostValues map[string]string
	onUIUpdate func(extension, component string)
	audit      audit.Sink
	newProbe   func() CallProbe
	allowed    map[string]bool
	denied     map[string]bool
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewExecutor creates an executor from opts
func NewExecutor(opts Options) (*Executor, error) {
	if opts.Policy == nil {
		return nil, fmt.Errorf("policy cannot be nil")
	}
	if opts.Scanner == nil {
		return nil, fmt.Errorf("scanner cannot be nil")
	}
	if opts.Limiter == nil {
		return nil, fmt.Errorf("limiter cannot be nil")
	}

	e := &Executor{
		policy:     opts.Policy,
		scanner:    opts.Scanner,
		limiter:    opts.Limiter,
		runner:     opts.Runner,
		hostValues: make(map[string]string, len(opts.HostConfig)),
		onUIUpdate: opts.OnUIUpdate,
		audit:      opts.Audit,
		newProbe:   opts.NewProbe,
		allowed:    make(map[string]bool),
		denied:     make(map[string]bool),
		logger:     slog.Default(),
	}
	for k, v := range opts.HostConfig {
		e.hostValues[k] = v
	}
	for _, m := range opts.Policy.AllowedModules {
		e.allowed[m] = true
	}
	for _, m := range opts.Policy.DeniedModules {
		e.denied[m] = true
	}
	if e.audit == nil {
		e.audit = audit.Discard
	}
	if e.newProbe == nil {
		e.newProbe = func() CallProbe { return limiter.NewRuntimeProbe() }
	}
	return e, nil
}

// SetLogger sets the logger
func (e *Executor) SetLogger(logger *slog.Logger) {
	e.logger = logger
}

// SetMetrics attaches metrics collectors
func (e *Executor) SetMetrics(m *metrics.Metrics) {
	e.metrics = m
}

// LevelOf returns the effective level of meta
func (e *Executor) LevelOf(meta *manifest.Metadata) policy.Level {
	if meta != nil && meta.SecurityLevel != "" {
		return meta.SecurityLevel
	}
	return e.policy.DefaultLevel
}

// Scan runs the static scan for meta's level without executing anything
func (e *Executor) Scan(meta *manifest.Metadata, src []byte) scanner.Outcome {
	return e.scanner.Scan(scanFilename(meta), src, policy.CapabilitiesFor(e.LevelOf(meta)))
}

// LoadAndRun scans src, executes it in a fresh namespace and calls
// entrypoint. An empty entrypoint selects the one named in meta. The
// returned session stays monitored until Teardown.
func (e *Executor) LoadAndRun(ctx context.Context, src []byte, meta *manifest.Metadata, entrypoint string) (*Session, error) {
	if meta == nil {
		return nil, fmt.Errorf("metadata cannot be nil")
	}
	if entrypoint == "" {
		entrypoint = meta.Entrypoint
	}
	if entrypoint == "" {
		entrypoint = manifest.DefaultEntrypoint
	}

	s := newSession(uuid.NewString(), meta)
	s.level = e.LevelOf(meta)
	s.caps = policy.CapabilitiesFor(s.level)

	logger := e.logger.With(
		slog.String("extension", meta.Name),
		slog.String("session", s.id),
		slog.String("level", string(s.level)),
	)

	s.setPhase(PhaseScanning)
	outcome := e.scanner.Scan(scanFilename(meta), src, s.caps)
	s.outcome = outcome
	if !outcome.Accepted {
		s.setPhase(PhaseRejected)
		s.setState(StateUnloaded)
		logger.Warn("extension rejected by static scan", slog.String("reason", outcome.RejectedReason))
		e.recordLoad(meta, audit.OutcomeRejected, outcome.RejectedReason)
		return nil, &LoadError{
			Kind:      SecurityRejected,
			Extension: meta.Name,
			Phase:     PhaseRejected,
			Findings:  outcome.Findings,
		}
	}
	for _, f := range outcome.Warnings() {
		logger.Info("scan warning", slog.String("finding", f.String()))
	}
	s.setPhase(PhaseApproved)

	limits, err := e.policy.ApplyLimits(s.level, meta.Limits)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve limits: %w", err)
	}
	s.limits = limits

	predeclared := e.namespace(s)
	s.setPhase(PhaseNamespaceBuilt)

	s.probe = e.newProbe()
	s.monitor = e.limiter.StartMonitoring(s.id, limits, s.probe, func(v limiter.Violation) {
		e.violate(s, ViolationResourceLimit, v.Detail(), PhaseViolated)
	})
	s.setPhase(PhaseExecuting)
	logger.Debug("executing extension",
		slog.Duration("wall_clock", limits.MaxWallClock),
		slog.Int64("max_memory", limits.MaxMemoryBytes),
	)

	start := time.Now()
	value, err := e.call(ctx, s, func(thread *starlark.Thread) (starlark.Value, error) {
		globals, err := starlark.ExecFileOptions(scanner.FileOptions(), thread, scanFilename(meta), src, predeclared)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.globals = globals
		s.mu.Unlock()

		fn, ok := globals[entrypoint]
		if !ok {
			return nil, fmt.Errorf("entrypoint %q is not defined", entrypoint)
		}
		if _, ok := fn.(starlark.Callable); !ok {
			return nil, fmt.Errorf("entrypoint %q is a %s, not a function", entrypoint, fn.Type())
		}
		return starlark.Call(thread, fn, nil, nil)
	})
	e.metrics.ObserveInvocation("load", time.Since(start))

	if err == nil {
		switch v := value.(type) {
		case starlark.NoneType:
		case starlark.Callable:
			s.mu.Lock()
			s.handler = v
			s.mu.Unlock()
		default:
			err = e.fail(s, fmt.Sprintf("entrypoint %q returned %s, want None or a function", entrypoint, value.Type()))
		}
	}
	if err != nil {
		e.limiter.StopMonitoring(s.monitor)
		s.release()
		detail := err.Error()
		logger.Warn("extension failed to load", slog.String("error", detail))
		e.recordLoad(meta, audit.OutcomeRejected, detail)
		var le *LoadError
		if errors.As(err, &le) {
			le.Phase = s.Phase()
		}
		return nil, err
	}

	s.mu.Lock()
	s.phase = PhaseCompleted
	s.state = StateLoaded
	s.mu.Unlock()
	s.loadedAt = time.Now()

	logger.Info("extension loaded", slog.Bool("handler", s.HasHandler()))
	e.recordLoad(meta, audit.OutcomeLoaded, "")
	return s, nil
}

// Invoke delivers ev to the handler of s under the same wall-clock limit
// as the load. A session without handler ignores events.
func (e *Executor) Invoke(ctx context.Context, s *Session, ev event.Event) error {
	if s.Terminated() {
		return fmt.Errorf("%w: extension %q is %s", ErrSessionTerminated, s.Name(), s.State())
	}

	s.mu.Lock()
	handler := s.handler
	s.mu.Unlock()
	if handler == nil {
		return nil
	}

	arg := eventValue(event.Wrap(ev))
	start := time.Now()
	_, err := e.call(ctx, s, func(thread *starlark.Thread) (starlark.Value, error) {
		return starlark.Call(thread, handler, starlark.Tuple{arg}, nil)
	})
	e.metrics.ObserveInvocation("dispatch", time.Since(start))
	return err
}

// Teardown stops monitoring and discards the namespace of s. Safe to call
// more than once.
func (e *Executor) Teardown(s *Session) {
	if s == nil {
		return
	}

	s.mu.Lock()
	switch s.state {
	case StateUnloaded, StateUnloadedAfterViolation:
		s.mu.Unlock()
		return
	case StateViolated:
		s.state = StateUnloadedAfterViolation
	default:
		s.state = StateUnloaded
	}
	state := s.state
	cancel := s.cancelCall
	s.cancelCall = nil
	s.mu.Unlock()

	// an unloaded session is terminal too
	s.termOnce.Do(func() { close(s.terminated) })
	if cancel != nil {
		cancel("extension unloaded")
	}
	e.limiter.StopMonitoring(s.monitor)
	s.release()

	e.logger.Info("extension unloaded",
		slog.String("extension", s.Name()),
		slog.String("session", s.id),
		slog.String("state", string(state)),
	)
	if err := audit.RecordUnload(e.audit, s.Name(), string(state)); err != nil {
		e.logger.Warn("failed to write audit record", slog.String("error", err.Error()))
	}
}

// call runs fn on a dedicated goroutine locked to its own OS thread and
// waits for the first of: completion, wall-clock timeout, resource
// violation or ctx cancellation. On anything but completion the
// interpreter is cancelled and the goroutine is abandoned; it stops at its
// next step.
func (e *Executor) call(ctx context.Context, s *Session, fn func(*starlark.Thread) (starlark.Value, error)) (starlark.Value, error) {
	callCtx, cancelCtx := context.WithCancel(ctx)
	defer cancelCtx()

	thread := e.newThread(callCtx, s)
	cancel := func(reason string) {
		thread.Cancel(reason)
		cancelCtx()
	}
	if !s.beginCall(cancel) {
		return nil, fmt.Errorf("%w: extension %q is %s", ErrSessionTerminated, s.Name(), s.State())
	}

	type result struct {
		value starlark.Value
		err   error
	}
	done := make(chan result, 1)

	go func() {
		// The thread is never unlocked, so it exits with this goroutine
		// and its CPU time belongs to this call alone.
		runtime.LockOSThread()

		var res result
		defer func() { done <- res }()
		s.probe.Begin()
		defer s.probe.Finish()
		defer func() {
			if r := recover(); r != nil {
				res = result{err: fmt.Errorf("panic in interpreter: %v", r)}
			}
		}()

		res.value, res.err = fn(thread)
	}()

	timer := time.NewTimer(s.limits.MaxWallClock)
	defer timer.Stop()

	select {
	case res := <-done:
		if v := s.monitor.Check(); v != nil {
			// the violation callback already marked the session
			return nil, e.violationError(s, v.Detail())
		}
		if res.err != nil && ctx.Err() != nil {
			// host builtins observe the call context and may return first
			e.violate(s, ViolationCancelled, fmt.Sprintf("call abandoned: %v", ctx.Err()), PhaseViolated)
			return nil, fmt.Errorf("extension %q: %w", s.Name(), ctx.Err())
		}
		if res.err != nil {
			return nil, e.fail(s, errorDetail(res.err))
		}
		s.endCall()
		return res.value, nil

	case <-timer.C:
		detail := fmt.Sprintf("wall-clock limit of %s exceeded", s.limits.MaxWallClock)
		e.violate(s, ViolationTimeout, detail, PhaseTimedOut)
		return nil, &LoadError{Kind: Timeout, Extension: s.Name(), Detail: detail}

	case <-s.terminated:
		detail := "session terminated"
		if last := s.Violations(); len(last) > 0 {
			detail = last[len(last)-1].Detail
		}
		return nil, e.violationError(s, detail)

	case <-ctx.Done():
		detail := fmt.Sprintf("call abandoned: %v", ctx.Err())
		e.violate(s, ViolationCancelled, detail, PhaseViolated)
		return nil, fmt.Errorf("extension %q: %w", s.Name(), ctx.Err())
	}
}

// fail records an exception raised inside the namespace
func (e *Executor) fail(s *Session, detail string) error {
	e.violate(s, ViolationRuntimeException, detail, PhaseViolated)
	return &LoadError{Kind: ExecutionFailed, Extension: s.Name(), Detail: detail}
}

func (e *Executor) violationError(s *Session, detail string) error {
	return &LoadError{Kind: ResourceViolation, Extension: s.Name(), Detail: detail}
}

// violate terminates s and reports the first violation only
func (e *Executor) violate(s *Session, kind, detail string, phase Phase) {
	if !s.terminate(kind, detail, phase) {
		return
	}
	e.limiter.StopMonitoring(s.monitor)

	e.logger.Warn("sandbox violation",
		slog.String("extension", s.Name()),
		slog.String("session", s.id),
		slog.String("kind", kind),
		slog.String("detail", detail),
	)
	e.metrics.Violation(kind)
	if err := audit.RecordViolation(e.audit, s.Name(), kind, detail); err != nil {
		e.logger.Warn("failed to write audit record", slog.String("error", err.Error()))
	}
}

func (e *Executor) recordLoad(meta *manifest.Metadata, outcome, detail string) {
	e.metrics.Load(outcome)
	md := map[string]string{
		"version": meta.Version,
		"level":   string(e.LevelOf(meta)),
	}
	if meta.Digest != "" {
		md["digest"] = meta.Digest
	}
	if err := audit.RecordLoad(e.audit, meta.Name, outcome, detail, md); err != nil {
		e.logger.Warn("failed to write audit record", slog.String("error", err.Error()))
	}
}

// release drops the namespace so it can be collected
func (s *Session) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.globals = nil
	s.handler = nil
}

func errorDetail(err error) string {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return evalErr.Backtrace()
	}
	return err.Error()
}

func scanFilename(meta *manifest.Metadata) string {
	if meta != nil && meta.Path != "" {
		return meta.Path
	}
	if meta != nil {
		return meta.Name + manifest.Extension
	}
	return "extension" + manifest.Extension
}
