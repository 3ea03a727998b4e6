package sandbox

import (
	"sync"
	"time"

	"go.starlark.net/starlark"

	"github.com/hyprrice/hyprsandbox/internal/limiter"
	"github.com/hyprrice/hyprsandbox/internal/manifest"
	"github.com/hyprrice/hyprsandbox/internal/policy"
	"github.com/hyprrice/hyprsandbox/internal/scanner"
)

// State is the lifecycle state of a session
type State string

const (
	StateUnloaded               State = "unloaded"
	StateValidating             State = "validating"
	StateLoaded                 State = "loaded"
	StateRunning                State = "running"
	StateViolated               State = "violated"
	StateUnloadedAfterViolation State = "unloaded_after_violation"
)

// Phase is the step a load attempt reached
type Phase string

const (
	PhaseReceived       Phase = "received"
	PhaseScanning       Phase = "scanning"
	PhaseRejected       Phase = "rejected"
	PhaseApproved       Phase = "approved"
	PhaseNamespaceBuilt Phase = "namespace_built"
	PhaseExecuting      Phase = "executing"
	PhaseCompleted      Phase = "completed"
	PhaseViolated       Phase = "violated"
	PhaseTimedOut       Phase = "timed_out"
)

// Violation kinds recorded in a session log
const (
	ViolationRuntimeException = "RuntimeException"
	ViolationResourceLimit    = "ResourceLimitExceeded"
	ViolationTimeout          = "Timeout"
	ViolationCancelled        = "Cancelled"
)

// ViolationRecord is one entry of the append-only violation log
type ViolationRecord struct {
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Kind      string    `json:"kind" yaml:"kind"`
	Detail    string    `json:"detail" yaml:"detail"`
}

// CallProbe is a limiter probe told when each sandboxed call starts and
// ends. Begin runs on the goroutine executing the call.
type CallProbe interface {
	limiter.Probe
	Begin()
	Finish()
}

// Session is the runtime state of one loaded extension
type Session struct {
	id       string
	meta     *manifest.Metadata
	level    policy.Level
	caps     policy.Capabilities
	limits   policy.ResourceLimits
	outcome  scanner.Outcome
	loadedAt time.Time

	probe   CallProbe
	monitor *limiter.Handle

	mu         sync.Mutex
	state      State
	phase      Phase
	violations []ViolationRecord
	globals    starlark.StringDict
	handler    starlark.Callable
	cancelCall func(reason string)

	// closed once the session is terminal
	terminated chan struct{}
	termOnce   sync.Once
}

func newSession(id string, meta *manifest.Metadata) *Session {
	return &Session{
		id:         id,
		meta:       meta,
		state:      StateValidating,
		phase:      PhaseReceived,
		terminated: make(chan struct{}),
	}
}

// ID returns the unique id of this load attempt
func (s *Session) ID() string { return s.id }

// Name returns the extension id
func (s *Session) Name() string { return s.meta.Name }

// Metadata returns the extension metadata
func (s *Session) Metadata() *manifest.Metadata { return s.meta }

// Level returns the effective security level
func (s *Session) Level() policy.Level { return s.level }

// Limits returns the enforced limits
func (s *Session) Limits() policy.ResourceLimits { return s.limits }

// ScanOutcome returns the accepted scan, including its warnings
func (s *Session) ScanOutcome() scanner.Outcome { return s.outcome }

// LoadedAt returns when the entrypoint completed
func (s *Session) LoadedAt() time.Time { return s.loadedAt }

// State returns the lifecycle state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Phase returns the last step of the load attempt
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// HasHandler reports whether the entrypoint registered an event handler
func (s *Session) HasHandler() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handler != nil
}

// Usage returns the latest resource sample
func (s *Session) Usage() limiter.Usage {
	if s.monitor == nil {
		return limiter.Usage{}
	}
	return s.monitor.Usage()
}

// Violations returns a copy of the violation log
func (s *Session) Violations() []ViolationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ViolationRecord(nil), s.violations...)
}

// Terminated reports whether the session can no longer be invoked
func (s *Session) Terminated() bool {
	select {
	case <-s.terminated:
		return true
	default:
		return false
	}
}

func (s *Session) setPhase(p Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = p
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

// beginCall moves a loaded session to running and registers the cancel
// function of the call. It fails when the session is terminal.
func (s *Session) beginCall(cancel func(reason string)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Terminated() {
		return false
	}
	s.state = StateRunning
	s.cancelCall = cancel
	return true
}

// endCall returns a running session to loaded
func (s *Session) endCall() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelCall = nil
	if s.state == StateRunning {
		s.state = StateLoaded
	}
}

// terminate records a violation, marks the session violated and cancels
// the running call. Only the first call has an effect; it reports whether
// it was the one.
func (s *Session) terminate(kind, detail string, phase Phase) bool {
	first := false
	s.termOnce.Do(func() {
		first = true

		s.mu.Lock()
		s.violations = append(s.violations, ViolationRecord{
			Timestamp: time.Now().UTC(),
			Kind:      kind,
			Detail:    detail,
		})
		s.state = StateViolated
		if s.phase == PhaseExecuting {
			s.phase = phase
		}
		cancel := s.cancelCall
		s.cancelCall = nil
		s.mu.Unlock()

		close(s.terminated)
		if cancel != nil {
			cancel(detail)
		}
	})
	return first
}
