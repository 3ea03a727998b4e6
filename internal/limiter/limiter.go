// Package limiter polls the resource usage of a sandbox session and signals
// a violation as soon as one sample exceeds its limits.
package limiter

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hyprrice/hyprsandbox/internal/policy"
)

// DefaultInterval is the polling period used when none is configured
const DefaultInterval = 100 * time.Millisecond

// Usage is one resource sample of a session
type Usage struct {
	MemoryBytes     int64
	CPUTime         time.Duration
	FileDescriptors int
	SampledAt       time.Time
}

// Probe samples the usage of one session. Implementations must be safe to
// call from the monitor goroutine while the session executes elsewhere.
type Probe interface {
	Sample() (Usage, error)
}

// Resource names the limit that was exceeded
type Resource string

const (
	Memory          Resource = "memory"
	CPU             Resource = "cpu"
	FileDescriptors Resource = "file_descriptors"
)

// Violation describes the sample that broke a limit
type Violation struct {
	SessionID string
	Resource  Resource
	Observed  int64
	Limit     int64
	Usage     Usage
}

// Detail renders the violation for the audit log
func (v Violation) Detail() string {
	switch v.Resource {
	case CPU:
		return fmt.Sprintf("cpu time %s exceeds limit %s", time.Duration(v.Observed), time.Duration(v.Limit))
	case Memory:
		return fmt.Sprintf("memory %d bytes exceeds limit %d bytes", v.Observed, v.Limit)
	default:
		return fmt.Sprintf("%s %d exceeds limit %d", v.Resource, v.Observed, v.Limit)
	}
}

// Limiter starts one monitor goroutine per session
type Limiter struct {
	interval time.Duration
	logger   *slog.Logger
}

// New creates a limiter polling every interval. A non-positive interval
// selects DefaultInterval.
func New(interval time.Duration) *Limiter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Limiter{
		interval: interval,
		logger:   slog.Default(),
	}
}

// SetLogger sets the logger
func (l *Limiter) SetLogger(logger *slog.Logger) {
	l.logger = logger
}

// Interval returns the polling period
func (l *Limiter) Interval() time.Duration {
	return l.interval
}

// StartMonitoring samples probe immediately and then on every tick until
// the handle is stopped or a limit is exceeded. onViolation runs at most
// once, on the monitor goroutine, and must not block.
func (l *Limiter) StartMonitoring(sessionID string, limits policy.ResourceLimits, probe Probe, onViolation func(Violation)) *Handle {
	h := &Handle{
		sessionID:   sessionID,
		limits:      limits,
		probe:       probe,
		onViolation: onViolation,
		logger:      l.logger,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		checkReq:    make(chan chan *Violation),
	}

	l.logger.Debug("monitoring started",
		slog.String("session", sessionID),
		slog.Duration("interval", l.interval),
	)

	go h.run(l.interval)
	return h
}

// StopMonitoring stops the monitor of h. Safe to call more than once and
// after a violation already ended the loop.
func (l *Limiter) StopMonitoring(h *Handle) {
	if h == nil {
		return
	}
	h.Stop()
}

// Handle controls one monitor loop. The usage snapshot is written only by
// the monitor goroutine.
type Handle struct {
	sessionID   string
	limits      policy.ResourceLimits
	probe       Probe
	onViolation func(Violation)
	logger      *slog.Logger

	usage     atomic.Pointer[Usage]
	violation atomic.Pointer[Violation]

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	checkReq chan chan *Violation
}

// SessionID returns the monitored session
func (h *Handle) SessionID() string {
	return h.sessionID
}

// Usage returns the latest sample, or the zero Usage before the first one
func (h *Handle) Usage() Usage {
	if u := h.usage.Load(); u != nil {
		return *u
	}
	return Usage{}
}

// Violated reports whether a limit was exceeded
func (h *Handle) Violated() bool {
	return h.violation.Load() != nil
}

// Violation returns the recorded violation, if any
func (h *Handle) Violation() *Violation {
	return h.violation.Load()
}

// Done is closed when the monitor loop has exited
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Check takes a sample now, through the monitor goroutine, and returns the
// violation it found. After the loop ended it returns the recorded one.
func (h *Handle) Check() *Violation {
	reply := make(chan *Violation, 1)
	select {
	case h.checkReq <- reply:
	case <-h.done:
		return h.Violation()
	}

	select {
	case v := <-reply:
		return v
	case <-h.done:
		return h.Violation()
	}
}

// Stop ends the monitor loop without waiting for it
func (h *Handle) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
	})
}

func (h *Handle) run(interval time.Duration) {
	defer close(h.done)

	if h.sample() != nil {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			h.logger.Debug("monitoring stopped", slog.String("session", h.sessionID))
			return
		case <-ticker.C:
			if h.sample() != nil {
				return
			}
		case reply := <-h.checkReq:
			v := h.sample()
			reply <- v
			if v != nil {
				return
			}
		}
	}
}

// sample reads the probe once and returns a violation if a limit is broken
func (h *Handle) sample() *Violation {
	u, err := h.probe.Sample()
	if err != nil {
		h.logger.Debug("resource sample failed",
			slog.String("session", h.sessionID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if u.SampledAt.IsZero() {
		u.SampledAt = time.Now()
	}
	h.usage.Store(&u)

	v := exceeded(h.limits, u)
	if v == nil {
		return nil
	}
	v.SessionID = h.sessionID

	h.violation.Store(v)
	h.logger.Warn("resource limit exceeded",
		slog.String("session", h.sessionID),
		slog.String("resource", string(v.Resource)),
		slog.String("detail", v.Detail()),
	)
	if h.onViolation != nil {
		h.onViolation(*v)
	}
	return v
}

// exceeded compares u with limits. A zero limit is unlimited.
func exceeded(limits policy.ResourceLimits, u Usage) *Violation {
	switch {
	case limits.MaxMemoryBytes > 0 && u.MemoryBytes > limits.MaxMemoryBytes:
		return &Violation{Resource: Memory, Observed: u.MemoryBytes, Limit: limits.MaxMemoryBytes, Usage: u}
	case limits.MaxCPU > 0 && u.CPUTime > limits.MaxCPU:
		return &Violation{Resource: CPU, Observed: int64(u.CPUTime), Limit: int64(limits.MaxCPU), Usage: u}
	case limits.MaxFileDescriptors > 0 && u.FileDescriptors > limits.MaxFileDescriptors:
		return &Violation{
			Resource: FileDescriptors,
			Observed: int64(u.FileDescriptors),
			Limit:    int64(limits.MaxFileDescriptors),
			Usage:    u,
		}
	}
	return nil
}
