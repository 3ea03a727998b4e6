package sandbox

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hyprrice/hyprsandbox/internal/scanner"
)

// ErrorKind classifies a failed load or invocation
type ErrorKind string

const (
	SecurityRejected  ErrorKind = "SecurityRejected"
	Timeout           ErrorKind = "Timeout"
	ExecutionFailed   ErrorKind = "ExecutionFailed"
	ResourceViolation ErrorKind = "ResourceViolation"
)

// Sentinels for errors.Is
var (
	ErrSecurityRejected  = errors.New("security rejected")
	ErrTimeout           = errors.New("wall-clock timeout")
	ErrExecutionFailed   = errors.New("execution failed")
	ErrResourceViolation = errors.New("resource violation")

	// ErrSessionTerminated is returned when a session that violated a
	// limit, timed out or was unloaded is invoked again.
	ErrSessionTerminated = errors.New("session terminated")
)

// LoadError is returned by LoadAndRun and Invoke. A load that fails with
// any kind leaves no usable session behind.
type LoadError struct {
	Kind      ErrorKind
	Extension string
	Phase     Phase
	Findings  []scanner.Finding
	Detail    string
	Err       error
}

func (e *LoadError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: extension %q", e.Kind, e.Extension)
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Kind == SecurityRejected {
		for _, f := range e.Findings {
			if f.Severity == scanner.SeverityBlock {
				fmt.Fprintf(&b, "; %s", f)
			}
		}
	}
	return b.String()
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error kind
func (e *LoadError) Is(target error) bool {
	switch target {
	case ErrSecurityRejected:
		return e.Kind == SecurityRejected
	case ErrTimeout:
		return e.Kind == Timeout
	case ErrExecutionFailed:
		return e.Kind == ExecutionFailed
	case ErrResourceViolation:
		return e.Kind == ResourceViolation
	}
	return false
}

// KindOf returns the kind of a load error, or "" for other errors
func KindOf(err error) ErrorKind {
	var le *LoadError
	if errors.As(err, &le) {
		return le.Kind
	}
	return ""
}
