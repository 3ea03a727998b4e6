// Package validate checks untrusted strings before they reach a file
// operation or an external process. Every check returns a typed error and
// never rewrites input silently.
package validate

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a validation failure
type ErrorKind string

const (
	PathTraversal ErrorKind = "PathTraversal"
	InvalidFormat ErrorKind = "InvalidFormat"
	TooLarge      ErrorKind = "TooLarge"
)

// Sentinels for errors.Is
var (
	ErrPathTraversal = errors.New("path traversal")
	ErrInvalidFormat = errors.New("invalid format")
	ErrTooLarge      = errors.New("too large")
)

// ValidationError is returned by every validator in this package
type ValidationError struct {
	Kind   ErrorKind
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s: %q", e.Kind, e.Value)
	}
	return fmt.Sprintf("%s: %q: %s", e.Kind, e.Value, e.Reason)
}

// Is matches the sentinel for the error kind
func (e *ValidationError) Is(target error) bool {
	switch target {
	case ErrPathTraversal:
		return e.Kind == PathTraversal
	case ErrInvalidFormat:
		return e.Kind == InvalidFormat
	case ErrTooLarge:
		return e.Kind == TooLarge
	}
	return false
}

func newError(kind ErrorKind, value, reason string) *ValidationError {
	return &ValidationError{Kind: kind, Value: value, Reason: reason}
}

// KindOf returns the kind of a validation error, or "" for other errors
func KindOf(err error) ErrorKind {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Kind
	}
	return ""
}
