package command

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a rejected command
type ErrorKind string

const (
	CommandNotAllowed        ErrorKind = "CommandNotAllowed"
	InjectionPatternDetected ErrorKind = "InjectionPatternDetected"
)

// Sentinels for errors.Is
var (
	ErrCommandNotAllowed = errors.New("command not allowed")
	ErrInjection         = errors.New("injection pattern detected")
)

// SecurityError is returned for every rejected command. It is never retried.
type SecurityError struct {
	Kind   ErrorKind
	Token  string
	Reason string
}

func (e *SecurityError) Error() string {
	return fmt.Sprintf("%s: %s (token %q)", e.Kind, e.Reason, e.Token)
}

// Is matches the sentinel for the error kind
func (e *SecurityError) Is(target error) bool {
	switch target {
	case ErrCommandNotAllowed:
		return e.Kind == CommandNotAllowed
	case ErrInjection:
		return e.Kind == InjectionPatternDetected
	}
	return false
}
