package extension

import (
	"errors"

	"github.com/hyprrice/hyprsandbox/internal/manifest"
)

var (
	// ErrAlreadyLoaded is returned when loading an extension that has a session
	ErrAlreadyLoaded = errors.New("extension already loaded")
	// ErrNotFound is returned for a name discovery never produced
	ErrNotFound = errors.New("extension not found")
	// ErrNotLoaded is returned when an operation needs a live session
	ErrNotLoaded = errors.New("extension not loaded")
	// ErrTooManyExtensions is returned when discovery exceeds max_extensions
	ErrTooManyExtensions = errors.New("too many extensions")
	// ErrDependency is returned when a declared dependency is not satisfied
	ErrDependency = errors.New("dependency not satisfied")
	// ErrDigestMismatch is returned when a source does not match its pinned digest
	ErrDigestMismatch = manifest.ErrDigestMismatch
)
