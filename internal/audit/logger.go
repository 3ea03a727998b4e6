package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Event types
const (
	TypeCommand   = "command"
	TypeViolation = "violation"
	TypeLoad      = "load"
	TypeUnload    = "unload"
)

// Outcomes
const (
	OutcomeAllowed   = "allowed"
	OutcomeDenied    = "denied"
	OutcomeLoaded    = "loaded"
	OutcomeRejected  = "rejected"
	OutcomeViolation = "violation"
	OutcomeUnloaded  = "unloaded"
)

// Event is one audit record. Records are appended in order and never rewritten.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	Type      string            `json:"type"`
	SubjectID string            `json:"subject_id"`
	Outcome   string            `json:"outcome"`
	Detail    string            `json:"detail,omitempty"`
	Kind      string            `json:"kind,omitempty"`
	Tokens    []string          `json:"tokens,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Sink receives audit events
type Sink interface {
	Log(event Event) error
}

// Logger handles audit logging to a file in JSON lines format
type Logger struct {
	logFile string
	file    *os.File
	lock    sync.Mutex
	logger  *slog.Logger
}

// NewLogger creates a new audit logger
func NewLogger(logFile string) (*Logger, error) {
	if logFile == "" {
		return nil, fmt.Errorf("log file path cannot be empty")
	}

	// Ensure log directory exists
	logDir := filepath.Dir(logFile)
	if err := os.MkdirAll(logDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	// Open log file in append mode
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return &Logger{
		logFile: logFile,
		file:    file,
		logger:  slog.Default(),
	}, nil
}

// SetLogger sets the logger used for write warnings
func (l *Logger) SetLogger(logger *slog.Logger) {
	l.logger = logger
}

// Path returns the audit log file path
func (l *Logger) Path() string {
	return l.logFile
}

// Log writes an audit event to the log file
func (l *Logger) Log(event Event) error {
	l.lock.Lock()
	defer l.lock.Unlock()

	if l.file == nil {
		return fmt.Errorf("audit log %s is closed", l.logFile)
	}

	// Set timestamp if not already set
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	// Marshal to JSON
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	// Write to file with newline
	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}

	// Sync to ensure data is written to disk
	if err := l.file.Sync(); err != nil {
		l.logger.Warn("failed to sync audit log file", slog.String("error", err.Error()))
	}

	return nil
}

// Close closes the audit logger file
func (l *Logger) Close() error {
	l.lock.Lock()
	defer l.lock.Unlock()

	if l.file != nil {
		err := l.file.Close()
		l.file = nil // Mark as closed
		return err
	}
	return nil
}

// Memory keeps audit events in memory. Useful for hosts that persist the
// log themselves and for tests.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

// NewMemory creates an empty in-memory sink
func NewMemory() *Memory {
	return &Memory{}
}

// Log appends the event
func (m *Memory) Log(event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()
	return nil
}

// Events returns a copy of the recorded events in append order
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Discard drops every event
var Discard Sink = discard{}

type discard struct{}

func (discard) Log(Event) error { return nil }
