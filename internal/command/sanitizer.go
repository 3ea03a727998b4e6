// Package command guards every external command invocation. Sanitization
// is rejection based: tokens are returned unchanged or refused, never fixed.
package command

import (
	"log/slog"
	"strings"

	"github.com/hyprrice/hyprsandbox/internal/audit"
	"github.com/hyprrice/hyprsandbox/internal/metrics"
)

// Set is a set of allowed tokens
type Set map[string]struct{}

// NewSet builds a Set from items
func NewSet(items ...string) Set {
	s := make(Set, len(items))
	for _, item := range items {
		s[item] = struct{}{}
	}
	return s
}

// Has reports whether item is in the set
func (s Set) Has(item string) bool {
	_, ok := s[item]
	return ok
}

type injectionPattern struct {
	needle string
	reason string
}

// Matched against the lower-cased token.
var injectionPatterns = []injectionPattern{
	{";", "command separator"},
	{"&", "background or and-list operator"},
	{"|", "pipe operator"},
	{"`", "command substitution"},
	{"$", "variable expansion"},
	{">", "output redirection"},
	{"<", "input redirection"},
	{"\n", "newline"},
	{"\r", "carriage return"},
	{"\x00", "NUL byte"},
	{"../", "path traversal"},
	{`..\`, "path traversal"},
	{"eval(", "eval call"},
	{"exec(", "exec call"},
}

// Sanitizer checks command tokens and records every decision in the audit log
type Sanitizer struct {
	sink     audit.Sink
	subVerbs map[string]Set
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewSanitizer creates a sanitizer writing to sink. A nil sink discards records.
func NewSanitizer(sink audit.Sink) *Sanitizer {
	if sink == nil {
		sink = audit.Discard
	}
	return &Sanitizer{
		sink:     sink,
		subVerbs: make(map[string]Set),
		logger:   slog.Default(),
	}
}

// SetLogger sets the logger
func (s *Sanitizer) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// SetMetrics attaches metrics collectors
func (s *Sanitizer) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// RestrictSubVerbs requires the token after subcommand to be one of verbs,
// e.g. only some dispatchers are accepted after "dispatch".
func (s *Sanitizer) RestrictSubVerbs(subcommand string, verbs ...string) {
	s.subVerbs[subcommand] = NewSet(verbs...)
}

// Sanitize returns tokens unchanged when the command is allowed. Injection
// patterns are checked before the allow-list so a token such as "reload;"
// is reported as an injection attempt.
func (s *Sanitizer) Sanitize(tokens []string, allowed Set) ([]string, error) {
	err := s.check(tokens, allowed)

	outcome, detail := audit.OutcomeAllowed, ""
	if err != nil {
		outcome, detail = audit.OutcomeDenied, err.Error()
		s.logger.Warn("command rejected",
			slog.String("error", err.Error()),
			slog.Int("tokens", len(tokens)),
		)
	} else {
		s.logger.Debug("command allowed", slog.String("subcommand", tokens[0]))
	}

	if logErr := audit.RecordCommand(s.sink, tokens, outcome, detail); logErr != nil {
		s.logger.Warn("failed to write audit record", slog.String("error", logErr.Error()))
	}
	s.metrics.CommandDecision(outcome)

	if err != nil {
		return nil, err
	}
	return tokens, nil
}

func (s *Sanitizer) check(tokens []string, allowed Set) error {
	if len(tokens) == 0 {
		return &SecurityError{Kind: CommandNotAllowed, Reason: "empty command"}
	}

	for _, token := range tokens {
		lower := strings.ToLower(token)
		for _, p := range injectionPatterns {
			if strings.Contains(lower, p.needle) {
				return &SecurityError{Kind: InjectionPatternDetected, Token: token, Reason: p.reason}
			}
		}
	}

	sub := tokens[0]
	if !allowed.Has(sub) {
		return &SecurityError{Kind: CommandNotAllowed, Token: sub, Reason: "subcommand is not in the allow-list"}
	}

	if verbs, ok := s.subVerbs[sub]; ok {
		if len(tokens) < 2 {
			return &SecurityError{Kind: CommandNotAllowed, Token: sub, Reason: "missing sub-verb"}
		}
		if !verbs.Has(tokens[1]) {
			return &SecurityError{Kind: CommandNotAllowed, Token: tokens[1], Reason: "sub-verb is not in the allow-list"}
		}
	}

	return nil
}
