// Package policy maps security levels to resource ceilings and capabilities
// and merges extension-requested limits with the configured ones.
package policy

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/hyprrice/hyprsandbox/internal/config"
)

// Level is one of the three named security tiers
type Level string

const (
	Strict  Level = "strict"
	Medium  Level = "medium"
	Relaxed Level = "relaxed"
)

// Levels lists every tier from most to least restrictive
var Levels = []Level{Strict, Medium, Relaxed}

// ParseLevel parses a tier name, case-insensitively
func ParseLevel(s string) (Level, error) {
	switch Level(strings.ToLower(strings.TrimSpace(s))) {
	case Strict:
		return Strict, nil
	case Medium:
		return Medium, nil
	case Relaxed:
		return Relaxed, nil
	}
	return "", fmt.Errorf("unknown security level %q (expected strict, medium or relaxed)", s)
}

// ResourceLimits are the ceilings enforced on one sandbox session.
// A zero field means unlimited and never appears in a validated table.
type ResourceLimits struct {
	MaxMemoryBytes     int64
	MaxCPU             time.Duration
	MaxFileDescriptors int
	MaxWallClock       time.Duration
}

// Capabilities are the non-numeric permissions of a level
type Capabilities struct {
	AllowCommands   bool // host.run is exposed
	AllowReflection bool // getattr, hasattr and dir are exposed
	StrictImports   bool // modules outside the allow-list are blocked
}

// CapabilitiesFor returns the capability row of level
func CapabilitiesFor(level Level) Capabilities {
	return capabilities[level]
}

// LimitRequest carries the limits an extension asks for in its manifest.
// Only values stricter than the level row take effect.
type LimitRequest struct {
	MaxMemory    string `yaml:"max_memory,omitempty"`
	MaxCPU       string `yaml:"max_cpu,omitempty"`
	MaxFDs       int    `yaml:"max_fds,omitempty"`
	MaxWallClock string `yaml:"max_wall_clock,omitempty"`
}

// IsZero reports whether nothing was requested
func (r LimitRequest) IsZero() bool {
	return r == LimitRequest{}
}

// Table maps each level to its limits. It is built once and never mutated.
type Table struct {
	rows map[Level]ResourceLimits
}

// NewTable builds the table from configuration. The configured tiers must
// be exactly strict, medium and relaxed.
func NewTable(levels map[string]config.LevelConfig) (*Table, error) {
	if len(levels) == 0 {
		return DefaultTable(), nil
	}

	var names []string
	for name := range levels {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make(map[Level]ResourceLimits, len(Levels))
	for _, name := range names {
		level, err := ParseLevel(name)
		if err != nil {
			return nil, fmt.Errorf("security_levels: %w", err)
		}
		row, err := limitsFromConfig(level, levels[name])
		if err != nil {
			return nil, fmt.Errorf("security_levels.%s: %w", level, err)
		}
		rows[level] = row
	}

	for _, level := range Levels {
		if _, ok := rows[level]; !ok {
			return nil, fmt.Errorf("security_levels: missing tier %q", level)
		}
	}
	if len(rows) != len(Levels) {
		return nil, fmt.Errorf("security_levels: expected exactly %d tiers, got %d", len(Levels), len(names))
	}

	return &Table{rows: rows}, nil
}

func limitsFromConfig(level Level, lc config.LevelConfig) (ResourceLimits, error) {
	row := defaultLimits[level]

	if lc.MaxMemory != "" {
		mem, err := ParseMemory(lc.MaxMemory)
		if err != nil {
			return ResourceLimits{}, err
		}
		row.MaxMemoryBytes = mem
	}
	if lc.MaxCPU != 0 {
		row.MaxCPU = lc.MaxCPU
	}
	if lc.MaxFDs != 0 {
		row.MaxFileDescriptors = lc.MaxFDs
	}
	if lc.MaxWallClock != 0 {
		row.MaxWallClock = lc.MaxWallClock
	}

	if err := ValidateLimits(row); err != nil {
		return ResourceLimits{}, err
	}
	return row, nil
}

// ValidateLimits rejects rows with a missing or negative ceiling
func ValidateLimits(l ResourceLimits) error {
	switch {
	case l.MaxMemoryBytes <= 0:
		return fmt.Errorf("max_memory must be > 0 (got %d)", l.MaxMemoryBytes)
	case l.MaxCPU <= 0:
		return fmt.Errorf("max_cpu must be > 0 (got %s)", l.MaxCPU)
	case l.MaxFileDescriptors <= 0:
		return fmt.Errorf("max_fds must be > 0 (got %d)", l.MaxFileDescriptors)
	case l.MaxWallClock <= 0:
		return fmt.Errorf("max_wall_clock must be > 0 (got %s)", l.MaxWallClock)
	}
	return nil
}

// Limits returns the row of level
func (t *Table) Limits(level Level) (ResourceLimits, error) {
	row, ok := t.rows[level]
	if !ok {
		return ResourceLimits{}, fmt.Errorf("unknown security level %q", level)
	}
	return row, nil
}

// Policy is the local security policy applied to every extension
type Policy struct {
	Table          *Table
	DefaultLevel   Level
	AllowedModules []string
	DeniedModules  []string
	logger         *slog.Logger
}

// NewPolicy creates a new policy from config
func NewPolicy(cfg *config.Config) (*Policy, error) {
	return NewPolicyWithLogger(cfg, slog.Default())
}

// NewPolicyWithLogger creates a new policy from config with custom logger
func NewPolicyWithLogger(cfg *config.Config, logger *slog.Logger) (*Policy, error) {
	table, err := NewTable(cfg.SecurityLevels)
	if err != nil {
		return nil, err
	}

	level := Medium
	if cfg.DefaultSecurityLevel != "" {
		level, err = ParseLevel(cfg.DefaultSecurityLevel)
		if err != nil {
			return nil, fmt.Errorf("default_security_level: %w", err)
		}
	}

	return &Policy{
		Table:          table,
		DefaultLevel:   level,
		AllowedModules: cfg.AllowedModules,
		DeniedModules:  cfg.DeniedModules,
		logger:         logger,
	}, nil
}

// ApplyLimits merges the level row with an extension request (stricter wins)
func (p *Policy) ApplyLimits(level Level, req LimitRequest) (ResourceLimits, error) {
	limits, err := p.Table.Limits(level)
	if err != nil {
		return ResourceLimits{}, err
	}

	if req.MaxMemory != "" && isMoreRestrictiveMemory(req.MaxMemory, limits.MaxMemoryBytes) {
		limits.MaxMemoryBytes = parseMemoryString(req.MaxMemory)
		p.logger.Debug("manifest limit is stricter", slog.String("limit", "max_memory"))
	}

	if d, ok := stricterDuration(req.MaxCPU, limits.MaxCPU); ok {
		limits.MaxCPU = d
		p.logger.Debug("manifest limit is stricter", slog.String("limit", "max_cpu"))
	}

	if req.MaxFDs > 0 && req.MaxFDs < limits.MaxFileDescriptors {
		limits.MaxFileDescriptors = req.MaxFDs
		p.logger.Debug("manifest limit is stricter", slog.String("limit", "max_fds"))
	}

	if d, ok := stricterDuration(req.MaxWallClock, limits.MaxWallClock); ok {
		limits.MaxWallClock = d
		p.logger.Debug("manifest limit is stricter", slog.String("limit", "max_wall_clock"))
	}

	return limits, nil
}

func stricterDuration(requested string, current time.Duration) (time.Duration, bool) {
	if requested == "" {
		return 0, false
	}
	d, err := time.ParseDuration(requested)
	if err != nil || d <= 0 || d >= current {
		return 0, false
	}
	return d, true
}

// isMoreRestrictiveMemory reports whether newLimit parses to less than current
func isMoreRestrictiveMemory(newLimit string, current int64) bool {
	newVal := parseMemoryString(newLimit)
	if newVal <= 0 || current <= 0 {
		return false
	}
	return newVal < current
}

// ParseMemory parses memory strings like "512M", "1G" into bytes
func ParseMemory(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("memory string cannot be empty")
	}
	val := parseMemoryString(s)
	if val <= 0 {
		return 0, fmt.Errorf("invalid memory string: %s", s)
	}
	return val, nil
}

// parseMemoryString parses memory strings like "512M", "1G" into bytes
func parseMemoryString(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}

	var multiplier int64 = 1
	switch {
	case strings.HasSuffix(s, "G"):
		multiplier = 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "G")
	case strings.HasSuffix(s, "M"):
		multiplier = 1024 * 1024
		s = strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "K"):
		multiplier = 1024
		s = strings.TrimSuffix(s, "K")
	}

	var val int64
	_, _ = fmt.Sscanf(s, "%d", &val) //nolint:errcheck // parse errors result in zero value
	return val * multiplier
}
