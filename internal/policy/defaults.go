package policy

import "time"

// Built-in level table. Used when configuration leaves a field unset.
var defaultLimits = map[Level]ResourceLimits{
	Strict: {
		MaxMemoryBytes:     50 << 20,
		MaxCPU:             10 * time.Second,
		MaxFileDescriptors: 20,
		MaxWallClock:       10 * time.Second,
	},
	Medium: {
		MaxMemoryBytes:     100 << 20,
		MaxCPU:             30 * time.Second,
		MaxFileDescriptors: 50,
		MaxWallClock:       30 * time.Second,
	},
	Relaxed: {
		MaxMemoryBytes:     200 << 20,
		MaxCPU:             60 * time.Second,
		MaxFileDescriptors: 100,
		MaxWallClock:       60 * time.Second,
	},
}

// Capability rows per level
var capabilities = map[Level]Capabilities{
	Strict:  {AllowCommands: false, AllowReflection: false, StrictImports: true},
	Medium:  {AllowCommands: false, AllowReflection: true, StrictImports: false},
	Relaxed: {AllowCommands: true, AllowReflection: true, StrictImports: false},
}

// DefaultTable returns the built-in level table
func DefaultTable() *Table {
	rows := make(map[Level]ResourceLimits, len(defaultLimits))
	for level, limits := range defaultLimits {
		rows[level] = limits
	}
	return &Table{rows: rows}
}
