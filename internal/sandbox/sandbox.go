// Package sandbox runs untrusted extensions inside an embedded Starlark
// interpreter. Each load builds a fresh namespace holding only the host
// callback module; calls run on their own goroutine under a wall-clock
// timeout while the limiter samples their resource usage.
package sandbox

import (
	"os"
	"runtime"

	"github.com/hyprrice/hyprsandbox/internal/limiter"
)

// Capabilities describes what the sandbox can enforce on this host
type Capabilities struct {
	WallClockTimeout     bool `json:"wall_clock_timeout"`
	CooperativeCancel    bool `json:"cooperative_cancel"`
	PreemptiveKill       bool `json:"preemptive_kill"`
	HeapAccounting       bool `json:"heap_accounting"`
	ThreadCPUAccounting  bool `json:"thread_cpu_accounting"`
	FDAccounting         bool `json:"fd_accounting"`
	ChildRlimits         bool `json:"child_rlimits"`
	StaticScan           bool `json:"static_scan"`
	RestrictedNamespaces bool `json:"restricted_namespaces"`
}

// Count returns how many capabilities are available and how many exist
func (c Capabilities) Count() (enabled, total int) {
	for _, ok := range []bool{
		c.WallClockTimeout,
		c.CooperativeCancel,
		c.PreemptiveKill,
		c.HeapAccounting,
		c.ThreadCPUAccounting,
		c.FDAccounting,
		c.ChildRlimits,
		c.StaticScan,
		c.RestrictedNamespaces,
	} {
		total++
		if ok {
			enabled++
		}
	}
	return enabled, total
}

// Rlimit is a soft/hard resource limit pair of this process
type Rlimit struct {
	Soft uint64 `json:"soft"`
	Hard uint64 `json:"hard"`
}

// DiagnosticInfo contains system capability information for diagnostics
type DiagnosticInfo struct {
	OS              string       `json:"os"`
	Arch            string       `json:"arch"`
	GoVersion       string       `json:"go_version"`
	Interpreter     string       `json:"interpreter"`
	RunningAsRoot   bool         `json:"running_as_root"`
	Capabilities    Capabilities `json:"capabilities"`
	FileLimit       *Rlimit      `json:"file_limit,omitempty"`
	Recommendations []string     `json:"recommendations,omitempty"`
	Warnings        []string     `json:"warnings,omitempty"`
}

// Diagnose returns diagnostic information about the current system
func Diagnose() DiagnosticInfo {
	info := DiagnosticInfo{
		OS:            runtime.GOOS,
		Arch:          runtime.GOARCH,
		GoVersion:     runtime.Version(),
		Interpreter:   "go.starlark.net",
		RunningAsRoot: os.Geteuid() == 0,
	}

	procfs := limiter.ProcfsAvailable()
	info.Capabilities = Capabilities{
		WallClockTimeout:     true,
		CooperativeCancel:    true,
		PreemptiveKill:       false, // an in-process interpreter call cannot be killed
		HeapAccounting:       true,
		ThreadCPUAccounting:  procfs,
		FDAccounting:         procfs,
		ChildRlimits:         runtime.GOOS == "linux",
		StaticScan:           true,
		RestrictedNamespaces: true,
	}

	if lim, ok := fileLimit(); ok {
		info.FileLimit = &lim
		if lim.Soft < 256 {
			info.Warnings = append(info.Warnings,
				"open file soft limit is below 256: host commands may fail under load",
			)
		}
	}

	if !procfs {
		info.Warnings = append(info.Warnings,
			"procfs not available: CPU time falls back to wall time and fds are not counted",
		)
	}
	if info.RunningAsRoot {
		info.Warnings = append(info.Warnings,
			"running as root: host commands issued by relaxed extensions run with root privileges",
		)
	}

	info.Recommendations = append(info.Recommendations,
		"Timed out or violating calls are abandoned, not killed: keep wall-clock limits short",
		"Memory is measured as heap growth during a call: dispatch events one at a time",
	)
	if runtime.GOOS != "linux" {
		info.Recommendations = append(info.Recommendations,
			"Per-thread CPU accounting requires Linux; run on Linux for reliable CPU limits",
		)
	}

	return info
}
