package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/hyprrice/hyprsandbox/internal/sandbox"
)

var doctorFlags struct {
	jsonOutput bool
}

func init() {
	doctorCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runDoctor(cmd.OutOrStdout())
	}
	doctorCmd.Flags().BoolVar(&doctorFlags.jsonOutput, "json", false, "Output in JSON format")
}

func runDoctor(out io.Writer) error {
	info := sandbox.Diagnose()

	if doctorFlags.jsonOutput {
		return printJSON(out, &info)
	}
	outputDoctorText(out, &info)
	return nil
}

func outputDoctorText(out io.Writer, info *sandbox.DiagnosticInfo) {
	fmt.Fprintf(out, "HyprRice Sandbox Diagnostics\n")
	fmt.Fprintf(out, "============================\n\n")

	fmt.Fprintf(out, "System Information:\n")
	fmt.Fprintf(out, "  OS:          %s\n", info.OS)
	fmt.Fprintf(out, "  Arch:        %s\n", info.Arch)
	fmt.Fprintf(out, "  Go Version:  %s\n", info.GoVersion)
	fmt.Fprintf(out, "  Interpreter: %s\n", info.Interpreter)
	if info.RunningAsRoot {
		fmt.Fprintf(out, "  Running as:  root\n")
	} else {
		fmt.Fprintf(out, "  Running as:  non-root user\n")
	}
	if info.FileLimit != nil {
		fmt.Fprintf(out, "  Open files:  soft %d, hard %d\n", info.FileLimit.Soft, info.FileLimit.Hard)
	}
	fmt.Fprintln(out)

	fmt.Fprintf(out, "Sandbox Capabilities:\n")
	caps := info.Capabilities
	printCapability(out, "Wall-clock timeout", caps.WallClockTimeout)
	printCapability(out, "Cooperative cancellation", caps.CooperativeCancel)
	printCapability(out, "Preemptive kill", caps.PreemptiveKill)
	printCapability(out, "Heap accounting", caps.HeapAccounting)
	printCapability(out, "Per-thread CPU accounting", caps.ThreadCPUAccounting)
	printCapability(out, "File descriptor accounting", caps.FDAccounting)
	printCapability(out, "Host command rlimits", caps.ChildRlimits)
	printCapability(out, "Static scan", caps.StaticScan)
	printCapability(out, "Restricted namespaces", caps.RestrictedNamespaces)
	fmt.Fprintln(out)

	if len(info.Warnings) > 0 {
		fmt.Fprintf(out, "Warnings:\n")
		for _, w := range info.Warnings {
			fmt.Fprintf(out, "  [!] %s\n", w)
		}
		fmt.Fprintln(out)
	}

	if len(info.Recommendations) > 0 {
		fmt.Fprintf(out, "Recommendations:\n")
		for _, r := range info.Recommendations {
			fmt.Fprintf(out, "  [*] %s\n", r)
		}
		fmt.Fprintln(out)
	}

	enabled, total := caps.Count()
	fmt.Fprintf(out, "Summary:\n")
	fmt.Fprintf(out, "  %d/%d features available\n", enabled, total)
}

func printCapability(out io.Writer, name string, enabled bool) {
	yes, no := "ok", "--"
	if isTerminal(out) {
		yes, no = "✓", "✗"
	}
	status := no
	if enabled {
		status = yes
	}
	fmt.Fprintf(out, "  [%s] %s\n", status, name)
}
