package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hyprrice/hyprsandbox/internal/manifest"
	"github.com/hyprrice/hyprsandbox/internal/scanner"
)

var scanFlags struct {
	jsonOutput bool
}

// errRejected makes the command exit non-zero after printing the report
var errRejected = errors.New("one or more extensions were rejected")

func init() {
	scanCmd.RunE = runScan
	scanCmd.Flags().BoolVar(&scanFlags.jsonOutput, "json", false, "Output in JSON format")
}

// scanReport is the result of scanning one file
type scanReport struct {
	File          string            `json:"file"`
	Extension     string            `json:"extension,omitempty"`
	SecurityLevel string            `json:"security_level,omitempty"`
	Accepted      bool              `json:"accepted"`
	Findings      []scanner.Finding `json:"findings"`
	Error         string            `json:"error,omitempty"`
}

func runScan(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	reports := make([]scanReport, 0, len(args))
	rejected := false
	for _, path := range args {
		report := scanReport{File: path, Findings: []scanner.Finding{}}

		meta, src, err := manifest.Load(path)
		if err != nil {
			report.Error = err.Error()
			rejected = true
			reports = append(reports, report)
			continue
		}

		outcome := a.executor.Scan(meta, src)
		report.Extension = meta.Name
		report.SecurityLevel = string(a.executor.LevelOf(meta))
		report.Accepted = outcome.Accepted
		if outcome.Findings != nil {
			report.Findings = outcome.Findings
		}
		if !outcome.Accepted {
			rejected = true
		}
		reports = append(reports, report)
	}

	out := cmd.OutOrStdout()
	if scanFlags.jsonOutput {
		if err := printJSON(out, reports); err != nil {
			return err
		}
	} else {
		for _, r := range reports {
			printScanReport(cmd, r)
		}
	}

	if rejected {
		return errRejected
	}
	return nil
}

func printScanReport(cmd *cobra.Command, r scanReport) {
	out := cmd.OutOrStdout()
	switch {
	case r.Error != "":
		fmt.Fprintf(out, "%s: ERROR %s\n", r.File, r.Error)
		return
	case r.Accepted:
		fmt.Fprintf(out, "%s: ACCEPTED (%s, level %s)\n", r.File, r.Extension, r.SecurityLevel)
	default:
		fmt.Fprintf(out, "%s: REJECTED (%s, level %s)\n", r.File, r.Extension, r.SecurityLevel)
	}
	if len(r.Findings) == 0 {
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, f := range r.Findings {
		_, _ = fmt.Fprintf(w, "  %d:%d\t%s\t%s\t%s\n", f.Line, f.Column, f.Severity, f.RuleID, f.Message) //nolint:errcheck // output to stdout
	}
	_ = w.Flush() //nolint:errcheck // best effort flush
}

// ExitCode maps an error returned by Execute to a process exit code.
// Rejected scans and invalid values exit with 2 so scripts can tell them
// from failures.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errRejected), errors.Is(err, errInvalid):
		return 2
	}
	return 1
}
