package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hyprrice/hyprsandbox/internal/event"
	"github.com/hyprrice/hyprsandbox/internal/extension"
)

// runCmdFlags holds flags for the run command
type runCmdFlags struct {
	events     []string
	set        []string
	jsonOutput bool
}

var runFlags runCmdFlags

func init() {
	runCmd.RunE = runExtensions
	runCmd.Flags().StringArrayVar(&runFlags.events, "event", nil, "Event kind to dispatch after loading (repeatable)")
	runCmd.Flags().StringArrayVar(&runFlags.set, "set", nil, "Event payload entry key=value (repeatable)")
	runCmd.Flags().BoolVar(&runFlags.jsonOutput, "json", false, "Output in JSON format")
}

// runReport summarizes one run
type runReport struct {
	Loaded     []string         `json:"loaded"`
	LoadErrors []string         `json:"load_errors,omitempty"`
	Dispatches []dispatchReport `json:"dispatches,omitempty"`
	UIRequests []string         `json:"ui_requests,omitempty"`
	Extensions []extension.Info `json:"extensions"`
}

type dispatchReport struct {
	Event      string               `json:"event"`
	Deliveries []extension.Delivery `json:"deliveries"`
}

// runExtensions loads every extension, dispatches the requested events and
// unloads everything again
func runExtensions(cmd *cobra.Command, args []string) error {
	payload, err := event.ParsePairs(runFlags.set)
	if err != nil {
		return fmt.Errorf("invalid --set: %w", err)
	}
	events := make([]event.Event, 0, len(runFlags.events))
	for _, kind := range runFlags.events {
		ev, err := event.Parse(kind, payload)
		if err != nil {
			return fmt.Errorf("invalid --event: %w", err)
		}
		events = append(events, ev)
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	lock := extension.NewDirLock(cfg.ExtensionsDir)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("%w (pid %d)", err, lock.Owner())
	}
	defer func() {
		_ = lock.Unlock() //nolint:errcheck // cleanup
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report := runReport{Loaded: []string{}}
	if _, err := a.manager.Discover(); err != nil {
		report.LoadErrors = append(report.LoadErrors, splitErrors(err)...)
	}
	loaded, err := a.manager.LoadAll(ctx)
	report.Loaded = append(report.Loaded, loaded...)
	if err != nil {
		report.LoadErrors = append(report.LoadErrors, splitErrors(err)...)
	}

	for _, ev := range events {
		a.logger.Info("dispatching event", slog.String("event", string(ev.Kind())))
		report.Dispatches = append(report.Dispatches, dispatchReport{
			Event:      string(ev.Kind()),
			Deliveries: a.manager.Dispatch(ctx, ev),
		})
	}

	// snapshot before unloading so the report shows the final states
	report.Extensions = a.manager.List()
	a.manager.Close(ctx)
	report.UIRequests = a.ui.list()

	out := cmd.OutOrStdout()
	if runFlags.jsonOutput {
		return printJSON(out, report)
	}
	printRunReport(cmd, report)
	return nil
}

func printRunReport(cmd *cobra.Command, r runReport) {
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "Loaded %d extension(s)\n", len(r.Loaded))
	for _, e := range r.LoadErrors {
		fmt.Fprintf(out, "  [!] %s\n", e)
	}
	fmt.Fprintln(out)

	for _, d := range r.Dispatches {
		fmt.Fprintf(out, "Event %s:\n", d.Event)
		if len(d.Deliveries) == 0 {
			fmt.Fprintln(out, "  no receivers")
		}
		for _, del := range d.Deliveries {
			line := fmt.Sprintf("  %s: %s", del.Extension, del.Outcome)
			if del.Error != "" {
				line += " (" + del.Error + ")"
			}
			fmt.Fprintln(out, line)
		}
		fmt.Fprintln(out)
	}

	if len(r.UIRequests) > 0 {
		fmt.Fprintln(out, "UI update requests:")
		for _, u := range r.UIRequests {
			fmt.Fprintf(out, "  %s\n", u)
		}
		fmt.Fprintln(out)
	}

	if len(r.Extensions) == 0 {
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tSTATE\tMEMORY\tCPU\tVIOLATIONS") //nolint:errcheck // output to stdout
	for _, info := range r.Extensions {
		memory, cpu := "-", "-"
		if info.Usage != nil {
			memory = formatSize(info.Usage.MemoryBytes)
			cpu = formatDuration(info.Usage.CPUTime)
		}
		violations := "-"
		if len(info.Violations) > 0 {
			parts := make([]string, len(info.Violations))
			for i, v := range info.Violations {
				parts[i] = v.Kind + ": " + v.Detail
			}
			violations = strings.Join(parts, "; ")
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", info.Name, info.State, memory, cpu, violations) //nolint:errcheck // output to stdout
	}
	_ = w.Flush() //nolint:errcheck // best effort flush
}

// splitErrors flattens a joined error into one message per line
func splitErrors(err error) []string {
	var out []string
	for _, line := range strings.Split(err.Error(), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
