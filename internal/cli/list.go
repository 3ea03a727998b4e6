package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hyprrice/hyprsandbox/internal/extension"
)

var listFlags struct {
	jsonOutput bool
	yamlOutput bool
}

func init() {
	listCmd.RunE = runList
	listCmd.Flags().BoolVar(&listFlags.jsonOutput, "json", false, "Output in JSON format")
	listCmd.Flags().BoolVar(&listFlags.yamlOutput, "yaml", false, "Output in YAML format")
	listCmd.MarkFlagsMutuallyExclusive("json", "yaml")
}

// listItem is an extension with its scan verdict
type listItem struct {
	extension.Info `yaml:",inline"`
	Accepted       bool   `json:"accepted" yaml:"accepted"`
	Warnings       int    `json:"warnings" yaml:"warnings"`
	Rejection      string `json:"rejection,omitempty" yaml:"rejection,omitempty"`
}

func runList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.manager.Discover(); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
	}

	infos := a.manager.List()
	items := make([]listItem, 0, len(infos))
	for _, info := range infos {
		item := listItem{Info: info}
		if outcome, err := a.manager.Scan(info.Name); err == nil {
			item.Accepted = outcome.Accepted
			item.Warnings = len(outcome.Warnings())
			item.Rejection = outcome.RejectedReason
		}
		items = append(items, item)
	}

	out := cmd.OutOrStdout()
	switch {
	case listFlags.jsonOutput:
		return printJSON(out, items)
	case listFlags.yamlOutput:
		return printYAML(out, items)
	}

	if len(items) == 0 {
		fmt.Fprintf(out, "No extensions found in %s\n", a.manager.Dir())
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tVERSION\tLEVEL\tSCAN\tDIGEST\tDEPENDS") //nolint:errcheck // output to stdout
	for _, it := range items {
		verdict := "accepted"
		if !it.Accepted {
			verdict = "rejected"
		} else if it.Warnings > 0 {
			verdict = fmt.Sprintf("accepted (%d warnings)", it.Warnings)
		}
		depends := "-"
		if len(it.Depends) > 0 {
			depends = fmt.Sprint(it.Depends)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", //nolint:errcheck // output to stdout
			it.Name, it.Version, it.SecurityLevel, verdict, abbreviateDigest(it.Digest), depends)
	}
	_ = w.Flush() //nolint:errcheck // best effort flush

	fmt.Fprintf(out, "\n%d extension(s) in %s\n", len(items), a.manager.Dir())
	return nil
}
