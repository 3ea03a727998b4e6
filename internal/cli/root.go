package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hyprrice/hyprsandbox/internal/config"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"

	// Global flags
	configFile    string
	extensionsDir string
	securityLevel string
	verbose       bool

	// Global config
	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "hyprsandbox",
	Short: "Sandbox for untrusted HyprRice extensions",
	Long: `hyprsandbox discovers HyprRice extensions, vets them with a static scan and
runs them inside a restricted Starlark interpreter under per-level resource limits.`,
	Version:      Version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadConfigFrom(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		// Override config with flags if provided
		if extensionsDir != "" {
			cfg.ExtensionsDir = extensionsDir
		}
		if securityLevel != "" {
			cfg.DefaultSecurityLevel = securityLevel
		}
		if verbose {
			cfg.LogLevel = "debug"
		}

		return nil
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default ~/.hyprrice/sandbox.yaml)")
	rootCmd.PersistentFlags().StringVar(&extensionsDir, "extensions-dir", "", "Extension directory (overrides config)")
	rootCmd.PersistentFlags().StringVar(&securityLevel, "level", "", "Default security level: strict, medium or relaxed (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	rootCmd.SetVersionTemplate(fmt.Sprintf("hyprsandbox version %s\ncommit: %s\nbuilt: %s\n", Version, GitCommit, BuildDate))

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(watchCmd)
}

// scanCmd statically scans extension files
var scanCmd = &cobra.Command{
	Use:   "scan <file>...",
	Short: "Statically scan extension sources",
	Long: `Run the static security scan over extension sources without executing them.
Exits non-zero if any file is rejected.
Example: hyprsandbox scan ~/.config/hyprrice/plugins/theme.star`,
	Args: cobra.MinimumNArgs(1),
}

// listCmd lists discovered extensions
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List discovered extensions",
	Long:  `List the extensions found in the extension directory with their metadata and scan verdict.`,
	Args:  cobra.NoArgs,
}

// runCmd loads every extension and dispatches events
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Load extensions and dispatch events",
	Long: `Discover and load every extension, dispatch the given events in order,
then unload everything and print a report.
Example: hyprsandbox run --event on_preview_update --set component=waybar`,
	Args: cobra.NoArgs,
}

// validateCmd checks operator input
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate paths, colors, identifiers, text or commands",
	Long:  `Run the input validator or the command sanitizer on values given on the command line.`,
}

// doctorCmd diagnoses sandbox capabilities
var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose sandbox capabilities",
	Long:  `Diagnose what the sandbox can enforce on this host (interpreter, procfs accounting, rlimits).`,
	Args:  cobra.NoArgs,
}

// watchCmd keeps extensions loaded and reloads them on change
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Load extensions and reload them on change",
	Long: `Load every extension, reload an extension when its file changes and serve
Prometheus metrics until interrupted.`,
	Args: cobra.NoArgs,
}
