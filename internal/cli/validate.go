package cli

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hyprrice/hyprsandbox/internal/command"
	"github.com/hyprrice/hyprsandbox/internal/validate"
)

// errInvalid makes the command exit non-zero after printing every result
var errInvalid = errors.New("one or more values are invalid")

var validateFlags struct {
	pattern  string
	maxBytes int
}

var validatePathCmd = &cobra.Command{
	Use:   "path <path>...",
	Short: "Check paths against the allowed roots",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return validateEach(cmd, args, func(v string) (string, error) {
			return validate.Path(v, cfg.AllowedRoots)
		})
	},
}

var validateColorCmd = &cobra.Command{
	Use:   "color <value>...",
	Short: "Parse colors (#rgb, #rrggbb, #rrggbbaa, rgb(), rgba())",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return validateEach(cmd, args, func(v string) (string, error) {
			c, err := validate.ParseColor(v)
			if err != nil {
				return "", err
			}
			return c.Hex(), nil
		})
	},
}

var validateIdentifierCmd = &cobra.Command{
	Use:   "identifier <value>...",
	Short: "Check identifiers (extension, theme and component names)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pattern := validate.NamePattern
		switch validateFlags.pattern {
		case "", "name":
		case "governor":
			pattern = validate.GovernorPattern
		case "filename":
			return validateEach(cmd, args, validate.Filename)
		default:
			re, err := regexp.Compile(validateFlags.pattern)
			if err != nil {
				return fmt.Errorf("invalid --pattern: %w", err)
			}
			pattern = re
		}
		return validateEach(cmd, args, func(v string) (string, error) {
			return validate.Identifier(v, pattern)
		})
	},
}

var validateTextCmd = &cobra.Command{
	Use:   "text <value>...",
	Short: "Sanitize free text",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return validateEach(cmd, args, func(v string) (string, error) {
			out, err := validate.SanitizeText(v, validateFlags.maxBytes)
			if err != nil {
				return "", err
			}
			return strconv.Quote(out), nil
		})
	},
}

var validateCommandCmd = &cobra.Command{
	Use:   "command <token>...",
	Short: "Check a host command against the allow-list",
	Long: `Run the command sanitizer on one command given as separate tokens.
Example: hyprsandbox validate command dispatch workspace 2`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		out := cmd.OutOrStdout()
		tokens, err := a.sanitizer.Sanitize(args, command.NewSet(cfg.AllowedCommands...))
		if err != nil {
			fmt.Fprintf(out, "DENIED  %s: %v\n", strings.Join(args, " "), err)
			return errInvalid
		}
		fmt.Fprintf(out, "ALLOWED %s %s\n", cfg.CommandBinary, strings.Join(tokens, " "))
		return nil
	},
}

func init() {
	validateIdentifierCmd.Flags().StringVar(&validateFlags.pattern, "pattern", "name", "Pattern: name, governor, filename or a regular expression")
	validateTextCmd.Flags().IntVar(&validateFlags.maxBytes, "max-bytes", 4096, "Maximum size after sanitizing")

	validateCmd.AddCommand(validatePathCmd)
	validateCmd.AddCommand(validateColorCmd)
	validateCmd.AddCommand(validateIdentifierCmd)
	validateCmd.AddCommand(validateTextCmd)
	validateCmd.AddCommand(validateCommandCmd)
}

// validateEach prints one line per value and fails if any value is invalid
func validateEach(cmd *cobra.Command, values []string, check func(string) (string, error)) error {
	out := cmd.OutOrStdout()
	failed := false
	for _, v := range values {
		result, err := check(v)
		if err != nil {
			failed = true
			fmt.Fprintf(out, "INVALID %q: %s (%v)\n", v, validate.KindOf(err), err)
			continue
		}
		fmt.Fprintf(out, "OK      %q -> %s\n", v, result)
	}
	if failed {
		return errInvalid
	}
	return nil
}
