// Package executor runs the external compositor control tool on behalf of
// the host and of extensions. Every invocation is sanitized first.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/hyprrice/hyprsandbox/internal/command"
)

// MaxOutputBytes caps captured stdout per invocation
const MaxOutputBytes = 1 << 20

// envAllowlist lists the variables passed through to the child process
var envAllowlist = []string{
	"PATH",
	"HOME",
	"XDG_RUNTIME_DIR",
	"WAYLAND_DISPLAY",
	"HYPRLAND_INSTANCE_SIGNATURE",
	"LANG",
}

// Runner executes sanitized commands
type Runner interface {
	Run(ctx context.Context, tokens []string) (string, error)
}

// CommandRunner runs binary with sanitized tokens as its arguments
type CommandRunner struct {
	binary    string
	sanitizer *command.Sanitizer
	allowed   command.Set
	timeout   time.Duration
	limits    ChildLimits
	logger    *slog.Logger
}

// ChildLimits are rlimits applied to every spawned process. Zero fields
// leave the inherited limit in place.
type ChildLimits struct {
	CPUSeconds uint64
	MaxFDs     uint64
}

// NewCommandRunner creates a runner for binary
func NewCommandRunner(binary string, sanitizer *command.Sanitizer, allowed command.Set, timeout time.Duration) (*CommandRunner, error) {
	if binary == "" {
		return nil, fmt.Errorf("command binary cannot be empty")
	}
	if sanitizer == nil {
		return nil, fmt.Errorf("sanitizer cannot be nil")
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("command timeout must be > 0 (got %s)", timeout)
	}

	return &CommandRunner{
		binary:    binary,
		sanitizer: sanitizer,
		allowed:   allowed,
		timeout:   timeout,
		logger:    slog.Default(),
	}, nil
}

// SetLogger sets the logger
func (r *CommandRunner) SetLogger(logger *slog.Logger) {
	r.logger = logger
}

// SetChildLimits sets the rlimits applied to spawned processes
func (r *CommandRunner) SetChildLimits(limits ChildLimits) {
	r.limits = limits
}

// Run sanitizes tokens and executes the binary, returning its stdout
func (r *CommandRunner) Run(ctx context.Context, tokens []string) (string, error) {
	args, err := r.sanitizer.Sanitize(tokens, r.allowed)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.binary, args...)
	cmd.Env = buildEnv()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitedWriter{buf: &stdout, max: MaxOutputBytes}
	cmd.Stderr = &limitedWriter{buf: &stderr, max: MaxOutputBytes}

	r.logger.Debug("running command",
		slog.String("binary", r.binary),
		slog.String("subcommand", args[0]),
		slog.Duration("timeout", r.timeout),
	)

	if err = cmd.Start(); err == nil {
		if limitErr := applyChildLimits(cmd.Process.Pid, r.limits); limitErr != nil {
			r.logger.Debug("failed to apply child rlimits", slog.String("error", limitErr.Error()))
		}
		err = cmd.Wait()
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		r.logger.Warn("command timeout exceeded", slog.Duration("timeout", r.timeout))
		return "", fmt.Errorf("command timeout exceeded: %s", r.timeout)
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			r.logger.Info("command exited with error",
				slog.Int("exit_code", exitErr.ExitCode()),
				slog.String("stderr", strings.TrimSpace(stderr.String())),
			)
			return "", fmt.Errorf("%s exited with code %d: %s", args[0], exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return "", fmt.Errorf("command execution error: %w", err)
	}

	return stdout.String(), nil
}

// buildEnv passes through only allow-listed variables
func buildEnv() []string {
	env := make([]string, 0, len(envAllowlist))
	for _, key := range envAllowlist {
		if val, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+val)
		}
	}
	return env
}

// limitedWriter discards bytes beyond max
type limitedWriter struct {
	buf *bytes.Buffer
	max int
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	if room := w.max - w.buf.Len(); room > 0 {
		if len(p) > room {
			w.buf.Write(p[:room])
		} else {
			w.buf.Write(p)
		}
	}
	return len(p), nil
}
