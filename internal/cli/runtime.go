package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/hyprrice/hyprsandbox/internal/audit"
	"github.com/hyprrice/hyprsandbox/internal/command"
	"github.com/hyprrice/hyprsandbox/internal/config"
	"github.com/hyprrice/hyprsandbox/internal/executor"
	"github.com/hyprrice/hyprsandbox/internal/extension"
	"github.com/hyprrice/hyprsandbox/internal/limiter"
	"github.com/hyprrice/hyprsandbox/internal/metrics"
	"github.com/hyprrice/hyprsandbox/internal/policy"
	"github.com/hyprrice/hyprsandbox/internal/sandbox"
	"github.com/hyprrice/hyprsandbox/internal/scanner"
)

// createLogger creates a structured logger with the specified level. With
// a log file set, records go to a rotating file instead of stderr.
func createLogger(c *config.Config) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var out io.Writer = os.Stderr
	if c.LogFile != "" {
		out = &lumberjack.Logger{
			Filename:   c.LogFile,
			MaxSize:    c.LogMaxSizeMB,
			MaxBackups: c.LogMaxBackups,
			MaxAge:     c.LogMaxAgeDays,
			Compress:   true,
		}
	}

	handler := slog.NewTextHandler(out, opts)
	return slog.New(handler)
}

// app holds every component wired from the configuration
type app struct {
	logger    *slog.Logger
	metrics   *metrics.Metrics
	policy    *policy.Policy
	scanner   *scanner.Scanner
	sanitizer *command.Sanitizer
	executor  *sandbox.Executor
	manager   *extension.Manager
	ui        *uiLog

	auditLog *audit.Logger
}

// uiLog collects host.request_ui_update calls for reports
type uiLog struct {
	mu       sync.Mutex
	requests []string
}

func (u *uiLog) record(extension, component string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.requests = append(u.requests, extension+" -> "+component)
}

func (u *uiLog) list() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.requests...)
}

// newApp wires the sandbox from c. The caller must Close it.
func newApp(c *config.Config) (_ *app, err error) {
	logger := createLogger(c)
	a := &app{
		logger:  logger,
		metrics: metrics.New(),
		ui:      &uiLog{},
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	var sink audit.Sink = audit.Discard
	if c.AuditEnabled && c.AuditLogFile != "" {
		auditLogger, err := audit.NewLogger(c.AuditLogFile)
		if err != nil {
			// Continue without audit logging
			logger.Warn("failed to initialize audit logger", slog.String("error", err.Error()))
		} else {
			auditLogger.SetLogger(logger)
			a.auditLog = auditLogger
			sink = auditLogger
		}
	}

	pol, err := policy.NewPolicyWithLogger(c, logger)
	if err != nil {
		return nil, fmt.Errorf("invalid security policy: %w", err)
	}
	a.policy = pol

	a.scanner, err = scanner.New(scanner.Options{
		MaxSourceBytes: c.MaxSourceBytes,
		DeniedModules:  pol.DeniedModules,
		AllowedModules: pol.AllowedModules,
		CacheSize:      c.ScanCacheSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create scanner: %w", err)
	}
	a.scanner.SetLogger(logger)
	a.scanner.SetMetrics(a.metrics)

	a.sanitizer = command.NewSanitizer(sink)
	a.sanitizer.SetLogger(logger)
	a.sanitizer.SetMetrics(a.metrics)
	a.sanitizer.RestrictSubVerbs("dispatch", c.AllowedDispatchers...)

	runner, err := executor.NewCommandRunner(c.CommandBinary, a.sanitizer, command.NewSet(c.AllowedCommands...), c.CommandTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to create command runner: %w", err)
	}
	runner.SetLogger(logger)
	if relaxed, err := pol.Table.Limits(policy.Relaxed); err == nil {
		runner.SetChildLimits(executor.ChildLimits{
			CPUSeconds: uint64(relaxed.MaxCPU.Seconds()),
			MaxFDs:     uint64(relaxed.MaxFileDescriptors),
		})
	}

	lim := limiter.New(c.MonitorInterval)
	lim.SetLogger(logger)

	a.executor, err = sandbox.NewExecutor(sandbox.Options{
		Policy:     pol,
		Scanner:    a.scanner,
		Limiter:    lim,
		Runner:     runner,
		HostConfig: c.HostConfig,
		OnUIUpdate: a.ui.record,
		Audit:      sink,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox executor: %w", err)
	}
	a.executor.SetLogger(logger)
	a.executor.SetMetrics(a.metrics)

	a.manager, err = extension.NewManager(extension.Options{
		Dir:           c.ExtensionsDir,
		MaxExtensions: c.MaxExtensions,
		PinnedDigests: c.PinnedDigests,
		Executor:      a.executor,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create extension manager: %w", err)
	}
	a.manager.SetLogger(logger)
	a.manager.SetMetrics(a.metrics)

	return a, nil
}

// Close releases the audit log
func (a *app) Close() {
	if a.auditLog != nil {
		_ = a.auditLog.Close() //nolint:errcheck // cleanup
	}
}
