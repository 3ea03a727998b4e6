package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/hyprrice/hyprsandbox/internal/extension"
	"github.com/hyprrice/hyprsandbox/internal/manifest"
)

// reloadDelay coalesces the burst of events an editor produces per save
const reloadDelay = 250 * time.Millisecond

var watchFlags struct {
	metricsAddr string
}

func init() {
	watchCmd.RunE = runWatch
	watchCmd.Flags().StringVar(&watchFlags.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (overrides config)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger

	lock := extension.NewDirLock(cfg.ExtensionsDir)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("%w (pid %d)", err, lock.Owner())
	}
	defer func() {
		_ = lock.Unlock() //nolint:errcheck // cleanup
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := cfg.MetricsAddr
	if watchFlags.metricsAddr != "" {
		addr = watchFlags.metricsAddr
	}
	if addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           metricsMux(a),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("serving metrics", slog.String("addr", addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", slog.String("error", err.Error()))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx) //nolint:errcheck // best effort shutdown
		}()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() {
		_ = watcher.Close() //nolint:errcheck // cleanup
	}()
	if err := watcher.Add(cfg.ExtensionsDir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", cfg.ExtensionsDir, err)
	}

	if _, err := a.manager.Discover(); err != nil {
		logger.Warn("discovery reported problems", slog.String("error", err.Error()))
	}
	loaded, err := a.manager.LoadAll(ctx)
	if err != nil {
		logger.Warn("some extensions failed to load", slog.String("error", err.Error()))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Watching %s with %d extension(s) loaded, press Ctrl+C to stop\n", cfg.ExtensionsDir, len(loaded))

	w := &reloader{app: a, pending: make(map[string]bool)}
	timer := time.NewTimer(reloadDelay)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			a.manager.Close(context.Background())
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if path, ok := sourcePath(ev.Name); ok {
				w.pending[path] = true
				timer.Reset(reloadDelay)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("file watcher error", slog.String("error", err.Error()))

		case <-timer.C:
			w.flush(ctx)
		}
	}
}

// metricsMux serves /metrics and a plain /healthz
func metricsMux(a *app) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n")) //nolint:errcheck // best effort write
	})
	return mux
}

// sourcePath maps a changed file to the extension source it belongs to.
// Sidecar manifests map to their source file.
func sourcePath(name string) (string, bool) {
	base := filepath.Base(name)
	if strings.HasPrefix(base, "_") || strings.HasPrefix(base, ".") {
		return "", false
	}
	switch filepath.Ext(base) {
	case manifest.Extension:
		return name, true
	case ".yaml":
		return strings.TrimSuffix(name, ".yaml") + manifest.Extension, true
	}
	return "", false
}

// reloader applies batched file changes to the manager
type reloader struct {
	app     *app
	pending map[string]bool
}

func (r *reloader) flush(ctx context.Context) {
	logger := r.app.logger
	manager := r.app.manager

	known := make(map[string]string)
	for _, info := range manager.List() {
		known[info.Path] = info.Name
	}

	rediscover := false
	for path := range r.pending {
		delete(r.pending, path)

		name, isKnown := known[path]
		_, statErr := os.Stat(path)
		switch {
		case isKnown && statErr != nil:
			logger.Info("extension removed", slog.String("extension", name))
			_ = manager.Unload(ctx, name) //nolint:errcheck // unload never fails
			rediscover = true
		case isKnown:
			logger.Info("reloading extension", slog.String("extension", name))
			if err := manager.Reload(ctx, name); err != nil {
				logger.Warn("reload failed", slog.String("extension", name), slog.String("error", err.Error()))
			}
		case statErr == nil:
			rediscover = true
		}
	}

	if !rediscover {
		return
	}
	if _, err := manager.Discover(); err != nil {
		logger.Warn("discovery reported problems", slog.String("error", err.Error()))
	}
	if loaded, err := manager.LoadAll(ctx); err != nil {
		logger.Warn("some extensions failed to load", slog.String("error", err.Error()))
	} else if len(loaded) > 0 {
		logger.Info("extensions loaded", slog.Any("names", loaded))
	}
}
