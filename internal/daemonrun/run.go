package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"mediaflow/internal/config"
	"mediaflow/internal/daemon"
	"mediaflow/internal/daemonctl"
	"mediaflow/internal/deps"
	"mediaflow/internal/logging"
	"mediaflow/internal/stageexec"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	// ConfigPath is handed to heavy-tier worker children.
	ConfigPath string
}

// Run starts the mediaflow daemon and blocks until the context is cancelled
// or the process receives SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("prepare directories: %w", err)
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logPath := cfg.LogPath()
	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		Outputs:     []string{"stdout", logPath},
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logDependencySnapshot(logger, cfg)
	pidPath := daemonctl.PIDPath(cfg)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	rt, err := Open(signalCtx, cfg, logger)
	if err != nil {
		logger.Error("open runtime", logging.Error(err))
		return err
	}
	defer rt.Close()

	registry, err := Registry(signalCtx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build stage handlers: %w", err)
	}
	pool, err := stageexec.New(stageexec.Options{
		Config:      cfg,
		ConfigPath:  opts.ConfigPath,
		Queue:       rt.Queue,
		Coordinator: rt.Coordinator,
		Registry:    registry,
		Logger:      logging.NewComponentLogger(logger, "workers"),
		Metrics:     rt.Metrics,
	})
	if err != nil {
		return fmt.Errorf("create worker pool: %w", err)
	}

	d, err := daemon.New(daemon.Options{
		Config:     cfg,
		Logger:     logger,
		Service:    rt.Service,
		Pool:       pool,
		Reconciler: rt.Reconciler,
		Registry:   registry,
		Metrics:    rt.Metrics,
	})
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logger.Error("daemon start failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_start_failed"),
			logging.String(logging.FieldErrorHint, "check the lock file and database access"),
			logging.String(logging.FieldImpact, "no jobs are processed by this instance"),
		)
		return err
	}
	if addr := d.APIAddress(); addr != "" {
		logger.Info("api listening", logging.String("address", addr))
	}

	<-signalCtx.Done()
	logger.Info("mediaflow daemon shutting down")
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	attrs := []any{logging.String(logging.FieldEventType, "dependency_snapshot")}
	statuses := deps.CheckBinaries(deps.Requirements(cfg))
	for _, status := range statuses {
		attrs = append(attrs,
			logging.Bool(status.Name+"_available", status.Available),
			logging.String(status.Name+"_binary", status.Command),
		)
	}
	attrs = append(attrs,
		logging.String("storage_backend", cfg.Storage.Backend),
		logging.Bool("bus_enabled", cfg.Bus.Enabled),
		logging.Any("stages", cfg.Workers.Stages),
	)
	logger.Info("dependency snapshot", attrs...)
	if missing := deps.Missing(statuses); len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for _, status := range missing {
			names = append(names, status.Name)
		}
		logging.WarnWithContext(logger, "required tools missing", "dependency_missing",
			logging.Any("missing", names),
			logging.String(logging.FieldErrorHint, "install the tools or remove their stages from workers.stages"),
			logging.String(logging.FieldImpact, "jobs for those stages will fail"),
		)
	}
}
