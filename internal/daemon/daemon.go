package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"mediaflow/internal/api"
	"mediaflow/internal/config"
	"mediaflow/internal/deps"
	"mediaflow/internal/logging"
	"mediaflow/internal/metrics"
	"mediaflow/internal/reconcile"
	"mediaflow/internal/stage"
	"mediaflow/internal/stageexec"
)

// Options wires the daemon's collaborators.
type Options struct {
	Config     *config.Config
	Logger     *slog.Logger
	Service    *api.Service
	Pool       *stageexec.Pool
	Reconciler *reconcile.Reconciler
	Registry   *stage.Registry
	Metrics    *metrics.Metrics
}

// Daemon runs the worker pool, reconciler and API and enforces
// single-instance execution.
type Daemon struct {
	cfg        *config.Config
	logger     *slog.Logger
	service    *api.Service
	pool       *stageexec.Pool
	reconciler *reconcile.Reconciler
	registry   *stage.Registry
	metrics    *metrics.Metrics
	api        *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New constructs a daemon. Pool and Reconciler may be nil on API-only
// instances.
func New(opts Options) (*Daemon, error) {
	if opts.Config == nil || opts.Service == nil {
		return nil, errors.New("daemon requires config and api service")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	d := &Daemon{
		cfg:        opts.Config,
		logger:     logging.NewComponentLogger(logger, "daemon"),
		service:    opts.Service,
		pool:       opts.Pool,
		reconciler: opts.Reconciler,
		registry:   opts.Registry,
		metrics:    opts.Metrics,
		lockPath:   opts.Config.LockPath(),
		lock:       flock.New(opts.Config.LockPath()),
	}
	srv, err := newAPIServer(opts.Config, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = srv
	return d, nil
}

// Start acquires the daemon lock, then launches the worker pool, the
// reconciliation loop and the API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another mediaflow daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if d.pool != nil {
		if err := d.pool.Start(runCtx); err != nil {
			cancel()
			_ = d.lock.Unlock()
			return fmt.Errorf("start worker pool: %w", err)
		}
	}
	if err := d.api.start(runCtx); err != nil {
		cancel()
		if d.pool != nil {
			d.pool.Stop()
		}
		_ = d.lock.Unlock()
		return err
	}
	if d.reconciler != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			_ = d.reconciler.Run(runCtx)
		}()
	}

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("mediaflow daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.Bool("workers", d.pool != nil),
		logging.Bool("reconciler", d.reconciler != nil),
	)
	return nil
}

// Stop stops background processing and releases the daemon lock. In-flight
// jobs are handed back to the queue.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.pool != nil {
		d.pool.Stop()
	}
	d.wg.Wait()
	d.api.stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("mediaflow daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	return nil
}

// Running reports whether Start succeeded and Stop has not been called.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// APIAddress returns the bound API address, or "" when the API is off.
func (d *Daemon) APIAddress() string {
	return d.api.address()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	status := api.DaemonStatus{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		DatabasePath: d.cfg.DatabasePath(),
		LockFilePath: d.lockPath,
		Workers: api.WorkerStatus{
			Running:          d.pool != nil && d.pool.Running(),
			HeavyConcurrency: d.cfg.Workers.HeavyConcurrency,
			LightConcurrency: d.cfg.Workers.LightConcurrency,
			HeavyIsolation:   d.cfg.Workers.HeavyIsolation,
		},
		Dependencies: api.FromDependencies(deps.CheckBinaries(deps.Requirements(d.cfg))),
	}
	if d.registry != nil {
		for _, st := range d.registry.Stages() {
			status.Workers.Stages = append(status.Workers.Stages, string(st))
		}
		status.StageHealth = api.StageHealthSlice(d.registry.HealthCheck(ctx))
	}
	if counts, err := d.service.ProcessCounts(ctx); err == nil {
		status.Processes = counts
	} else {
		d.logger.Warn("process counts unavailable", logging.Error(err))
	}
	if stats, err := d.service.QueueStats(ctx); err == nil {
		status.Queue = stats
	} else {
		d.logger.Warn("queue stats unavailable", logging.Error(err))
	}
	return status
}
