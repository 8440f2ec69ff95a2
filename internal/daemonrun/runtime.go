package daemonrun

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"mediaflow/internal/api"
	"mediaflow/internal/bus"
	"mediaflow/internal/config"
	"mediaflow/internal/database"
	"mediaflow/internal/logging"
	"mediaflow/internal/metrics"
	"mediaflow/internal/queue"
	"mediaflow/internal/reconcile"
	"mediaflow/internal/store"
	"mediaflow/internal/workflow"
)

// Runtime holds the shared components of one mediaflow instance.
type Runtime struct {
	DB          *database.DB
	Store       *store.Store
	Queue       *queue.Queue
	Coordinator *workflow.Coordinator
	Metrics     *metrics.Metrics
	Service     *api.Service
	Reconciler  *reconcile.Reconciler

	busClient *bus.Client
	notifier  *bus.Notifier
}

// Open builds the runtime for cfg. When the bus is enabled, enqueue wakeups
// are shared with other instances over NATS; a broker that cannot be reached
// degrades to local wakeups plus polling.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	db, err := database.Open(ctx, cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	rt := &Runtime{DB: db}

	var queueOpts []queue.Option
	if cfg.Bus.Enabled {
		client, err := bus.Connect(cfg.Bus.URL)
		if err != nil {
			logger.Warn("message bus unavailable; using local wakeups",
				logging.String(logging.FieldEventType, "bus_unavailable"),
				logging.String("url", cfg.Bus.URL),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check bus.url and that the NATS server is running"),
				logging.String(logging.FieldImpact, "other instances pick up new jobs on their poll interval"),
			)
		} else {
			rt.busClient = client
			rt.notifier = bus.NewNotifier(client.Conn(), cfg.Bus.SubjectPrefix, logging.NewComponentLogger(logger, "bus"))
			queueOpts = append(queueOpts, queue.WithNotifier(rt.notifier))
		}
	}

	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		rt.Metrics = metrics.New(cfg.Metrics.Namespace, reg)
	}

	rt.Store = store.New(db)
	rt.Queue = queue.New(db, queueOpts...)
	rt.Coordinator, err = workflow.New(cfg, rt.Store, rt.Queue,
		logging.NewComponentLogger(logger, "workflow"),
		workflow.WithMetrics(rt.Metrics),
	)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("create coordinator: %w", err)
	}
	rt.Reconciler, err = reconcile.New(cfg, rt.Store, rt.Queue, rt.Coordinator,
		logging.NewComponentLogger(logger, "reconcile"),
		reconcile.WithMetrics(rt.Metrics),
	)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("create reconciler: %w", err)
	}
	rt.Service = api.NewService(rt.Coordinator, rt.Store, rt.Queue)
	return rt, nil
}

// Close releases the bus connection and the database.
func (r *Runtime) Close() {
	if r == nil {
		return
	}
	if r.notifier != nil {
		r.notifier.Close()
	}
	r.busClient.Close()
	if r.DB != nil {
		_ = r.DB.Close()
	}
}
