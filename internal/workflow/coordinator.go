package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"mediaflow/internal/config"
	"mediaflow/internal/logging"
	"mediaflow/internal/metrics"
	"mediaflow/internal/notifications"
	"mediaflow/internal/pipeline"
	"mediaflow/internal/process"
	"mediaflow/internal/queue"
	"mediaflow/internal/services"
	"mediaflow/internal/store"
)

// Coordinator decides which stages run next and owns every mutation of a
// Process record.
type Coordinator struct {
	cfg      *config.Config
	store    *store.Store
	queue    *queue.Queue
	graph    *pipeline.Graph
	weights  pipeline.Weights
	opts     pipeline.ValidateOptions
	logger   *slog.Logger
	metrics  *metrics.Metrics
	notifier notifications.Service
	now      func() time.Time
	newID    func() string
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithMetrics attaches Prometheus instruments.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithNotifier replaces the ntfy service built from config.
func WithNotifier(n notifications.Service) Option {
	return func(c *Coordinator) {
		if n != nil {
			c.notifier = n
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithIDGenerator overrides job and process id generation.
func WithIDGenerator(next func() string) Option {
	return func(c *Coordinator) {
		if next != nil {
			c.newID = next
		}
	}
}

// New builds a coordinator over the default stage graph.
func New(cfg *config.Config, st *store.Store, q *queue.Queue, logger *slog.Logger, opts ...Option) (*Coordinator, error) {
	if cfg == nil || st == nil || q == nil {
		return nil, errors.New("coordinator requires config, store and queue")
	}
	weights, err := pipeline.WeightsFromConfig(cfg.Workflow.ProgressWeights)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "workflow", "weights", "", err)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	c := &Coordinator{
		cfg:      cfg,
		store:    st,
		queue:    q,
		graph:    pipeline.DefaultGraph(),
		weights:  weights,
		opts:     pipeline.ValidateOptions{EmbeddingDimensions: cfg.Embedding.Dimensions},
		logger:   logging.NewComponentLogger(logger, "coordinator"),
		notifier: notifications.NewService(cfg),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Graph returns the stage graph the coordinator evaluates.
func (c *Coordinator) Graph() *pipeline.Graph { return c.graph }

// ValidateOptions returns the shape constraints applied to stage results.
func (c *Coordinator) ValidateOptions() pipeline.ValidateOptions { return c.opts }

// SubmitRequest describes a new media file.
type SubmitRequest struct {
	MediaPath     string
	Tenant        string
	CorrelationID string
}

// Submit creates a process in the uploaded state and issues the root stages.
func (c *Coordinator) Submit(ctx context.Context, req SubmitRequest) (*process.Process, error) {
	path := strings.TrimSpace(req.MediaPath)
	if path == "" {
		return nil, services.Wrap(services.ErrValidation, "workflow", "submit", "media path is required", nil)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "workflow", "submit", "media file not readable", err)
	}
	if info.IsDir() || info.Size() == 0 {
		return nil, services.Wrap(services.ErrValidation, "workflow", "submit", "media file is empty or a directory", nil)
	}

	now := c.now()
	p := process.New(c.newID(), strings.TrimSpace(req.Tenant), process.OriginalFile{Path: path, Size: info.Size()}, now)
	p.CorrelationID = req.CorrelationID
	if p.CorrelationID == "" {
		p.CorrelationID = p.ID
	}

	jobs, err := c.plan(p, c.graph.Roots(), now)
	if err != nil {
		return nil, err
	}
	if err := c.store.Create(ctx, p); err != nil {
		return nil, err
	}

	ctx = services.WithProcessID(ctx, p.ID)
	logger := logging.WithContext(ctx, c.logger)
	logger.Info("process submitted",
		logging.String(logging.FieldEventType, "process_submitted"),
		logging.String("media_path", path),
		logging.Int64("size_bytes", info.Size()),
		logging.String("tenant", p.Tenant),
	)
	c.enqueue(ctx, p.ID, jobs)
	return p, nil
}

// Delete removes a process. Running jobs finish; their results are dropped
// at write-back.
func (c *Coordinator) Delete(ctx context.Context, id string) error {
	if err := c.store.Delete(ctx, id); err != nil {
		return err
	}
	logging.WithContext(services.WithProcessID(ctx, id), c.logger).Info("process deleted",
		logging.String(logging.FieldEventType, "process_deleted"),
	)
	return nil
}

// StatusView is the external polling view of a process.
type StatusView struct {
	ID       string                                 `json:"id"`
	Status   pipeline.Status                        `json:"status"`
	Progress process.Progress                       `json:"progress"`
	Errors   []process.ErrorEntry                   `json:"errors"`
	Files    process.Files                          `json:"files"`
	Stages   map[pipeline.Stage]*process.StageState `json:"stages,omitempty"`
	Corrupt  []string                               `json:"corrupt,omitempty"`
	Updated  time.Time                              `json:"updatedAt"`
}

// Status returns status, progress and the accumulated error list. Fields
// that failed validation on read are withheld and named in Corrupt.
func (c *Coordinator) Status(ctx context.Context, id string) (*StatusView, error) {
	p, err := c.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.Terminal() {
		p.EstimateRemaining(c.now())
	}
	errs := p.ProcessingErrors
	if errs == nil {
		errs = []process.ErrorEntry{}
	}
	return &StatusView{
		ID:       p.ID,
		Status:   p.Status,
		Progress: p.Progress,
		Errors:   errs,
		Files:    p.Files,
		Stages:   p.Stages,
		Corrupt:  p.Corrupt,
		Updated:  p.UpdatedAt,
	}, nil
}

// Load returns the full process record.
func (c *Coordinator) Load(ctx context.Context, id string) (*process.Process, error) {
	return c.store.Load(ctx, id)
}

func (c *Coordinator) processLogger(ctx context.Context, processID string, stage pipeline.Stage) (context.Context, *slog.Logger) {
	ctx = services.WithProcessID(ctx, processID)
	if stage != "" {
		ctx = services.WithStage(ctx, string(stage))
	}
	return ctx, logging.WithContext(ctx, c.logger)
}

func notFound(err error) bool {
	return errors.Is(err, services.ErrNotFound)
}

func guardError(op, format string, args ...any) error {
	return services.Wrap(services.ErrGuard, "workflow", op, fmt.Sprintf(format, args...), nil)
}
