package stageexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"mediaflow/internal/config"
	"mediaflow/internal/logging"
	"mediaflow/internal/metrics"
	"mediaflow/internal/pipeline"
	"mediaflow/internal/queue"
	"mediaflow/internal/services"
	"mediaflow/internal/stage"
	"mediaflow/internal/workflow"
)

// Options configures a Pool.
type Options struct {
	Config *config.Config
	// ConfigPath is passed to heavy-tier child processes.
	ConfigPath  string
	Queue       *queue.Queue
	Coordinator *workflow.Coordinator
	Registry    *stage.Registry
	// Heavy overrides the heavy-tier executor. When nil, heavy jobs run
	// inline or in a child process according to workers.heavy_isolation.
	Heavy   Executor
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	// ReapInterval controls how often expired leases are reclaimed.
	ReapInterval time.Duration
}

// Pool claims jobs for the registered stages and executes them.
type Pool struct {
	cfg      *config.Config
	queue    *queue.Queue
	coord    *workflow.Coordinator
	registry *stage.Registry
	logger   *slog.Logger
	metrics  *metrics.Metrics
	reap     time.Duration

	tiers map[pipeline.Tier]*tier

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type tier struct {
	name     pipeline.Tier
	stages   []pipeline.Stage
	slots    int
	executor Executor
	wake     chan struct{}
}

// New builds a pool. Stages without a registered handler are never claimed
// by this instance.
func New(opts Options) (*Pool, error) {
	if opts.Config == nil || opts.Queue == nil || opts.Coordinator == nil || opts.Registry == nil {
		return nil, errors.New("worker pool requires config, queue, coordinator and registry")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	p := &Pool{
		cfg:      opts.Config,
		queue:    opts.Queue,
		coord:    opts.Coordinator,
		registry: opts.Registry,
		logger:   logging.NewComponentLogger(logger, "worker-pool"),
		metrics:  opts.Metrics,
		reap:     opts.ReapInterval,
		tiers:    map[pipeline.Tier]*tier{},
	}
	if p.reap <= 0 {
		p.reap = 30 * time.Second
	}

	inline := InlineExecutor{Registry: opts.Registry, Logger: logger}
	heavy := opts.Heavy
	if heavy == nil {
		heavy = inline
		if opts.Config.Workers.HeavyIsolation == config.HeavyIsolationProcess {
			command, err := SelfCommand(opts.ConfigPath)
			if err != nil {
				return nil, err
			}
			heavy = ProcessExecutor{Command: command, Logger: logger}
		}
	}
	p.tiers[pipeline.TierHeavy] = &tier{name: pipeline.TierHeavy, slots: opts.Config.Workers.HeavyConcurrency, executor: heavy}
	p.tiers[pipeline.TierLight] = &tier{name: pipeline.TierLight, slots: opts.Config.Workers.LightConcurrency, executor: inline}

	graph := opts.Coordinator.Graph()
	for _, st := range opts.Registry.Stages() {
		node, ok := graph.Node(st)
		if !ok {
			return nil, fmt.Errorf("handler registered for unknown stage %q", st)
		}
		t := p.tiers[node.Tier]
		t.stages = append(t.stages, st)
	}
	for _, t := range p.tiers {
		t.wake = make(chan struct{}, max(t.slots, 1))
	}
	return p, nil
}

// Start launches tier workers, wakeup forwarders and the lease reaper.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return errors.New("worker pool already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true

	for _, t := range p.tiers {
		if len(t.stages) == 0 || t.slots <= 0 {
			continue
		}
		p.logger.Info("tier workers starting",
			logging.String(logging.FieldEventType, "tier_start"),
			logging.String(logging.FieldTier, string(t.name)),
			logging.Int("workers", t.slots),
			logging.Any("stages", t.stages),
		)
		for _, st := range t.stages {
			p.wg.Add(1)
			go p.forwardWakeups(runCtx, t, st)
		}
		for range t.slots {
			p.wg.Add(1)
			go p.runWorker(runCtx, t)
		}
	}
	p.wg.Add(1)
	go p.runReaper(runCtx)
	return nil
}

// Stop cancels workers and waits for in-flight jobs to return.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
}

// Running reports whether workers are active.
func (p *Pool) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Pool) forwardWakeups(ctx context.Context, t *tier, st pipeline.Stage) {
	defer p.wg.Done()
	notifier := p.queue.Notifier()
	if notifier == nil {
		return
	}
	wakeups := notifier.Wakeups(st)
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-wakeups:
			if !ok {
				return
			}
			select {
			case t.wake <- struct{}{}:
			default:
			}
		}
	}
}

func (p *Pool) runWorker(ctx context.Context, t *tier) {
	defer p.wg.Done()
	logger := p.logger.With(logging.String(logging.FieldTier, string(t.name)))
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := p.queue.Claim(ctx, t.stages, p.lease)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("failed to claim queue job",
				logging.Error(err),
				logging.String(logging.FieldEventType, "queue_claim_failed"),
				logging.String(logging.FieldErrorHint, "check queue database access"),
			)
			p.wait(ctx, t)
			continue
		}
		if job == nil {
			p.wait(ctx, t)
			continue
		}
		p.RunJob(ctx, t.name, t.executor, job)
	}
}

func (p *Pool) wait(ctx context.Context, t *tier) {
	timer := time.NewTimer(p.cfg.PollInterval())
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-t.wake:
	case <-timer.C:
	}
}

func (p *Pool) lease(st pipeline.Stage) time.Duration {
	return p.cfg.LeaseDuration(string(st))
}

func jobContext(ctx context.Context, processID, jobID string, st pipeline.Stage, t pipeline.Tier) context.Context {
	ctx = services.WithProcessID(ctx, processID)
	ctx = services.WithJobID(ctx, jobID)
	ctx = services.WithStage(ctx, string(st))
	if t != "" {
		ctx = services.WithTier(ctx, string(t))
	}
	return ctx
}
