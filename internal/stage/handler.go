package stage

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"slices"

	"mediaflow/internal/pipeline"
)

// Handler executes one stage type. Run must write artifacts to a temporary
// location and publish them atomically before returning success.
type Handler interface {
	Stage() pipeline.Stage
	Run(ctx context.Context, req Request) (pipeline.Result, error)
	HealthCheck(ctx context.Context) Health
}

// LoggerAware handlers receive a logger scoped to the running job.
type LoggerAware interface {
	SetLogger(logger *slog.Logger)
}

// Registry maps stage names to handlers.
type Registry struct {
	handlers map[pipeline.Stage]Handler
}

// NewRegistry builds a registry, rejecting duplicate stages.
func NewRegistry(handlers ...Handler) (*Registry, error) {
	r := &Registry{handlers: make(map[pipeline.Stage]Handler, len(handlers))}
	for _, h := range handlers {
		if h == nil {
			continue
		}
		if _, dup := r.handlers[h.Stage()]; dup {
			return nil, fmt.Errorf("duplicate handler for stage %s", h.Stage())
		}
		r.handlers[h.Stage()] = h
	}
	return r, nil
}

// Get returns the handler for stage.
func (r *Registry) Get(stage pipeline.Stage) (Handler, bool) {
	if r == nil {
		return nil, false
	}
	h, ok := r.handlers[stage]
	return h, ok
}

// Stages lists registered stages in name order.
func (r *Registry) Stages() []pipeline.Stage {
	if r == nil {
		return nil
	}
	out := make([]pipeline.Stage, 0, len(r.handlers))
	for stage := range r.handlers {
		out = append(out, stage)
	}
	slices.Sort(out)
	return out
}

// HealthCheck runs every handler's check.
func (r *Registry) HealthCheck(ctx context.Context) []Health {
	var out []Health
	for _, stage := range r.Stages() {
		out = append(out, r.handlers[stage].HealthCheck(ctx))
	}
	return out
}

// Health reports whether a stage can accept work on this host.
type Health struct {
	Name   string
	Ready  bool
	Detail string
}

func Healthy(name string) Health { return Health{Name: name, Ready: true} }

func Unhealthy(name, detail string) Health { return Health{Name: name, Detail: detail} }

// RequireBinaries is ready only when every binary resolves on PATH.
func RequireBinaries(name string, binaries ...string) Health {
	for _, binary := range binaries {
		if _, err := exec.LookPath(binary); err != nil {
			return Unhealthy(name, binary+" not found")
		}
	}
	return Healthy(name)
}
