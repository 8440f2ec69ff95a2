package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"mediaflow/internal/pipeline"
	"mediaflow/internal/queue"
	"mediaflow/internal/services"
	"mediaflow/internal/store"
	"mediaflow/internal/workflow"
)

// Service exposes process and queue operations returning API DTOs.
type Service struct {
	coord *workflow.Coordinator
	store *store.Store
	queue *queue.Queue
}

// NewService builds a service. All mutations go through coord.
func NewService(coord *workflow.Coordinator, st *store.Store, q *queue.Queue) *Service {
	if coord == nil || st == nil || q == nil {
		return nil
	}
	return &Service{coord: coord, store: st, queue: q}
}

// Submit registers a media file and issues its first stages.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (SubmitResponse, error) {
	p, err := s.coord.Submit(ctx, workflow.SubmitRequest{
		MediaPath:     req.MediaPath,
		Tenant:        req.Tenant,
		CorrelationID: req.CorrelationID,
	})
	if err != nil {
		return SubmitResponse{}, err
	}
	return SubmitResponse{ID: p.ID, Status: string(p.Status)}, nil
}

// Status returns the polling view of one process.
func (s *Service) Status(ctx context.Context, id string) (*StatusResponse, error) {
	return s.coord.Status(ctx, strings.TrimSpace(id))
}

// List returns processes filtered by status and tenant.
func (s *Service) List(ctx context.Context, statuses []string, tenant string, limit uint64) ([]ProcessItem, error) {
	filter := store.Filter{Tenant: strings.TrimSpace(tenant), Limit: limit}
	for _, value := range statuses {
		if value = strings.TrimSpace(value); value != "" {
			filter.Statuses = append(filter.Statuses, pipeline.Status(value))
		}
	}
	processes, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return FromProcesses(processes), nil
}

// Delete removes a process.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.coord.Delete(ctx, strings.TrimSpace(id))
}

// ForceAdvance applies the operator stage override.
func (s *Service) ForceAdvance(ctx context.Context, id string, req ForceAdvanceRequest) error {
	st, ok := pipeline.ParseStage(req.Stage)
	if !ok {
		return services.Wrap(services.ErrValidation, "api", "force advance", "unknown stage "+req.Stage, nil)
	}
	var result *pipeline.Result
	if raw := strings.TrimSpace(string(req.Result)); raw != "" && raw != "null" {
		decoded, err := pipeline.DecodeResult(req.Result)
		if err != nil {
			return services.Wrap(services.ErrValidation, "api", "force advance", "", err)
		}
		if decoded.Stage == "" {
			decoded.Stage = st
		}
		result = &decoded
	}
	return s.coord.ForceAdvance(ctx, strings.TrimSpace(id), st, result, req.Actor)
}

// ForceComplete applies the operator completion override.
func (s *Service) ForceComplete(ctx context.Context, id string, req ForceCompleteRequest) error {
	return s.coord.ForceComplete(ctx, strings.TrimSpace(id), req.Actor)
}

// Repair runs the corruption migration on one process.
func (s *Service) Repair(ctx context.Context, id string, req RepairRequest) (RepairResponse, error) {
	id = strings.TrimSpace(id)
	actor := strings.TrimSpace(req.Actor)
	if actor == "" {
		actor = "operator"
	}
	repairs, err := s.store.Repair(ctx, id, actor, s.coord.ValidateOptions())
	if err != nil {
		return RepairResponse{}, err
	}
	return RepairResponse{ID: id, Repairs: repairs}, nil
}

// CorruptIDs lists processes with fields that fail validation.
func (s *Service) CorruptIDs(ctx context.Context) ([]string, error) {
	return s.store.CorruptIDs(ctx)
}

// Queue lists stage jobs.
func (s *Service) Queue(ctx context.Context, filter queue.ListFilter) ([]QueueJob, error) {
	jobs, err := s.queue.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return FromJobs(jobs), nil
}

// QueueStats returns job counts by stage and status.
func (s *Service) QueueStats(ctx context.Context) (map[string]map[string]int, error) {
	stats, err := s.queue.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return MergeQueueStats(stats), nil
}

// ProcessCounts returns process counts by status.
func (s *Service) ProcessCounts(ctx context.Context) (map[string]int, error) {
	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	return MergeProcessCounts(counts), nil
}

// StatusCode maps an error from the service onto an HTTP status.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrGuard):
		return http.StatusConflict
	case errors.Is(err, services.ErrCorrupt):
		return http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrTransient):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
