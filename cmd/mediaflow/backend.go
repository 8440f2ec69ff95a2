package main

import (
	"context"

	"mediaflow/internal/api"
	"mediaflow/internal/daemonctl"
	"mediaflow/internal/queue"
)

// processAPI is served by the daemon client and, offline, by the service
// over the local database.
type processAPI interface {
	Submit(ctx context.Context, req api.SubmitRequest) (api.SubmitResponse, error)
	Process(ctx context.Context, id string) (*api.StatusResponse, error)
	List(ctx context.Context, statuses []string, tenant string, limit uint64) ([]api.ProcessItem, error)
	Delete(ctx context.Context, id string) error
	ForceAdvance(ctx context.Context, id string, req api.ForceAdvanceRequest) error
	ForceComplete(ctx context.Context, id string, req api.ForceCompleteRequest) error
	Repair(ctx context.Context, id string, req api.RepairRequest) (api.RepairResponse, error)
	Queue(ctx context.Context, filter queue.ListFilter) ([]api.QueueJob, error)
	QueueStats(ctx context.Context) (map[string]map[string]int, error)
}

var _ processAPI = (*daemonctl.Client)(nil)

type serviceBackend struct {
	*api.Service
}

func (s serviceBackend) Process(ctx context.Context, id string) (*api.StatusResponse, error) {
	return s.Status(ctx, id)
}
