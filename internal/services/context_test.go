package services_test

import (
	"context"
	"testing"

	"mediaflow/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithProcessID(ctx, "proc-1")
	ctx = services.WithJobID(ctx, "job-9")
	ctx = services.WithStage(ctx, "compress-video")
	ctx = services.WithTier(ctx, "heavy")
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.ProcessIDFromContext(ctx); !ok || id != "proc-1" {
		t.Fatalf("unexpected process id: %v %v", id, ok)
	}
	if id, ok := services.JobIDFromContext(ctx); !ok || id != "job-9" {
		t.Fatalf("unexpected job id: %v %v", id, ok)
	}
	if stage, ok := services.StageFromContext(ctx); !ok || stage != "compress-video" {
		t.Fatalf("unexpected stage: %v %v", stage, ok)
	}
	if tier, ok := services.TierFromContext(ctx); !ok || tier != "heavy" {
		t.Fatalf("unexpected tier: %v %v", tier, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestStageBlankPreservesContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithStage(ctx, "")
	if _, ok := services.StageFromContext(ctx); ok {
		t.Fatal("expected no stage value")
	}
	ctx = services.WithProcessID(ctx, "")
	if _, ok := services.ProcessIDFromContext(ctx); ok {
		t.Fatal("expected no process id value")
	}
}
