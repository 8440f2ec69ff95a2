package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"mediaflow/internal/config"
	"mediaflow/internal/notifications"
)

type captured struct {
	title    string
	tags     string
	priority string
	body     string
}

func newCaptureServer(t *testing.T, status int) (*httptest.Server, *[]captured) {
	t.Helper()
	var requests []captured
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		requests = append(requests, captured{
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			body:     string(body),
		})
		w.WriteHeader(status)
		_, _ = w.Write([]byte("topic closed"))
	}))
	t.Cleanup(srv.Close)
	return srv, &requests
}

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	svc := notifications.NewService(&cfg)
	if notifications.Enabled(svc) {
		t.Fatal("expected noop service without a topic")
	}
	if err := svc.NotifyProcessFailed(context.Background(), "p-1", "extract-audio", "boom"); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	srv, requests := newCaptureServer(t, http.StatusOK)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = srv.URL
	svc := notifications.NewService(&cfg)
	if !notifications.Enabled(svc) {
		t.Fatal("expected ntfy service")
	}

	ctx := context.Background()
	if err := svc.NotifyProcessCompleted(ctx, "p-1", "Quarterly review"); err != nil {
		t.Fatalf("completed: %v", err)
	}
	if err := svc.NotifyProcessFailed(ctx, "p-2", "transcribe-segment", "provider exited 3"); err != nil {
		t.Fatalf("failed: %v", err)
	}
	if err := svc.TestNotification(ctx); err != nil {
		t.Fatalf("test: %v", err)
	}

	got := *requests
	if len(got) != 3 {
		t.Fatalf("expected 3 requests, got %d", len(got))
	}
	if got[0].title != "Mediaflow - Complete" || !strings.Contains(got[0].body, "Quarterly review") {
		t.Fatalf("unexpected completed payload: %+v", got[0])
	}
	if got[1].priority != "high" || !strings.Contains(got[1].body, "failed at transcribe-segment: provider exited 3") {
		t.Fatalf("unexpected failure payload: %+v", got[1])
	}
	if got[2].tags != "mediaflow,test" || got[2].priority != "low" {
		t.Fatalf("unexpected test payload: %+v", got[2])
	}
}

func TestNtfyServiceHonorsToggles(t *testing.T) {
	srv, requests := newCaptureServer(t, http.StatusOK)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = srv.URL
	cfg.Notifications.Completed = false
	cfg.Notifications.Failures = false
	svc := notifications.NewService(&cfg)

	ctx := context.Background()
	_ = svc.NotifyProcessCompleted(ctx, "p-1", "")
	_ = svc.NotifyProcessFailed(ctx, "p-1", "", "")
	if len(*requests) != 0 {
		t.Fatalf("expected no requests, got %d", len(*requests))
	}
}

func TestNtfyServiceReportsHTTPErrors(t *testing.T) {
	srv, _ := newCaptureServer(t, http.StatusForbidden)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = srv.URL
	svc := notifications.NewService(&cfg)

	err := svc.TestNotification(context.Background())
	if err == nil || !strings.Contains(err.Error(), "ntfy returned 403: topic closed") {
		t.Fatalf("expected 403 error, got %v", err)
	}
}
