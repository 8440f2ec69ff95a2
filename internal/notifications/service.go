package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"mediaflow/internal/config"
)

const userAgent = "mediaflow/0.1"

// Service defines the notification surface exposed to the coordinator.
type Service interface {
	NotifyProcessCompleted(ctx context.Context, processID, title string) error
	NotifyProcessFailed(ctx context.Context, processID, stage, message string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:  topic,
		client:    &http.Client{Timeout: timeout},
		completed: cfg.Notifications.Completed,
		failures:  cfg.Notifications.Failures,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint  string
	client    *http.Client
	completed bool
	failures  bool
}

func (n *ntfyService) NotifyProcessCompleted(ctx context.Context, processID, title string) error {
	if !n.completed {
		return nil
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = processID
	}
	data := payload{
		title:   "Mediaflow - Complete",
		message: fmt.Sprintf("✅ Processed: %s\nProcess: %s", title, processID),
		tags:    []string{"mediaflow", "process", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyProcessFailed(ctx context.Context, processID, stage, message string) error {
	if !n.failures {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("❌ Process ")
	builder.WriteString(processID)
	builder.WriteString(" failed")
	if stage = strings.TrimSpace(stage); stage != "" {
		builder.WriteString(" at ")
		builder.WriteString(stage)
	}
	builder.WriteString(": ")
	if message = strings.TrimSpace(message); message != "" {
		builder.WriteString(message)
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "Mediaflow - Failed",
		message:  builder.String(),
		tags:     []string{"mediaflow", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Mediaflow - Test",
		message:  "🧪 Notification system test",
		tags:     []string{"mediaflow", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyProcessCompleted(context.Context, string, string) error      { return nil }
func (noopService) NotifyProcessFailed(context.Context, string, string, string) error { return nil }
func (noopService) TestNotification(context.Context) error                            { return nil }

// Enabled reports whether svc delivers anything.
func Enabled(svc Service) bool {
	if svc == nil {
		return false
	}
	_, noop := svc.(noopService)
	return !noop
}
