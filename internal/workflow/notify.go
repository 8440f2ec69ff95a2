package workflow

import (
	"context"
	"log/slog"

	"mediaflow/internal/logging"
	"mediaflow/internal/pipeline"
	"mediaflow/internal/process"
)

// announceCompleted runs once per transition into completed.
func (c *Coordinator) announceCompleted(ctx context.Context, logger *slog.Logger, id string, p *process.Process) {
	c.metrics.ProcessTerminal(string(pipeline.StatusCompleted))
	title := ""
	if p != nil {
		title = p.Title
	}
	if err := c.notifier.NotifyProcessCompleted(ctx, id, title); err != nil {
		logging.WarnWithContext(logger, "completion notification failed", "notification_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
			logging.String(logging.FieldImpact, "process state unaffected"),
		)
	}
}

// announceFailed runs once per transition into failed.
func (c *Coordinator) announceFailed(ctx context.Context, logger *slog.Logger, id string, st pipeline.Stage, message string) {
	c.metrics.ProcessTerminal(string(pipeline.StatusFailed))
	if err := c.notifier.NotifyProcessFailed(ctx, id, string(st), message); err != nil {
		logging.WarnWithContext(logger, "failure notification failed", "notification_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
			logging.String(logging.FieldImpact, "process state unaffected"),
		)
	}
}
