package workflow_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediaflow/internal/pipeline"
	"mediaflow/internal/services"
	"mediaflow/internal/workflow"
)

type recordingNotifier struct {
	mu        sync.Mutex
	completed []string
	failed    []string
}

func (n *recordingNotifier) NotifyProcessCompleted(_ context.Context, id, title string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, id+":"+title)
	return nil
}

func (n *recordingNotifier) NotifyProcessFailed(_ context.Context, id, stage, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, id+":"+stage)
	return nil
}

func (n *recordingNotifier) TestNotification(context.Context) error { return nil }

func withNotifier(t *testing.T, h *harness) *recordingNotifier {
	t.Helper()
	rec := &recordingNotifier{}
	coord, err := workflow.New(h.cfg, h.store, h.queue, nil, workflow.WithNotifier(rec))
	require.NoError(t, err)
	h.coord = coord
	return rec
}

func TestCompletionNotifiesOnce(t *testing.T) {
	h := newHarness(t)
	rec := withNotifier(t, h)
	p := h.submit()
	h.drain(happy)

	require.NoError(t, h.coord.MarkCompleted(h.ctx, p.ID))
	assert.Equal(t, []string{p.ID + ":Weekly sync"}, rec.completed)
	assert.Empty(t, rec.failed)
}

func TestTerminalFailureNotifiesOnce(t *testing.T) {
	h := newHarness(t)
	rec := withNotifier(t, h)
	p := h.submit()
	boom := services.Wrap(services.ErrValidation, "extract-audio", "ffmpeg", "no audio stream", nil)
	h.drain(failing(pipeline.StageExtractAudio, boom))

	assert.Equal(t, []string{p.ID + ":extract-audio"}, rec.failed)
	assert.Empty(t, rec.completed)
}
