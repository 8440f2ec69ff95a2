package queue

import (
	"context"
	"sync"

	"mediaflow/internal/pipeline"
)

// Notifier wakes idle claim loops when work is enqueued on a stage. Missed
// notifications are harmless; pools still poll on an interval.
type Notifier interface {
	Notify(ctx context.Context, stage pipeline.Stage)
	Wakeups(stage pipeline.Stage) <-chan struct{}
}

// LocalNotifier delivers wakeups within one process.
type LocalNotifier struct {
	mu    sync.Mutex
	chans map[pipeline.Stage]chan struct{}
}

// NewLocalNotifier returns an in-process notifier.
func NewLocalNotifier() *LocalNotifier {
	return &LocalNotifier{chans: make(map[pipeline.Stage]chan struct{})}
}

// Notify signals the stage channel without blocking.
func (n *LocalNotifier) Notify(_ context.Context, stage pipeline.Stage) {
	select {
	case n.channel(stage) <- struct{}{}:
	default:
	}
}

// Wakeups returns the channel signalled for stage.
func (n *LocalNotifier) Wakeups(stage pipeline.Stage) <-chan struct{} {
	return n.channel(stage)
}

func (n *LocalNotifier) channel(stage pipeline.Stage) chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	ch, ok := n.chans[stage]
	if !ok {
		ch = make(chan struct{}, 1)
		n.chans[stage] = ch
	}
	return ch
}
