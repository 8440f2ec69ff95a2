package bus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediaflow/internal/pipeline"
)

type fakeConn struct {
	mu         sync.Mutex
	published  map[string][][]byte
	handlers   map[string]nats.MsgHandler
	publishErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{published: map[string][][]byte{}, handlers: map[string]nats.MsgHandler{}}
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published[subject] = append(f.published[subject], data)
	return nil
}

func (f *fakeConn) Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[subject] = cb
	return new(nats.Subscription), nil
}

func (f *fakeConn) deliver(subject string, data []byte) {
	f.mu.Lock()
	cb := f.handlers[subject]
	f.mu.Unlock()
	if cb != nil {
		cb(&nats.Msg{Subject: subject, Data: data})
	}
}

func signalled(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	case <-time.After(100 * time.Millisecond):
		return false
	}
}

func TestNotifyPublishesAndWakesLocally(t *testing.T) {
	conn := newFakeConn()
	n := NewNotifier(conn, "mediaflow.jobs", nil)
	wakeups := n.Wakeups(pipeline.StageCompressVideo)

	n.Notify(context.Background(), pipeline.StageCompressVideo)

	assert.True(t, signalled(wakeups))
	msgs := conn.published["mediaflow.jobs.compress-video"]
	require.Len(t, msgs, 1)
	var wake Wakeup
	require.NoError(t, json.Unmarshal(msgs[0], &wake))
	assert.Equal(t, pipeline.StageCompressVideo, wake.Stage)
}

func TestRemoteWakeupSignalsSubscribers(t *testing.T) {
	conn := newFakeConn()
	n := NewNotifier(conn, "mf", nil)
	wakeups := n.Wakeups(pipeline.StageGenerateTags)

	data, err := json.Marshal(Wakeup{Stage: pipeline.StageGenerateTags})
	require.NoError(t, err)
	conn.deliver("mf.generate-tags", data)
	assert.True(t, signalled(wakeups))

	conn.deliver("mf.generate-tags", []byte("not json"))
	assert.False(t, signalled(wakeups))
}

func TestPublishFailureStillWakesLocally(t *testing.T) {
	conn := newFakeConn()
	conn.publishErr = errors.New("connection closed")
	n := NewNotifier(conn, "mf", nil)
	wakeups := n.Wakeups(pipeline.StageFinalize)

	n.Notify(context.Background(), pipeline.StageFinalize)
	assert.True(t, signalled(wakeups))
}

func TestCloseDropsSubscriptions(t *testing.T) {
	conn := newFakeConn()
	n := NewNotifier(conn, "mf", nil)
	n.Wakeups(pipeline.StageFinalize)
	n.Wakeups(pipeline.StageUploadRemote)
	require.Len(t, n.subs, 2)

	n.Close()
	assert.Empty(t, n.subs)
}
