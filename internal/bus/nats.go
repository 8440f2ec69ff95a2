// Package bus carries queue wakeups over NATS so worker pools in other
// processes claim new jobs without waiting for their poll interval.
package bus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"mediaflow/internal/logging"
	"mediaflow/internal/pipeline"
	"mediaflow/internal/queue"
)

// Conn is the subset of *nats.Conn the notifier uses.
type Conn interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// Client owns a NATS connection.
type Client struct{ nc *nats.Conn }

// Connect dials url and keeps reconnecting for the life of the client.
func Connect(url string) (*Client, error) {
	nc, err := nats.Connect(url,
		nats.Name("mediaflow"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &Client{nc: nc}, nil
}

// Close drains pending messages and closes the connection.
func (c *Client) Close() {
	if c != nil && c.nc != nil {
		_ = c.nc.Drain()
	}
}

// Conn returns the underlying connection.
func (c *Client) Conn() *nats.Conn { return c.nc }

// Wakeup is the message published when a job is enqueued.
type Wakeup struct {
	Stage pipeline.Stage `json:"stage"`
	At    time.Time      `json:"at"`
}

// Notifier implements queue.Notifier over NATS. Local wakeups are delivered
// directly as well, so an instance never depends on the broker to see its
// own enqueues.
type Notifier struct {
	conn   Conn
	prefix string
	local  *queue.LocalNotifier
	logger *slog.Logger

	mu   sync.Mutex
	subs map[pipeline.Stage]*nats.Subscription
}

// NewNotifier builds a notifier publishing under prefix.<stage>.
func NewNotifier(conn Conn, prefix string, logger *slog.Logger) *Notifier {
	return &Notifier{
		conn:   conn,
		prefix: prefix,
		local:  queue.NewLocalNotifier(),
		logger: logging.NewComponentLogger(logger, "bus"),
		subs:   make(map[pipeline.Stage]*nats.Subscription),
	}
}

// Subject returns the subject wakeups for stage are published on.
func (n *Notifier) Subject(stage pipeline.Stage) string {
	return n.prefix + "." + string(stage)
}

// Notify wakes local claim loops and publishes a wakeup. Publish failures
// are logged; pools fall back to polling.
func (n *Notifier) Notify(_ context.Context, stage pipeline.Stage) {
	n.local.Notify(context.Background(), stage)
	data, err := json.Marshal(Wakeup{Stage: stage, At: time.Now().UTC()})
	if err != nil {
		return
	}
	if err := n.conn.Publish(n.Subject(stage), data); err != nil {
		n.logger.Warn("publish queue wakeup failed",
			logging.String(logging.FieldEventType, "bus_publish_failed"),
			logging.String(logging.FieldStage, string(stage)),
			logging.Error(err),
			logging.String(logging.FieldImpact, "remote workers pick the job up on their next poll"),
		)
	}
}

// Wakeups subscribes to the stage subject on first use and returns the
// channel signalled for local and remote enqueues.
func (n *Notifier) Wakeups(stage pipeline.Stage) <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.subs[stage]; !ok {
		sub, err := n.conn.Subscribe(n.Subject(stage), func(msg *nats.Msg) {
			var wake Wakeup
			if err := json.Unmarshal(msg.Data, &wake); err != nil || wake.Stage != stage {
				return
			}
			n.local.Notify(context.Background(), stage)
		})
		if err != nil {
			n.logger.Warn("subscribe to queue wakeups failed",
				logging.String(logging.FieldEventType, "bus_subscribe_failed"),
				logging.String(logging.FieldStage, string(stage)),
				logging.Error(err),
				logging.String(logging.FieldImpact, "workers poll for this stage"),
			)
		} else {
			n.subs[stage] = sub
		}
	}
	return n.local.Wakeups(stage)
}

// Close removes every subscription.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for stage, sub := range n.subs {
		_ = sub.Unsubscribe()
		delete(n.subs, stage)
	}
}
