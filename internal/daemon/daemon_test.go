package daemon_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediaflow/internal/api"
	"mediaflow/internal/config"
	"mediaflow/internal/daemon"
	"mediaflow/internal/metrics"
	"mediaflow/internal/pipeline"
	"mediaflow/internal/reconcile"
	"mediaflow/internal/stageexec"
	"mediaflow/internal/testsupport"
	"mediaflow/internal/workflow"
)

type fixture struct {
	cfg    *config.Config
	daemon *daemon.Daemon
	media  string
}

func newFixture(t *testing.T, opts ...testsupport.ConfigOption) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	cfg.Metrics.Enabled = true
	db := testsupport.MustOpenDB(t, cfg)
	st := testsupport.MustOpenStore(t, db)
	q := testsupport.MustOpenQueue(t, db)
	m := metrics.New("mediaflow_test", nil)
	coord, err := workflow.New(cfg, st, q, nil, workflow.WithMetrics(m))
	require.NoError(t, err)
	registry := testsupport.FakeRegistry()
	pool, err := stageexec.New(stageexec.Options{Config: cfg, Queue: q, Coordinator: coord, Registry: registry, Metrics: m})
	require.NoError(t, err)
	rec, err := reconcile.New(cfg, st, q, coord, nil, reconcile.WithMetrics(m))
	require.NoError(t, err)

	d, err := daemon.New(daemon.Options{
		Config:     cfg,
		Service:    api.NewService(coord, st, q),
		Pool:       pool,
		Reconciler: rec,
		Registry:   registry,
		Metrics:    m,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	media := filepath.Join(testsupport.BaseDir(cfg), "media", "allhands.mp4")
	testsupport.WriteFile(t, media, 3<<20)
	return &fixture{cfg: cfg, daemon: d, media: media}
}

func (f *fixture) url(path string) string {
	return "http://" + f.daemon.APIAddress() + path
}

func TestDaemonStartStop(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, f.daemon.Start(ctx))
	status := f.daemon.Status(ctx)
	assert.True(t, status.Running)
	assert.True(t, status.Workers.Running)
	assert.Len(t, status.StageHealth, len(pipeline.DefaultGraph().Stages()))
	assert.Equal(t, f.cfg.DatabasePath(), status.DatabasePath)

	require.Error(t, f.daemon.Start(ctx), "second start should fail")

	f.daemon.Stop()
	assert.False(t, f.daemon.Status(ctx).Running)
}

func TestDaemonRefusesSecondInstance(t *testing.T) {
	f := newFixture(t)
	other := flock.New(f.cfg.LockPath())
	locked, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer other.Unlock()

	err = f.daemon.Start(context.Background())
	require.ErrorContains(t, err, "already running")
	assert.False(t, f.daemon.Running())
}

func TestDaemonProcessesSubmissionEndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, f.daemon.Start(ctx))

	body, err := json.Marshal(api.SubmitRequest{MediaPath: f.media, Tenant: "acme"})
	require.NoError(t, err)
	resp, err := http.Post(f.url("/api/processes"), "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var submitted api.SubmitResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&submitted))

	var view api.StatusResponse
	require.Eventually(t, func() bool {
		resp, err := http.Get(f.url("/api/processes/" + submitted.ID))
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
			return false
		}
		return view.Status.Terminal()
	}, 15*time.Second, 50*time.Millisecond)

	assert.Equal(t, pipeline.StatusCompleted, view.Status)
	assert.Equal(t, 100.0, view.Progress.Percentage)
	assert.Empty(t, view.Errors)

	metricsResp, err := http.Get(f.url("/metrics"))
	require.NoError(t, err)
	defer metricsResp.Body.Close()
	assert.Equal(t, http.StatusOK, metricsResp.StatusCode)
}
