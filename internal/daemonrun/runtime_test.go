package daemonrun_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediaflow/internal/api"
	"mediaflow/internal/daemonrun"
	"mediaflow/internal/pipeline"
	"mediaflow/internal/testsupport"
)

func TestRegistryBuildsEveryStageByDefault(t *testing.T) {
	cfg := testsupport.NewConfig(t)

	registry, err := daemonrun.Registry(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, pipeline.DefaultGraph().Stages(), registry.Stages())
}

func TestRegistryHonoursWorkerStages(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStages("generate-title", "finalize"))

	registry, err := daemonrun.Registry(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []pipeline.Stage{pipeline.StageGenerateTitle, pipeline.StageFinalize}, registry.Stages())
	_, ok := registry.Get(pipeline.StageCompressVideo)
	assert.False(t, ok)
}

func TestOpenRuntimeWithoutBus(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Metrics.Enabled = true

	rt, err := daemonrun.Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer rt.Close()

	require.NotNil(t, rt.Metrics)
	media := filepath.Join(testsupport.BaseDir(cfg), "in.mp4")
	testsupport.WriteFile(t, media, 1024)
	resp, err := rt.Service.Submit(context.Background(), api.SubmitRequest{MediaPath: media})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.ID)
}

func TestOpenRuntimeFallsBackWhenBusUnreachable(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Bus.Enabled = true
	cfg.Bus.URL = "nats://127.0.0.1:1"

	rt, err := daemonrun.Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer rt.Close()
	assert.NotNil(t, rt.Queue.Notifier())
}
