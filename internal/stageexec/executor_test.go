package stageexec_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediaflow/internal/pipeline"
	"mediaflow/internal/services"
	"mediaflow/internal/stage"
	"mediaflow/internal/stageexec"
	"mediaflow/internal/testsupport"
)

func TestServeWritesResultEnvelope(t *testing.T) {
	req := stage.Request{JobID: "j1", ProcessID: "p1", StageType: pipeline.StageGenerateTitle}
	in, err := req.Encode()
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, stageexec.Serve(context.Background(), testsupport.FakeRegistry(), bytes.NewReader(in), &out, nil))

	var env stageexec.Envelope
	require.NoError(t, json.Unmarshal(out.Bytes(), &env))
	require.NotNil(t, env.Result)
	assert.Nil(t, env.Failure)
	assert.Equal(t, "Weekly sync", env.Result.Title.Title)
}

func TestServeWritesFailureEnvelope(t *testing.T) {
	registry := testsupport.FakeRegistry(testsupport.FakeHandler{
		Name: pipeline.StageCompressVideo,
		Fn: func(context.Context, stage.Request) (pipeline.Result, error) {
			return pipeline.Result{}, services.Wrap(services.ErrValidation, "compress-video", "probe", "no video stream", nil)
		},
	})
	in, err := stage.Request{StageType: pipeline.StageCompressVideo}.Encode()
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, stageexec.Serve(context.Background(), registry, bytes.NewReader(in), &out, nil))

	var env stageexec.Envelope
	require.NoError(t, json.Unmarshal(out.Bytes(), &env))
	require.NotNil(t, env.Failure)
	assert.False(t, env.Failure.Retryable)
	assert.ErrorIs(t, env.Failure, services.ErrValidation)
	assert.Contains(t, env.Failure.Message, "no video stream")
}

func TestServeRejectsGarbage(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, stageexec.Serve(context.Background(), testsupport.FakeRegistry(), strings.NewReader("{not json"), &out, nil))
	var env stageexec.Envelope
	require.NoError(t, json.Unmarshal(out.Bytes(), &env))
	require.NotNil(t, env.Failure)
	assert.Equal(t, services.CategoryCorruption, env.Failure.Category)
}

func TestProcessExecutorDecodesChildReply(t *testing.T) {
	exec := stageexec.ProcessExecutor{Command: []string{"/bin/sh", "-c",
		`cat >/dev/null; echo '{"result":{"stage":"generate-title","title":{"title":"from child"}}}'`}}
	result, err := exec.Execute(context.Background(), stage.Request{StageType: pipeline.StageGenerateTitle})
	require.NoError(t, err)
	assert.Equal(t, "from child", result.Title.Title)
}

func TestProcessExecutorReportsChildFailure(t *testing.T) {
	exec := stageexec.ProcessExecutor{Command: []string{"/bin/sh", "-c",
		`cat >/dev/null; echo '{"failure":{"message":"encoder rejected input","category":"stage","retryable":false}}'`}}
	_, err := exec.Execute(context.Background(), stage.Request{StageType: pipeline.StageCompressVideo})
	require.Error(t, err)
	failure := stage.AsFailure(err)
	assert.Equal(t, "encoder rejected input", failure.Message)
	assert.False(t, failure.Retryable)
}

func TestProcessExecutorCrashIsTransient(t *testing.T) {
	exec := stageexec.ProcessExecutor{Command: []string{"/bin/sh", "-c", `echo "segfault" >&2; exit 139`}}
	_, err := exec.Execute(context.Background(), stage.Request{StageType: pipeline.StageCompressVideo})
	require.ErrorIs(t, err, services.ErrTransient)
	assert.Contains(t, err.Error(), "segfault")
}

func TestProcessExecutorHonoursCancellation(t *testing.T) {
	exec := stageexec.ProcessExecutor{Command: []string{"/bin/sh", "-c", `sleep 30`}, KillGrace: time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := exec.Execute(ctx, stage.Request{StageType: pipeline.StageCompressVideo})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 10*time.Second)
}
