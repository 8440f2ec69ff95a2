package daemonctl

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediaflow/internal/api"
	"mediaflow/internal/config"
	"mediaflow/internal/queue"
)

func TestProcessInfo(t *testing.T) {
	dir := t.TempDir()
	pidPath := filepath.Join(dir, "mediaflow.pid")

	alive, pid, err := ProcessInfo(pidPath)
	require.NoError(t, err)
	assert.False(t, alive)
	assert.Zero(t, pid)

	require.NoError(t, os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644))
	alive, pid, err = ProcessInfo(pidPath)
	require.NoError(t, err)
	assert.True(t, alive)
	assert.Equal(t, os.Getpid(), pid)

	require.NoError(t, os.WriteFile(pidPath, []byte("not-a-pid"), 0o644))
	_, _, err = ProcessInfo(pidPath)
	assert.Error(t, err)
}

func TestStopAndTerminateWithoutDaemon(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()

	_, err := StopAndTerminate(&cfg, 0)
	assert.ErrorIs(t, err, ErrDaemonNotRunning)
}

func TestStopAndTerminateRefusesSelf(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()
	require.NoError(t, os.WriteFile(PIDPath(&cfg), []byte(strconv.Itoa(os.Getpid())), 0o644))

	_, err := StopAndTerminate(&cfg, 0)
	assert.ErrorContains(t, err, "refusing")
}

func TestNewClientRewritesWildcardBind(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.APIBind = "0.0.0.0:7487"
	client, err := NewClient(&cfg)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:7487", client.baseURL)

	cfg.Paths.APIBind = ""
	_, err = NewClient(&cfg)
	assert.Error(t, err)
}

func TestClientRequests(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Method+" "+r.URL.RequestURI())
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/processes":
			var req api.SubmitRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(api.SubmitResponse{ID: "p-1", Status: "processing_video"})
		case r.URL.Path == "/api/queue":
			_ = json.NewEncoder(w).Encode(api.QueueListResponse{Items: []api.QueueJob{{ID: "j-1", Stage: "finalize"}}})
		case strings.HasSuffix(r.URL.Path, "/force-complete"):
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":"guard failure: missing title"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"not found"}`))
		}
	}))
	defer srv.Close()

	client := NewClientForAddress(strings.TrimPrefix(srv.URL, "http://"), "secret")
	ctx := context.Background()

	resp, err := client.Submit(ctx, api.SubmitRequest{MediaPath: "/media/a.mp4"})
	require.NoError(t, err)
	assert.Equal(t, "p-1", resp.ID)

	jobs, err := client.Queue(ctx, queue.ListFilter{Stage: "finalize", Statuses: []queue.Status{queue.StatusFailed}, Limit: 5})
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	err = client.ForceComplete(ctx, "p-1", api.ForceCompleteRequest{})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "guard failure: missing title", apiErr.Message)

	_, err = client.Process(ctx, "nope")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)

	assert.Equal(t, []string{
		"POST /api/processes",
		"GET /api/queue?limit=5&stage=finalize&status=failed",
		"POST /api/processes/p-1/force-complete",
		"GET /api/processes/nope",
	}, seen)
}

func TestClientReportsUnreachableDaemon(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := strings.TrimPrefix(srv.URL, "http://")
	srv.Close()

	_, err := NewClientForAddress(addr, "").Status(context.Background())
	assert.ErrorIs(t, err, ErrDaemonNotRunning)
}
