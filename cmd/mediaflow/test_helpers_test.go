package main

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"mediaflow/internal/config"
	"mediaflow/internal/daemon"
	"mediaflow/internal/daemonrun"
	"mediaflow/internal/stageexec"
	"mediaflow/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	mediaPath  string
}

// setupCLITestEnv writes a config whose API address has nothing listening,
// so commands run against the local database.
func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	t.Setenv("HOME", filepath.Join(base, "home"))
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	cfg.Paths.APIBind = freeAddress(t)

	configPath := filepath.Join(base, "mediaflow.toml")
	writeTestConfig(t, configPath, cfg)

	media := filepath.Join(testsupport.BaseDir(cfg), "media", "standup.mp4")
	testsupport.WriteFile(t, media, 2<<20)

	return &cliTestEnv{cfg: cfg, configPath: configPath, mediaPath: media}
}

// startDaemon runs an in-process daemon with fake stage handlers on the
// env's API address.
func (e *cliTestEnv) startDaemon(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	rt, err := daemonrun.Open(ctx, e.cfg, nil)
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	registry := testsupport.FakeRegistry()
	pool, err := stageexec.New(stageexec.Options{
		Config:      e.cfg,
		Queue:       rt.Queue,
		Coordinator: rt.Coordinator,
		Registry:    registry,
	})
	if err != nil {
		t.Fatalf("stageexec.New: %v", err)
	}
	d, err := daemon.New(daemon.Options{
		Config:     e.cfg,
		Service:    rt.Service,
		Pool:       pool,
		Reconciler: rt.Reconciler,
		Registry:   registry,
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(ctx); err != nil {
		t.Fatalf("daemon start: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		_ = d.Close()
		rt.Close()
	})
}

func freeAddress(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, configPath string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
