package deps

import (
	"os"
	"path/filepath"
	"testing"

	"mediaflow/internal/config"
)

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	script := []byte("#!/bin/sh\nexit 0\n")
	if err := os.WriteFile(present, script, 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
	}

	results := CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}

	if !results[0].Available {
		t.Fatalf("expected first requirement to be available, got %#v", results[0])
	}

	if results[1].Available {
		t.Fatalf("expected missing binary to be unavailable")
	}
	if results[1].Detail == "" {
		t.Fatalf("expected detail message for missing binary")
	}

	if results[1].Command != "clearly-not-present-binary" {
		t.Fatalf("unexpected command recorded: %s", results[1].Command)
	}

	if results[0].Detail != "" {
		t.Fatalf("unexpected detail for available dependency: %s", results[0].Detail)
	}
}

func TestRequirementsFollowActiveStages(t *testing.T) {
	cfg := config.Default()
	cfg.Workers.Stages = []string{"generate-tags", "transcribe-segment"}

	reqs := Requirements(&cfg)
	if len(reqs) != 3 {
		t.Fatalf("expected 3 requirements, got %d", len(reqs))
	}
	byName := map[string]Requirement{}
	for _, req := range reqs {
		byName[req.Name] = req
	}
	if !byName["FFmpeg"].Optional || !byName["FFprobe"].Optional {
		t.Fatalf("media binaries should be optional without media stages: %#v", reqs)
	}
	if byName["uvx"].Optional {
		t.Fatalf("uvx should be required when transcribe-segment is active")
	}

	cfg.Workers.Stages = nil
	for _, req := range Requirements(&cfg) {
		if req.Optional {
			t.Fatalf("all binaries are required when every stage is active, got %#v", req)
		}
	}
}

func TestMissingIgnoresOptional(t *testing.T) {
	statuses := []Status{
		{Name: "a", Available: false},
		{Name: "b", Available: false, Optional: true},
		{Name: "c", Available: true},
	}
	missing := Missing(statuses)
	if len(missing) != 1 || missing[0].Name != "a" {
		t.Fatalf("unexpected missing set: %#v", missing)
	}
}
