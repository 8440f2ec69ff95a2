package whisperx

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"testing"

	"mediaflow/internal/services"
)

func TestBuildArgsCPU(t *testing.T) {
	svc := NewService(Config{Model: "small"})
	args := svc.buildArgs("/tmp/a.wav", "/tmp/out", "eng")

	if args[0] != "--index-url" || args[1] != pypiIndexURL {
		t.Fatalf("unexpected index args: %v", args[:2])
	}
	if i := slices.Index(args, "--language"); i < 0 || args[i+1] != "en" {
		t.Fatalf("expected --language en, got %v", args)
	}
	if i := slices.Index(args, "--device"); i < 0 || args[i+1] != "cpu" {
		t.Fatalf("expected cpu device, got %v", args)
	}
	if i := slices.Index(args, "--model"); args[i+1] != "small" {
		t.Fatalf("model = %q", args[i+1])
	}
}

func TestBuildArgsCUDAWithPyannote(t *testing.T) {
	svc := NewService(Config{CUDAEnabled: true, VADMethod: VADMethodPyannote, HFToken: "hf_x"})
	args := svc.buildArgs("/tmp/a.wav", "/tmp/out", "")

	if !slices.Contains(args, cudaIndexURL) || !slices.Contains(args, "cuda") {
		t.Fatalf("expected cuda args, got %v", args)
	}
	if i := slices.Index(args, "--hf_token"); i < 0 || args[i+1] != "hf_x" {
		t.Fatalf("expected hf token, got %v", args)
	}
	if slices.Contains(args, "--language") {
		t.Fatalf("unexpected language flag: %v", args)
	}
}

func TestTranscribeFileReadsJSON(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "segment-000.wav")
	svc := NewService(Config{}).WithCommandRunner(func(_ context.Context, name string, args ...string) ([]byte, error) {
		if name != UVXCommand {
			t.Fatalf("unexpected command %s", name)
		}
		out := args[slices.Index(args, "--output_dir")+1]
		payload := `{"segments":[{"text":" hello ","start":0,"end":1.5},{"text":"","start":1.5,"end":2},{"text":"world","start":2,"end":3}]}`
		return nil, os.WriteFile(filepath.Join(out, "segment-000.json"), []byte(payload), 0o644)
	})

	res, err := svc.TranscribeFile(context.Background(), source, filepath.Join(dir, "out"), "en")
	if err != nil {
		t.Fatalf("TranscribeFile: %v", err)
	}
	if res.Text != "hello world" {
		t.Fatalf("text = %q", res.Text)
	}
	if len(res.Segments) != 3 {
		t.Fatalf("segments = %d", len(res.Segments))
	}
}

func TestTranscribeFileMissingOutput(t *testing.T) {
	dir := t.TempDir()
	svc := NewService(Config{}).WithCommandRunner(func(context.Context, string, ...string) ([]byte, error) {
		return nil, nil
	})
	_, err := svc.TranscribeFile(context.Background(), filepath.Join(dir, "a.wav"), dir, "")
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
}

func TestClassifyFailure(t *testing.T) {
	cause := errors.New("exit status 1")
	cases := []struct {
		output string
		want   error
	}{
		{"RuntimeError: CUDA out of memory", services.ErrTransient},
		{"Invalid data found when processing input", services.ErrValidation},
		{"Traceback: something odd", services.ErrExternalTool},
	}
	for _, tc := range cases {
		err := classifyFailure(cause, []byte(tc.output))
		if !errors.Is(err, tc.want) {
			t.Errorf("%q: got %v, want %v", tc.output, err, tc.want)
		}
	}
	if err := classifyFailure(&exec.Error{Name: "uvx", Err: exec.ErrNotFound}, nil); !errors.Is(err, services.ErrConfiguration) {
		t.Errorf("missing uvx: got %v", err)
	}
}
