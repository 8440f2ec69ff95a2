package stageexec

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"mediaflow/internal/logging"
	"mediaflow/internal/pipeline"
	"mediaflow/internal/services"
	"mediaflow/internal/stage"
)

// Executor runs one stage request to completion.
type Executor interface {
	Execute(ctx context.Context, req stage.Request) (pipeline.Result, error)
}

// Envelope is the child-process reply written to stdout.
type Envelope struct {
	Result  *pipeline.Result `json:"result,omitempty"`
	Failure *stage.Failure   `json:"failure,omitempty"`
}

// InlineExecutor runs handlers in the calling process.
type InlineExecutor struct {
	Registry *stage.Registry
	Logger   *slog.Logger
}

// Execute dispatches to the registered handler for the request's stage. A
// handler panic is reported as a non-retryable stage failure.
func (e InlineExecutor) Execute(ctx context.Context, req stage.Request) (result pipeline.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = pipeline.Result{}
			err = services.Wrap(services.ErrValidation, string(req.StageType), "run", fmt.Sprintf("handler panic: %v", r), nil)
		}
	}()
	handler, ok := e.Registry.Get(req.StageType)
	if !ok {
		return pipeline.Result{}, services.Wrap(services.ErrConfiguration, string(req.StageType), "dispatch", "no handler registered", nil)
	}
	if aware, ok := handler.(stage.LoggerAware); ok && e.Logger != nil {
		aware.SetLogger(logging.WithContext(ctx, e.Logger))
	}
	return handler.Run(ctx, req)
}

// ProcessExecutor runs each request in a fresh child process.
type ProcessExecutor struct {
	// Command is the executable and leading arguments, for example
	// [/usr/bin/mediaflow worker exec --config /etc/mediaflow.toml].
	Command []string
	// Env is appended to the parent environment.
	Env []string
	// KillGrace is how long the child gets after SIGTERM before SIGKILL.
	KillGrace time.Duration
	Logger    *slog.Logger
}

const stderrTailBytes = 4096

// SelfCommand returns the command line that re-executes the current binary
// as a heavy-tier worker.
func SelfCommand(configPath string) ([]string, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}
	cmd := []string{self, "worker", "exec"}
	if configPath != "" {
		cmd = append(cmd, "--config", configPath)
	}
	return cmd, nil
}

// Execute writes the request to the child's stdin and decodes the envelope
// from its stdout. Cancellation terminates the child's process group.
func (e ProcessExecutor) Execute(ctx context.Context, req stage.Request) (pipeline.Result, error) {
	if len(e.Command) == 0 {
		return pipeline.Result{}, services.Wrap(services.ErrConfiguration, string(req.StageType), "spawn worker", "worker command not configured", nil)
	}
	payload, err := req.Encode()
	if err != nil {
		return pipeline.Result{}, err
	}

	cmd := exec.CommandContext(ctx, e.Command[0], e.Command[1:]...) //nolint:gosec
	cmd.Env = append(os.Environ(), e.Env...)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout bytes.Buffer
	stderr := &tailBuffer{limit: stderrTailBytes}
	cmd.Stdout = &stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return unix.Kill(-cmd.Process.Pid, unix.SIGTERM)
	}
	cmd.WaitDelay = e.KillGrace
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = 10 * time.Second
	}

	runErr := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return pipeline.Result{}, ctxErr
	}

	var env Envelope
	if decodeErr := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &env); decodeErr != nil || (env.Result == nil && env.Failure == nil) {
		detail := strings.TrimSpace(stderr.String())
		if runErr != nil {
			return pipeline.Result{}, services.Wrap(services.ErrTransient, string(req.StageType), "worker process",
				fmt.Sprintf("exited without a reply: %v: %s", runErr, detail), nil)
		}
		return pipeline.Result{}, services.Wrap(services.ErrTransient, string(req.StageType), "worker process",
			"reply could not be decoded: "+detail, decodeErr)
	}
	if env.Failure != nil {
		return pipeline.Result{}, env.Failure
	}
	return *env.Result, nil
}

// Serve is the child side of ProcessExecutor: it reads one request, runs the
// handler and writes one envelope.
func Serve(ctx context.Context, registry *stage.Registry, in io.Reader, out io.Writer, logger *slog.Logger) error {
	var req stage.Request
	dec := json.NewDecoder(in)
	if err := dec.Decode(&req); err != nil {
		return writeEnvelope(out, Envelope{Failure: stage.Fail(
			services.Wrap(services.ErrCorrupt, "worker", "decode request", "", err), nil)})
	}
	ctx = jobContext(ctx, req.ProcessID, req.JobID, req.StageType, "")
	result, err := InlineExecutor{Registry: registry, Logger: logger}.Execute(ctx, req)
	if err != nil {
		return writeEnvelope(out, Envelope{Failure: failureFor(err)})
	}
	return writeEnvelope(out, Envelope{Result: &result})
}

func writeEnvelope(out io.Writer, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode worker reply: %w", err)
	}
	data = append(data, '\n')
	_, err = out.Write(data)
	return err
}

// failureFor converts an execution error into the ledger failure. Deadline
// expiry is transient so the retry budget applies.
func failureFor(err error) *stage.Failure {
	if errors.Is(err, context.DeadlineExceeded) {
		return stage.Fail(services.Wrap(services.ErrTransient, "", "", "stage timed out", nil), nil)
	}
	return stage.AsFailure(err)
}

type tailBuffer struct {
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string { return string(t.buf) }
