package archive

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"mediaflow/internal/config"
	"mediaflow/internal/fileutil"
	"mediaflow/internal/logging"
	"mediaflow/internal/objectstore"
	"mediaflow/internal/pipeline"
	"mediaflow/internal/services"
	"mediaflow/internal/stage"
)

// Finalizer runs finalize jobs.
type Finalizer struct {
	cfg    *config.Config
	store  objectstore.Store
	logger *slog.Logger
}

// NewFinalizer builds the finalize handler.
func NewFinalizer(cfg *config.Config, store objectstore.Store, logger *slog.Logger) *Finalizer {
	return &Finalizer{cfg: cfg, store: store, logger: logging.NewComponentLogger(logger, "finalize")}
}

// Stage implements stage.Handler.
func (f *Finalizer) Stage() pipeline.Stage { return pipeline.StageFinalize }

// SetLogger implements stage.LoggerAware.
func (f *Finalizer) SetLogger(logger *slog.Logger) {
	f.logger = logging.NewComponentLogger(logger, "finalize")
}

// Run verifies the archived artifact and publishes the deliverable.
func (f *Finalizer) Run(ctx context.Context, req stage.Request) (pipeline.Result, error) {
	var (
		result pipeline.FinalizeResult
		err    error
	)
	if req.Options.StorageType == pipeline.StorageRemote {
		result, err = f.finalizeRemote(ctx, req)
	} else {
		result, err = f.finalizeLocal(req)
	}
	if err != nil {
		return pipeline.Result{}, err
	}
	f.cleanup(req.ProcessID)
	return pipeline.Result{Stage: pipeline.StageFinalize, Finalize: &result}, nil
}

func (f *Finalizer) finalizeRemote(ctx context.Context, req stage.Request) (pipeline.FinalizeResult, error) {
	if f.store == nil || !f.store.Remote() {
		return pipeline.FinalizeResult{}, services.Wrap(services.ErrConfiguration, "finalize", "store", "remote artifact but no remote store configured", nil)
	}
	_, key, ok := objectstore.ParseS3Location(req.Options.RemoteLocation)
	if !ok {
		return pipeline.FinalizeResult{}, services.Wrap(services.ErrValidation, "finalize", "verify", "remote location is not an s3 uri", nil)
	}
	stored, err := f.store.Stat(ctx, key)
	if err != nil {
		if isNotFound(err) {
			return pipeline.FinalizeResult{}, services.Wrap(services.ErrValidation, "finalize", "verify", "archived object is missing", err)
		}
		return pipeline.FinalizeResult{}, services.Wrap(services.ErrTransient, "finalize", "verify", "", err)
	}

	local := strings.TrimSpace(req.InputRef)
	info, statErr := os.Stat(local)
	if statErr == nil && info.Size() != stored.Size {
		return pipeline.FinalizeResult{}, services.Wrap(services.ErrCorrupt, "finalize", "verify",
			fmt.Sprintf("archived size %d does not match local size %d", stored.Size, info.Size()), nil)
	}
	if f.cfg.Storage.KeepLocalCopy && statErr == nil {
		return f.publish(local, req.OutputRef)
	}
	return pipeline.FinalizeResult{Path: stored.Location, Size: stored.Size}, nil
}

func (f *Finalizer) finalizeLocal(req stage.Request) (pipeline.FinalizeResult, error) {
	source := strings.TrimSpace(req.InputRef)
	info, err := os.Stat(source)
	if err != nil {
		if out, outErr := os.Stat(req.OutputRef); outErr == nil && out.Size() > 0 {
			return pipeline.FinalizeResult{Path: req.OutputRef, Size: out.Size()}, nil
		}
		return pipeline.FinalizeResult{}, services.Wrap(services.ErrValidation, "finalize", "verify", "archived artifact is missing", err)
	}
	if info.Size() == 0 {
		return pipeline.FinalizeResult{}, services.Wrap(services.ErrCorrupt, "finalize", "verify", "archived artifact is empty", nil)
	}
	return f.publish(source, req.OutputRef)
}

// publish places source at dest. A hard link is tried first; across
// filesystems it falls back to a verified copy.
func (f *Finalizer) publish(source, dest string) (pipeline.FinalizeResult, error) {
	dest = strings.TrimSpace(dest)
	if dest == "" {
		return pipeline.FinalizeResult{}, services.Wrap(services.ErrValidation, "finalize", "publish", "output path required", nil)
	}
	info, err := os.Stat(source)
	if err != nil {
		return pipeline.FinalizeResult{}, services.Wrap(services.ErrTransient, "finalize", "publish", "", err)
	}
	if out, err := os.Stat(dest); err == nil && out.Size() == info.Size() {
		return pipeline.FinalizeResult{Path: dest, Size: out.Size()}, nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return pipeline.FinalizeResult{}, services.Wrap(services.ErrTransient, "finalize", "publish", "", err)
	}
	_ = os.Remove(dest)
	if err := os.Link(source, dest); err != nil {
		if err := fileutil.CopyAtomic(source, dest); err != nil {
			return pipeline.FinalizeResult{}, services.Wrap(services.ErrTransient, "finalize", "publish", "", err)
		}
	}
	return pipeline.FinalizeResult{Path: dest, Size: info.Size()}, nil
}

func (f *Finalizer) cleanup(processID string) {
	processID = strings.TrimSpace(processID)
	if processID == "" || strings.ContainsAny(processID, `/\`) || processID == ".." {
		return
	}
	dir := filepath.Join(f.cfg.Paths.StagingDir, processID)
	if err := os.RemoveAll(dir); err != nil {
		f.logger.Warn("staging cleanup failed",
			logging.String(logging.FieldEventType, "staging_cleanup_failed"),
			logging.String(logging.FieldErrorHint, "remove the directory manually"),
			logging.String("path", dir),
			logging.Error(err),
		)
	}
}

// HealthCheck implements stage.Handler.
func (f *Finalizer) HealthCheck(context.Context) stage.Health {
	if strings.TrimSpace(f.cfg.Paths.OutputDir) == "" {
		return stage.Unhealthy(string(pipeline.StageFinalize), "output directory not configured")
	}
	return stage.Healthy(string(pipeline.StageFinalize))
}
