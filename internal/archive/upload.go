package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"mediaflow/internal/config"
	"mediaflow/internal/logging"
	"mediaflow/internal/objectstore"
	"mediaflow/internal/pipeline"
	"mediaflow/internal/services"
	"mediaflow/internal/stage"
)

// Uploader runs upload-remote jobs.
type Uploader struct {
	cfg    *config.Config
	store  objectstore.Store
	logger *slog.Logger
}

// NewUploader builds the upload-remote handler over store.
func NewUploader(cfg *config.Config, store objectstore.Store, logger *slog.Logger) *Uploader {
	return &Uploader{cfg: cfg, store: store, logger: logging.NewComponentLogger(logger, "archive")}
}

// Stage implements stage.Handler.
func (u *Uploader) Stage() pipeline.Stage { return pipeline.StageUploadRemote }

// SetLogger implements stage.LoggerAware.
func (u *Uploader) SetLogger(logger *slog.Logger) {
	u.logger = logging.NewComponentLogger(logger, "archive")
}

// Run archives req.InputRef under req.OutputRef. A retry after the source
// was already stored and cleaned up reuses the stored object.
func (u *Uploader) Run(ctx context.Context, req stage.Request) (pipeline.Result, error) {
	if u.store == nil {
		return pipeline.Result{}, services.Wrap(services.ErrConfiguration, "upload-remote", "store", "object store not configured", nil)
	}
	source := strings.TrimSpace(req.InputRef)
	if source == "" || strings.TrimSpace(req.OutputRef) == "" {
		return pipeline.Result{}, services.Wrap(services.ErrValidation, "upload-remote", "request", "source and object key are required", nil)
	}
	key := objectstore.Key(u.cfg.Storage.Prefix, req.OutputRef)

	info, statErr := os.Stat(source)
	if statErr != nil {
		existing, err := u.store.Stat(ctx, key)
		if err == nil && existing.Size > 0 {
			u.logger.Info("source gone but object already stored; reusing",
				logging.String(logging.FieldEventType, "upload_reused"),
				logging.String("key", key),
			)
			return u.result(existing, source), nil
		}
		return pipeline.Result{}, services.Wrap(services.ErrValidation, "upload-remote", "stat source", "processed video is missing", statErr)
	}

	obj, err := u.store.Put(ctx, key, source)
	if err != nil {
		if ctx.Err() != nil {
			return pipeline.Result{}, ctx.Err()
		}
		return pipeline.Result{}, services.Wrap(services.ErrTransient, "upload-remote", "put", "", err)
	}
	stored, err := u.store.Stat(ctx, key)
	if err != nil {
		return pipeline.Result{}, services.Wrap(services.ErrTransient, "upload-remote", "verify", "stored object not visible", err)
	}
	if stored.Size != info.Size() {
		return pipeline.Result{}, services.Wrap(services.ErrTransient, "upload-remote", "verify",
			fmt.Sprintf("stored size %d does not match local size %d", stored.Size, info.Size()), nil)
	}
	return u.result(obj, source), nil
}

func (u *Uploader) result(obj objectstore.Object, source string) pipeline.Result {
	upload := &pipeline.UploadResult{StorageType: pipeline.StorageLocal, Path: obj.Location}
	if u.store.Remote() {
		upload = &pipeline.UploadResult{StorageType: pipeline.StorageRemote, RemoteLocation: obj.Location, Path: source}
	}
	return pipeline.Result{Stage: pipeline.StageUploadRemote, Upload: upload}
}

// HealthCheck implements stage.Handler.
func (u *Uploader) HealthCheck(context.Context) stage.Health {
	if u.store == nil {
		return stage.Unhealthy(string(pipeline.StageUploadRemote), "object store not configured")
	}
	return stage.Healthy(string(pipeline.StageUploadRemote))
}

func isNotFound(err error) bool {
	return errors.Is(err, objectstore.ErrObjectNotFound) || errors.Is(err, os.ErrNotExist)
}
