package archive_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"mediaflow/internal/archive"
	"mediaflow/internal/config"
	"mediaflow/internal/objectstore"
	"mediaflow/internal/pipeline"
	"mediaflow/internal/services"
	"mediaflow/internal/stage"
	"mediaflow/internal/testsupport"
)

// memStore is a remote store kept in memory.
type memStore struct {
	sizes map[string]int64
}

func (m *memStore) Put(_ context.Context, key, path string) (objectstore.Object, error) {
	info, err := os.Stat(path)
	if err != nil {
		return objectstore.Object{}, err
	}
	m.sizes[key] = info.Size()
	return objectstore.Object{Key: key, Location: "s3://bucket/" + key, Size: info.Size()}, nil
}

func (m *memStore) Stat(_ context.Context, key string) (objectstore.Object, error) {
	size, ok := m.sizes[key]
	if !ok {
		return objectstore.Object{}, objectstore.ErrObjectNotFound
	}
	return objectstore.Object{Key: key, Location: "s3://bucket/" + key, Size: size}, nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	delete(m.sizes, key)
	return nil
}

func (m *memStore) Remote() bool { return true }

func stagedVideo(t *testing.T, cfg *config.Config, pid string, size int64) string {
	t.Helper()
	path := filepath.Join(cfg.Paths.StagingDir, pid, "video.mp4")
	testsupport.WriteFile(t, path, size)
	return path
}

func TestRemoteUploadThenFinalize(t *testing.T) {
	ctx := context.Background()
	cfg := testsupport.NewConfig(t)
	cfg.Storage.Prefix = "media"
	store := &memStore{sizes: map[string]int64{}}
	video := stagedVideo(t, cfg, "p1", 4096)

	up := archive.NewUploader(cfg, store, nil)
	res, err := up.Run(ctx, stage.Request{ProcessID: "p1", InputRef: video, OutputRef: "acme/p1/video.mp4"})
	require.NoError(t, err)
	require.NoError(t, res.Validate(pipeline.ValidateOptions{}))
	require.Equal(t, pipeline.StorageRemote, res.Upload.StorageType)
	require.Equal(t, "s3://bucket/media/acme/p1/video.mp4", res.Upload.RemoteLocation)

	fin := archive.NewFinalizer(cfg, store, nil)
	out, err := fin.Run(ctx, stage.Request{
		ProcessID: "p1",
		InputRef:  video,
		OutputRef: filepath.Join(cfg.Paths.OutputDir, "p1.mp4"),
		Options:   stage.Options{StorageType: pipeline.StorageRemote, RemoteLocation: res.Upload.RemoteLocation},
	})
	require.NoError(t, err)
	require.Equal(t, res.Upload.RemoteLocation, out.Finalize.Path)
	require.EqualValues(t, 4096, out.Finalize.Size)

	_, err = os.Stat(filepath.Join(cfg.Paths.StagingDir, "p1"))
	require.True(t, os.IsNotExist(err), "staging directory should be removed")
}

func TestRemoteFinalizeKeepsLocalCopy(t *testing.T) {
	ctx := context.Background()
	cfg := testsupport.NewConfig(t)
	cfg.Storage.KeepLocalCopy = true
	store := &memStore{sizes: map[string]int64{"t/p2/video.mp4": 100}}
	video := stagedVideo(t, cfg, "p2", 100)
	dest := filepath.Join(cfg.Paths.OutputDir, "p2.mp4")

	out, err := archive.NewFinalizer(cfg, store, nil).Run(ctx, stage.Request{
		ProcessID: "p2",
		InputRef:  video,
		OutputRef: dest,
		Options:   stage.Options{StorageType: pipeline.StorageRemote, RemoteLocation: "s3://bucket/t/p2/video.mp4"},
	})
	require.NoError(t, err)
	require.Equal(t, dest, out.Finalize.Path)
	info, err := os.Stat(dest)
	require.NoError(t, err)
	require.EqualValues(t, 100, info.Size())
}

func TestRemoteFinalizeDetectsSizeMismatch(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := &memStore{sizes: map[string]int64{"t/p3/video.mp4": 10}}
	video := stagedVideo(t, cfg, "p3", 100)

	_, err := archive.NewFinalizer(cfg, store, nil).Run(context.Background(), stage.Request{
		ProcessID: "p3",
		InputRef:  video,
		OutputRef: filepath.Join(cfg.Paths.OutputDir, "p3.mp4"),
		Options:   stage.Options{StorageType: pipeline.StorageRemote, RemoteLocation: "s3://bucket/t/p3/video.mp4"},
	})
	require.ErrorIs(t, err, services.ErrCorrupt)
	_, statErr := os.Stat(video)
	require.NoError(t, statErr, "staging must survive a failed finalize")
}

func TestUploadReusesStoredObjectOnRetry(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := &memStore{sizes: map[string]int64{"t/p4/video.mp4": 55}}
	res, err := archive.NewUploader(cfg, store, nil).Run(context.Background(), stage.Request{
		InputRef:  filepath.Join(cfg.Paths.StagingDir, "p4", "video.mp4"),
		OutputRef: "t/p4/video.mp4",
	})
	require.NoError(t, err)
	require.Equal(t, "s3://bucket/t/p4/video.mp4", res.Upload.RemoteLocation)
}

func TestLocalArchiveFlow(t *testing.T) {
	ctx := context.Background()
	cfg := testsupport.NewConfig(t)
	store, err := objectstore.NewLocal(cfg.Storage.ArchiveDir)
	require.NoError(t, err)
	video := stagedVideo(t, cfg, "p5", 2048)

	res, err := archive.NewUploader(cfg, store, nil).Run(ctx, stage.Request{InputRef: video, OutputRef: "default/p5/video.mp4"})
	require.NoError(t, err)
	require.Equal(t, pipeline.StorageLocal, res.Upload.StorageType)
	require.Empty(t, res.Upload.RemoteLocation)
	require.Equal(t, filepath.Join(cfg.Storage.ArchiveDir, "default", "p5", "video.mp4"), res.Upload.Path)

	dest := filepath.Join(cfg.Paths.OutputDir, "p5.mp4")
	fin := archive.NewFinalizer(cfg, store, nil)
	req := stage.Request{ProcessID: "p5", InputRef: res.Upload.Path, OutputRef: dest, Options: stage.Options{StorageType: pipeline.StorageLocal}}
	out, err := fin.Run(ctx, req)
	require.NoError(t, err)
	require.Equal(t, dest, out.Finalize.Path)
	require.EqualValues(t, 2048, out.Finalize.Size)

	again, err := fin.Run(ctx, req)
	require.NoError(t, err)
	require.Equal(t, out.Finalize, again.Finalize)
}

func TestLocalFinalizeMissingArtifact(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	_, err := archive.NewFinalizer(cfg, nil, nil).Run(context.Background(), stage.Request{
		ProcessID: "p6",
		InputRef:  filepath.Join(cfg.Storage.ArchiveDir, "nope.mp4"),
		OutputRef: filepath.Join(cfg.Paths.OutputDir, "p6.mp4"),
	})
	require.ErrorIs(t, err, services.ErrValidation)
}
