package objectstore_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/require"

	"mediaflow/internal/config"
	"mediaflow/internal/objectstore"
)

type fakeS3 struct {
	objects map[string][]byte
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data)))}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "video.mp4")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestS3PutStatDelete(t *testing.T) {
	ctx := context.Background()
	fake := &fakeS3{objects: map[string][]byte{}}
	store := objectstore.NewS3WithClient(fake, "media", nil)
	require.True(t, store.Remote())

	obj, err := store.Put(ctx, "tenant/p1/video.mp4", writeTemp(t, "abcdef"))
	require.NoError(t, err)
	require.Equal(t, "s3://media/tenant/p1/video.mp4", obj.Location)
	require.EqualValues(t, 6, obj.Size)

	stat, err := store.Stat(ctx, "tenant/p1/video.mp4")
	require.NoError(t, err)
	require.EqualValues(t, 6, stat.Size)

	require.NoError(t, store.Delete(ctx, "tenant/p1/video.mp4"))
	_, err = store.Stat(ctx, "tenant/p1/video.mp4")
	require.ErrorIs(t, err, objectstore.ErrObjectNotFound)
}

func TestLocalPutStatDelete(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	store, err := objectstore.NewLocal(base)
	require.NoError(t, err)
	require.False(t, store.Remote())

	obj, err := store.Put(ctx, "default/p1/video.mp4", writeTemp(t, "abc"))
	require.NoError(t, err)
	require.Equal(t, filepath.Join(base, "default", "p1", "video.mp4"), obj.Location)

	_, err = store.Stat(ctx, "default/p2/video.mp4")
	require.ErrorIs(t, err, objectstore.ErrObjectNotFound)

	require.NoError(t, store.Delete(ctx, "default/p1/video.mp4"))
	require.NoError(t, store.Delete(ctx, "default/p1/video.mp4"))
}

func TestLocalKeysStayInsideBase(t *testing.T) {
	base := t.TempDir()
	store, err := objectstore.NewLocal(base)
	require.NoError(t, err)
	obj, err := store.Put(context.Background(), "../../escape.mp4", writeTemp(t, "x"))
	require.NoError(t, err)
	require.Equal(t, filepath.Join(base, "escape.mp4"), obj.Location)
}

func TestNewSelectsBackend(t *testing.T) {
	store, err := objectstore.New(context.Background(), config.Storage{Backend: "local", ArchiveDir: t.TempDir()}, nil)
	require.NoError(t, err)
	require.False(t, store.Remote())

	_, err = objectstore.New(context.Background(), config.Storage{Backend: "ftp"}, nil)
	require.Error(t, err)

	_, err = objectstore.New(context.Background(), config.Storage{Backend: "s3"}, nil)
	require.ErrorContains(t, err, "bucket")
}

func TestKey(t *testing.T) {
	require.Equal(t, "a/b.mp4", objectstore.Key("", "/a/b.mp4"))
	require.Equal(t, "media/a/b.mp4", objectstore.Key("/media/", "a/b.mp4"))
}

func TestParseS3Location(t *testing.T) {
	bucket, key, ok := objectstore.ParseS3Location("s3://media/t/p1/video.mp4")
	require.True(t, ok)
	require.Equal(t, "media", bucket)
	require.Equal(t, "t/p1/video.mp4", key)

	_, _, ok = objectstore.ParseS3Location("/local/path.mp4")
	require.False(t, ok)
	_, _, ok = objectstore.ParseS3Location("s3://bucket-only")
	require.False(t, ok)
}
