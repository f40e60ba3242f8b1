package storage

import (
	"context"
	"errors"
	"strings"
	"testing"

	"teedops/config"
	apperrors "teedops/errors"
	"teedops/logger"
	"teedops/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRESTStore(t *testing.T) (*RESTStore, *testutil.FakeSupabase) {
	t.Helper()
	fs := testutil.NewFakeSupabase(t)
	cfg := testutil.Config(t, fs)
	s := NewRESTStore(cfg, logger.NewNop())
	s.retry = apperrors.NoRetryConfig()
	return s, fs
}

func TestRESTStore_UploadAndPublicURL(t *testing.T) {
	s, fs := newRESTStore(t)
	ctx := context.Background()

	url, err := s.Upload(ctx, "equipment-photos", "taylormade-qi10/a.jpg", []byte("jpeg"), "image/jpeg", false)
	require.NoError(t, err)
	assert.Equal(t, fs.URL()+"/storage/v1/object/public/equipment-photos/taylormade-qi10/a.jpg", url)

	data, ok := fs.Object("equipment-photos", "taylormade-qi10/a.jpg")
	require.True(t, ok)
	assert.Equal(t, "jpeg", string(data))

	_, err = s.Upload(ctx, "equipment-photos", "taylormade-qi10/a.jpg", []byte("again"), "image/jpeg", false)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeResourceConflict))

	_, err = s.Upload(ctx, "equipment-photos", "taylormade-qi10/a.jpg", []byte("again"), "image/jpeg", true)
	require.NoError(t, err)
	data, _ = fs.Object("equipment-photos", "taylormade-qi10/a.jpg")
	assert.Equal(t, "again", string(data))
}

func TestRESTStore_DownloadExistsDelete(t *testing.T) {
	s, fs := newRESTStore(t)
	ctx := context.Background()
	fs.PutObject("avatars", "u1/me.png", []byte("png"), "image/png")

	data, err := s.Download(ctx, "avatars", "u1/me.png")
	require.NoError(t, err)
	assert.Equal(t, "png", string(data))

	_, err = s.Download(ctx, "avatars", "u1/missing.png")
	assert.True(t, errors.Is(err, ErrNotFound))

	ok, err := s.Exists(ctx, "avatars", "u1/me.png")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Exists(ctx, "avatars", "u1/missing.png")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Delete(ctx, "avatars", "u1/me.png"))
	_, ok = fs.Object("avatars", "u1/me.png")
	assert.False(t, ok)
}

func TestRESTStore_List(t *testing.T) {
	s, fs := newRESTStore(t)
	fs.PutObject("equipment-photos", "ping-g430/b.jpg", []byte("b"), "image/jpeg")
	fs.PutObject("equipment-photos", "ping-g430/a.jpg", []byte("a"), "image/jpeg")
	fs.PutObject("equipment-photos", "titleist-pro-v1/c.jpg", []byte("c"), "image/jpeg")

	objs, err := s.List(context.Background(), "equipment-photos", "ping-g430")
	require.NoError(t, err)
	require.Len(t, objs, 2)
	assert.Equal(t, "a.jpg", objs[0].Name)
	assert.Equal(t, "b.jpg", objs[1].Name)
}

func TestRESTStore_RejectsEscapingPath(t *testing.T) {
	s, fs := newRESTStore(t)

	_, err := s.Upload(context.Background(), "avatars", "../../etc/passwd", []byte("x"), "", true)
	require.NoError(t, err)
	_, ok := fs.Object("avatars", "etc/passwd")
	assert.True(t, ok)

	_, err = s.Upload(context.Background(), "avatars", "/", []byte("x"), "", true)
	assert.Error(t, err)
}

func TestToAppError_UsesBodyStatus(t *testing.T) {
	err := toAppError(400, []byte(`{"statusCode":"404","error":"not_found","message":"Object not found"}`))
	assert.Equal(t, apperrors.ErrCodeResourceNotFound, err.Code)
	assert.Equal(t, 404, err.StatusCode)
	assert.Equal(t, "Object not found", err.Message)

	err = toAppError(502, []byte("bad gateway"))
	assert.True(t, err.Retryable)
	assert.Equal(t, "bad gateway", err.Message)
}

func TestLocalStore(t *testing.T) {
	s, err := NewLocalStore(t.TempDir(), "")
	require.NoError(t, err)
	ctx := context.Background()

	url, err := s.Upload(ctx, "equipment-photos", "ping-g430/a.jpg", []byte("a"), "image/jpeg", false)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "file://"))
	assert.True(t, strings.HasSuffix(url, "/equipment-photos/ping-g430/a.jpg"))

	_, err = s.Upload(ctx, "equipment-photos", "ping-g430/a.jpg", []byte("b"), "image/jpeg", false)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeResourceConflict))

	ok, err := s.Exists(ctx, "equipment-photos", "ping-g430/a.jpg")
	require.NoError(t, err)
	assert.True(t, ok)

	objs, err := s.List(ctx, "equipment-photos", "ping-g430/")
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, ObjectInfo{Name: "a.jpg", Size: 1}, objs[0])

	require.NoError(t, s.Delete(ctx, "equipment-photos", "ping-g430/a.jpg", "ping-g430/missing.jpg"))
	_, err = s.Download(ctx, "equipment-photos", "ping-g430/a.jpg")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = s.Upload(ctx, "../x", "a.jpg", nil, "", true)
	assert.Error(t, err)
}

func TestLocalStore_BaseURL(t *testing.T) {
	s, err := NewLocalStore(t.TempDir(), "http://localhost:8000/files/")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8000/files/avatars/a%20b.png", s.PublicURL("avatars", "a b.png"))
}

func TestNew_SelectsBackend(t *testing.T) {
	fs := testutil.NewFakeSupabase(t)
	cfg := testutil.Config(t, fs)

	s, err := New(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, config.StorageBackendREST, s.Backend())

	cfg.Storage.Backend = config.StorageBackendLocal
	s, err = New(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, config.StorageBackendLocal, s.Backend())

	cfg.Storage.Backend = config.StorageBackendS3
	cfg.Storage.S3 = config.S3Config{Endpoint: "https://localhost:9000", AccessKey: "ak", SecretKey: "sk", Region: "us-east-1"}
	s, err = New(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, config.StorageBackendS3, s.Backend())
	assert.Equal(t, fs.URL()+"/storage/v1/object/public/b/x.jpg", s.PublicURL("b", "x.jpg"))

	cfg.Storage.S3.Endpoint = "abc.supabase.co/storage/v1/s3"
	_, err = New(cfg, nil)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConfigurationError))

	cfg.Storage.Backend = "gcs"
	_, err = New(cfg, nil)
	assert.Error(t, err)
}
