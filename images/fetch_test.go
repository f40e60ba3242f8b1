package images

import (
	"context"
	"image/color"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	apperrors "teedops/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchImage(t *testing.T) {
	img := pngBytes(t, 8, 8, color.White)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "teedops-test", r.Header.Get("User-Agent"))
		switch r.URL.Path {
		case "/a.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(img)
		case "/octet":
			w.Header().Set("Content-Type", "application/octet-stream")
			_, _ = w.Write(img)
		case "/page":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte("<html></html>"))
		case "/logo.svg":
			w.Header().Set("Content-Type", "image/svg+xml")
			_, _ = w.Write([]byte("<svg/>"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewFetcher(5*time.Second, "teedops-test", 0, 1<<20)
	ctx := context.Background()

	data, ct, err := f.FetchImage(ctx, srv.URL+"/a.png")
	require.NoError(t, err)
	assert.Equal(t, "image/png", ct)
	assert.Equal(t, img, data)

	_, ct, err = f.FetchImage(ctx, srv.URL+"/octet")
	require.NoError(t, err)
	assert.Equal(t, "image/png", ct)

	_, _, err = f.FetchImage(ctx, srv.URL+"/page")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidFormat))

	_, _, err = f.FetchImage(ctx, srv.URL+"/logo.svg")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidFormat))

	_, _, err = f.FetchImage(ctx, srv.URL+"/missing.png")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeFetchFailed))
}

func TestFetchImage_TooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(make([]byte, 4096))
	}))
	defer srv.Close()

	f := NewFetcher(5*time.Second, "ua", 0, 1024)
	_, _, err := f.FetchImage(context.Background(), srv.URL+"/big.png")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidRange))
}

func TestFetcher_SpacesRequestsPerHost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html></html>"))
	}))
	defer srv.Close()

	f := NewFetcher(5*time.Second, "ua", 100*time.Millisecond, 1<<20)
	start := time.Now()
	for i := 0; i < 3; i++ {
		_, _, err := f.FetchPage(context.Background(), srv.URL)
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
}

func TestFetcher_WaitHonoursCancellation(t *testing.T) {
	f := NewFetcher(time.Second, "ua", time.Hour, 1<<20)
	require.NoError(t, f.wait(context.Background(), "h"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, f.wait(ctx, "h"), context.DeadlineExceeded)
}

func TestFetcher_BreakerOpensOnServerErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := NewFetcher(5*time.Second, "ua", 0, 1<<20)
	for i := 0; i < 5; i++ {
		_, _, err := f.FetchPage(context.Background(), srv.URL)
		require.Error(t, err)
	}
	_, _, err := f.FetchPage(context.Background(), srv.URL)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeCircuitOpen))
	assert.Equal(t, int32(5), atomic.LoadInt32(&hits))
}

func TestFetcher_NotFoundDoesNotTripBreaker(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := NewFetcher(5*time.Second, "ua", 0, 1<<20)
	for i := 0; i < 8; i++ {
		_, _, err := f.FetchPage(context.Background(), srv.URL)
		require.Error(t, err)
		assert.False(t, apperrors.HasCode(err, apperrors.ErrCodeCircuitOpen))
	}
	assert.Equal(t, int32(8), atomic.LoadInt32(&hits))
}

func TestCheck_FallsBackToGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodHead:
			w.WriteHeader(http.StatusMethodNotAllowed)
		case r.URL.Path == "/ok.jpg":
			assert.Equal(t, "bytes=0-0", r.Header.Get("Range"))
			w.WriteHeader(http.StatusPartialContent)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewFetcher(5*time.Second, "ua", 0, 1<<20)
	status, err := f.Check(context.Background(), srv.URL+"/ok.jpg")
	require.NoError(t, err)
	assert.Equal(t, http.StatusPartialContent, status)

	status, err = f.Check(context.Background(), srv.URL+"/gone.jpg")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, status)
}
