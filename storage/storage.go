// Package storage uploads and serves equipment and avatar images.
package storage

import (
	"context"
	stderrors "errors"
	"fmt"
	"path"
	"strings"

	"teedops/config"
	"teedops/logger"
)

// ErrNotFound is returned by Download when the object does not exist.
var ErrNotFound = stderrors.New("object not found")

// ObjectInfo describes a listed object.
type ObjectInfo struct {
	Name string
	Size int64
}

// ObjectStore is implemented by every storage backend.
type ObjectStore interface {
	// Upload stores data and returns its public URL. With upsert false an existing
	// object is an error.
	Upload(ctx context.Context, bucket, objectPath string, data []byte, contentType string, upsert bool) (string, error)
	PublicURL(bucket, objectPath string) string
	Download(ctx context.Context, bucket, objectPath string) ([]byte, error)
	Delete(ctx context.Context, bucket string, objectPaths ...string) error
	// List returns the objects directly under prefix.
	List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error)
	Exists(ctx context.Context, bucket, objectPath string) (bool, error)
	Backend() string
}

// New builds the backend selected by cfg.Storage.Backend.
func New(cfg *config.Config, log logger.Logger) (ObjectStore, error) {
	if log == nil {
		log = logger.NewNop()
	}
	switch cfg.Storage.Backend {
	case config.StorageBackendREST, "":
		return NewRESTStore(cfg, log), nil
	case config.StorageBackendS3:
		return NewS3Store(cfg, log)
	case config.StorageBackendLocal:
		return NewLocalStore(cfg.Storage.Local.Path, cfg.Storage.Local.BaseURL)
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}

// cleanPath normalises an object path and rejects attempts to leave the bucket.
func cleanPath(p string) (string, error) {
	p = strings.TrimPrefix(path.Clean("/"+p), "/")
	if p == "" || p == "." {
		return "", fmt.Errorf("empty object path")
	}
	return p, nil
}

// escapePath escapes each path segment for use in a URL.
func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, s := range parts {
		parts[i] = pathEscape(s)
	}
	return strings.Join(parts, "/")
}
