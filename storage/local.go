package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"teedops/config"
	apperrors "teedops/errors"
)

// LocalStore writes objects under root/<bucket>/<path>. It backs dry runs.
type LocalStore struct {
	root    string
	baseURL string
}

// NewLocalStore uses file:// URLs when baseURL is empty.
func NewLocalStore(root, baseURL string) (*LocalStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, apperrors.NewInternalError(apperrors.ErrCodeStorageFailed, "failed to create local storage dir", err)
	}
	return &LocalStore{root: abs, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (s *LocalStore) Backend() string { return config.StorageBackendLocal }

func (s *LocalStore) file(bucket, objectPath string) (string, string, error) {
	p, err := cleanPath(objectPath)
	if err != nil {
		return "", "", err
	}
	if bucket == "" || strings.ContainsAny(bucket, `/\`) || bucket == ".." {
		return "", "", fmt.Errorf("invalid bucket %q", bucket)
	}
	return p, filepath.Join(s.root, bucket, filepath.FromSlash(p)), nil
}

func (s *LocalStore) PublicURL(bucket, objectPath string) string {
	if s.baseURL != "" {
		return fmt.Sprintf("%s/%s/%s", s.baseURL, bucket, escapePath(objectPath))
	}
	return "file://" + filepath.ToSlash(filepath.Join(s.root, bucket, filepath.FromSlash(objectPath)))
}

func (s *LocalStore) Upload(_ context.Context, bucket, objectPath string, data []byte, _ string, upsert bool) (string, error) {
	p, f, err := s.file(bucket, objectPath)
	if err != nil {
		return "", err
	}
	if !upsert {
		if _, err := os.Stat(f); err == nil {
			return "", apperrors.NewConflictError(apperrors.ErrCodeResourceConflict,
				fmt.Sprintf("%s/%s already exists", bucket, p), nil)
		}
	}
	if err := os.MkdirAll(filepath.Dir(f), 0o755); err != nil {
		return "", apperrors.NewInternalError(apperrors.ErrCodeStorageFailed, "failed to create object dir", err)
	}
	if err := os.WriteFile(f, data, 0o644); err != nil {
		return "", apperrors.NewInternalError(apperrors.ErrCodeStorageFailed, "failed to write object", err)
	}
	return s.PublicURL(bucket, p), nil
}

func (s *LocalStore) Download(_ context.Context, bucket, objectPath string) ([]byte, error) {
	p, f, err := s.file(bucket, objectPath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%s/%s: %w", bucket, p, ErrNotFound)
	}
	return data, err
}

func (s *LocalStore) Delete(_ context.Context, bucket string, objectPaths ...string) error {
	for _, op := range objectPaths {
		_, f, err := s.file(bucket, op)
		if err != nil {
			return err
		}
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			return apperrors.NewInternalError(apperrors.ErrCodeStorageFailed, "failed to delete object", err)
		}
	}
	return nil
}

func (s *LocalStore) List(_ context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	dir := filepath.Join(s.root, bucket)
	if p := strings.Trim(prefix, "/"); p != "" {
		cp, err := cleanPath(p)
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(dir, filepath.FromSlash(cp))
	}
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewInternalError(apperrors.ErrCodeStorageFailed, "failed to list objects", err)
	}
	var out []ObjectInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, ObjectInfo{Name: e.Name(), Size: info.Size()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *LocalStore) Exists(_ context.Context, bucket, objectPath string) (bool, error) {
	_, f, err := s.file(bucket, objectPath)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(f)
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}
