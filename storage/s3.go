package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"teedops/config"
	apperrors "teedops/errors"
	"teedops/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Store uploads through an S3-compatible endpoint. Objects are still served from
// the Supabase public object URL, so the endpoint must front the same buckets
// (the MinIO service of a self-hosted stack, for example).
type S3Store struct {
	client    *minio.Client
	publicURL string
	log       logger.Logger
}

// NewS3Store does not contact the endpoint.
func NewS3Store(cfg *config.Config, log logger.Logger) (*S3Store, error) {
	s3 := cfg.Storage.S3
	endpoint := strings.TrimPrefix(strings.TrimPrefix(s3.Endpoint, "https://"), "http://")
	endpoint = strings.TrimRight(endpoint, "/")
	if strings.Contains(endpoint, "/") {
		return nil, apperrors.NewValidationError(apperrors.ErrCodeConfigurationError,
			fmt.Sprintf("S3_ENDPOINT %q must be host[:port] without a path", s3.Endpoint), nil)
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(s3.AccessKey, s3.SecretKey, ""),
		Secure: s3.UseSSL,
		Region: s3.Region,
	})
	if err != nil {
		return nil, apperrors.NewInternalError(apperrors.ErrCodeConfigurationError, "failed to create S3 client", err)
	}
	return &S3Store{
		client:    client,
		publicURL: strings.TrimRight(cfg.Supabase.URL, "/"),
		log:       log,
	}, nil
}

func (s *S3Store) Backend() string { return config.StorageBackendS3 }

func (s *S3Store) PublicURL(bucket, objectPath string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.publicURL, bucket, escapePath(objectPath))
}

func s3Error(op string, err error) error {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey":
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case "NoSuchBucket":
		return apperrors.NewNotFoundError(apperrors.ErrCodeResourceNotFound, op+": bucket does not exist", err)
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return apperrors.NewAuthError(apperrors.ErrCodeAccessDenied, op+": access denied", err)
	}
	if resp.StatusCode >= 500 || resp.StatusCode == 0 {
		return apperrors.NewExternalServiceError(apperrors.ErrCodeStorageFailed, op+" failed", err)
	}
	return apperrors.NewValidationError(apperrors.ErrCodeStorageFailed, op+" failed", err)
}

func (s *S3Store) Upload(ctx context.Context, bucket, objectPath string, data []byte, contentType string, upsert bool) (string, error) {
	p, err := cleanPath(objectPath)
	if err != nil {
		return "", err
	}
	if !upsert {
		exists, err := s.Exists(ctx, bucket, p)
		if err != nil {
			return "", err
		}
		if exists {
			return "", apperrors.NewConflictError(apperrors.ErrCodeResourceConflict,
				fmt.Sprintf("%s/%s already exists", bucket, p), nil)
		}
	}
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	info, err := s.client.PutObject(ctx, bucket, p, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: "max-age=3600",
	})
	if err != nil {
		return "", s3Error("upload "+bucket+"/"+p, err)
	}
	s.log.Debug("storage: uploaded via s3", logger.String("bucket", bucket), logger.String("path", p), logger.Int64("bytes", info.Size))
	return s.PublicURL(bucket, p), nil
}

func (s *S3Store) Download(ctx context.Context, bucket, objectPath string) ([]byte, error) {
	p, err := cleanPath(objectPath)
	if err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, bucket, p, minio.GetObjectOptions{})
	if err != nil {
		return nil, s3Error("download "+bucket+"/"+p, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s3Error("download "+bucket+"/"+p, err)
	}
	return data, nil
}

func (s *S3Store) Delete(ctx context.Context, bucket string, objectPaths ...string) error {
	for _, op := range objectPaths {
		p, err := cleanPath(op)
		if err != nil {
			return err
		}
		if err := s.client.RemoveObject(ctx, bucket, p, minio.RemoveObjectOptions{}); err != nil {
			return s3Error("delete "+bucket+"/"+p, err)
		}
	}
	return nil
}

func (s *S3Store) List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	var out []ObjectInfo
	for obj := range s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix}) {
		if obj.Err != nil {
			return nil, s3Error("list "+bucket, obj.Err)
		}
		name := strings.TrimPrefix(obj.Key, prefix)
		if name == "" || strings.HasSuffix(name, "/") {
			continue
		}
		out = append(out, ObjectInfo{Name: name, Size: obj.Size})
	}
	return out, nil
}

func (s *S3Store) Exists(ctx context.Context, bucket, objectPath string) (bool, error) {
	p, err := cleanPath(objectPath)
	if err != nil {
		return false, err
	}
	_, err = s.client.StatObject(ctx, bucket, p, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, s3Error("stat "+bucket+"/"+p, err)
	}
	return true, nil
}
