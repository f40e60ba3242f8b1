package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"teedops/config"
	apperrors "teedops/errors"
	"teedops/logger"
)

// RESTStore talks to the Supabase Storage REST API.
type RESTStore struct {
	url        string
	apiKey     string
	httpClient *http.Client
	retry      *apperrors.RetryConfig
	log        logger.Logger
}

// NewRESTStore authenticates with the service role key.
func NewRESTStore(cfg *config.Config, log logger.Logger) *RESTStore {
	timeout := cfg.HTTP.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RESTStore{
		url:        strings.TrimRight(cfg.Supabase.URL, "/"),
		apiKey:     cfg.Supabase.ServiceRoleKey,
		httpClient: &http.Client{Timeout: timeout},
		retry:      apperrors.DefaultRetryConfig(),
		log:        log,
	}
}

func (s *RESTStore) Backend() string { return config.StorageBackendREST }

// PublicURL assumes the bucket is public.
func (s *RESTStore) PublicURL(bucket, objectPath string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.url, bucket, escapePath(objectPath))
}

type storageError struct {
	StatusCode string `json:"statusCode"`
	Error      string `json:"error"`
	Message    string `json:"message"`
}

// toAppError maps a storage error response. Storage often answers 400 with the
// real status inside the body.
func toAppError(status int, body []byte) *apperrors.AppError {
	var se storageError
	_ = json.Unmarshal(body, &se)
	if code, err := strconv.Atoi(se.StatusCode); err == nil && code > 0 {
		status = code
	}
	msg := se.Message
	if msg == "" {
		msg = se.Error
	}
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if msg == "" {
		msg = http.StatusText(status)
	}

	var appErr *apperrors.AppError
	switch {
	case status == http.StatusNotFound:
		appErr = apperrors.NewNotFoundError(apperrors.ErrCodeResourceNotFound, msg, nil)
	case status == http.StatusConflict:
		appErr = apperrors.NewConflictError(apperrors.ErrCodeResourceConflict, msg, nil)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		appErr = apperrors.NewAuthError(apperrors.ErrCodeAccessDenied, msg, nil)
	case status == http.StatusTooManyRequests:
		appErr = apperrors.NewRateLimitError(apperrors.ErrCodeStorageFailed, msg, nil)
	case status >= 500:
		appErr = apperrors.NewExternalServiceError(apperrors.ErrCodeStorageFailed, msg, nil)
	default:
		appErr = apperrors.NewValidationError(apperrors.ErrCodeStorageFailed, msg, nil)
	}
	appErr.StatusCode = status
	return appErr
}

func (s *RESTStore) do(ctx context.Context, method, endpoint string, body []byte, headers map[string]string) (*http.Response, []byte, error) {
	return doWithRetry(ctx, s.retry, func() (*http.Response, []byte, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, s.url+endpoint, reader)
		if err != nil {
			return nil, nil, apperrors.NewInternalError(apperrors.ErrCodeInvalidInput, "failed to create storage request", err)
		}
		req.Header.Set("apikey", s.apiKey)
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := s.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			return nil, nil, apperrors.NewNetworkError(apperrors.ErrCodeNetworkConnection, "storage request failed", err)
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, nil, apperrors.NewNetworkError(apperrors.ErrCodeNetworkConnection, "failed to read storage response", err)
		}
		if resp.StatusCode >= 400 && method != http.MethodHead {
			return resp, data, toAppError(resp.StatusCode, data)
		}
		return resp, data, nil
	})
}

type result struct {
	resp *http.Response
	body []byte
}

func doWithRetry(ctx context.Context, rc *apperrors.RetryConfig, op func() (*http.Response, []byte, error)) (*http.Response, []byte, error) {
	r, err := apperrors.ExecuteWithResult(ctx, rc, func() (result, error) {
		resp, body, err := op()
		return result{resp, body}, err
	})
	return r.resp, r.body, err
}

func (s *RESTStore) Upload(ctx context.Context, bucket, objectPath string, data []byte, contentType string, upsert bool) (string, error) {
	p, err := cleanPath(objectPath)
	if err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	_, _, err = s.do(ctx, http.MethodPost, fmt.Sprintf("/storage/v1/object/%s/%s", bucket, escapePath(p)), data, map[string]string{
		"Content-Type":  contentType,
		"x-upsert":      strconv.FormatBool(upsert),
		"Cache-Control": "max-age=3600",
	})
	if err != nil {
		return "", err
	}
	s.log.Debug("storage: uploaded", logger.String("bucket", bucket), logger.String("path", p), logger.Int("bytes", len(data)))
	return s.PublicURL(bucket, p), nil
}

func (s *RESTStore) Download(ctx context.Context, bucket, objectPath string) ([]byte, error) {
	p, err := cleanPath(objectPath)
	if err != nil {
		return nil, err
	}
	_, body, err := s.do(ctx, http.MethodGet, fmt.Sprintf("/storage/v1/object/%s/%s", bucket, escapePath(p)), nil, nil)
	if err != nil {
		if apperrors.HasCode(err, apperrors.ErrCodeResourceNotFound) {
			return nil, fmt.Errorf("%s/%s: %w", bucket, p, ErrNotFound)
		}
		return nil, err
	}
	return body, nil
}

func (s *RESTStore) Delete(ctx context.Context, bucket string, objectPaths ...string) error {
	if len(objectPaths) == 0 {
		return nil
	}
	prefixes := make([]string, 0, len(objectPaths))
	for _, op := range objectPaths {
		p, err := cleanPath(op)
		if err != nil {
			return err
		}
		prefixes = append(prefixes, p)
	}
	body, _ := json.Marshal(map[string][]string{"prefixes": prefixes})
	_, _, err := s.do(ctx, http.MethodDelete, "/storage/v1/object/"+bucket, body, map[string]string{"Content-Type": "application/json"})
	return err
}

func (s *RESTStore) List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	const pageSize = 1000
	for offset := 0; ; offset += pageSize {
		body, _ := json.Marshal(map[string]interface{}{
			"prefix": strings.Trim(prefix, "/"),
			"limit":  pageSize,
			"offset": offset,
			"sortBy": map[string]string{"column": "name", "order": "asc"},
		})
		_, data, err := s.do(ctx, http.MethodPost, "/storage/v1/object/list/"+bucket, body, map[string]string{"Content-Type": "application/json"})
		if err != nil {
			return nil, err
		}
		var page []struct {
			Name     string  `json:"name"`
			ID       *string `json:"id"`
			Metadata struct {
				Size int64 `json:"size"`
			} `json:"metadata"`
		}
		if err := json.Unmarshal(data, &page); err != nil {
			return nil, apperrors.NewInternalError(apperrors.ErrCodeSerializationError, "failed to decode storage listing", err)
		}
		for _, f := range page {
			// Folders come back with a null id.
			if f.ID == nil {
				continue
			}
			out = append(out, ObjectInfo{Name: f.Name, Size: f.Metadata.Size})
		}
		if len(page) < pageSize {
			return out, nil
		}
	}
}

func (s *RESTStore) Exists(ctx context.Context, bucket, objectPath string) (bool, error) {
	p, err := cleanPath(objectPath)
	if err != nil {
		return false, err
	}
	resp, _, err := s.do(ctx, http.MethodHead, fmt.Sprintf("/storage/v1/object/%s/%s", bucket, escapePath(p)), nil, nil)
	if err != nil {
		return false, err
	}
	switch {
	case resp.StatusCode < 300:
		return true, nil
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusNotFound:
		return false, nil
	}
	return false, toAppError(resp.StatusCode, nil)
}

func pathEscape(s string) string {
	return url.PathEscape(s)
}
