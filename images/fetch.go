package images

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	apperrors "teedops/errors"
)

const maxPageBytes = 5 << 20

// Fetcher downloads pages and images politely: requests to one host are spaced
// by delay, and a host that keeps failing is skipped by its circuit breaker.
type Fetcher struct {
	client    *http.Client
	userAgent string
	maxBytes  int64
	delay     time.Duration

	mu       sync.Mutex
	next     map[string]time.Time
	breakers map[string]*apperrors.CircuitBreaker
}

// NewFetcher creates a Fetcher. maxBytes bounds image downloads.
func NewFetcher(timeout time.Duration, userAgent string, delay time.Duration, maxBytes int64) *Fetcher {
	return &Fetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		maxBytes:  maxBytes,
		delay:     delay,
		next:      map[string]time.Time{},
		breakers:  map[string]*apperrors.CircuitBreaker{},
	}
}

// wait blocks until host may be contacted again and reserves the next slot.
func (f *Fetcher) wait(ctx context.Context, host string) error {
	if f.delay <= 0 {
		return ctx.Err()
	}
	f.mu.Lock()
	now := time.Now()
	at := f.next[host]
	if at.Before(now) {
		at = now
	}
	f.next[host] = at.Add(f.delay)
	f.mu.Unlock()

	d := time.Until(at)
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Fetcher) breaker(host string) *apperrors.CircuitBreaker {
	f.mu.Lock()
	defer f.mu.Unlock()
	cb, ok := f.breakers[host]
	if !ok {
		cb = apperrors.NewCircuitBreaker(&apperrors.CircuitBreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     2 * time.Minute,
			MaxRequests:      1,
		})
		f.breakers[host] = cb
	}
	return cb
}

// fetched is a successful response body.
type fetched struct {
	body        []byte
	contentType string
	finalURL    *url.URL
}

// get performs a GET through the host's gate and breaker. Only transport errors
// and 5xx answers count against the breaker.
func (f *Fetcher) get(ctx context.Context, rawURL, accept string, limit int64) (*fetched, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, apperrors.NewValidationError(apperrors.ErrCodeInvalidFormat, fmt.Sprintf("bad URL %q", rawURL), err)
	}

	var out *fetched
	var clientErr error
	err = f.breaker(u.Host).Execute(ctx, func() error {
		if err := f.wait(ctx, u.Host); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			clientErr = apperrors.NewValidationError(apperrors.ErrCodeInvalidFormat, "failed to create request", err)
			return nil
		}
		req.Header.Set("User-Agent", f.userAgent)
		req.Header.Set("Accept", accept)

		resp, err := f.client.Do(req)
		if err != nil {
			return apperrors.NewNetworkError(apperrors.ErrCodeFetchFailed, "GET "+rawURL+" failed", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return apperrors.NewExternalServiceError(apperrors.ErrCodeFetchFailed,
				fmt.Sprintf("GET %s returned %d", rawURL, resp.StatusCode), nil)
		}
		if resp.StatusCode >= 400 {
			clientErr = apperrors.NewNotFoundError(apperrors.ErrCodeFetchFailed,
				fmt.Sprintf("GET %s returned %d", rawURL, resp.StatusCode), nil)
			return nil
		}
		if resp.ContentLength > limit {
			clientErr = apperrors.NewValidationError(apperrors.ErrCodeInvalidRange,
				fmt.Sprintf("%s is %d bytes, limit is %d", rawURL, resp.ContentLength, limit), nil)
			return nil
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
		if err != nil {
			return apperrors.NewNetworkError(apperrors.ErrCodeFetchFailed, "failed to read "+rawURL, err)
		}
		if int64(len(body)) > limit {
			clientErr = apperrors.NewValidationError(apperrors.ErrCodeInvalidRange,
				fmt.Sprintf("%s exceeds %d bytes", rawURL, limit), nil)
			return nil
		}
		out = &fetched{body: body, contentType: resp.Header.Get("Content-Type"), finalURL: resp.Request.URL}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if clientErr != nil {
		return nil, clientErr
	}
	return out, nil
}

// FetchPage downloads an HTML page and returns its body and final URL.
func (f *Fetcher) FetchPage(ctx context.Context, rawURL string) ([]byte, *url.URL, error) {
	res, err := f.get(ctx, rawURL, "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8", maxPageBytes)
	if err != nil {
		return nil, nil, err
	}
	return res.body, res.finalURL, nil
}

// FetchImage downloads an image. Responses that are not raster images are rejected.
func (f *Fetcher) FetchImage(ctx context.Context, rawURL string) ([]byte, string, error) {
	res, err := f.get(ctx, rawURL, "image/avif,image/webp,image/png,image/jpeg,image/*;q=0.8", f.maxBytes)
	if err != nil {
		return nil, "", err
	}
	ct := mediaType(res.contentType)
	if ct == "" || ct == "application/octet-stream" || ct == "binary/octet-stream" {
		ct = mediaType(http.DetectContentType(res.body))
	}
	if !strings.HasPrefix(ct, "image/") || ct == "image/svg+xml" {
		return nil, "", apperrors.NewValidationError(apperrors.ErrCodeInvalidFormat,
			fmt.Sprintf("%s is %q, not an image", rawURL, ct), nil)
	}
	return res.body, ct, nil
}

func mediaType(header string) string {
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(header))
	}
	return mt
}

// Check returns the HTTP status of rawURL using HEAD, retrying with a one-byte
// GET when the server does not answer HEAD properly.
func (f *Fetcher) Check(ctx context.Context, rawURL string) (int, error) {
	status, err := f.probe(ctx, http.MethodHead, rawURL)
	if err == nil && status != http.StatusMethodNotAllowed && status != http.StatusNotImplemented && status != http.StatusForbidden {
		return status, nil
	}
	return f.probe(ctx, http.MethodGet, rawURL)
}

func (f *Fetcher) probe(ctx context.Context, method, rawURL string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", f.userAgent)
	if method == http.MethodGet {
		req.Header.Set("Range", "bytes=0-0")
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<10))
	return resp.StatusCode, nil
}
