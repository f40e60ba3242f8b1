package clients

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"teedops/config"
	apperrors "teedops/errors"
	"teedops/logger"
)

// SupabaseClient talks to PostgREST (/rest/v1) with a single API key.
type SupabaseClient struct {
	projectURL string
	baseURL    string
	apiKey     string
	httpClient *http.Client
	retry      *apperrors.RetryConfig
	log        logger.Logger
}

// NewSupabaseClient creates a client for cfg's project using apiKey (service role or anon).
func NewSupabaseClient(cfg *config.Config, apiKey string, log logger.Logger) *SupabaseClient {
	if log == nil {
		log = logger.NewNop()
	}
	timeout := cfg.HTTP.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SupabaseClient{
		projectURL: strings.TrimSuffix(cfg.Supabase.URL, "/"),
		baseURL:    strings.TrimSuffix(cfg.Supabase.URL, "/") + "/rest/v1",
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		retry:      apperrors.DefaultRetryConfig(),
		log:        log,
	}
}

// WithKey returns a copy of the client that authenticates with another key.
func (c *SupabaseClient) WithKey(apiKey string) *SupabaseClient {
	cp := *c
	cp.apiKey = apiKey
	return &cp
}

// WithRetryConfig returns a copy of the client using rc for retries.
func (c *SupabaseClient) WithRetryConfig(rc *apperrors.RetryConfig) *SupabaseClient {
	cp := *c
	cp.retry = rc
	return &cp
}

// ProjectURL is the Supabase project URL without the REST suffix.
func (c *SupabaseClient) ProjectURL() string { return c.projectURL }

// APIKey is the key this client authenticates with.
func (c *SupabaseClient) APIKey() string { return c.apiKey }

// SupabaseError is the error body PostgREST returns.
type SupabaseError = apperrors.PostgrestError

type response struct {
	status int
	header http.Header
	body   []byte
}

// makeRequest performs an authenticated request with retries on 5xx, 429 and network errors.
func (c *SupabaseClient) makeRequest(ctx context.Context, method, endpoint string, body interface{}, prefer []string) (*response, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, apperrors.NewInternalError(apperrors.ErrCodeSerializationError, "failed to marshal request body", err)
		}
	}

	return apperrors.ExecuteWithResult(ctx, c.retry, func() (*response, error) {
		return c.doRequest(ctx, method, endpoint, payload, prefer)
	})
}

func (c *SupabaseClient) doRequest(ctx context.Context, method, endpoint string, payload []byte, prefer []string) (*response, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return nil, apperrors.NewInternalError(apperrors.ErrCodeInvalidInput, "failed to create request", err)
	}

	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if len(prefer) > 0 {
		req.Header.Set("Prefer", strings.Join(prefer, ","))
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.log.Debug("supabase: request failed", logger.String("method", method), logger.String("endpoint", endpoint), logger.Any("error", err.Error()))
		var netErr interface{ Timeout() bool }
		if stderrors.As(err, &netErr) && netErr.Timeout() {
			return nil, apperrors.NewTimeoutError(apperrors.ErrCodeNetworkTimeout, "request to Supabase timed out", err)
		}
		return nil, apperrors.NewNetworkError(apperrors.ErrCodeNetworkConnection, "request to Supabase failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.NewNetworkError(apperrors.ErrCodeNetworkConnection, "failed to read response body", err)
	}

	if resp.StatusCode >= 400 {
		appErr := apperrors.FromPostgrest(resp.StatusCode, respBody)
		if resp.StatusCode == http.StatusNotFound && strings.HasPrefix(endpoint, "/rpc/") && appErr.Code == apperrors.ErrCodeResourceNotFound {
			appErr.Code = apperrors.ErrCodeRPCNotFound
		}
		c.log.Debug("supabase: error response",
			logger.String("method", method),
			logger.String("endpoint", endpoint),
			logger.Int("status", resp.StatusCode),
			logger.String("code", appErr.Code))
		return nil, appErr
	}

	c.log.Debug("supabase: OK",
		logger.String("method", method),
		logger.String("endpoint", endpoint),
		logger.Int("status", resp.StatusCode),
		logger.Duration("took", time.Since(start)))
	return &response{status: resp.StatusCode, header: resp.Header, body: respBody}, nil
}

func decodeInto(resp *response, out interface{}) error {
	if out == nil || len(bytes.TrimSpace(resp.body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.body, out); err != nil {
		return apperrors.NewInternalError(apperrors.ErrCodeSerializationError, "failed to unmarshal response", err)
	}
	return nil
}

func returnPref(out interface{}) string {
	if out == nil {
		return "return=minimal"
	}
	return "return=representation"
}

// Select reads rows matching q into out (a pointer to a slice).
func (c *SupabaseClient) Select(ctx context.Context, table string, q *Query, out interface{}) error {
	resp, err := c.makeRequest(ctx, http.MethodGet, "/"+table+q.Encode(), nil, nil)
	if err != nil {
		return err
	}
	return decodeInto(resp, out)
}

// Count returns the exact number of rows matching q.
func (c *SupabaseClient) Count(ctx context.Context, table string, q *Query) (int, error) {
	cq := q.clone()
	if cq.selectCols == "" {
		cq.Select("*")
	}
	cq.Limit(1)
	resp, err := c.makeRequest(ctx, http.MethodGet, "/"+table+cq.Encode(), nil, []string{"count=exact"})
	if err != nil {
		return 0, err
	}
	return parseContentRange(resp.header.Get("Content-Range"))
}

// parseContentRange reads the total from "0-24/3573" or "*/0".
func parseContentRange(h string) (int, error) {
	slash := strings.LastIndex(h, "/")
	if slash < 0 {
		return 0, apperrors.NewExternalServiceError(apperrors.ErrCodeSupabaseAPIFailed,
			fmt.Sprintf("missing count in Content-Range %q", h), nil)
	}
	total := h[slash+1:]
	if total == "*" {
		return 0, apperrors.NewExternalServiceError(apperrors.ErrCodeSupabaseAPIFailed, "count was not computed", nil)
	}
	n, err := strconv.Atoi(total)
	if err != nil {
		return 0, apperrors.NewExternalServiceError(apperrors.ErrCodeSupabaseAPIFailed,
			fmt.Sprintf("bad Content-Range %q", h), err)
	}
	return n, nil
}

// Insert writes rows (a struct, map or slice of either). When out is non-nil the
// inserted rows are decoded into it.
func (c *SupabaseClient) Insert(ctx context.Context, table string, rows interface{}, out interface{}) error {
	resp, err := c.makeRequest(ctx, http.MethodPost, "/"+table, rows, []string{returnPref(out)})
	if err != nil {
		return err
	}
	return decodeInto(resp, out)
}

// Upsert inserts rows, merging into existing rows that collide on onConflict
// (a comma-separated column list backed by a unique constraint).
func (c *SupabaseClient) Upsert(ctx context.Context, table string, rows interface{}, onConflict string, out interface{}) error {
	endpoint := "/" + table
	if onConflict != "" {
		endpoint += "?on_conflict=" + onConflict
	}
	resp, err := c.makeRequest(ctx, http.MethodPost, endpoint, rows, []string{"resolution=merge-duplicates", returnPref(out)})
	if err != nil {
		return err
	}
	return decodeInto(resp, out)
}

// Update patches every row matching q. An unfiltered update is refused.
func (c *SupabaseClient) Update(ctx context.Context, table string, q *Query, patch interface{}, out interface{}) error {
	if !q.HasFilter() {
		return apperrors.NewValidationError(apperrors.ErrCodeInvalidInput,
			fmt.Sprintf("refusing to update every row of %s without a filter", table), nil)
	}
	resp, err := c.makeRequest(ctx, http.MethodPatch, "/"+table+filterOnly(q).Encode(), patch, []string{returnPref(out)})
	if err != nil {
		return err
	}
	return decodeInto(resp, out)
}

// Delete removes rows matching q and returns how many were deleted. An unfiltered
// delete is refused.
func (c *SupabaseClient) Delete(ctx context.Context, table string, q *Query) (int, error) {
	if !q.HasFilter() {
		return 0, apperrors.NewValidationError(apperrors.ErrCodeInvalidInput,
			fmt.Sprintf("refusing to delete every row of %s without a filter", table), nil)
	}
	resp, err := c.makeRequest(ctx, http.MethodDelete, "/"+table+filterOnly(q).Encode(), nil, []string{"return=representation"})
	if err != nil {
		return 0, err
	}
	var deleted []json.RawMessage
	if err := decodeInto(resp, &deleted); err != nil {
		return 0, err
	}
	return len(deleted), nil
}

func filterOnly(q *Query) *Query {
	f := NewQuery()
	for k, vals := range q.filters {
		f.filters[k] = append([]string(nil), vals...)
	}
	if q.selectCols != "" {
		f.selectCols = q.selectCols
	}
	return f
}

// RPC calls a Postgres function through /rest/v1/rpc/<fn>. A missing function yields
// an AppError with code RPC_NOT_FOUND. RPC calls are not retried because the
// functions the toolkit calls are not guaranteed to be idempotent.
func (c *SupabaseClient) RPC(ctx context.Context, fn string, params interface{}, out interface{}) error {
	if params == nil {
		params = map[string]interface{}{}
	}
	rc := c.WithRetryConfig(apperrors.NoRetryConfig())
	resp, err := rc.makeRequest(ctx, http.MethodPost, "/rpc/"+fn, params, nil)
	if err != nil {
		return err
	}
	return decodeInto(resp, out)
}

// HealthCheck verifies the project answers an authenticated query.
func (c *SupabaseClient) HealthCheck(ctx context.Context) error {
	var rows []map[string]interface{}
	return c.Select(ctx, "equipment", NewQuery().Select("id").Limit(1), &rows)
}

// SelectAll pages through every row matching q. Give q an order so pages are stable.
func SelectAll[T any](ctx context.Context, c *SupabaseClient, table string, q *Query, pageSize int) ([]T, error) {
	if pageSize <= 0 {
		pageSize = 1000
	}
	pq := q.clone()
	var all []T
	for {
		var page []T
		if err := c.Select(ctx, table, pq.Limit(pageSize).Offset(len(all)), &page); err != nil {
			return nil, err
		}
		// The server may cap pages below pageSize (db-max-rows), so only an
		// empty page ends the scan.
		if len(page) == 0 {
			return all, nil
		}
		all = append(all, page...)
	}
}

// Chunk splits ids for in.() filters, keeping URLs short.
func Chunk(ids []string, size int) [][]string {
	var out [][]string
	for size > 0 && len(ids) > 0 {
		n := size
		if len(ids) < n {
			n = len(ids)
		}
		out = append(out, ids[:n])
		ids = ids[n:]
	}
	return out
}

// Strings converts ids for Query.In.
func Strings(ids []string) []interface{} {
	out := make([]interface{}, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
