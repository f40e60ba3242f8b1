package errors

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"slices"
	"time"
)

// RetryConfig controls how PostgREST and Storage calls are retried.
type RetryConfig struct {
	MaxRetries      int           `json:"max_retries"`
	BaseDelay       time.Duration `json:"base_delay"`
	MaxDelay        time.Duration `json:"max_delay"`
	BackoffFactor   float64       `json:"backoff_factor"`
	Jitter          bool          `json:"jitter"`
	RetryableErrors []ErrorType   `json:"retryable_errors"`
}

// DefaultRetryConfig retries transient Supabase failures three times.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:    3,
		BaseDelay:     100 * time.Millisecond,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
		RetryableErrors: []ErrorType{
			ErrTypeExternal,
			ErrTypeDatabase,
			ErrTypeNetwork,
			ErrTypeTimeout,
			ErrTypeRateLimit,
		},
	}
}

// NoRetryConfig runs an operation exactly once.
func NoRetryConfig() *RetryConfig {
	return &RetryConfig{BackoffFactor: 1}
}

// Backoff returns the wait before retry number n (1-based). With Jitter the
// result moves up to 10% either way.
func (rc *RetryConfig) Backoff(n int) time.Duration {
	d := float64(rc.BaseDelay) * math.Pow(rc.BackoffFactor, float64(n-1))
	if ceiling := float64(rc.MaxDelay); rc.MaxDelay > 0 && d > ceiling {
		d = ceiling
	}
	if rc.Jitter {
		d += d * 0.1 * (rand.Float64()*2 - 1)
	}
	return time.Duration(d)
}

// Retries reports whether err is worth another attempt under rc.
func (rc *RetryConfig) Retries(err error) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.IsRetryable() && slices.Contains(rc.RetryableErrors, appErr.Type)
	}
	return IsRetryable(err)
}

// ExecuteWithResult calls op until it succeeds, returns an error rc does not
// retry, runs out of retries or ctx is done. A nil rc means DefaultRetryConfig.
func ExecuteWithResult[T any](ctx context.Context, rc *RetryConfig, op func() (T, error)) (T, error) {
	if rc == nil {
		rc = DefaultRetryConfig()
	}
	var (
		res      T
		err      error
		attempts int
	)
	for {
		attempts++
		res, err = op()
		if err == nil {
			return res, nil
		}
		if attempts > rc.MaxRetries || ctx.Err() != nil || !rc.Retries(err) {
			break
		}
		t := time.NewTimer(rc.Backoff(attempts))
		select {
		case <-ctx.Done():
			t.Stop()
			return res, ctx.Err()
		case <-t.C:
		}
	}
	return res, exhausted(err, attempts)
}

// Execute is ExecuteWithResult for operations without a result.
func Execute(ctx context.Context, rc *RetryConfig, op func() error) error {
	_, err := ExecuteWithResult(ctx, rc, func() (struct{}, error) {
		return struct{}{}, op()
	})
	return err
}

func exhausted(err error, attempts int) error {
	if appErr, ok := AsAppError(err); ok {
		if attempts > 1 {
			appErr.Details = fmt.Sprintf("failed after %d attempts", attempts)
		}
		return appErr
	}
	if attempts == 1 {
		return err
	}
	return WrapError(err, ErrTypeInternal, ErrCodeProcessingError,
		fmt.Sprintf("operation failed after %d attempts", attempts))
}
