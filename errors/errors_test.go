package errors

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	err := NewExternalServiceError(ErrCodeSupabaseAPIFailed, "insert into prices", nil)
	assert.Equal(t, "SUPABASE_API_FAILED: insert into prices", err.Error())

	err.Cause = fmt.Errorf("connection reset")
	assert.Equal(t, "SUPABASE_API_FAILED: insert into prices (caused by: connection reset)", err.Error())
}

func TestErrorConstructors(t *testing.T) {
	cause := fmt.Errorf("underlying error")

	tests := []struct {
		name      string
		err       *AppError
		typ       ErrorType
		retryable bool
		status    int
	}{
		{"validation", NewValidationError("C", "m", cause), ErrTypeValidation, false, http.StatusBadRequest},
		{"external", NewExternalServiceError("C", "m", cause), ErrTypeExternal, true, http.StatusBadGateway},
		{"database", NewDatabaseError("C", "m", cause), ErrTypeDatabase, true, http.StatusInternalServerError},
		{"internal", NewInternalError("C", "m", cause), ErrTypeInternal, false, http.StatusInternalServerError},
		{"network", NewNetworkError("C", "m", cause), ErrTypeNetwork, true, http.StatusBadGateway},
		{"timeout", NewTimeoutError("C", "m", cause), ErrTypeTimeout, true, http.StatusRequestTimeout},
		{"rate limit", NewRateLimitError("C", "m", cause), ErrTypeRateLimit, true, http.StatusTooManyRequests},
		{"auth", NewAuthError("C", "m", cause), ErrTypeAuth, false, http.StatusUnauthorized},
		{"not found", NewNotFoundError("C", "m", cause), ErrTypeNotFound, false, http.StatusNotFound},
		{"conflict", NewConflictError("C", "m", cause), ErrTypeConflict, false, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.typ, tt.err.Type)
			assert.Equal(t, tt.retryable, tt.err.Retryable)
			assert.Equal(t, tt.status, tt.err.StatusCode)
			assert.Equal(t, cause, tt.err.Unwrap())
		})
	}
}

func TestAsAppError_FindsWrapped(t *testing.T) {
	inner := NewNotFoundError(ErrCodeRPCNotFound, "missing", nil)
	wrapped := fmt.Errorf("calling rpc: %w", inner)

	appErr, ok := AsAppError(wrapped)
	require.True(t, ok)
	assert.Equal(t, ErrCodeRPCNotFound, appErr.Code)
	assert.True(t, IsAppError(wrapped))
	assert.False(t, IsAppError(fmt.Errorf("plain")))
}

func TestHasCode(t *testing.T) {
	inner := NewAuthError(ErrCodePermissionDenied, "denied", nil)
	outer := WrapError(inner, ErrTypeDatabase, ErrCodeDatabaseQuery, "select failed")

	assert.True(t, HasCode(outer, ErrCodeDatabaseQuery))
	assert.True(t, HasCode(outer, ErrCodePermissionDenied))
	assert.False(t, HasCode(outer, ErrCodeUniqueViolation))
	assert.False(t, HasCode(nil, ErrCodeDatabaseQuery))
}

func TestWrapError(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		assert.Nil(t, WrapError(nil, ErrTypeInternal, "X", "y"))
	})

	t.Run("plain error takes type default", func(t *testing.T) {
		err := WrapError(fmt.Errorf("boom"), ErrTypeNetwork, ErrCodeNetworkConnection, "dial")
		assert.True(t, err.Retryable)
		assert.Equal(t, ErrTypeNetwork, err.Type)
	})

	t.Run("app error keeps retryability", func(t *testing.T) {
		inner := NewValidationError("BAD", "bad", nil)
		err := WrapError(inner, ErrTypeExternal, "OUTER", "outer")
		assert.False(t, err.Retryable)
		assert.Equal(t, inner, err.Cause)
	})
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewNetworkError("N", "n", nil)))
	assert.False(t, IsRetryable(NewValidationError("V", "v", nil)))
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(fmt.Errorf("unknown")))
}

func TestFromPostgrest(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		body         string
		expectedCode string
		expectedType ErrorType
		retryable    bool
	}{
		{
			name:         "missing rpc function",
			status:       http.StatusNotFound,
			body:         `{"code":"PGRST202","message":"Could not find the function public.exec_sql(sql) in the schema cache","hint":"Perhaps you meant"}`,
			expectedCode: ErrCodeRPCNotFound,
			expectedType: ErrTypeNotFound,
		},
		{
			name:         "rls denial",
			status:       http.StatusForbidden,
			body:         `{"code":"42501","message":"new row violates row-level security policy"}`,
			expectedCode: ErrCodePermissionDenied,
			expectedType: ErrTypeAuth,
		},
		{
			name:         "duplicate key",
			status:       http.StatusConflict,
			body:         `{"code":"23505","message":"duplicate key value violates unique constraint","details":"Key (code)=(ABC) already exists."}`,
			expectedCode: ErrCodeUniqueViolation,
			expectedType: ErrTypeConflict,
		},
		{
			name:         "not null violation",
			status:       http.StatusBadRequest,
			body:         `{"code":"23502","message":"null value in column"}`,
			expectedCode: ErrCodeDatabaseConstraint,
			expectedType: ErrTypeValidation,
		},
		{
			name:         "unknown table",
			status:       http.StatusNotFound,
			body:         `{"code":"42P01","message":"relation does not exist"}`,
			expectedCode: ErrCodeResourceNotFound,
			expectedType: ErrTypeNotFound,
		},
		{
			name:         "bad key",
			status:       http.StatusUnauthorized,
			body:         `{"message":"Invalid API key"}`,
			expectedCode: ErrCodeInvalidCredentials,
			expectedType: ErrTypeAuth,
		},
		{
			name:         "gateway failure with html body",
			status:       http.StatusBadGateway,
			body:         `<html>bad gateway</html>`,
			expectedCode: ErrCodeSupabaseAPIFailed,
			expectedType: ErrTypeExternal,
			retryable:    true,
		},
		{
			name:         "rate limited",
			status:       http.StatusTooManyRequests,
			body:         ``,
			expectedCode: ErrCodeSupabaseAPIFailed,
			expectedType: ErrTypeRateLimit,
			retryable:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := FromPostgrest(tt.status, []byte(tt.body))
			require.NotNil(t, err)
			assert.Equal(t, tt.expectedCode, err.Code)
			assert.Equal(t, tt.expectedType, err.Type)
			assert.Equal(t, tt.retryable, err.Retryable)
			assert.Equal(t, tt.status, err.StatusCode)
			assert.NotEmpty(t, err.Message)
		})
	}
}

func TestFromPostgrest_KeepsDetailsAndHint(t *testing.T) {
	err := FromPostgrest(http.StatusConflict, []byte(`{"code":"23505","message":"dup","details":"Key (name)=(x)","hint":"use upsert"}`))
	assert.Equal(t, "Key (name)=(x)", err.Details)
	assert.Equal(t, "use upsert", err.Hint)
}
