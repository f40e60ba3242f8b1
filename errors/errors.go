package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorType groups errors by what went wrong, which decides retries and
// the exit message a task prints.
type ErrorType string

const (
	ErrTypeValidation ErrorType = "validation"
	ErrTypeExternal   ErrorType = "external_service"
	ErrTypeDatabase   ErrorType = "database"
	ErrTypeInternal   ErrorType = "internal"
	ErrTypeNetwork    ErrorType = "network"
	ErrTypeTimeout    ErrorType = "timeout"
	ErrTypeRateLimit  ErrorType = "rate_limit"
	ErrTypeAuth       ErrorType = "authentication"
	ErrTypeNotFound   ErrorType = "not_found"
	ErrTypeConflict   ErrorType = "conflict"
)

// AppError is the error shape shared by every task. Hint carries the
// PostgREST hint or an operator instruction such as "apply migration 0004".
type AppError struct {
	Type       ErrorType `json:"type"`
	Code       string    `json:"code"`
	Message    string    `json:"message"`
	Details    string    `json:"details,omitempty"`
	Hint       string    `json:"hint,omitempty"`
	Cause      error     `json:"-"`
	StatusCode int       `json:"-"`
	Retryable  bool      `json:"-"`
}

func (e *AppError) Error() string {
	msg := e.Code + ": " + e.Message
	if e.Cause != nil {
		msg += fmt.Sprintf(" (caused by: %v)", e.Cause)
	}
	return msg
}

func (e *AppError) Unwrap() error { return e.Cause }

func (e *AppError) IsRetryable() bool { return e.Retryable }

// category fixes the status and retry default of each ErrorType.
type category struct {
	status    int
	retryable bool
}

var categories = map[ErrorType]category{
	ErrTypeValidation: {http.StatusBadRequest, false},
	ErrTypeExternal:   {http.StatusBadGateway, true},
	ErrTypeDatabase:   {http.StatusInternalServerError, true},
	ErrTypeInternal:   {http.StatusInternalServerError, false},
	ErrTypeNetwork:    {http.StatusBadGateway, true},
	ErrTypeTimeout:    {http.StatusRequestTimeout, true},
	ErrTypeRateLimit:  {http.StatusTooManyRequests, true},
	ErrTypeAuth:       {http.StatusUnauthorized, false},
	ErrTypeNotFound:   {http.StatusNotFound, false},
	ErrTypeConflict:   {http.StatusConflict, false},
}

func newError(t ErrorType, code, message string, cause error) *AppError {
	c := categories[t]
	return &AppError{Type: t, Code: code, Message: message, Cause: cause, StatusCode: c.status, Retryable: c.retryable}
}

func NewValidationError(code, message string, cause error) *AppError {
	return newError(ErrTypeValidation, code, message, cause)
}

// NewExternalServiceError is for PostgREST, Storage and scraped sites.
func NewExternalServiceError(code, message string, cause error) *AppError {
	return newError(ErrTypeExternal, code, message, cause)
}

func NewDatabaseError(code, message string, cause error) *AppError {
	return newError(ErrTypeDatabase, code, message, cause)
}

func NewInternalError(code, message string, cause error) *AppError {
	return newError(ErrTypeInternal, code, message, cause)
}

func NewNetworkError(code, message string, cause error) *AppError {
	return newError(ErrTypeNetwork, code, message, cause)
}

func NewTimeoutError(code, message string, cause error) *AppError {
	return newError(ErrTypeTimeout, code, message, cause)
}

func NewRateLimitError(code, message string, cause error) *AppError {
	return newError(ErrTypeRateLimit, code, message, cause)
}

// NewAuthError covers bad keys and RLS denials.
func NewAuthError(code, message string, cause error) *AppError {
	return newError(ErrTypeAuth, code, message, cause)
}

func NewNotFoundError(code, message string, cause error) *AppError {
	return newError(ErrTypeNotFound, code, message, cause)
}

func NewConflictError(code, message string, cause error) *AppError {
	return newError(ErrTypeConflict, code, message, cause)
}

const (
	// Validation
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeMissingField  = "MISSING_FIELD"
	ErrCodeInvalidFormat = "INVALID_FORMAT"
	ErrCodeInvalidRange  = "INVALID_RANGE"

	// External services
	ErrCodeSupabaseAPIFailed = "SUPABASE_API_FAILED"
	ErrCodeStorageFailed     = "STORAGE_FAILED"
	ErrCodeFetchFailed       = "FETCH_FAILED"

	// Database
	ErrCodeDatabaseQuery      = "DATABASE_QUERY_FAILED"
	ErrCodeDatabaseConstraint = "DATABASE_CONSTRAINT_VIOLATION"
	ErrCodeRPCNotFound        = "RPC_NOT_FOUND"
	ErrCodeUniqueViolation    = "UNIQUE_VIOLATION"

	// Internal
	ErrCodeConfigurationError = "CONFIGURATION_ERROR"
	ErrCodeSerializationError = "SERIALIZATION_ERROR"
	ErrCodeProcessingError    = "PROCESSING_ERROR"

	// Network
	ErrCodeNetworkTimeout    = "NETWORK_TIMEOUT"
	ErrCodeNetworkConnection = "NETWORK_CONNECTION_FAILED"

	// Resources
	ErrCodeResourceNotFound = "RESOURCE_NOT_FOUND"
	ErrCodeResourceConflict = "RESOURCE_CONFLICT"

	// Auth
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeAccessDenied       = "ACCESS_DENIED"
	ErrCodePermissionDenied   = "PERMISSION_DENIED"

	// Waitlist and invites
	ErrCodeCapacityReached = "CAPACITY_REACHED"
	ErrCodeInvalidInvite   = "INVALID_INVITE"
)

// IsAppError checks if an error is, or wraps, an AppError
func IsAppError(err error) bool {
	_, ok := AsAppError(err)
	return ok
}

// AsAppError finds the first AppError in err's chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode reports whether err carries an AppError with the given code anywhere in its chain.
func HasCode(err error, code string) bool {
	for err != nil {
		var appErr *AppError
		if !stderrors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Cause
	}
	return false
}

// WrapError wraps err as an AppError of the given type. Wrapping another
// AppError keeps its retry flag.
func WrapError(err error, errType ErrorType, code, message string) *AppError {
	if err == nil {
		return nil
	}
	wrapped := newError(errType, code, message, err)
	if appErr, ok := err.(*AppError); ok {
		wrapped.Retryable = appErr.Retryable
	}
	return wrapped
}

// IsRetryable reports whether err carries a retryable AppError. Plain errors,
// context cancellation included, are never retried.
func IsRetryable(err error) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.IsRetryable()
}

// PostgrestError is the JSON body PostgREST returns on failure.
type PostgrestError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

// FromPostgrest maps a PostgREST error response onto an AppError. Postgres SQLSTATE
// codes and PGRST codes take precedence over the HTTP status.
func FromPostgrest(status int, body []byte) *AppError {
	var pe PostgrestError
	if err := json.Unmarshal(body, &pe); err != nil || (pe.Message == "" && pe.Code == "") {
		pe.Message = strings.TrimSpace(string(body))
		if pe.Message == "" {
			pe.Message = http.StatusText(status)
		}
	}

	var appErr *AppError
	switch {
	case pe.Code == "PGRST202":
		appErr = NewNotFoundError(ErrCodeRPCNotFound, pe.Message, nil)
	case pe.Code == "42501":
		appErr = NewAuthError(ErrCodePermissionDenied, pe.Message, nil)
	case pe.Code == "23505":
		appErr = NewConflictError(ErrCodeUniqueViolation, pe.Message, nil)
	case strings.HasPrefix(pe.Code, "23"):
		appErr = NewValidationError(ErrCodeDatabaseConstraint, pe.Message, nil)
	case pe.Code == "42P01" || pe.Code == "PGRST205":
		appErr = NewNotFoundError(ErrCodeResourceNotFound, pe.Message, nil)
	case status == http.StatusUnauthorized:
		appErr = NewAuthError(ErrCodeInvalidCredentials, pe.Message, nil)
	case status == http.StatusForbidden:
		appErr = NewAuthError(ErrCodePermissionDenied, pe.Message, nil)
	case status == http.StatusNotFound:
		appErr = NewNotFoundError(ErrCodeResourceNotFound, pe.Message, nil)
	case status == http.StatusConflict:
		appErr = NewConflictError(ErrCodeResourceConflict, pe.Message, nil)
	case status == http.StatusTooManyRequests:
		appErr = NewRateLimitError(ErrCodeSupabaseAPIFailed, pe.Message, nil)
	case status >= 500:
		appErr = NewExternalServiceError(ErrCodeSupabaseAPIFailed, pe.Message, nil)
	default:
		appErr = NewValidationError(ErrCodeInvalidInput, pe.Message, nil)
	}
	appErr.StatusCode = status
	appErr.Details = pe.Details
	appErr.Hint = pe.Hint
	return appErr
}
