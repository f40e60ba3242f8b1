package database

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	apperrors "teedops/errors"
	"teedops/logger"

	"github.com/jackc/pgx/v5/pgconn"
)

// ExecPath names the route a script took.
type ExecPath string

const (
	PathDirect ExecPath = "direct"
	PathRPC    ExecPath = "rpc"
	PathManual ExecPath = "manual"
)

// ExecSQLFunction is the escape-hatch RPC installed by the exec_sql migration.
const ExecSQLFunction = "exec_sql"

// ErrManualRequired means no automatic path could run the script.
var ErrManualRequired = stderrors.New("manual execution required")

// ManualRequiredError carries the SQL that has to be pasted into the dashboard.
type ManualRequiredError struct {
	SQL    string
	Reason string
}

func (e *ManualRequiredError) Error() string {
	return fmt.Sprintf("%s: %s", ErrManualRequired, e.Reason)
}

func (e *ManualRequiredError) Unwrap() error { return ErrManualRequired }

// ExecResult records how a script was executed.
type ExecResult struct {
	Path     ExecPath
	Duration time.Duration
}

// ScriptRunner executes SQL over a direct connection. *PostgresService implements it.
type ScriptRunner interface {
	ExecScript(ctx context.Context, script string) error
}

// RPCCaller calls a PostgREST function. *clients.SupabaseClient implements it.
type RPCCaller interface {
	RPC(ctx context.Context, fn string, params interface{}, out interface{}) error
}

// Executor tries the direct connection, then the exec_sql RPC, then gives up
// with a ManualRequiredError.
type Executor struct {
	direct    ScriptRunner
	rpc       RPCCaller
	printOnly bool
	log       logger.Logger
}

// NewExecutor accepts nil for either path.
func NewExecutor(direct ScriptRunner, rpc RPCCaller, log logger.Logger) *Executor {
	if log == nil {
		log = logger.NewNop()
	}
	return &Executor{direct: direct, rpc: rpc, log: log}
}

// WithPrintOnly returns an executor that never runs anything.
func (e *Executor) WithPrintOnly(printOnly bool) *Executor {
	cp := *e
	cp.printOnly = printOnly
	return &cp
}

// HasAutomaticPath reports whether any path other than manual is configured.
func (e *Executor) HasAutomaticPath() bool {
	return !e.printOnly && (e.direct != nil || e.rpc != nil)
}

// Exec runs script. SQL errors from a path that was reached are returned as is;
// only an unreachable path falls through to the next one.
func (e *Executor) Exec(ctx context.Context, script string) (*ExecResult, error) {
	script = strings.TrimSpace(script)
	if script == "" {
		return nil, apperrors.NewValidationError(apperrors.ErrCodeInvalidInput, "empty SQL script", nil)
	}
	if e.printOnly {
		return &ExecResult{Path: PathManual}, &ManualRequiredError{SQL: script, Reason: "print-only requested"}
	}

	var reasons []string

	if e.direct != nil {
		start := time.Now()
		err := e.direct.ExecScript(ctx, script)
		if err == nil {
			return &ExecResult{Path: PathDirect, Duration: time.Since(start)}, nil
		}
		if isSQLError(err) || ctx.Err() != nil {
			return nil, apperrors.NewDatabaseError(apperrors.ErrCodeDatabaseQuery, "direct SQL failed", err)
		}
		e.log.Warn("executor: direct connection unavailable, trying exec_sql", logger.String("error", err.Error()))
		reasons = append(reasons, "direct connection failed: "+err.Error())
	} else {
		reasons = append(reasons, "DATABASE_URL not set")
	}

	if e.rpc != nil {
		start := time.Now()
		err := e.rpc.RPC(ctx, ExecSQLFunction, map[string]string{"sql": script}, nil)
		if err == nil {
			return &ExecResult{Path: PathRPC, Duration: time.Since(start)}, nil
		}
		if !apperrors.HasCode(err, apperrors.ErrCodeRPCNotFound) {
			return nil, err
		}
		e.log.Debug("executor: exec_sql RPC not installed")
		reasons = append(reasons, "exec_sql RPC not installed")
	}

	return &ExecResult{Path: PathManual}, &ManualRequiredError{SQL: script, Reason: strings.Join(reasons, "; ")}
}

// AsManual extracts a ManualRequiredError.
func AsManual(err error) (*ManualRequiredError, bool) {
	var m *ManualRequiredError
	ok := stderrors.As(err, &m)
	return m, ok
}

func isSQLError(err error) bool {
	var pgErr *pgconn.PgError
	return stderrors.As(err, &pgErr)
}
