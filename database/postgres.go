package database

import (
	"context"
	"time"

	"teedops/config"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// PostgresConfig describes the optional direct connection (DATABASE_URL).
type PostgresConfig struct {
	URL            string
	MaxConns       int32
	MinConns       int32
	MaxConnLife    time.Duration
	MaxConnIdle    time.Duration
	HealthCheck    time.Duration
	ConnectTimeout time.Duration
}

// PostgresConfigFromConfig reads DATABASE_URL and the pool size from cfg.
// The pool defaults to four connections.
func PostgresConfigFromConfig(cfg *config.Config) *PostgresConfig {
	pc := &PostgresConfig{
		URL:            cfg.Database.URL,
		MaxConns:       int32(cfg.Database.MaxConns),
		MinConns:       int32(cfg.Database.MinConns),
		MaxConnLife:    time.Hour,
		MaxConnIdle:    5 * time.Minute,
		HealthCheck:    time.Minute,
		ConnectTimeout: 10 * time.Second,
	}
	if pc.MaxConns <= 0 {
		pc.MaxConns = 4
	}
	if pc.MinConns < 0 || pc.MinConns > pc.MaxConns {
		pc.MinConns = 0
	}
	return pc
}

// PostgresService is the direct SQL path: migrations, RLS policies and
// catalog queries that PostgREST cannot express.
type PostgresService struct {
	pool *pgxpool.Pool
}

// NewPostgresService opens a pool on cfg.URL and pings it.
func NewPostgresService(ctx context.Context, cfg *PostgresConfig) (*PostgresService, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, errors.New("DATABASE_URL is not set")
	}
	pc, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, errors.Wrap(err, "parse DATABASE_URL")
	}
	pc.MaxConns, pc.MinConns = cfg.MaxConns, cfg.MinConns
	pc.MaxConnLifetime, pc.MaxConnIdleTime = cfg.MaxConnLife, cfg.MaxConnIdle
	if cfg.HealthCheck > 0 {
		pc.HealthCheckPeriod = cfg.HealthCheck
	}
	if cfg.ConnectTimeout > 0 {
		pc.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}
	// Policies and migrations name tables unqualified.
	pc.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, "SET search_path TO public")
		return err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, errors.Wrap(err, "connect")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping")
	}
	return &PostgresService{pool: pool}, nil
}

func (s *PostgresService) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *PostgresService) Query(ctx context.Context, query string, args ...interface{}) (pgx.Rows, error) {
	return s.pool.Query(ctx, query, args...)
}

// ExecScript runs a multi-statement script in one transaction. Without arguments
// pgx sends it over the simple protocol, so several statements are allowed.
func (s *PostgresService) ExecScript(ctx context.Context, script string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, script); err != nil {
		return errors.Wrap(err, "exec script")
	}
	return errors.Wrap(tx.Commit(ctx), "commit")
}

// Health runs SELECT 1.
func (s *PostgresService) Health(ctx context.Context) error {
	var one int
	return errors.Wrap(s.pool.QueryRow(ctx, "SELECT 1").Scan(&one), "select 1")
}
