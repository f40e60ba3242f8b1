package checks

import (
	"context"
	stderrors "errors"

	"teedops/migrations"
	"teedops/rls"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// migrationVersionCheck compares golang-migrate's recorded version with the
// newest embedded migration.
type migrationVersionCheck struct {
	db rls.Querier
}

func (c *migrationVersionCheck) Name() string { return "migration-version" }

func versionQuery() (string, []interface{}, error) {
	return psql.Select("version", "dirty").
		From(migrations.MigrationsTable).
		Limit(1).
		ToSql()
}

func (c *migrationVersionCheck) Run(ctx context.Context) Result {
	if c.db == nil {
		return okf("skipped: DATABASE_URL not set")
	}
	all, err := migrations.List()
	if err != nil {
		return failf("failed to list embedded migrations: %v", err)
	}
	latest := all[len(all)-1]

	query, args, err := versionQuery()
	if err != nil {
		return failf("build query: %v", err)
	}
	rows, err := c.db.Query(ctx, query, args...)
	if err != nil {
		var pgErr *pgconn.PgError
		if stderrors.As(err, &pgErr) && pgErr.Code == "42P01" {
			return warnf("no migrations recorded; run `teedops migrate up`")
		}
		return failf("failed to read %s: %v", migrations.MigrationsTable, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			var pgErr *pgconn.PgError
			if stderrors.As(err, &pgErr) && pgErr.Code == "42P01" {
				return warnf("no migrations recorded; run `teedops migrate up`")
			}
			return failf("failed to read %s: %v", migrations.MigrationsTable, err)
		}
		return warnf("no migrations recorded; run `teedops migrate up`")
	}
	var version int64
	var dirty bool
	if err := rows.Scan(&version, &dirty); err != nil {
		return failf("scan version: %v", err)
	}

	switch {
	case dirty:
		return failf("version %d is dirty; fix the schema then run `teedops migrate force %d`", version, version)
	case uint(version) < latest.Version:
		return warnf("at version %d, latest is %d (%s)", version, latest.Version, latest.ID())
	case uint(version) > latest.Version:
		return warnf("database version %d is newer than this binary (%d)", version, latest.Version)
	}
	return okf("at latest version %d (%s)", version, latest.ID())
}
