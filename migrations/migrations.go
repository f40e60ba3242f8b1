// Package migrations ships the versioned schema changes the toolkit owns and
// runs them with golang-migrate or through the SQL executor chain.
package migrations

import (
	"bufio"
	"context"
	"embed"
	"fmt"
	"io/fs"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"teedops/database"
	"teedops/logger"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/pkg/errors"
)

//go:embed sql/*.sql
var sqlFS embed.FS

// MigrationsTable keeps golang-migrate's bookkeeping apart from other tools.
const MigrationsTable = "teedops_schema_migrations"

// Migration is one up/down pair.
type Migration struct {
	Version     uint
	Name        string
	Description string
	Up          string
	Down        string
}

// ID is "0003_invite_functions".
func (m Migration) ID() string {
	return fmt.Sprintf("%04d_%s", m.Version, m.Name)
}

var fileRe = regexp.MustCompile(`^(\d+)_(.+)\.(up|down)\.sql$`)

// List returns the embedded migrations ordered by version.
func List() ([]Migration, error) {
	entries, err := fs.ReadDir(sqlFS, "sql")
	if err != nil {
		return nil, errors.Wrap(err, "read embedded migrations")
	}

	byVersion := map[uint]*Migration{}
	for _, e := range entries {
		match := fileRe.FindStringSubmatch(e.Name())
		if match == nil {
			continue
		}
		v, err := strconv.ParseUint(match[1], 10, 32)
		if err != nil {
			return nil, errors.Wrapf(err, "bad version in %s", e.Name())
		}
		body, err := fs.ReadFile(sqlFS, "sql/"+e.Name())
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", e.Name())
		}

		m, ok := byVersion[uint(v)]
		if !ok {
			m = &Migration{Version: uint(v), Name: match[2]}
			byVersion[uint(v)] = m
		} else if m.Name != match[2] {
			return nil, errors.Errorf("version %d used by %s and %s", v, m.Name, match[2])
		}
		if match[3] == "up" {
			m.Up = string(body)
			m.Description = leadingComment(m.Up)
		} else {
			m.Down = string(body)
		}
	}

	out := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.Up == "" {
			return nil, errors.Errorf("migration %s has no up file", m.ID())
		}
		if m.Description == "" {
			m.Description = strings.ReplaceAll(m.Name, "_", " ")
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Find looks a migration up by version ("3"), name ("invite_functions") or ID.
func Find(ref string) (Migration, error) {
	all, err := List()
	if err != nil {
		return Migration{}, err
	}
	ref = strings.TrimSuffix(strings.TrimSpace(ref), ".up.sql")
	for _, m := range all {
		if ref == m.Name || ref == m.ID() {
			return m, nil
		}
		if v, err := strconv.ParseUint(ref, 10, 32); err == nil && uint(v) == m.Version {
			return m, nil
		}
	}
	return Migration{}, errors.Errorf("no migration named %q", ref)
}

// leadingComment joins the "--" lines at the top of a script.
func leadingComment(sql string) string {
	var parts []string
	sc := bufio.NewScanner(strings.NewReader(sql))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "--") {
			break
		}
		parts = append(parts, strings.TrimSpace(strings.TrimPrefix(line, "--")))
	}
	return strings.Join(parts, " ")
}

// Journal records patches applied outside golang-migrate. *ledger.Ledger implements it.
type Journal interface {
	RecordPatch(ctx context.Context, name, path string) error
}

// Apply runs one migration's up script through the executor chain and journals
// it on success. A ManualRequiredError is returned untouched.
func Apply(ctx context.Context, exec *database.Executor, journal Journal, m Migration) (*database.ExecResult, error) {
	res, err := exec.Exec(ctx, m.Up)
	if err != nil {
		return res, err
	}
	if journal != nil {
		if err := journal.RecordPatch(ctx, "migration:"+m.ID(), string(res.Path)); err != nil {
			return res, errors.Wrap(err, "record applied migration")
		}
	}
	return res, nil
}

// Runner drives golang-migrate over a direct database connection.
type Runner struct {
	m *migrate.Migrate
}

type migrateLogger struct {
	log logger.Logger
}

func (l migrateLogger) Printf(format string, v ...interface{}) {
	l.log.Info(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l migrateLogger) Verbose() bool { return false }

// NewRunner connects to databaseURL with the embedded migrations as source.
func NewRunner(databaseURL string, log logger.Logger) (*Runner, error) {
	if databaseURL == "" {
		return nil, errors.New("DATABASE_URL is required for migrate up/down/version/force")
	}
	dbURL, err := withMigrationsTable(databaseURL)
	if err != nil {
		return nil, err
	}
	src, err := iofs.New(sqlFS, "sql")
	if err != nil {
		return nil, errors.Wrap(err, "open embedded migrations")
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dbURL)
	if err != nil {
		return nil, errors.Wrap(err, "connect migrate")
	}
	if log != nil {
		m.Log = migrateLogger{log: log}
	}
	return &Runner{m: m}, nil
}

func withMigrationsTable(databaseURL string) (string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", errors.Wrap(err, "parse DATABASE_URL")
	}
	q := u.Query()
	if q.Get("x-migrations-table") == "" {
		q.Set("x-migrations-table", MigrationsTable)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Up applies every pending migration. It reports whether anything ran.
func (r *Runner) Up() (bool, error) {
	err := r.m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		return false, nil
	}
	return err == nil, errors.Wrap(err, "migrate up")
}

// Down rolls back n migrations, or all of them when n <= 0.
func (r *Runner) Down(n int) (bool, error) {
	var err error
	if n <= 0 {
		err = r.m.Down()
	} else {
		err = r.m.Steps(-n)
	}
	if errors.Is(err, migrate.ErrNoChange) {
		return false, nil
	}
	return err == nil, errors.Wrap(err, "migrate down")
}

// Version returns 0 when nothing has been applied.
func (r *Runner) Version() (uint, bool, error) {
	v, dirty, err := r.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, errors.Wrap(err, "migrate version")
}

// Force sets the version without running anything, clearing the dirty flag.
func (r *Runner) Force(version int) error {
	return errors.Wrap(r.m.Force(version), "migrate force")
}

func (r *Runner) Close() error {
	srcErr, dbErr := r.m.Close()
	if srcErr != nil {
		return srcErr
	}
	return dbErr
}
