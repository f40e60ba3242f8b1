package rls

import (
	"context"
	"fmt"
	"sort"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
)

// Querier is satisfied by *database.PostgresService and pgx pools.
type Querier interface {
	Query(ctx context.Context, query string, args ...interface{}) (pgx.Rows, error)
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// ExistingPolicy is a row of pg_policies.
type ExistingPolicy struct {
	Table   string
	Name    string
	Command string
}

// Report lists the differences between the catalog and the database.
type Report struct {
	Missing     []string // table.name in the catalog but not in the database
	Extra       []string // table.name in the database but not in the catalog
	RLSDisabled []string // catalog tables with relrowsecurity = false
	Matched     int
}

// OK reports whether nothing is missing and every table has RLS on. Extra
// policies are reported but tolerated.
func (r *Report) OK() bool {
	return len(r.Missing) == 0 && len(r.RLSDisabled) == 0
}

func policiesQuery(tables []string) (string, []interface{}, error) {
	return psql.Select("tablename", "policyname", "cmd").
		From("pg_policies").
		Where(sq.Eq{"schemaname": "public", "tablename": tables}).
		OrderBy("tablename", "policyname").
		ToSql()
}

func rlsQuery(tables []string) (string, []interface{}, error) {
	return psql.Select("c.relname", "c.relrowsecurity").
		From("pg_class c").
		Join("pg_namespace n ON n.oid = c.relnamespace").
		Where(sq.Eq{"n.nspname": "public", "c.relkind": "r", "c.relname": tables}).
		OrderBy("c.relname").
		ToSql()
}

// Verify reads pg_policies and pg_class and compares them with the catalog.
func Verify(ctx context.Context, db Querier, c *Catalog) (*Report, error) {
	tables := c.Tables()

	query, args, err := policiesQuery(tables)
	if err != nil {
		return nil, err
	}
	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pg_policies: %w", err)
	}
	var existing []ExistingPolicy
	for rows.Next() {
		var p ExistingPolicy
		if err := rows.Scan(&p.Table, &p.Name, &p.Command); err != nil {
			rows.Close()
			return nil, err
		}
		existing = append(existing, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	query, args, err = rlsQuery(tables)
	if err != nil {
		return nil, err
	}
	rows, err = db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pg_class: %w", err)
	}
	enabled := map[string]bool{}
	for rows.Next() {
		var name string
		var on bool
		if err := rows.Scan(&name, &on); err != nil {
			rows.Close()
			return nil, err
		}
		enabled[name] = on
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return Compare(c, existing, enabled), nil
}

// Compare builds a Report. Tables absent from enabled count as RLS disabled.
func Compare(c *Catalog, existing []ExistingPolicy, enabled map[string]bool) *Report {
	r := &Report{}
	have := map[string]bool{}
	for _, p := range existing {
		have[p.Table+"."+p.Name] = true
	}
	want := map[string]bool{}
	for _, p := range c.Policies {
		key := p.Table + "." + p.Name
		want[key] = true
		if have[key] {
			r.Matched++
		} else {
			r.Missing = append(r.Missing, key)
		}
	}
	for _, p := range existing {
		if key := p.Table + "." + p.Name; !want[key] {
			r.Extra = append(r.Extra, key)
		}
	}
	for _, t := range c.Tables() {
		if !enabled[t] {
			r.RLSDisabled = append(r.RLSDisabled, t)
		}
	}
	sort.Strings(r.Extra)
	return r
}
