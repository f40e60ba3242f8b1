package rls

import (
	"context"
	"fmt"

	"teedops/database"
)

// Journal records applied patches. *ledger.Ledger implements it.
type Journal interface {
	RecordPatch(ctx context.Context, name, path string) error
}

// TableResult is the outcome for one table. Err holds a ManualRequiredError when
// no automatic path was available.
type TableResult struct {
	Table string
	Path  database.ExecPath
	SQL   string
	Err   error
}

// Apply runs each table's script through exec, continuing past failures. With
// no tables given every catalog table is applied.
func Apply(ctx context.Context, exec *database.Executor, journal Journal, c *Catalog, tables []string) ([]TableResult, error) {
	if len(tables) == 0 {
		tables = c.Tables()
	}
	for _, t := range tables {
		if len(c.ForTable(t)) == 0 {
			return nil, fmt.Errorf("no policies for table %q in the catalog", t)
		}
	}

	results := make([]TableResult, 0, len(tables))
	for _, t := range tables {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		script := c.RenderTable(t)
		res := TableResult{Table: t, SQL: script}
		er, err := exec.Exec(ctx, script)
		if er != nil {
			res.Path = er.Path
		}
		res.Err = err
		if err == nil && journal != nil {
			res.Err = journal.RecordPatch(ctx, "rls:"+t, string(er.Path))
		}
		results = append(results, res)
	}
	return results, nil
}
