package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

func sqlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sql",
		Short: "Run one-off SQL files",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "exec <file>",
		Short: "Execute a SQL file through direct SQL, exec_sql or manual instructions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := args[0]
			script, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			if !dryRun {
				if err := confirm(fmt.Sprintf("Execute %s against %s?", filepath.Base(path), cfg.Supabase.URL)); err != nil {
					return err
				}
			}
			exec, closeDB := newExecutor(ctx)
			defer closeDB()

			res, err := exec.Exec(ctx, string(script))
			if err != nil {
				if reportManual(filepath.Base(path), err) {
					return nil
				}
				return err
			}
			led, err := openLedger()
			if err != nil {
				return err
			}
			defer led.Close()
			if err := led.RecordPatch(ctx, "sql:"+filepath.Base(path), string(res.Path)); err != nil {
				out.Warning("executed but not journaled: %v", err)
			}
			out.Success("%s executed via %s in %s", filepath.Base(path), res.Path, res.Duration)
			return nil
		},
	})
	return cmd
}
