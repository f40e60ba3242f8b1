package main

import (
	"fmt"
	"strings"

	"teedops/rls"

	"github.com/spf13/cobra"
)

func rlsCmd() *cobra.Command {
	var policies string
	cmd := &cobra.Command{
		Use:   "rls",
		Short: "Render, apply and verify row-level security policies",
	}
	cmd.PersistentFlags().StringVar(&policies, "policies", "", "policy catalog file (default: embedded)")

	cmd.AddCommand(&cobra.Command{
		Use:   "print [table...]",
		Short: "Print the policy SQL",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadPolicyCatalog(policies)
			if err != nil {
				return err
			}
			if len(args) == 0 {
				out.SQLBlock("RLS policies", c.RenderAll())
				return nil
			}
			for _, t := range args {
				if len(c.ForTable(t)) == 0 {
					return fmt.Errorf("no policies for table %q in the catalog", t)
				}
				out.SQLBlock("RLS policies for "+t, c.RenderTable(t))
			}
			return nil
		},
	})

	var tables []string
	apply := &cobra.Command{
		Use:   "apply [table...]",
		Short: "Drop and recreate policies table by table",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := loadPolicyCatalog(policies)
			if err != nil {
				return err
			}
			exec, closeDB := newExecutor(ctx)
			defer closeDB()
			led, err := openLedger()
			if err != nil {
				return err
			}
			defer led.Close()

			results, err := rls.Apply(ctx, exec, led, c, append(tables, args...))
			if err != nil {
				return err
			}
			var manual []string
			failed := 0
			for _, r := range results {
				switch {
				case r.Err == nil:
					out.Success("%s: %d policies applied via %s", r.Table, len(c.ForTable(r.Table)), r.Path)
				case isManual(r.Err):
					manual = append(manual, r.SQL)
					out.Skip("%s: needs manual execution", r.Table)
				default:
					failed++
					out.Failure(r.Table, r.Err)
				}
			}
			if len(manual) > 0 {
				out.SQLBlock(fmt.Sprintf("RLS policies for %d table(s)", len(manual)), strings.Join(manual, "\n\n"))
			}
			if failed > 0 {
				return errReported
			}
			return nil
		},
	}
	apply.Flags().StringSliceVarP(&tables, "table", "t", nil, "limit to these tables (repeatable)")
	cmd.AddCommand(apply)

	cmd.AddCommand(&cobra.Command{
		Use:   "verify",
		Short: "Compare pg_policies with the catalog (needs DATABASE_URL)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := loadPolicyCatalog(policies)
			if err != nil {
				return err
			}
			if !cfg.HasDirectDatabase() {
				return fmt.Errorf("rls verify reads pg_policies and needs DATABASE_URL")
			}
			db, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			report, err := rls.Verify(ctx, db, c)
			if err != nil {
				return err
			}
			for _, m := range report.Missing {
				out.Failure("missing policy "+m, nil)
			}
			for _, t := range report.RLSDisabled {
				out.Failure("row level security disabled on "+t, nil)
			}
			for _, e := range report.Extra {
				out.Warning("policy %s is not in the catalog", e)
			}
			if !report.OK() {
				out.Info("run `teedops rls apply` to fix")
				return errReported
			}
			out.Success("%d policies match the catalog", report.Matched)
			return nil
		},
	})
	return cmd
}
