package main

import (
	"context"
	"time"

	"teedops/checks"
	"teedops/database"
	"teedops/rls"

	"github.com/spf13/cobra"
	supabase "github.com/supabase-community/supabase-go"
)

func checkCmd() *cobra.Command {
	var (
		only     []string
		xlsxPath string
		schedule string
		policies string
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run read-only diagnostics against the project",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			warnKeyRole()

			catalog, err := loadPolicyCatalog(policies)
			if err != nil {
				return err
			}
			official, err := supabase.NewClient(cfg.Supabase.URL, cfg.Supabase.ServiceRoleKey, nil)
			if err != nil {
				return err
			}
			service := serviceClient()
			deps := checks.Deps{
				Service:  service,
				Official: official,
				Catalog:  catalog,
				Capacity: cfg.Waitlist.Capacity,
			}
			if cfg.Supabase.AnonKey != "" {
				deps.Anon = service.WithKey(cfg.Supabase.AnonKey)
			}
			var db *database.PostgresService
			if cfg.HasDirectDatabase() {
				db, err = openDB(ctx)
				if err != nil {
					out.Warning("direct database unavailable, SQL checks will be skipped: %v", err)
				} else {
					defer db.Close()
					deps.DB = db
				}
			}

			runner := checks.NewRunner(timeout, log)
			runner.Register(checks.Builtin(deps)...)

			runOnce := func(ctx context.Context) (*checks.Report, error) {
				report, err := runner.Run(ctx, only...)
				if err != nil {
					return nil, err
				}
				out.CheckReport(string(report.Status), report.Lines())
				if xlsxPath != "" {
					if err := report.WriteXLSX(xlsxPath); err != nil {
						out.Failure("write "+xlsxPath, err)
					} else {
						out.Success("report saved to %s", xlsxPath)
					}
				}
				return report, nil
			}

			if schedule != "" {
				return checks.Schedule(ctx, schedule, log, func(ctx context.Context) {
					if _, err := runOnce(ctx); err != nil {
						out.Failure("check run", err)
					}
				})
			}

			report, err := runOnce(ctx)
			if err != nil {
				return err
			}
			if report.Status == checks.StatusFail {
				return errReported
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&only, "only", nil, "run only these checks (comma separated)")
	cmd.Flags().StringVar(&xlsxPath, "xlsx", "", "also write the report to this .xlsx file")
	cmd.Flags().StringVar(&schedule, "schedule", "", `repeat on a cron schedule, e.g. "@every 15m" or "0 * * * *"`)
	cmd.Flags().StringVar(&policies, "policies", "", "policy catalog file (default: embedded)")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "timeout per check")
	return cmd
}

func loadPolicyCatalog(path string) (*rls.Catalog, error) {
	if path == "" {
		return rls.DefaultCatalog()
	}
	return rls.LoadCatalog(path)
}
