package main

import (
	"fmt"
	"strconv"

	"teedops/migrations"

	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Versioned schema migrations",
	}
	cmd.AddCommand(migrateListCmd(), migrateUpCmd(), migrateDownCmd(), migrateVersionCmd(),
		migrateForceCmd(), migrateApplyCmd(), migratePrintCmd())
	return cmd
}

func newMigrateRunner() (*migrations.Runner, error) {
	if !cfg.HasDirectDatabase() {
		return nil, fmt.Errorf("DATABASE_URL is required; without it use `teedops migrate apply <name>`")
	}
	return migrations.NewRunner(cfg.Database.URL, log)
}

func migrateListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List embedded migrations and which were applied through the executor",
		RunE: func(cmd *cobra.Command, args []string) error {
			all, err := migrations.List()
			if err != nil {
				return err
			}
			applied := map[string]string{}
			if led, err := openLedger(); err == nil {
				patches, err := led.AppliedPatches(cmd.Context())
				led.Close()
				if err != nil {
					return err
				}
				for _, p := range patches {
					applied[p.Name] = p.AppliedAt.Format("2006-01-02 15:04") + " (" + p.Path + ")"
				}
			}
			rows := make([][]string, 0, len(all))
			for _, m := range all {
				rows = append(rows, []string{strconv.Itoa(int(m.Version)), m.Name, m.Description, applied["migration:"+m.ID()]})
			}
			out.Table([]string{"version", "name", "description", "applied"}, rows)
			return nil
		},
	}
}

func migrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations over DATABASE_URL",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dryRun {
				out.Skip("dry run: not applying migrations")
				return nil
			}
			r, err := newMigrateRunner()
			if err != nil {
				return err
			}
			defer r.Close()
			changed, err := r.Up()
			if err != nil {
				return err
			}
			v, _, err := r.Version()
			if err != nil {
				return err
			}
			if changed {
				out.Success("migrated to version %d", v)
			} else {
				out.Info("already at version %d", v)
			}
			return nil
		},
	}
}

func migrateDownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "down [n]",
		Short: "Roll back n migrations (default 1); 0 rolls back everything",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n := 1
			if len(args) == 1 {
				v, err := strconv.Atoi(args[0])
				if err != nil || v < 0 {
					return fmt.Errorf("invalid step count %q", args[0])
				}
				n = v
			}
			if dryRun {
				out.Skip("dry run: not rolling back")
				return nil
			}
			what := fmt.Sprintf("Roll back %d migration(s)", n)
			if n == 0 {
				what = "Roll back ALL migrations"
			}
			if err := confirm(what + " on " + cfg.Supabase.URL + "?"); err != nil {
				return err
			}
			r, err := newMigrateRunner()
			if err != nil {
				return err
			}
			defer r.Close()
			changed, err := r.Down(n)
			if err != nil {
				return err
			}
			v, _, err := r.Version()
			if err != nil {
				return err
			}
			if changed {
				out.Success("now at version %d", v)
			} else {
				out.Info("nothing to roll back")
			}
			return nil
		},
	}
}

func migrateVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the applied migration version",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := newMigrateRunner()
			if err != nil {
				return err
			}
			defer r.Close()
			v, dirty, err := r.Version()
			if err != nil {
				return err
			}
			if dirty {
				out.Warning("version %d is dirty; fix the schema and run `teedops migrate force %d`", v, v)
				return errReported
			}
			out.Success("version %d", v)
			return nil
		},
	}
}

func migrateForceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "force <version>",
		Short: "Set the migration version without running anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.Atoi(args[0])
			if err != nil || v < -1 {
				return fmt.Errorf("invalid version %q", args[0])
			}
			if dryRun {
				out.Skip("dry run: not forcing version %d", v)
				return nil
			}
			if err := confirm(fmt.Sprintf("Force migration version to %d?", v)); err != nil {
				return err
			}
			r, err := newMigrateRunner()
			if err != nil {
				return err
			}
			defer r.Close()
			if err := r.Force(v); err != nil {
				return err
			}
			out.Success("version forced to %d", v)
			return nil
		},
	}
}

func migrateApplyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "apply <migration>",
		Short: "Run one migration's up script through direct SQL, exec_sql or manual instructions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			m, err := migrations.Find(args[0])
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

			res, err := migrations.Apply(ctx, exec, led, m)
			if err != nil {
				if reportManual("Apply "+m.ID(), err) {
					return nil
				}
				return err
			}
			out.Success("%s applied via %s in %s", m.ID(), res.Path, res.Duration)
			return nil
		},
	}
}

func migratePrintCmd() *cobra.Command {
	var down bool
	cmd := &cobra.Command{
		Use:   "print <migration>",
		Short: "Print a migration's SQL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := migrations.Find(args[0])
			if err != nil {
				return err
			}
			sql := m.Up
			if down {
				sql = m.Down
			}
			out.SQLBlock(m.ID(), sql)
			return nil
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "print the down script")
	return cmd
}
