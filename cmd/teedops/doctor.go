package main

import (
	"time"

	"teedops/config"
	"teedops/storage"

	"github.com/spf13/cobra"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, key roles and connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			failed := false

			out.Step("Configuration")
			out.Success("SUPABASE_URL %s", cfg.Supabase.URL)
			if cfg.LooksLikeProduction() {
				out.Info("target looks like production")
			}
			out.Info("storage backend %s, equipment bucket %s", cfg.Storage.Backend, cfg.Storage.EquipmentBucket)
			out.Info("state db %s", cfg.Ledger.Path)

			out.Step("API keys")
			keys := []struct {
				name, key, want string
			}{
				{"SUPABASE_SERVICE_ROLE_KEY", cfg.Supabase.ServiceRoleKey, config.RoleServiceRole},
				{"SUPABASE_ANON_KEY", cfg.Supabase.AnonKey, config.RoleAnon},
			}
			for _, k := range keys {
				if k.key == "" {
					out.Skip("%s not set", k.name)
					continue
				}
				role, err := config.KeyRole(k.key)
				switch {
				case err != nil:
					out.Failure(k.name, err)
					failed = true
				case role != k.want:
					out.Failure(k.name+" has role "+role+", want "+k.want, nil)
					failed = true
				default:
					out.Success("%s role %s", k.name, role)
				}
			}

			out.Step("Connectivity")
			start := time.Now()
			if err := serviceClient().HealthCheck(ctx); err != nil {
				out.Failure("PostgREST", err)
				failed = true
			} else {
				out.Success("PostgREST reachable (%s)", time.Since(start).Round(time.Millisecond))
			}

			if cfg.HasDirectDatabase() {
				db, err := openDB(ctx)
				if err != nil {
					out.Failure("direct database", err)
					failed = true
				} else {
					if err := db.Health(ctx); err != nil {
						out.Failure("direct database", err)
						failed = true
					} else {
						out.Success("direct database reachable")
					}
					db.Close()
				}
			} else {
				out.Skip("DATABASE_URL not set; SQL runs through exec_sql or manual instructions")
			}

			store, err := storage.New(cfg, log)
			if err != nil {
				out.Failure("storage", err)
				failed = true
			} else if _, err := store.List(ctx, cfg.Storage.EquipmentBucket, ""); err != nil {
				out.Failure("storage bucket "+cfg.Storage.EquipmentBucket, err)
				failed = true
			} else {
				out.Success("storage bucket %s readable (%s)", cfg.Storage.EquipmentBucket, store.Backend())
			}

			led, err := openLedger()
			if err != nil {
				out.Failure("state db", err)
				failed = true
			} else {
				urls, hashes, patches, err := led.Stats(ctx)
				led.Close()
				if err != nil {
					out.Failure("state db", err)
					failed = true
				} else {
					out.Success("state db: %d urls, %d hashes, %d patches", urls, hashes, patches)
				}
			}

			if failed {
				return errReported
			}
			return nil
		},
	}
}
