package main

import (
	"context"
	"fmt"

	"teedops/output"
	"teedops/seed"

	"github.com/spf13/cobra"
)

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Fill catalog and demo tables",
	}

	run := func(name string, fn func(*seed.Seeder, context.Context) (output.BatchSummary, error)) *cobra.Command {
		return &cobra.Command{
			Use:   name,
			Short: "Seed " + name,
			RunE: func(cmd *cobra.Command, args []string) error {
				warnKeyRole()
				sum, err := fn(seed.NewSeeder(serviceClient(), dryRun, log), cmd.Context())
				out.Summary(sum)
				return err
			},
		}
	}
	prices := run("prices", (*seed.Seeder).SeedPrices)
	prices.Short = "Generate retailer prices for equipment without any"
	specs := run("specs", (*seed.Seeder).SeedSpecs)
	specs.Short = "Fill empty equipment specs from category templates"
	badges := run("badges", (*seed.Seeder).SeedBadges)
	badges.Short = "Upsert the badge catalog"

	var opts seed.ForumOptions
	forum := &cobra.Command{
		Use:   "demo-forum",
		Short: "Create fake forum threads and replies (development only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.LooksLikeProduction() && !assumeYes {
				return fmt.Errorf("%s looks like production; set APP_ENV=development or pass --yes", cfg.Supabase.URL)
			}
			sum, err := seed.NewSeeder(serviceClient(), dryRun, log).DemoForum(cmd.Context(), opts)
			out.Summary(sum)
			return err
		},
	}
	forum.Flags().IntVar(&opts.Threads, "threads", 10, "threads to create")
	forum.Flags().IntVar(&opts.MaxReplies, "max-replies", 5, "maximum replies per thread")
	forum.Flags().StringVar(&opts.Category, "category", "", "forum category slug (default: first by name)")
	forum.Flags().Int64Var(&opts.Seed, "seed", 0, "random seed for reproducible content")

	cmd.AddCommand(prices, specs, badges, forum)
	return cmd
}
