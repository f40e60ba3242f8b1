package main

import (
	"fmt"
	"strconv"

	"teedops/images"
	"teedops/storage"

	"github.com/spf13/cobra"
)

func imagesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "images",
		Short: "Collect equipment photos and verify stored image links",
	}
	cmd.AddCommand(imagesCollectCmd(), imagesVerifyCmd())
	return cmd
}

func newFetcher() *images.Fetcher {
	return images.NewFetcher(cfg.HTTP.Timeout, cfg.Scrape.UserAgent, cfg.Scrape.Delay, cfg.Scrape.MaxImageBytes)
}

func imagesCollectCmd() *cobra.Command {
	var (
		sourcesPath string
		limit       int
		concurrency int
	)
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Download, resize and attach photos listed in a sources file",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			warnKeyRole()
			sources, err := images.LoadSources(sourcesPath)
			if err != nil {
				return err
			}

			var store storage.ObjectStore
			if dryRun {
				store, err = storage.NewLocalStore(cfg.Storage.Local.Path, cfg.Storage.Local.BaseURL)
				out.Info("dry run: photos go to %s, nothing is written to the database", cfg.Storage.Local.Path)
			} else {
				store, err = storage.New(cfg, log)
			}
			if err != nil {
				return err
			}
			led, err := openLedger()
			if err != nil {
				return err
			}
			defer led.Close()

			if concurrency <= 0 {
				concurrency = cfg.Scrape.Concurrency
			}
			collector, err := images.NewCollector(serviceClient(), store, led, newFetcher(), images.Options{
				Bucket:       cfg.Storage.EquipmentBucket,
				Concurrency:  concurrency,
				MaxPerSource: limit,
				DryRun:       dryRun,
			}, log)
			if err != nil {
				return err
			}

			out.Step("Collecting photos for %d sources", len(sources))
			report, err := collector.Run(ctx, sources)
			if report != nil {
				for _, item := range report.Items {
					for _, u := range item.Uploaded {
						out.Success("%s: %s", item.Source, u)
					}
					for _, e := range item.Errors {
						out.Failure(item.Source, fmt.Errorf("%s", e))
					}
					if len(item.Uploaded) == 0 && len(item.Errors) == 0 {
						out.Skip("%s: nothing new (%d skipped)", item.Source, item.Skipped)
					}
				}
				out.Summary(report.Summary)
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&sourcesPath, "sources", "s", "sources.toml", "TOML file listing brand, model and page or image URLs")
	cmd.Flags().IntVar(&limit, "limit", images.DefaultMaxPerSource, "photos to keep per source when the source sets no limit")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "parallel sources (default: SCRAPE_CONCURRENCY)")
	return cmd
}

func imagesVerifyCmd() *cobra.Command {
	var (
		clearBroken bool
		concurrency int
	)
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check that stored image URLs still resolve",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if clearBroken && dryRun {
				clearBroken = false
				out.Info("dry run: broken links are reported, not cleared")
			}
			if clearBroken {
				if err := confirm("Clear equipment.image_url for every broken link?"); err != nil {
					return err
				}
			}
			if concurrency <= 0 {
				concurrency = cfg.Scrape.Concurrency * 2
			}
			report, err := images.NewVerifier(serviceClient(), newFetcher(), concurrency, log).Verify(ctx, clearBroken)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(report.Broken))
			for _, b := range report.Broken {
				status := b.Error
				if b.Status != 0 {
					status = strconv.Itoa(b.Status)
				}
				rows = append(rows, []string{b.Table, b.ID, b.URL, status})
			}
			if len(rows) > 0 {
				out.Table([]string{"table", "id", "url", "status"}, rows)
			}
			out.Info("%d links, %d distinct urls, %d broken, %d cleared in %s",
				report.Links, report.URLs, len(report.Broken), report.Cleared, report.Duration)
			if len(report.Broken) > 0 && !clearBroken {
				return errReported
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&clearBroken, "clear", false, "null equipment.image_url for broken links")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "parallel checks (default: 2 x SCRAPE_CONCURRENCY)")
	return cmd
}
