package main

import (
	"strings"
	"time"

	"teedops/smoke"

	"github.com/spf13/cobra"
)

func smokeCmd() *cobra.Command {
	var baseURL, pages string
	cmd := &cobra.Command{
		Use:   "smoke",
		Short: "Load site pages and assert simple DOM conditions",
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := loadSmokeCatalog(pages)
			if err != nil {
				return err
			}
			if baseURL == "" {
				baseURL = cfg.SiteURL
			}
			out.Step("Smoke testing %s", baseURL)
			report, err := smoke.NewRunner(catalog, cfg.HTTP.Timeout, cfg.Scrape.UserAgent, log).Run(cmd.Context(), baseURL)
			if err != nil {
				return err
			}
			for _, r := range report.Results {
				if r.Passed() {
					out.Success("%s (%d, %s)", r.Page.Name, r.Status, r.Duration.Round(time.Millisecond))
				} else {
					out.Failure(r.Page.Name+": "+strings.Join(r.Failures, "; "), nil)
				}
			}
			out.Info("%d passed, %d failed", report.Passed, report.Failed)
			if report.Failed > 0 {
				return errReported
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "base-url", "", "site to test (default: SITE_URL)")
	cmd.Flags().StringVar(&pages, "pages", "", "page catalog file (default: embedded)")
	return cmd
}

func loadSmokeCatalog(path string) (*smoke.Catalog, error) {
	if path == "" {
		return smoke.DefaultCatalog()
	}
	return smoke.LoadCatalog(path)
}
