package smoke

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"teedops/logger"

	"github.com/PuerkitoBio/goquery"
)

const maxBodyBytes = 10 << 20

// PageResult is the outcome for one page. Failures is empty when it passed.
type PageResult struct {
	Page     Page
	URL      string
	Status   int
	Failures []string
	Duration time.Duration
}

func (r PageResult) Passed() bool { return len(r.Failures) == 0 }

type Report struct {
	Results []PageResult
	Passed  int
	Failed  int
}

type Runner struct {
	client    *http.Client
	catalog   *Catalog
	userAgent string
	log       logger.Logger
}

func NewRunner(catalog *Catalog, timeout time.Duration, userAgent string, log logger.Logger) *Runner {
	if log == nil {
		log = logger.NewNop()
	}
	return &Runner{
		client:    &http.Client{Timeout: timeout},
		catalog:   catalog,
		userAgent: userAgent,
		log:       log,
	}
}

// Run checks every page against baseURL in catalog order. Page failures are
// reported in the Report; the error is only for a cancelled context.
func (r *Runner) Run(ctx context.Context, baseURL string) (*Report, error) {
	base := strings.TrimRight(baseURL, "/")
	report := &Report{}
	for _, p := range r.catalog.Pages {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		res := r.check(ctx, base, p)
		if res.Passed() {
			report.Passed++
		} else {
			report.Failed++
			r.log.Debug("smoke: page failed", logger.String("url", res.URL), logger.Int("failures", len(res.Failures)))
		}
		report.Results = append(report.Results, res)
	}
	return report, nil
}

func (r *Runner) check(ctx context.Context, base string, p Page) (res PageResult) {
	start := time.Now()
	res = PageResult{Page: p, URL: base + p.Path}
	defer func() { res.Duration = time.Since(start) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, res.URL, nil)
	if err != nil {
		res.Failures = append(res.Failures, err.Error())
		return res
	}
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}
	req.Header.Set("Accept", "text/html")

	resp, err := r.client.Do(req)
	if err != nil {
		res.Failures = append(res.Failures, fmt.Sprintf("request failed: %v", err))
		return res
	}
	defer resp.Body.Close()
	res.Status = resp.StatusCode

	if resp.StatusCode != p.ExpectedStatus() {
		res.Failures = append(res.Failures, fmt.Sprintf("status %d, want %d", resp.StatusCode, p.ExpectedStatus()))
	}
	if len(p.Assert) == 0 {
		return res
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		res.Failures = append(res.Failures, fmt.Sprintf("parse failed: %v", err))
		return res
	}
	for _, a := range p.Assert {
		if msg := evaluate(doc, a); msg != "" {
			res.Failures = append(res.Failures, msg)
		}
	}
	return res
}

// evaluate returns "" when a holds, otherwise a description of the failure.
func evaluate(doc *goquery.Document, a Assertion) string {
	sel := doc.Find("body")
	if a.Selector != "" {
		sel = doc.Find(a.Selector)
		want := a.Min
		if want == 0 {
			want = 1
		}
		if sel.Length() < want {
			return fmt.Sprintf("%s: found %d", a, sel.Length())
		}
	}
	if a.Text != "" {
		found := false
		sel.EachWithBreak(func(_ int, s *goquery.Selection) bool {
			found = strings.Contains(strings.Join(strings.Fields(s.Text()), " "), a.Text)
			return !found
		})
		if !found {
			return fmt.Sprintf("%s: text not found", a)
		}
	}
	return ""
}
