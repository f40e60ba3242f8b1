// Package checks runs read-only diagnostics against the project and aggregates
// them into a report.
package checks

import (
	"context"
	"fmt"
	"time"

	"teedops/logger"
	"teedops/output"
)

// Status of a single check. Order matters: later is worse.
type Status string

const (
	StatusOK   Status = "ok"
	StatusWarn Status = "warn"
	StatusFail Status = "fail"
)

func severity(s Status) int {
	switch s {
	case StatusOK:
		return 0
	case StatusWarn:
		return 1
	}
	return 2
}

// Worse returns the more severe of a and b.
func Worse(a, b Status) Status {
	if severity(b) > severity(a) {
		return b
	}
	return a
}

// Result is what a check reports.
type Result struct {
	Name     string        `json:"name"`
	Status   Status        `json:"status"`
	Message  string        `json:"message"`
	Details  []string      `json:"details,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Check is one diagnostic.
type Check interface {
	Name() string
	Run(ctx context.Context) Result
}

// Report aggregates results. Status is the worst individual status.
type Report struct {
	Status    Status        `json:"status"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Results   []Result      `json:"results"`
}

// Lines converts the report for output.Formatter.CheckReport.
func (r *Report) Lines() []output.CheckLine {
	lines := make([]output.CheckLine, len(r.Results))
	for i, res := range r.Results {
		lines[i] = output.CheckLine{
			Name:     res.Name,
			Status:   string(res.Status),
			Message:  res.Message,
			Details:  res.Details,
			Duration: res.Duration,
		}
	}
	return lines
}

// WriteXLSX saves the report as a spreadsheet.
func (r *Report) WriteXLSX(path string) error {
	rows := make([][]interface{}, 0, len(r.Results))
	for _, res := range r.Results {
		details := ""
		for i, d := range res.Details {
			if i > 0 {
				details += "\n"
			}
			details += d
		}
		rows = append(rows, []interface{}{
			res.Name, string(res.Status), res.Message, details,
			res.Duration.Milliseconds(), r.StartedAt.Format(time.RFC3339),
		})
	}
	return output.WriteXLSX(path, "checks",
		[]string{"check", "status", "message", "details", "duration_ms", "started_at"}, rows)
}

// Runner runs registered checks in registration order.
type Runner struct {
	checks  []Check
	timeout time.Duration
	log     logger.Logger
}

// NewRunner uses timeout per check; zero means 30s.
func NewRunner(timeout time.Duration, log logger.Logger) *Runner {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Runner{timeout: timeout, log: log}
}

func (r *Runner) Register(checks ...Check) {
	r.checks = append(r.checks, checks...)
}

// Names lists registered check names.
func (r *Runner) Names() []string {
	names := make([]string, len(r.checks))
	for i, c := range r.checks {
		names[i] = c.Name()
	}
	return names
}

// Run executes the named checks, or all when names is empty.
func (r *Runner) Run(ctx context.Context, names ...string) (*Report, error) {
	selected := r.checks
	if len(names) > 0 {
		byName := map[string]Check{}
		for _, c := range r.checks {
			byName[c.Name()] = c
		}
		selected = nil
		for _, n := range names {
			c, ok := byName[n]
			if !ok {
				return nil, fmt.Errorf("unknown check %q (available: %v)", n, r.Names())
			}
			selected = append(selected, c)
		}
	}

	report := &Report{Status: StatusOK, StartedAt: time.Now()}
	for _, c := range selected {
		res := r.runWithTimeout(ctx, c)
		report.Results = append(report.Results, res)
		report.Status = Worse(report.Status, res.Status)
		r.log.Debug("check finished",
			logger.String("check", res.Name),
			logger.String("status", string(res.Status)),
			logger.Duration("duration", res.Duration))
	}
	report.Duration = time.Since(report.StartedAt)

	r.log.Info("checks completed",
		logger.String("status", string(report.Status)),
		logger.Int("checks", len(report.Results)),
		logger.Duration("duration", report.Duration))
	return report, nil
}

func (r *Runner) runWithTimeout(ctx context.Context, c Check) Result {
	start := time.Now()
	timeoutCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resultChan := make(chan Result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				resultChan <- Result{
					Name:    c.Name(),
					Status:  StatusFail,
					Message: fmt.Sprintf("check panicked: %v", p),
				}
			}
		}()
		resultChan <- c.Run(timeoutCtx)
	}()

	var res Result
	select {
	case res = <-resultChan:
	case <-timeoutCtx.Done():
		res = Result{Status: StatusFail, Message: "check timed out"}
	}
	res.Name = c.Name()
	res.Duration = time.Since(start)
	if res.Status == "" {
		res.Status = StatusOK
	}
	return res
}

func okf(format string, args ...interface{}) Result {
	return Result{Status: StatusOK, Message: fmt.Sprintf(format, args...)}
}

func warnf(format string, args ...interface{}) Result {
	return Result{Status: StatusWarn, Message: fmt.Sprintf(format, args...)}
}

func failf(format string, args ...interface{}) Result {
	return Result{Status: StatusFail, Message: fmt.Sprintf(format, args...)}
}

func (r Result) with(details ...string) Result {
	r.Details = append(r.Details, details...)
	return r
}

// limitDetails keeps the first n lines and notes how many were dropped.
func limitDetails(lines []string, n int) []string {
	if len(lines) <= n {
		return lines
	}
	out := append([]string(nil), lines[:n]...)
	return append(out, fmt.Sprintf("... and %d more", len(lines)-n))
}
