package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/term"
)

type Format string

const (
	FormatJSON  Format = "json"
	FormatText  Format = "text"
	FormatHuman Format = "human"
)

// ParseFormat maps a --format value to a Format. An empty value picks human output on a
// terminal and text output otherwise.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case "":
		if IsTerminal(os.Stdout) {
			return FormatHuman, nil
		}
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	case FormatText:
		return FormatText, nil
	case FormatHuman:
		return FormatHuman, nil
	}
	return "", fmt.Errorf("unknown format %q (want human, text or json)", s)
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Formatter renders operator-facing progress. Every task prints through it so the
// same run can be read by a person or piped into another tool.
type Formatter struct {
	format Format
	out    io.Writer
	err    io.Writer
}

// NewFormatter creates a new output formatter
func NewFormatter(format Format) *Formatter {
	return &Formatter{format: format, out: os.Stdout, err: os.Stderr}
}

// NewFormatterWithWriters creates a formatter with custom output writers for testability
func NewFormatterWithWriters(format Format, out, errW io.Writer) *Formatter {
	return &Formatter{format: format, out: out, err: errW}
}

func (f *Formatter) Format() Format { return f.format }

// Out is the writer used for primary output.
func (f *Formatter) Out() io.Writer { return f.out }

type event struct {
	Event   string      `json:"event"`
	Message string      `json:"message,omitempty"`
	Error   string      `json:"error,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func (f *Formatter) emit(w io.Writer, ev event, human string) {
	switch f.format {
	case FormatJSON:
		_ = json.NewEncoder(w).Encode(ev)
	case FormatText:
		line := fmt.Sprintf("event=%s msg=%q", ev.Event, ev.Message)
		if ev.Error != "" {
			line += fmt.Sprintf(" error=%q", ev.Error)
		}
		fmt.Fprintln(w, line)
	default:
		fmt.Fprintln(w, human)
	}
}

func (f *Formatter) Success(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	f.emit(f.out, event{Event: "success", Message: msg}, "✅ "+msg)
}

// Failure reports an error that did not stop the task.
func (f *Formatter) Failure(msg string, err error) {
	ev := event{Event: "failure", Message: msg}
	human := "❌ " + msg
	if err != nil {
		ev.Error = err.Error()
		human += ": " + err.Error()
	}
	f.emit(f.err, ev, human)
}

func (f *Formatter) Skip(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	f.emit(f.out, event{Event: "skip", Message: msg}, "⏭️  "+msg)
}

func (f *Formatter) Info(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	f.emit(f.out, event{Event: "info", Message: msg}, "ℹ️  "+msg)
}

func (f *Formatter) Warning(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	f.emit(f.err, event{Event: "warning", Message: msg}, "⚠️  "+msg)
}

// Step announces the start of a task phase.
func (f *Formatter) Step(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	f.emit(f.out, event{Event: "step", Message: msg}, "\n▶ "+msg)
}

// SQLBlock prints SQL the operator has to run by hand, with dashboard instructions.
func (f *Formatter) SQLBlock(title, sql string) {
	switch f.format {
	case FormatJSON:
		_ = json.NewEncoder(f.out).Encode(event{Event: "manual_sql", Message: title, Data: map[string]string{"sql": sql}})
	case FormatText:
		fmt.Fprintf(f.out, "event=manual_sql msg=%q\n", title)
		fmt.Fprintln(f.out, strings.TrimSpace(sql))
	default:
		rule := strings.Repeat("─", 70)
		fmt.Fprintf(f.out, "\n📋 %s\n", title)
		fmt.Fprintln(f.out, "   Open the Supabase dashboard → SQL Editor → New query, paste the SQL below and click Run.")
		fmt.Fprintln(f.out, rule)
		fmt.Fprintln(f.out, strings.TrimSpace(sql))
		fmt.Fprintln(f.out, rule)
	}
}

// BatchSummary counts the outcome of a batch task.
type BatchSummary struct {
	Task     string        `json:"task"`
	Success  int           `json:"success"`
	Skipped  int           `json:"skipped"`
	Errors   int           `json:"errors"`
	Duration time.Duration `json:"duration_ms"`
}

// MarshalJSON reports the duration in milliseconds.
func (s BatchSummary) MarshalJSON() ([]byte, error) {
	type alias BatchSummary
	return json.Marshal(struct {
		alias
		Duration int64 `json:"duration_ms"`
	}{alias(s), s.Duration.Milliseconds()})
}

func (f *Formatter) Summary(s BatchSummary) {
	switch f.format {
	case FormatJSON:
		_ = json.NewEncoder(f.out).Encode(event{Event: "summary", Message: s.Task, Data: s})
	case FormatText:
		fmt.Fprintf(f.out, "event=summary task=%s success=%d skipped=%d errors=%d duration=%s\n",
			s.Task, s.Success, s.Skipped, s.Errors, s.Duration.Round(time.Millisecond))
	default:
		rule := strings.Repeat("=", 50)
		fmt.Fprintln(f.out)
		fmt.Fprintln(f.out, rule)
		fmt.Fprintf(f.out, "📊 %s summary\n", s.Task)
		fmt.Fprintln(f.out, rule)
		fmt.Fprintf(f.out, "✅ Success: %d\n", s.Success)
		fmt.Fprintf(f.out, "⏭️  Skipped: %d\n", s.Skipped)
		fmt.Fprintf(f.out, "❌ Errors:  %d\n", s.Errors)
		fmt.Fprintf(f.out, "⏱️  Took:    %s\n", s.Duration.Round(time.Millisecond))
	}
}

// CheckLine is one row of a diagnostic report.
type CheckLine struct {
	Name     string        `json:"name"`
	Status   string        `json:"status"`
	Message  string        `json:"message"`
	Details  []string      `json:"details,omitempty"`
	Duration time.Duration `json:"-"`
}

func statusIcon(status string) string {
	switch status {
	case "ok":
		return "✅"
	case "warn":
		return "⚠️ "
	default:
		return "❌"
	}
}

// CheckReport prints a diagnostic report with an overall status.
func (f *Formatter) CheckReport(overall string, lines []CheckLine) {
	switch f.format {
	case FormatJSON:
		_ = json.NewEncoder(f.out).Encode(struct {
			Event  string      `json:"event"`
			Status string      `json:"status"`
			Checks []CheckLine `json:"checks"`
		}{"check_report", overall, lines})
	case FormatText:
		for _, l := range lines {
			fmt.Fprintf(f.out, "check=%s status=%s msg=%q duration=%s\n",
				l.Name, l.Status, l.Message, l.Duration.Round(time.Millisecond))
		}
		fmt.Fprintf(f.out, "overall=%s\n", overall)
	default:
		for _, l := range lines {
			fmt.Fprintf(f.out, "%s %-26s %s (%s)\n", statusIcon(l.Status), l.Name, l.Message, l.Duration.Round(time.Millisecond))
			for _, d := range l.Details {
				fmt.Fprintf(f.out, "     • %s\n", d)
			}
		}
		fmt.Fprintf(f.out, "\n%s overall: %s\n", statusIcon(overall), strings.ToUpper(overall))
	}
}

// Table prints rows under headers.
func (f *Formatter) Table(headers []string, rows [][]string) {
	switch f.format {
	case FormatJSON:
		out := make([]map[string]string, 0, len(rows))
		for _, r := range rows {
			m := make(map[string]string, len(headers))
			for i, h := range headers {
				if i < len(r) {
					m[h] = r[i]
				}
			}
			out = append(out, m)
		}
		_ = json.NewEncoder(f.out).Encode(out)
	case FormatText:
		for _, r := range rows {
			parts := make([]string, 0, len(headers))
			for i, h := range headers {
				if i < len(r) {
					parts = append(parts, fmt.Sprintf("%s=%s", h, r[i]))
				}
			}
			fmt.Fprintln(f.out, strings.Join(parts, "\t"))
		}
	default:
		if len(rows) == 0 {
			fmt.Fprintln(f.out, "(no rows)")
			return
		}
		tw := tabwriter.NewWriter(f.out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, strings.Join(headers, "\t"))
		seps := make([]string, len(headers))
		for i, h := range headers {
			seps[i] = strings.Repeat("-", len(h))
		}
		fmt.Fprintln(tw, strings.Join(seps, "\t"))
		for _, r := range rows {
			fmt.Fprintln(tw, strings.Join(r, "\t"))
		}
		_ = tw.Flush()
	}
}
