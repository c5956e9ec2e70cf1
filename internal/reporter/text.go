package reporter

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/ppiankov/qaforge/internal/history"
	"github.com/ppiankov/qaforge/internal/qaf"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	failedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))  // red
	runStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("14")) // cyan
	doneStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10")) // green
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11")) // yellow
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))  // gray
)

// TextReporter writes human-readable output to a writer.
type TextReporter struct {
	w     io.Writer
	color bool
}

// NewTextReporter creates a text reporter.
// If w is nil, defaults to os.Stdout.
// color enables styled output.
func NewTextReporter(w io.Writer, color bool) *TextReporter {
	if w == nil {
		w = os.Stdout
	}
	return &TextReporter{w: w, color: color}
}

// PrintHeader writes the initial banner.
func (r *TextReporter) PrintHeader(project string, steps int, executor string) {
	fmt.Fprintf(r.w, "%s\n\n", r.s(headerStyle, fmt.Sprintf("qaforge: %s, %d steps, executor %s", project, steps, executor)))
}

// PrintDryRun writes the planned commands without running anything.
func (r *TextReporter) PrintDryRun(steps []qaf.Step, dir string) {
	fmt.Fprintf(r.w, "Execution plan (dry-run) in %s:\n\n", dir)
	for i, st := range steps {
		fmt.Fprintf(r.w, "  %d. [%s] %s\n", i+1, st.Phase, r.s(runStyle, st.Name))
		fmt.Fprintf(r.w, "     %s\n", r.s(dimStyle, st.String()))
	}
	fmt.Fprintln(r.w)
}

// PrintSummary writes per-step results and the final summary line.
func (r *TextReporter) PrintSummary(report *qaf.RunReport) {
	fmt.Fprintf(r.w, "\n%s\n", r.s(runStyle, "--- Summary ---"))
	for _, st := range report.Steps {
		fmt.Fprintf(r.w, "  %-20s %s", st.Name, r.state(st.State))
		if st.State != qaf.StepSkipped {
			fmt.Fprintf(r.w, "  %s  %d lines", st.Duration.Truncate(time.Second), st.Lines)
		}
		if st.Error != "" {
			fmt.Fprintf(r.w, "  %s", r.s(dimStyle, "("+st.Error+")"))
		}
		fmt.Fprintln(r.w)
	}

	fmt.Fprintf(r.w, "\nTotal: %d  ", len(report.Steps))
	fmt.Fprintf(r.w, "%s  ", r.s(doneStyle, fmt.Sprintf("Completed: %d", report.Count(qaf.StepCompleted))))
	fmt.Fprintf(r.w, "%s  ", r.s(failedStyle, fmt.Sprintf("Failed: %d", report.Count(qaf.StepFailed))))
	fmt.Fprintf(r.w, "%s  ", r.s(warnStyle, fmt.Sprintf("Skipped: %d", report.Count(qaf.StepSkipped))))
	if n := report.Count(qaf.StepBroken); n > 0 {
		fmt.Fprintf(r.w, "%s  ", r.s(failedStyle, fmt.Sprintf("Broken: %d", n)))
	}
	fmt.Fprintf(r.w, "Duration: %s\n", report.TotalDuration.Truncate(time.Second))
}

// PrintHistory writes recorded runs, newest first.
func (r *TextReporter) PrintHistory(runs []history.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(r.w, "No recorded runs.")
		return
	}
	for _, run := range runs {
		status := r.s(doneStyle, "PASSED")
		if !run.Succeeded {
			status = r.s(failedStyle, "FAILED")
		}
		fmt.Fprintf(r.w, "%s  %-12s %-20s %s  %s  %s\n",
			run.StartedAt.Format(time.RFC3339), shortID(run.RunID), run.Project, status,
			run.Duration.Truncate(time.Second), r.s(dimStyle, run.Executor))
		if run.Error != "" {
			fmt.Fprintf(r.w, "    %s\n", r.s(failedStyle, run.Error))
		}
		var failed []string
		for _, st := range run.Steps {
			if st.State == qaf.StepFailed.String() || st.State == qaf.StepBroken.String() {
				failed = append(failed, st.Name)
			}
		}
		if len(failed) > 0 {
			fmt.Fprintf(r.w, "    failed: %s\n", strings.Join(failed, ", "))
		}
	}
}

func (r *TextReporter) state(s qaf.StepState) string {
	switch s {
	case qaf.StepCompleted:
		return r.s(doneStyle, "✓ "+s.String())
	case qaf.StepFailed, qaf.StepBroken:
		return r.s(failedStyle, "✗ "+s.String())
	default:
		return r.s(warnStyle, "- "+s.String())
	}
}

func (r *TextReporter) s(style lipgloss.Style, text string) string {
	if !r.color {
		return text
	}
	return style.Render(text)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
