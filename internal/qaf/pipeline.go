package qaf

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ppiankov/qaforge/internal/analysis"
	"github.com/ppiankov/qaforge/internal/dispatch"
)

// StepState is the outcome of a single step.
type StepState int

const (
	StepCompleted StepState = iota
	StepFailed
	StepSkipped
	StepBroken // environment failure; the run was aborted
)

func (s StepState) String() string {
	switch s {
	case StepCompleted:
		return "COMPLETED"
	case StepFailed:
		return "FAILED"
	case StepSkipped:
		return "SKIPPED"
	case StepBroken:
		return "BROKEN"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the state by name in JSON reports.
func (s StepState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// StepResult captures the outcome of one step.
type StepResult struct {
	Name      string        `json:"name"`
	Phase     string        `json:"phase"`
	State     StepState     `json:"state"`
	StartedAt time.Time     `json:"started_at,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
	Lines     int           `json:"lines"`
	Error     string        `json:"error,omitempty"`
}

// RunReport is the result of one pipeline run.
type RunReport struct {
	RunID         string        `json:"run_id"`
	Project       string        `json:"project"`
	Dir           string        `json:"dir"`
	Executor      string        `json:"executor"` // "local" or the agent URL
	Timestamp     time.Time     `json:"timestamp"`
	Steps         []*StepResult `json:"steps"`
	Succeeded     bool          `json:"succeeded"`
	TotalDuration time.Duration `json:"total_duration"`
}

// Count returns how many steps ended in state.
func (r *RunReport) Count(state StepState) int {
	n := 0
	for _, s := range r.Steps {
		if s.State == state {
			n++
		}
	}
	return n
}

// Pipeline runs planned steps through a dispatcher.
type Pipeline struct {
	Dispatcher dispatch.Dispatcher
	Setup      Setup
	RunID      string
	Executor   string
}

// Run executes steps in order inside dir, writing product output to sink.
//
// A failed setup or analysis step skips the remaining setup and analysis
// steps when AnalysisSettings and StopWhenFail are set; report steps then run
// only with GenerateReportOnAnalysisError. Upload steps are skipped after any failure
// when UploadWhenStable is set. An environment failure aborts the run and is
// returned together with the partial report.
func (p *Pipeline) Run(ctx context.Context, steps []Step, dir string, sink analysis.LogSink) (*RunReport, error) {
	start := time.Now()
	report := &RunReport{
		RunID:     p.RunID,
		Project:   p.Setup.Project,
		Dir:       dir,
		Executor:  p.Executor,
		Timestamp: start,
	}

	analysisFailed := false
	anyFailed := false

	for i, st := range steps {
		res := &StepResult{Name: st.Name, Phase: st.Phase.String()}
		report.Steps = append(report.Steps, res)

		if reason := p.skipReason(st.Phase, analysisFailed, anyFailed); reason != "" {
			res.State = StepSkipped
			res.Error = reason
			slog.Info("step skipped", "step", st.Name, "reason", reason)
			continue
		}

		sink.Println(fmt.Sprintf("[qaforge] step %d/%d: %s", i+1, len(steps), st.Name))
		slog.Debug("step started", "step", st.Name, "command", st.String())

		counter := &analysis.CountingSink{Next: sink}
		res.StartedAt = time.Now()
		ok, err := p.Dispatcher.Dispatch(ctx, st.Descriptor, dir, counter)
		res.Duration = time.Since(res.StartedAt)
		res.Lines = counter.Count()

		if err != nil {
			res.State = StepBroken
			res.Error = err.Error()
			report.TotalDuration = time.Since(start)
			return report, fmt.Errorf("step %s: %w", st.Name, err)
		}

		if ok {
			res.State = StepCompleted
			continue
		}

		res.State = StepFailed
		res.Error = "analysis tool reported failure"
		anyFailed = true
		if st.Phase == PhaseSetup || st.Phase == PhaseAnalysis {
			analysisFailed = true
		}
		slog.Warn("step failed", "step", st.Name, "duration", res.Duration)
	}

	report.Succeeded = !anyFailed
	report.TotalDuration = time.Since(start)
	return report, nil
}

func (p *Pipeline) skipReason(phase Phase, analysisFailed, anyFailed bool) string {
	switch phase {
	case PhaseSetup, PhaseAnalysis:
		if analysisFailed && p.Setup.stopsOnFailure() {
			return "previous step failed"
		}
	case PhaseReport:
		if analysisFailed && p.Setup.stopsOnFailure() && !p.Setup.reportsOnAnalysisError() {
			return "analysis failed"
		}
	case PhaseUpload:
		if anyFailed && p.Setup.UploadWhenStable {
			return "build is not stable"
		}
	}
	return ""
}
