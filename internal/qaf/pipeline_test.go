package qaf

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/qaforge/internal/analysis"
)

// scriptedDispatcher answers each step by the first argument of its command.
type scriptedDispatcher struct {
	results map[string]bool
	errs    map[string]error
	calls   []string
}

func (d *scriptedDispatcher) Dispatch(_ context.Context, desc analysis.Descriptor, _ string, sink analysis.LogSink) (bool, error) {
	key := desc.Args[len(desc.Args)-1]
	d.calls = append(d.calls, key)
	if err, ok := d.errs[key]; ok {
		return false, err
	}
	sink.Println("output of " + key)
	ok, found := d.results[key]
	if !found {
		return true, nil
	}
	return ok, nil
}

func testSteps(keys ...string) []Step {
	phases := map[string]Phase{"license": PhaseSetup, "analyze": PhaseAnalysis, "cma": PhaseAnalysis, "report": PhaseReport, "upload": PhaseUpload}
	steps := make([]Step, len(keys))
	for i, k := range keys {
		steps[i] = Step{Name: k, Phase: phases[k], Descriptor: analysis.NewDescriptor("qacli", k)}
	}
	return steps
}

func states(r *RunReport) []StepState {
	out := make([]StepState, len(r.Steps))
	for i, s := range r.Steps {
		out[i] = s.State
	}
	return out
}

func TestPipeline_AllSucceed(t *testing.T) {
	d := &scriptedDispatcher{}
	p := &Pipeline{Dispatcher: d, Setup: minimalSetup(), RunID: "r1", Executor: "local"}
	sink := &analysis.CollectSink{}

	report, err := p.Run(context.Background(), testSteps("license", "analyze", "report"), "/work", sink)

	require.NoError(t, err)
	assert.True(t, report.Succeeded)
	assert.Equal(t, []StepState{StepCompleted, StepCompleted, StepCompleted}, states(report))
	assert.Equal(t, 1, report.Steps[1].Lines)
	assert.Equal(t, "demo", report.Project)
	assert.Equal(t, "r1", report.RunID)
	assert.Contains(t, sink.Lines(), "output of analyze")
	assert.Contains(t, sink.Lines(), "[qaforge] step 2/3: analyze")
}

func TestPipeline_FailureContinuesWithoutStopWhenFail(t *testing.T) {
	d := &scriptedDispatcher{results: map[string]bool{"analyze": false}}
	p := &Pipeline{Dispatcher: d, Setup: minimalSetup()}

	report, err := p.Run(context.Background(), testSteps("analyze", "cma", "report", "upload"), "/work", &analysis.CollectSink{})

	require.NoError(t, err)
	assert.False(t, report.Succeeded)
	assert.Equal(t, []StepState{StepFailed, StepCompleted, StepCompleted, StepCompleted}, states(report))
	assert.Equal(t, 1, report.Count(StepFailed))
}

func TestPipeline_StopWhenFail(t *testing.T) {
	s := minimalSetup()
	s.AnalysisSettings = true
	s.StopWhenFail = true
	d := &scriptedDispatcher{results: map[string]bool{"analyze": false}}
	p := &Pipeline{Dispatcher: d, Setup: s}

	report, err := p.Run(context.Background(), testSteps("analyze", "cma", "report"), "/work", &analysis.CollectSink{})

	require.NoError(t, err)
	assert.Equal(t, []StepState{StepFailed, StepSkipped, StepSkipped}, states(report))
	assert.Equal(t, []string{"analyze"}, d.calls)
}

func TestPipeline_StopWhenFailNeedsAnalysisSettings(t *testing.T) {
	s := minimalSetup()
	s.StopWhenFail = true
	d := &scriptedDispatcher{results: map[string]bool{"analyze": false}}
	p := &Pipeline{Dispatcher: d, Setup: s}

	report, err := p.Run(context.Background(), testSteps("analyze", "cma", "report"), "/work", &analysis.CollectSink{})

	require.NoError(t, err)
	assert.Equal(t, []StepState{StepFailed, StepCompleted, StepCompleted}, states(report))
	assert.Equal(t, []string{"analyze", "cma", "report"}, d.calls)
}

func TestPipeline_ReportOnAnalysisError(t *testing.T) {
	s := minimalSetup()
	s.AnalysisSettings = true
	s.StopWhenFail = true
	s.GenerateReportOnAnalysisError = true
	d := &scriptedDispatcher{results: map[string]bool{"analyze": false}}
	p := &Pipeline{Dispatcher: d, Setup: s}

	report, err := p.Run(context.Background(), testSteps("analyze", "cma", "report"), "/work", &analysis.CollectSink{})

	require.NoError(t, err)
	assert.Equal(t, []StepState{StepFailed, StepSkipped, StepCompleted}, states(report))
}

func TestPipeline_UploadWhenStable(t *testing.T) {
	s := minimalSetup()
	s.UploadWhenStable = true
	d := &scriptedDispatcher{results: map[string]bool{"report": false}}
	p := &Pipeline{Dispatcher: d, Setup: s}

	report, err := p.Run(context.Background(), testSteps("analyze", "report", "upload"), "/work", &analysis.CollectSink{})

	require.NoError(t, err)
	assert.Equal(t, []StepState{StepCompleted, StepFailed, StepSkipped}, states(report))
	assert.Equal(t, "build is not stable", report.Steps[2].Error)
}

func TestPipeline_EnvironmentFailureAborts(t *testing.T) {
	envErr := analysis.Environment("dispatch", errors.New("agent unreachable"))
	d := &scriptedDispatcher{errs: map[string]error{"analyze": envErr}}
	p := &Pipeline{Dispatcher: d, Setup: minimalSetup()}

	report, err := p.Run(context.Background(), testSteps("license", "analyze", "report"), "/work", &analysis.CollectSink{})

	require.Error(t, err)
	assert.ErrorIs(t, err, analysis.ErrEnvironment)
	assert.Contains(t, err.Error(), "step analyze")
	require.NotNil(t, report)
	assert.Equal(t, []StepState{StepCompleted, StepBroken}, states(report))
	assert.False(t, report.Succeeded)
	assert.Equal(t, []string{"license", "analyze"}, d.calls)
}

func TestStepState_MarshalText(t *testing.T) {
	b, err := StepSkipped.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "SKIPPED", string(b))
	assert.Equal(t, "UNKNOWN", StepState(99).String())
}
