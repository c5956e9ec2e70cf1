package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/qaforge/internal/qaf"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "sub", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func report(runID, project string, at time.Time, ok bool) *qaf.RunReport {
	return &qaf.RunReport{
		RunID:         runID,
		Project:       project,
		Dir:           "/work/" + project,
		Executor:      "local",
		Timestamp:     at,
		Succeeded:     ok,
		TotalDuration: 90 * time.Second,
		Steps: []*qaf.StepResult{
			{Name: "analyze", Phase: "analysis", State: qaf.StepCompleted, Duration: time.Minute, Lines: 12},
			{Name: "report-crr", Phase: "report", State: qaf.StepFailed, Duration: 30 * time.Second, Lines: 1, Error: "analysis tool reported failure"},
		},
	}
}

func TestStore_RecordAndRecent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	base := time.Now().Truncate(time.Millisecond)

	require.NoError(t, s.Record(ctx, report("r1", "demo", base.Add(-time.Hour), true), nil))
	require.NoError(t, s.Record(ctx, report("r2", "demo", base, false), nil))
	require.NoError(t, s.Record(ctx, report("r3", "other", base.Add(-time.Minute), true), nil))

	runs, err := s.Recent(ctx, "demo", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r2", runs[0].RunID)
	assert.Equal(t, "r1", runs[1].RunID)
	assert.False(t, runs[0].Succeeded)
	assert.True(t, runs[1].Succeeded)
	assert.Equal(t, 90*time.Second, runs[0].Duration)
	assert.True(t, runs[0].StartedAt.Equal(base))

	require.Len(t, runs[0].Steps, 2)
	assert.Equal(t, "analyze", runs[0].Steps[0].Name)
	assert.Equal(t, "COMPLETED", runs[0].Steps[0].State)
	assert.Equal(t, 12, runs[0].Steps[0].Lines)
	assert.Equal(t, "FAILED", runs[0].Steps[1].State)

	all, err := s.Recent(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "r2", all[0].RunID)
	assert.Equal(t, "r3", all[1].RunID)
}

func TestStore_RecordEnvironmentFailure(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, report("r1", "demo", time.Now(), true), errors.New("step analyze: dispatch: connection refused")))

	runs, err := s.Recent(ctx, "demo", 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.False(t, runs[0].Succeeded)
	assert.Contains(t, runs[0].Error, "connection refused")
}

func TestStore_RecordReplaces(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	r := report("r1", "demo", time.Now(), true)

	require.NoError(t, s.Record(ctx, r, nil))
	r.Steps = r.Steps[:1]
	require.NoError(t, s.Record(ctx, r, nil))

	runs, err := s.Recent(ctx, "demo", 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Len(t, runs[0].Steps, 1)
}
