// Package history records pipeline runs in a local sqlite database.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ppiankov/qaforge/internal/qaf"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	project     TEXT NOT NULL,
	dir         TEXT NOT NULL,
	executor    TEXT NOT NULL,
	started_at  INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	succeeded   INTEGER NOT NULL,
	error       TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS steps (
	run_id      TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
	seq         INTEGER NOT NULL,
	name        TEXT NOT NULL,
	phase       TEXT NOT NULL,
	state       TEXT NOT NULL,
	duration_ms INTEGER NOT NULL,
	lines       INTEGER NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, seq)
);
CREATE INDEX IF NOT EXISTS runs_project_started ON runs(project, started_at DESC);
`

// Run is a recorded pipeline run.
type Run struct {
	RunID     string
	Project   string
	Dir       string
	Executor  string
	StartedAt time.Time
	Duration  time.Duration
	Succeeded bool
	Error     string
	Steps     []Step
}

// Step is a recorded step of a run.
type Step struct {
	Name     string
	Phase    string
	State    string
	Duration time.Duration
	Lines    int
	Error    string
}

// Store is a sqlite-backed run history.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the history database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	// sqlite serializes writers; one connection avoids SQLITE_BUSY between our own goroutines
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores a run report. runErr is the environment failure that aborted
// the run, if any.
func (s *Store) Record(ctx context.Context, r *qaf.RunReport, runErr error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	errText := ""
	if runErr != nil {
		errText = runErr.Error()
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs (run_id, project, dir, executor, started_at, duration_ms, succeeded, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Project, r.Dir, r.Executor, r.Timestamp.UnixMilli(), r.TotalDuration.Milliseconds(), boolInt(r.Succeeded && runErr == nil), errText,
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM steps WHERE run_id = ?`, r.RunID); err != nil {
		return fmt.Errorf("clear steps: %w", err)
	}
	for i, st := range r.Steps {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO steps (run_id, seq, name, phase, state, duration_ms, lines, error) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			r.RunID, i, st.Name, st.Phase, st.State.String(), st.Duration.Milliseconds(), st.Lines, st.Error,
		); err != nil {
			return fmt.Errorf("insert step %s: %w", st.Name, err)
		}
	}

	return tx.Commit()
}

// Recent returns up to limit runs, newest first. An empty project matches all.
func (s *Store) Recent(ctx context.Context, project string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, project, dir, executor, started_at, duration_ms, succeeded, error
		 FROM runs WHERE (? = '' OR project = ?) ORDER BY started_at DESC LIMIT ?`,
		project, project, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		var (
			r          Run
			startedMs  int64
			durationMs int64
			succeeded  int
		)
		if err := rows.Scan(&r.RunID, &r.Project, &r.Dir, &r.Executor, &startedMs, &durationMs, &succeeded, &r.Error); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt = time.UnixMilli(startedMs)
		r.Duration = time.Duration(durationMs) * time.Millisecond
		r.Succeeded = succeeded == 1
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range runs {
		steps, err := s.steps(ctx, runs[i].RunID)
		if err != nil {
			return nil, err
		}
		runs[i].Steps = steps
	}
	return runs, nil
}

func (s *Store) steps(ctx context.Context, runID string) ([]Step, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, phase, state, duration_ms, lines, error FROM steps WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var steps []Step
	for rows.Next() {
		var (
			st         Step
			durationMs int64
		)
		if err := rows.Scan(&st.Name, &st.Phase, &st.State, &durationMs, &st.Lines, &st.Error); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		st.Duration = time.Duration(durationMs) * time.Millisecond
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
