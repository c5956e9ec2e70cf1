package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ppiankov/qaforge/internal/analysis"
	"github.com/ppiankov/qaforge/internal/config"
	"github.com/ppiankov/qaforge/internal/dispatch"
	"github.com/ppiankov/qaforge/internal/history"
	"github.com/ppiankov/qaforge/internal/qaf"
	"github.com/ppiankov/qaforge/internal/reporter"
	"github.com/ppiankov/qaforge/internal/runner"
	"github.com/ppiankov/qaforge/internal/watch"
)

// AnalysisFailedError is returned when the analysis tool reported failure
// for at least one step. The environment itself was healthy.
type AnalysisFailedError struct {
	RunID string
	Steps []string
}

func (e *AnalysisFailedError) Error() string {
	if e.RunID == "" {
		return fmt.Sprintf("analysis failed: %s", strings.Join(e.Steps, ", "))
	}
	return fmt.Sprintf("analysis failed in run %s: %s", e.RunID, strings.Join(e.Steps, ", "))
}

type runOptions struct {
	dir        string
	agentURL   string
	remoteDir  string
	reportPath string
	dryRun     bool
	watch      bool
	maxRuntime time.Duration
}

func newRunCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the configured QA Framework job",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadSettings(configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if !cmd.Flags().Changed("max-runtime") && cfg.MaxRuntime > 0 {
				opts.maxRuntime = cfg.MaxRuntime
			}
			if !cmd.Flags().Changed("agent") && cfg.Remote != nil {
				opts.agentURL = cfg.Remote.URL
			}
			if !cmd.Flags().Changed("remote-dir") && cfg.Remote != nil {
				opts.remoteDir = cfg.Remote.Dir
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runJob(ctx, cmd.OutOrStdout(), cfg, opts)
		},
	}

	cmd.Flags().StringVar(&opts.dir, "dir", ".", "project directory for local runs")
	cmd.Flags().StringVar(&opts.agentURL, "agent", "", "run on the agent at this URL instead of locally")
	cmd.Flags().StringVar(&opts.remoteDir, "remote-dir", "", "project directory relative to the agent workspace root")
	cmd.Flags().StringVar(&opts.reportPath, "report", "", "write the JSON run report to this path")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "show the planned commands without running")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "re-run the job when project sources change")
	cmd.Flags().DurationVar(&opts.maxRuntime, "max-runtime", 2*time.Hour, "timeout for a whole run")

	return cmd
}

// target is where a job's invocations execute.
type target struct {
	dispatcher dispatch.Dispatcher
	dir        string
	executor   string
	local      bool
}

func newTarget(cfg *config.Settings, opts runOptions) (*target, error) {
	if opts.agentURL != "" {
		dir := opts.remoteDir
		if dir == "" {
			dir = "."
		}
		return &target{dispatcher: dispatch.NewRemote(opts.agentURL), dir: dir, executor: opts.agentURL}, nil
	}

	dir, err := filepath.Abs(opts.dir)
	if err != nil {
		return nil, fmt.Errorf("resolve project dir: %w", err)
	}
	return &target{
		dispatcher: dispatch.NewLocal(newProcessRunner(cfg)),
		dir:        dir,
		executor:   "local",
		local:      true,
	}, nil
}

// newProcessRunner builds the local runner, limited per product as configured.
func newProcessRunner(cfg *config.Settings) analysis.ProcessRunner {
	return runner.NewProductLimiter(cfg.ProductLimits).Limit(runner.NewExecRunner(cfg.RunnerOptions()...))
}

func runJob(ctx context.Context, out io.Writer, cfg *config.Settings, opts runOptions) error {
	inst, err := cfg.Installation(cfg.Job.Installation)
	if err != nil {
		return err
	}
	steps, err := qaf.Plan(cfg.Job, inst, cfg.ServerMap())
	if err != nil {
		return fmt.Errorf("plan job: %w", err)
	}

	tgt, err := newTarget(cfg, opts)
	if err != nil {
		return err
	}

	if opts.dryRun {
		textRep := reporter.NewTextReporter(out, isTerminal(out))
		textRep.PrintHeader(cfg.Job.Project, len(steps), tgt.executor)
		textRep.PrintDryRun(steps, tgt.dir)
		return nil
	}

	if !opts.watch {
		return runOnce(ctx, out, cfg, opts, steps, tgt)
	}
	if !tgt.local {
		return errors.New("--watch needs a local project directory")
	}

	if err := runOnce(ctx, out, cfg, opts, steps, tgt); err != nil {
		reportWatchRun(err)
	}

	wc := watch.Config{Root: tgt.dir, Ignore: []string{runner.LockFileName}}
	if cfg.Watch != nil {
		wc.Debounce = cfg.Watch.Debounce
		wc.Extensions = cfg.Watch.Extensions
		wc.Exclude = cfg.Watch.Exclude
	}
	w, err := watch.New(wc)
	if err != nil {
		return err
	}
	return w.Run(ctx, func(ctx context.Context, paths []string) {
		fmt.Fprintf(out, "\n[qaforge] %d source file(s) changed, re-running\n", len(paths))
		if err := runOnce(ctx, out, cfg, opts, steps, tgt); err != nil {
			reportWatchRun(err)
		}
	})
}

// reportWatchRun logs a failed run in watch mode, where failures do not stop
// the watcher.
func reportWatchRun(err error) {
	var failed *AnalysisFailedError
	if errors.As(err, &failed) {
		slog.Warn("run failed", "run_id", failed.RunID, "steps", failed.Steps)
		return
	}
	slog.Error("run aborted", "error", err)
}

func runOnce(ctx context.Context, out io.Writer, cfg *config.Settings, opts runOptions, steps []qaf.Step, tgt *target) error {
	runID := uuid.NewString()

	if tgt.local {
		if err := runner.Acquire(tgt.dir, "qaforge run "+runID); err != nil {
			return fmt.Errorf("lock project dir: %w", err)
		}
		defer runner.Release(tgt.dir)
	}

	if opts.maxRuntime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.maxRuntime)
		defer cancel()
	}

	textRep := reporter.NewTextReporter(out, isTerminal(out))
	textRep.PrintHeader(cfg.Job.Project, len(steps), tgt.executor)
	slog.Info("starting run", "run_id", runID, "steps", len(steps), "dir", tgt.dir, "executor", tgt.executor)

	p := &qaf.Pipeline{Dispatcher: tgt.dispatcher, Setup: cfg.Job, RunID: runID, Executor: tgt.executor}
	report, runErr := p.Run(ctx, steps, tgt.dir, analysis.NewWriterSink(out))
	if report == nil {
		return runErr
	}

	textRep.PrintSummary(report)

	reportPath := opts.reportPath
	if reportPath == "" {
		reportPath = cfg.ReportPath(runID)
	}
	if reportPath != "" {
		if err := reporter.WriteJSONReport(report, reportPath); err != nil {
			slog.Warn("failed to write report", "path", reportPath, "error", err)
		} else {
			fmt.Fprintf(out, "Report: %s\n", reportPath)
		}
	}

	if cfg.HistoryDB != "" {
		recordHistory(cfg.HistoryDB, report, runErr)
	}

	if runErr != nil {
		return runErr
	}
	if !report.Succeeded {
		var failed []string
		for _, st := range report.Steps {
			if st.State == qaf.StepFailed {
				failed = append(failed, st.Name)
			}
		}
		return &AnalysisFailedError{RunID: runID, Steps: failed}
	}
	return nil
}

// recordHistory stores the run; history is best-effort and never fails a build.
func recordHistory(path string, report *qaf.RunReport, runErr error) {
	store, err := history.Open(path)
	if err != nil {
		slog.Warn("history unavailable", "path", path, "error", err)
		return
	}
	defer func() { _ = store.Close() }()

	// the run context may already be cancelled
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Record(ctx, report, runErr); err != nil {
		slog.Warn("failed to record history", "run_id", report.RunID, "error", err)
	}
}

// isTerminal checks if w is a terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
