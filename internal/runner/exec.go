package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ppiankov/qaforge/internal/analysis"
)

const (
	maxLineBytes     = 1 << 20
	stderrTailLines  = 5
	defaultWaitDelay = 5 * time.Second
)

// ExecRunner runs the analysis product as a local child process.
type ExecRunner struct {
	logDir      string
	waitDelay   time.Duration
	idleTimeout time.Duration
	baseEnv     []string
}

// Option configures an ExecRunner.
type Option func(*ExecRunner)

// WithLogDir tees the child's stderr into <dir>/stderr.log.
func WithLogDir(dir string) Option {
	return func(r *ExecRunner) { r.logDir = dir }
}

// WithWaitDelay bounds how long Wait blocks on open pipes after the child is killed.
func WithWaitDelay(d time.Duration) Option {
	return func(r *ExecRunner) {
		if d > 0 {
			r.waitDelay = d
		}
	}
}

// WithIdleTimeout kills the child when it writes no stdout for d.
func WithIdleTimeout(d time.Duration) Option {
	return func(r *ExecRunner) { r.idleTimeout = d }
}

// WithEnv replaces the sanitized environment the child starts from.
func WithEnv(env []string) Option {
	return func(r *ExecRunner) { r.baseEnv = env }
}

// NewExecRunner creates an ExecRunner.
func NewExecRunner(opts ...Option) *ExecRunner {
	r := &ExecRunner{waitDelay: defaultWaitDelay}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var _ analysis.ProcessRunner = (*ExecRunner)(nil)

// Execute runs d inside dir and returns captured stdout lines.
func (r *ExecRunner) Execute(ctx context.Context, d analysis.Descriptor, dir string) (*analysis.CmdResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, analysis.Environment("start", err)
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, analysis.Environment("stat work dir", err)
	}
	if !info.IsDir() {
		return nil, analysis.Environment("stat work dir", fmt.Errorf("%s is not a directory", dir))
	}

	if strings.TrimSpace(d.Product) == "" {
		return nil, &analysis.CommandLineError{Err: errors.New("empty product executable")}
	}
	path, err := exec.LookPath(d.Product)
	if err != nil {
		return nil, &analysis.CommandLineError{Product: d.Product, Err: fmt.Errorf("executable not found: %w", err)}
	}

	runCtx, kill := context.WithCancel(ctx)
	defer kill()

	//nolint:gosec // running the configured product is the purpose of this runner
	cmd := exec.CommandContext(runCtx, path, d.Args...)
	cmd.Dir = dir
	cmd.Env = r.environ(d.Env)
	cmd.WaitDelay = r.waitDelay
	setupProcessGroup(cmd)

	// Wait owns the pipe lifetime, so WaitDelay also bounds a background
	// process that inherited stdout
	stdout, stdoutW := io.Pipe()
	cmd.Stdout = stdoutW

	tail := newTailBuffer(stderrTailLines)
	health := newHealthWriter(tail)
	var stderrLog io.WriteCloser
	if r.logDir != "" {
		stderrLog = newLogWriter(r.logDir, "stderr.log")
		cmd.Stderr = io.MultiWriter(health, stderrLog)
	} else {
		cmd.Stderr = health
	}
	defer func() {
		if stderrLog != nil {
			_ = stderrLog.Close()
		}
	}()

	slog.Debug("spawning analysis", "product", path, "dir", dir, "args", d.Args)
	start := time.Now()

	if err := cmd.Start(); err != nil {
		_ = stdoutW.Close()
		return nil, &analysis.CommandLineError{Product: d.Product, Err: err}
	}

	idle := newIdleReader(stdout, r.idleTimeout, kill)
	type readResult struct {
		lines []string
		err   error
	}
	read := make(chan readResult, 1)
	go func() {
		lines, err := readLines(idle)
		read <- readResult{lines, err}
	}()

	waitErr := cmd.Wait()
	_ = stdoutW.Close()
	out := <-read
	lines, scanErr := out.lines, out.err
	idle.Stop()

	if errors.Is(waitErr, exec.ErrWaitDelay) {
		slog.Warn("analysis left processes holding its output", "product", path, "wait_delay", r.waitDelay)
		waitErr = nil
	}

	slog.Debug("analysis exited", "product", path, "duration", time.Since(start), "lines", len(lines))

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, analysis.Environment("wait", ctxErr)
	}

	// a clean exit wins over a watchdog that fired while draining leftovers
	if idle.Fired() && waitErr != nil {
		return nil, analysis.NewAbnormalTermination(-1, "killed after %s without output", r.idleTimeout)
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return nil, abnormalFromExit(exitErr, health.Reason(), tail.String())
		}
		return nil, analysis.Environment("wait", waitErr)
	}
	if scanErr != nil {
		return nil, analysis.Environment("read stdout", scanErr)
	}

	return &analysis.CmdResult{Stdout: lines, ExitCode: 0}, nil
}

func (r *ExecRunner) environ(extra map[string]string) []string {
	base := r.baseEnv
	if base == nil {
		base = SanitizedEnv()
	}
	env := append([]string(nil), base...)
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}

func abnormalFromExit(exitErr *exec.ExitError, reason, stderrTail string) *analysis.AbnormalTerminationError {
	var msg string
	code := exitErr.ExitCode()
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		msg = fmt.Sprintf("terminated by signal %s", status.Signal())
	} else {
		msg = fmt.Sprintf("exit code %d", code)
	}
	if reason != "" {
		msg += " (" + reason + ")"
	}
	if stderrTail != "" {
		msg += ": " + stderrTail
	}
	return &analysis.AbnormalTerminationError{ExitCode: code, Message: msg}
}

// readLines drains r and returns its lines without trailing newlines.
func readLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		// keep draining so the child never blocks on a full pipe
		_, _ = io.Copy(io.Discard, r)
		return lines, err
	}
	return lines, nil
}

// newLogWriter creates dir/name, falling back to a discarding writer.
func newLogWriter(dir, name string) io.WriteCloser {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Warn("cannot create log dir", "path", dir, "error", err)
		return nopWriteCloser{io.Discard}
	}
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		slog.Warn("cannot create log file", "path", path, "error", err)
		return nopWriteCloser{io.Discard}
	}
	return f
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
