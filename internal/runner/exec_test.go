//go:build !windows

package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/qaforge/internal/analysis"
)

func sh(script string) analysis.Descriptor {
	return analysis.NewDescriptor("sh", "-c", script)
}

func asAbnormal(t *testing.T, err error) *analysis.AbnormalTerminationError {
	t.Helper()
	var abnormal *analysis.AbnormalTerminationError
	if !errors.As(err, &abnormal) {
		t.Fatalf("expected abnormal termination, got %T: %v", err, err)
	}
	return abnormal
}

func TestExecRunner_CapturesLinesInOrder(t *testing.T) {
	res, err := NewExecRunner().Execute(context.Background(), sh("echo first; echo second; echo third"), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	want := []string{"first", "second", "third"}
	if !reflect.DeepEqual(res.Stdout, want) {
		t.Errorf("stdout = %q, want %q", res.Stdout, want)
	}
	if res.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", res.ExitCode)
	}
}

func TestExecRunner_NoOutput(t *testing.T) {
	res, err := NewExecRunner().Execute(context.Background(), sh("true"), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Stdout) != 0 {
		t.Errorf("expected no lines, got %q", res.Stdout)
	}
}

func TestExecRunner_RunsInWorkDir(t *testing.T) {
	dir := t.TempDir()
	res, err := NewExecRunner().Execute(context.Background(), analysis.NewDescriptor("pwd"), dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Stdout) != 1 {
		t.Fatalf("expected 1 line, got %q", res.Stdout)
	}

	want, _ := filepath.EvalSymlinks(dir)
	got, _ := filepath.EvalSymlinks(res.Stdout[0])
	if got != want {
		t.Errorf("ran in %q, want %q", got, want)
	}
}

func TestExecRunner_ExitCodeIsAbnormalTermination(t *testing.T) {
	_, err := NewExecRunner().Execute(context.Background(), sh("echo bad config >&2; exit 3"), t.TempDir())

	abnormal := asAbnormal(t, err)
	if abnormal.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", abnormal.ExitCode)
	}
	if !strings.Contains(abnormal.Error(), "exit code 3") || !strings.Contains(abnormal.Error(), "bad config") {
		t.Errorf("unexpected message %q", abnormal.Error())
	}
}

func TestExecRunner_SignalIsAbnormalTermination(t *testing.T) {
	_, err := NewExecRunner().Execute(context.Background(), sh("kill -TERM $$"), t.TempDir())

	if abnormal := asAbnormal(t, err); !strings.Contains(abnormal.Error(), "signal") {
		t.Errorf("unexpected message %q", abnormal.Error())
	}
}

func TestExecRunner_MissingExecutable(t *testing.T) {
	_, err := NewExecRunner().Execute(context.Background(), analysis.NewDescriptor("qacli-does-not-exist-xyz"), t.TempDir())

	var cmdLine *analysis.CommandLineError
	if !errors.As(err, &cmdLine) {
		t.Fatalf("expected command line error, got %T: %v", err, err)
	}
	if !strings.Contains(err.Error(), "executable not found") {
		t.Errorf("unexpected message %q", err.Error())
	}
	if !analysis.IsToolFailure(err) {
		t.Error("missing executable should be a tool failure")
	}
}

func TestExecRunner_EmptyProduct(t *testing.T) {
	_, err := NewExecRunner().Execute(context.Background(), analysis.NewDescriptor("  "), t.TempDir())

	if !analysis.IsToolFailure(err) {
		t.Fatalf("expected tool failure, got %v", err)
	}
}

func TestExecRunner_MissingWorkDir(t *testing.T) {
	_, err := NewExecRunner().Execute(context.Background(), sh("true"), filepath.Join(t.TempDir(), "nope"))

	if !errors.Is(err, analysis.ErrEnvironment) {
		t.Fatalf("expected environment failure, got %v", err)
	}
}

func TestExecRunner_CancellationIsEnvironmentFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := NewExecRunner(WithWaitDelay(time.Second)).Execute(ctx, sh("sleep 30 & sleep 30"), t.TempDir())

	if !errors.Is(err, analysis.ErrEnvironment) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected environment failure wrapping deadline, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("cancellation took %s", elapsed)
	}
}

func TestExecRunner_AlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewExecRunner().Execute(ctx, sh("echo never"), t.TempDir())

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestExecRunner_BackgroundChildDoesNotHoldRun(t *testing.T) {
	r := NewExecRunner(WithWaitDelay(200 * time.Millisecond))

	start := time.Now()
	res, err := r.Execute(context.Background(), sh("echo hi; sleep 3 &"), t.TempDir())
	elapsed := time.Since(start)

	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(res.Stdout, []string{"hi"}) {
		t.Errorf("stdout = %q, want [hi]", res.Stdout)
	}
	if elapsed > 2*time.Second {
		t.Errorf("run took %s; wait delay did not bound the drain", elapsed)
	}
}

func TestExecRunner_DescriptorEnv(t *testing.T) {
	d := sh(`echo "$QA_PROJECT"`).WithEnv("QA_PROJECT", "demo")
	res, err := NewExecRunner().Execute(context.Background(), d, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(res.Stdout, []string{"demo"}) {
		t.Errorf("stdout = %q, want [demo]", res.Stdout)
	}
}

func TestExecRunner_StderrLog(t *testing.T) {
	logDir := filepath.Join(t.TempDir(), "logs")
	r := NewExecRunner(WithLogDir(logDir))

	if _, err := r.Execute(context.Background(), sh("echo to-stderr >&2"), t.TempDir()); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(logDir, "stderr.log"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "to-stderr") {
		t.Errorf("stderr.log = %q", data)
	}
}

func TestExecRunner_LongLine(t *testing.T) {
	res, err := NewExecRunner().Execute(context.Background(), sh("head -c 200000 /dev/zero | tr '\\0' 'x'; echo"), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Stdout) != 1 || len(res.Stdout[0]) != 200000 {
		t.Fatalf("expected one 200000-byte line, got %d lines", len(res.Stdout))
	}
}

func TestExecRunner_ThroughInvoke(t *testing.T) {
	sink := &analysis.CollectSink{}
	ok, err := analysis.Invoke(context.Background(), NewExecRunner(), analysis.Bind(sh("echo OK: 0 violations"), t.TempDir()), sink)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if !reflect.DeepEqual(sink.Lines(), []string{"OK: 0 violations"}) {
		t.Errorf("sink = %q", sink.Lines())
	}

	sink = &analysis.CollectSink{}
	ok, err = analysis.Invoke(context.Background(), NewExecRunner(), analysis.Bind(sh("exit 3"), t.TempDir()), sink)
	if err != nil || ok {
		t.Fatalf("ok=%v err=%v, want false and no error", ok, err)
	}
	if lines := sink.Lines(); len(lines) != 1 || !strings.HasPrefix(lines[0], "exit code 3") {
		t.Errorf("sink = %q", lines)
	}
}

func TestExecRunner_IdleTimeout(t *testing.T) {
	r := NewExecRunner(WithIdleTimeout(200*time.Millisecond), WithWaitDelay(time.Second))

	start := time.Now()
	_, err := r.Execute(context.Background(), sh("echo started; sleep 30"), t.TempDir())

	if abnormal := asAbnormal(t, err); !strings.Contains(abnormal.Error(), "without output") {
		t.Errorf("unexpected message %q", abnormal.Error())
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("idle kill took %s", elapsed)
	}
}

func TestExecRunner_DiagnosesLicenseFailure(t *testing.T) {
	_, err := NewExecRunner().Execute(context.Background(), sh("echo 'cannot reach license server 5055@lic' >&2; exit 2"), t.TempDir())

	want := "exit code 2 (license server unavailable): cannot reach license server 5055@lic"
	if got := asAbnormal(t, err).Error(); got != want {
		t.Errorf("message = %q, want %q", got, want)
	}
}

func TestExecRunner_SanitizesInheritedEnv(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "ghp_secret")
	res, err := NewExecRunner().Execute(context.Background(), sh(`echo "token=${GITHUB_TOKEN}"`), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(res.Stdout, []string{"token="}) {
		t.Errorf("stdout = %q, secret leaked", res.Stdout)
	}
}

func TestTailBuffer(t *testing.T) {
	tb := newTailBuffer(2)
	_, _ = tb.Write([]byte("one\ntwo\n\nthree\nfou"))
	_, _ = tb.Write([]byte("r"))

	if got := tb.String(); got != "three; four" {
		t.Errorf("tail = %q, want %q", got, "three; four")
	}
}

func TestTailBuffer_CapsUnterminatedLine(t *testing.T) {
	tb := newTailBuffer(2)
	chunk := []byte(strings.Repeat("x", 1024))
	for i := 0; i < 64; i++ {
		_, _ = tb.Write(chunk)
	}

	if got := len(tb.String()); got != maxTailLineBytes {
		t.Errorf("retained %d bytes, want %d", got, maxTailLineBytes)
	}
}
