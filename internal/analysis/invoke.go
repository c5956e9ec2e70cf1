package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

// ProcessRunner launches the analysis product and waits for it.
// Implementations return *AbnormalTerminationError, *CommandLineError or
// *EnvironmentError instead of a result on failure, and must kill the child
// when ctx is cancelled.
type ProcessRunner interface {
	Execute(ctx context.Context, d Descriptor, dir string) (*CmdResult, error)
}

// RunnerFunc adapts a function to ProcessRunner.
type RunnerFunc func(ctx context.Context, d Descriptor, dir string) (*CmdResult, error)

// Execute calls f.
func (f RunnerFunc) Execute(ctx context.Context, d Descriptor, dir string) (*CmdResult, error) {
	return f(ctx, d, dir)
}

// Invoke runs req through r and reports the result to sink.
//
// Captured output is forwarded line by line and true is returned when the tool
// completes. Tool-level failures are logged to sink and reported as false with
// a nil error. Environment failures are returned as the error.
func Invoke(ctx context.Context, r ProcessRunner, req Request, sink LogSink) (bool, error) {
	info, err := os.Stat(req.Dir)
	if err != nil {
		return false, Environment("stat work dir", err)
	}
	if !info.IsDir() {
		return false, Environment("stat work dir", fmt.Errorf("%s is not a directory", req.Dir))
	}

	slog.Debug("invoking analysis", "product", req.Descriptor.Product, "dir", req.Dir, "args", len(req.Descriptor.Args))

	res, err := r.Execute(ctx, req.Descriptor, req.Dir)
	outcome := Translate(res, err)

	slog.Debug("analysis finished", "product", req.Descriptor.Product, "outcome", outcome.Kind)
	return outcome.Resolve(sink)
}
