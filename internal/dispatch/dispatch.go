// Package dispatch moves an analysis invocation to wherever its working
// directory lives: in-process, or on an agent reached over HTTP.
package dispatch

import (
	"context"

	"github.com/ppiankov/qaforge/internal/analysis"
)

// Dispatcher runs a descriptor inside dir on whichever executor owns dir.
// The boolean and error follow analysis.Invoke.
type Dispatcher interface {
	Dispatch(ctx context.Context, d analysis.Descriptor, dir string, sink analysis.LogSink) (bool, error)
}

// Local runs invocations in the current process.
type Local struct {
	Runner analysis.ProcessRunner
}

// NewLocal creates a Local dispatcher.
func NewLocal(r analysis.ProcessRunner) *Local {
	return &Local{Runner: r}
}

// Dispatch binds d to dir and invokes it directly.
func (l *Local) Dispatch(ctx context.Context, d analysis.Descriptor, dir string, sink analysis.LogSink) (bool, error) {
	return analysis.Invoke(ctx, l.Runner, analysis.Bind(d, dir), sink)
}

var (
	_ Dispatcher = (*Local)(nil)
	_ Dispatcher = (*Remote)(nil)
)
