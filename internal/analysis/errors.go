package analysis

import (
	"errors"
	"fmt"
)

// ErrEnvironment matches every EnvironmentError via errors.Is.
var ErrEnvironment = errors.New("execution environment failure")

// AbnormalTerminationError means the tool ran but exited with a failure indication.
type AbnormalTerminationError struct {
	ExitCode int
	Message  string
}

func (e *AbnormalTerminationError) Error() string {
	return e.Message
}

// NewAbnormalTermination creates an AbnormalTerminationError for the given exit code.
func NewAbnormalTermination(exitCode int, format string, args ...any) *AbnormalTerminationError {
	return &AbnormalTerminationError{ExitCode: exitCode, Message: fmt.Sprintf(format, args...)}
}

// CommandLineError means the tool could not be launched at all.
type CommandLineError struct {
	Product string
	Err     error
}

func (e *CommandLineError) Error() string {
	if e.Product == "" {
		return fmt.Sprintf("command line: %v", e.Err)
	}
	return fmt.Sprintf("command line %s: %v", e.Product, e.Err)
}

func (e *CommandLineError) Unwrap() error { return e.Err }

// EnvironmentError means the execution environment itself is broken:
// I/O failure, missing working directory, cancellation or a lost transport.
type EnvironmentError struct {
	Op  string
	Err error
}

func (e *EnvironmentError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *EnvironmentError) Unwrap() error { return e.Err }

// Is reports ErrEnvironment as a match so callers need not know the concrete type.
func (e *EnvironmentError) Is(target error) bool {
	return target == ErrEnvironment
}

// Environment wraps err as an EnvironmentError for op.
func Environment(op string, err error) *EnvironmentError {
	return &EnvironmentError{Op: op, Err: err}
}

// IsToolFailure reports whether err is one of the two tool-level failure kinds.
func IsToolFailure(err error) bool {
	var abnormal *AbnormalTerminationError
	var cmdLine *CommandLineError
	return errors.As(err, &abnormal) || errors.As(err, &cmdLine)
}
