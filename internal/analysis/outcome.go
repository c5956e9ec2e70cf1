package analysis

import (
	"errors"
)

// Kind classifies how an execution ended.
type Kind int

const (
	KindSuccess Kind = iota
	KindToolFailure
	KindEnvironmentFailure
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "SUCCESS"
	case KindToolFailure:
		return "TOOL_FAILURE"
	case KindEnvironmentFailure:
		return "ENVIRONMENT_FAILURE"
	default:
		return "UNKNOWN"
	}
}

// CmdResult is what a ProcessRunner returns when the tool exits cleanly.
type CmdResult struct {
	Stdout   []string
	ExitCode int
}

// Outcome is the tagged result of one execution.
type Outcome struct {
	Kind    Kind
	Lines   []string // captured stdout, only for KindSuccess
	Message string   // failure message, only for KindToolFailure
	Cause   error    // only for KindEnvironmentFailure
}

// Translate reduces a runner result and error to an Outcome.
// Success is the absence of a signaled failure; the output content is not inspected.
func Translate(res *CmdResult, err error) Outcome {
	if err == nil {
		var lines []string
		if res != nil {
			lines = res.Stdout
		}
		return Outcome{Kind: KindSuccess, Lines: lines}
	}

	if errors.Is(err, ErrEnvironment) {
		return Outcome{Kind: KindEnvironmentFailure, Cause: err}
	}
	if IsToolFailure(err) {
		return Outcome{Kind: KindToolFailure, Message: err.Error()}
	}

	// unclassified runner errors are never swallowed
	return Outcome{Kind: KindEnvironmentFailure, Cause: Environment("execute", err)}
}

// Resolve writes the outcome to sink and returns the boolean contract.
// Environment failures write nothing and are returned as the error.
func (o Outcome) Resolve(sink LogSink) (bool, error) {
	switch o.Kind {
	case KindSuccess:
		for _, line := range o.Lines {
			sink.Println(line)
		}
		return true, nil
	case KindToolFailure:
		sink.Println(o.Message)
		return false, nil
	default:
		return false, o.Cause
	}
}
