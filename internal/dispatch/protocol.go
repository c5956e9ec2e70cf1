package dispatch

import (
	"github.com/ppiankov/qaforge/internal/analysis"
)

// InvocationsPath is the agent endpoint that accepts invocations.
const InvocationsPath = "/v1/invocations"

// InvokeRequest is the body of POST /v1/invocations.
type InvokeRequest struct {
	RequestID  string              `json:"request_id,omitempty"`
	Descriptor analysis.Descriptor `json:"descriptor"`
	Dir        string              `json:"dir"` // relative to the agent workspace root
}

// FrameType identifies a frame in the NDJSON response stream.
type FrameType string

const (
	FrameLine   FrameType = "line"
	FrameResult FrameType = "result"
	FrameError  FrameType = "error"
)

// Frame is one line of the response stream. A stream is zero or more
// FrameLine frames followed by exactly one FrameResult or FrameError.
type Frame struct {
	Type      FrameType `json:"type"`
	RequestID string    `json:"request_id,omitempty"`
	Line      string    `json:"line,omitempty"`
	Raw       []byte    `json:"raw,omitempty"` // set instead of Line for non-UTF-8 output
	Succeeded bool      `json:"succeeded,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// errorBody is returned with non-200 statuses before streaming starts.
type errorBody struct {
	Error string `json:"error"`
}
