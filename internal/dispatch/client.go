package dispatch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/ppiankov/qaforge/internal/analysis"
)

// maxFrameBytes bounds a single NDJSON frame; product output lines can be long.
const maxFrameBytes = 4 << 20

// Remote dispatches invocations to an agent over HTTP.
type Remote struct {
	BaseURL string
	Client  *http.Client
}

// NewRemote creates a Remote for the agent at baseURL.
// No client timeout is set: an analysis may legitimately run for a long time,
// and cancellation is carried by the context.
func NewRemote(baseURL string) *Remote {
	return &Remote{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{},
	}
}

// Dispatch sends d to the agent, forwards streamed lines to sink in order and
// returns the agent's result. Every transport or protocol problem is an
// environment failure.
func (r *Remote) Dispatch(ctx context.Context, d analysis.Descriptor, dir string, sink analysis.LogSink) (bool, error) {
	req := InvokeRequest{RequestID: uuid.NewString(), Descriptor: d, Dir: dir}
	body, err := json.Marshal(req)
	if err != nil {
		return false, analysis.Environment("marshal invocation", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.BaseURL+InvocationsPath, bytes.NewReader(body))
	if err != nil {
		return false, analysis.Environment("build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	slog.Debug("dispatching to agent", "agent", r.BaseURL, "request_id", req.RequestID, "dir", dir)

	resp, err := r.Client.Do(httpReq)
	if err != nil {
		return false, analysis.Environment("dispatch", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return false, analysis.Environment("dispatch", statusError(resp))
	}

	return readFrames(ctx, resp.Body, sink)
}

func readFrames(ctx context.Context, body io.Reader, sink analysis.LogSink) (bool, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameBytes)

	for scanner.Scan() {
		var f Frame
		if err := json.Unmarshal(scanner.Bytes(), &f); err != nil {
			return false, analysis.Environment("decode frame", err)
		}
		switch f.Type {
		case FrameLine:
			if f.Raw != nil {
				sink.Println(string(f.Raw))
			} else {
				sink.Println(f.Line)
			}
		case FrameResult:
			return f.Succeeded, nil
		case FrameError:
			return false, analysis.Environment("agent", errors.New(f.Message))
		default:
			return false, analysis.Environment("decode frame", fmt.Errorf("unknown frame type %q", f.Type))
		}
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return false, analysis.Environment("stream", ctxErr)
	}
	if err := scanner.Err(); err != nil {
		return false, analysis.Environment("stream", err)
	}
	return false, analysis.Environment("stream", io.ErrUnexpectedEOF)
}

func statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var eb errorBody
	if err := json.Unmarshal(data, &eb); err == nil && eb.Error != "" {
		return fmt.Errorf("agent returned %d: %s", resp.StatusCode, eb.Error)
	}
	return fmt.Errorf("agent returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
}
