package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/ppiankov/qaforge/internal/analysis"
)

// AgentConfig holds agent server configuration.
type AgentConfig struct {
	Listen          string   // ":7420"
	WorkspaceRoot   string   // invocation dirs are resolved under this root
	AllowedProducts []string // if non-empty, only these products may be run
}

// Agent serves analysis invocations for the workspaces it owns.
type Agent struct {
	cfg    AgentConfig
	runner analysis.ProcessRunner
	allow  map[string]struct{}

	// base is cancelled by Stop; every invocation context derives from it
	base     context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup

	mu   sync.Mutex
	srv  *http.Server
	addr string
}

// NewAgent creates an agent that runs invocations through r.
func NewAgent(cfg AgentConfig, r analysis.ProcessRunner) *Agent {
	a := &Agent{cfg: cfg, runner: r}
	a.base, a.cancel = context.WithCancel(context.Background())
	if len(cfg.AllowedProducts) > 0 {
		a.allow = make(map[string]struct{}, len(cfg.AllowedProducts))
		for _, p := range cfg.AllowedProducts {
			a.allow[p] = struct{}{}
		}
	}
	return a
}

// Handler returns the agent's HTTP routes.
func (a *Agent) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+InvocationsPath, a.handleInvoke)
	mux.HandleFunc("GET /health", a.handleHealth)
	return mux
}

// Start begins listening. Returns the actual address.
func (a *Agent) Start() (string, error) {
	ln, err := net.Listen("tcp", a.cfg.Listen)
	if err != nil {
		return "", fmt.Errorf("agent listen %s: %w", a.cfg.Listen, err)
	}

	a.mu.Lock()
	a.addr = ln.Addr().String()
	a.srv = &http.Server{Handler: a.Handler(), ReadHeaderTimeout: 10 * time.Second}
	srv := a.srv
	a.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("agent server error", "error", err)
		}
	}()

	slog.Info("agent started", "addr", a.addr, "workspace_root", a.cfg.WorkspaceRoot)
	return a.addr, nil
}

// Stop gracefully shuts down the agent, waiting for in-flight invocations
// until ctx expires. Invocations still running then are cancelled, which
// kills their processes, and Stop returns once their handlers have unwound.
func (a *Agent) Stop(ctx context.Context) error {
	a.mu.Lock()
	srv := a.srv
	a.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	a.cancel()
	a.inflight.Wait()
	return err
}

// Addr returns the listening address after Start.
func (a *Agent) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

func (a *Agent) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (a *Agent) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var req InvokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	dir, err := a.resolveDir(req.Dir)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if a.allow != nil {
		if _, ok := a.allow[req.Descriptor.Product]; !ok {
			writeError(w, http.StatusForbidden, fmt.Sprintf("product %q is not allowed on this agent", req.Descriptor.Product))
			return
		}
	}

	log := slog.With("request_id", req.RequestID, "product", req.Descriptor.Product, "dir", dir)
	log.Info("invocation started")

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	stream := newFrameWriter(w, req.RequestID)

	a.inflight.Add(1)
	defer a.inflight.Done()
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	defer context.AfterFunc(a.base, cancel)()

	start := time.Now()
	ok, err := analysis.Invoke(ctx, a.runner, analysis.Bind(req.Descriptor, dir), stream)
	if err != nil {
		log.Warn("invocation environment failure", "error", err, "duration", time.Since(start))
		stream.write(Frame{Type: FrameError, Message: err.Error()})
		return
	}

	log.Info("invocation finished", "succeeded", ok, "lines", stream.lines, "duration", time.Since(start))
	stream.write(Frame{Type: FrameResult, Succeeded: ok})
}

// resolveDir maps a request dir onto the workspace root.
func (a *Agent) resolveDir(dir string) (string, error) {
	if dir == "" {
		dir = "."
	}
	if !filepath.IsLocal(dir) {
		return "", fmt.Errorf("dir %q must be relative to the workspace root", dir)
	}
	root := a.cfg.WorkspaceRoot
	if root == "" {
		root = "."
	}
	return filepath.Join(root, dir), nil
}

// frameWriter is the agent-side log sink: each line becomes a FrameLine.
type frameWriter struct {
	mu        sync.Mutex
	enc       *json.Encoder
	flusher   http.Flusher
	requestID string
	lines     int
	broken    bool
}

func newFrameWriter(w http.ResponseWriter, requestID string) *frameWriter {
	f, _ := w.(http.Flusher)
	if f != nil {
		// send headers now so the client knows the invocation started
		f.Flush()
	}
	return &frameWriter{enc: json.NewEncoder(w), flusher: f, requestID: requestID}
}

// Println implements analysis.LogSink.
// Lines that are not valid UTF-8 travel as raw bytes so JSON does not
// rewrite them.
func (fw *frameWriter) Println(line string) {
	if utf8.ValidString(line) {
		fw.write(Frame{Type: FrameLine, Line: line})
		return
	}
	fw.write(Frame{Type: FrameLine, Raw: []byte(line)})
}

func (fw *frameWriter) write(f Frame) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.broken {
		return
	}
	f.RequestID = fw.requestID
	if err := fw.enc.Encode(f); err != nil {
		// client went away; the request context cancels the child
		fw.broken = true
		return
	}
	if f.Type == FrameLine {
		fw.lines++
	}
	if fw.flusher != nil {
		fw.flusher.Flush()
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: msg})
}
