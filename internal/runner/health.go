package runner

import (
	"io"
	"strings"
	"sync"
)

// diagnosisPattern maps a stderr pattern to a human-readable reason.
type diagnosisPattern struct {
	pattern string
	reason  string
}

// Ordered: license problems are reported before the network error behind them.
var diagnosisPatterns = []diagnosisPattern{
	{"license server", "license server unavailable"},
	{"no license available", "no license available"},
	{"license checkout failed", "no license available"},
	{"license has expired", "license expired"},
	{"ssl certificate problem", "TLS certificate expired"},
	{"certificate has expired", "TLS certificate expired"},
	{"connection refused", "connection refused"},
	{"could not resolve host", "DNS resolution failed"},
	{"name or service not known", "DNS resolution failed"},
	{"tls handshake timeout", "TLS handshake timeout"},
	{"no space left on device", "disk full"},
}

// healthWriter wraps the child's stderr and remembers the first known
// environment problem it reports. All data is passed through unchanged.
type healthWriter struct {
	w      io.Writer
	reason string
	mu     sync.Mutex
}

func newHealthWriter(w io.Writer) *healthWriter {
	return &healthWriter{w: w}
}

func (hw *healthWriter) Write(p []byte) (int, error) {
	n, err := hw.w.Write(p)

	hw.mu.Lock()
	if hw.reason == "" {
		lower := strings.ToLower(string(p))
		for _, dp := range diagnosisPatterns {
			if strings.Contains(lower, dp.pattern) {
				hw.reason = dp.reason
				break
			}
		}
	}
	hw.mu.Unlock()

	return n, err
}

// Reason returns the diagnosed problem, or "" when none was seen.
func (hw *healthWriter) Reason() string {
	hw.mu.Lock()
	defer hw.mu.Unlock()
	return hw.reason
}
