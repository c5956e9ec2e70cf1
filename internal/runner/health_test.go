package runner

import (
	"bytes"
	"io"
	"testing"
)

func TestHealthWriter_Diagnoses(t *testing.T) {
	tests := []struct {
		stderr string
		want   string
	}{
		{"ERROR: could not contact license server 5055@lic.example.com", "license server unavailable"},
		{"qacli: No license available for feature QAC", "no license available"},
		{"error: SSL certificate problem: certificate has expired", "TLS certificate expired"},
		{"dial tcp 10.0.0.1:443: connection refused", "connection refused"},
		{"curl: (6) Could not resolve host: qav.example.com", "DNS resolution failed"},
		{"write prqa/cache: no space left on device", "disk full"},
	}

	for _, tt := range tests {
		hw := newHealthWriter(io.Discard)
		_, _ = hw.Write([]byte(tt.stderr))
		if got := hw.Reason(); got != tt.want {
			t.Errorf("%q: got %q, want %q", tt.stderr, got, tt.want)
		}
	}
}

func TestHealthWriter_NoMatch(t *testing.T) {
	hw := newHealthWriter(io.Discard)
	_, _ = hw.Write([]byte("analysis finished with 12 messages\n"))

	if hw.Reason() != "" {
		t.Errorf("expected no diagnosis, got %q", hw.Reason())
	}
}

func TestHealthWriter_FirstReasonWins(t *testing.T) {
	hw := newHealthWriter(io.Discard)
	_, _ = hw.Write([]byte("connection refused\n"))
	_, _ = hw.Write([]byte("no space left on device\n"))

	if hw.Reason() != "connection refused" {
		t.Errorf("expected first reason kept, got %q", hw.Reason())
	}
}

func TestHealthWriter_PassesThrough(t *testing.T) {
	var buf bytes.Buffer
	hw := newHealthWriter(&buf)

	input := "line1\nconnection refused\nline3\n"
	n, err := hw.Write([]byte(input))
	if err != nil {
		t.Fatal(err)
	}
	if n != len(input) {
		t.Errorf("expected %d bytes written, got %d", len(input), n)
	}
	if buf.String() != input {
		t.Errorf("expected passthrough, got %q", buf.String())
	}
}
