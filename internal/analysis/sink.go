package analysis

import (
	"fmt"
	"io"
	"sync"
)

// LogSink is an append-only, line-oriented build log.
// Println must not fail back into the caller.
type LogSink interface {
	Println(line string)
}

// SinkFunc adapts a function to LogSink.
type SinkFunc func(line string)

// Println calls f.
func (f SinkFunc) Println(line string) { f(line) }

// WriterSink writes lines to an io.Writer, ignoring write errors.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink creates a sink over w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// Println writes line followed by a newline.
func (s *WriterSink) Println(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = fmt.Fprintln(s.w, line)
}

// CollectSink keeps lines in memory.
type CollectSink struct {
	mu    sync.Mutex
	lines []string
}

// Println appends line.
func (s *CollectSink) Println(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, line)
}

// Lines returns a copy of the collected lines.
func (s *CollectSink) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

// Len returns the number of lines collected so far.
func (s *CollectSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lines)
}

// CountingSink forwards to Next and counts lines.
type CountingSink struct {
	Next LogSink

	mu    sync.Mutex
	count int
}

// Println forwards line to Next.
func (s *CountingSink) Println(line string) {
	s.mu.Lock()
	s.count++
	s.mu.Unlock()
	if s.Next != nil {
		s.Next.Println(line)
	}
}

// Count returns the number of lines seen.
func (s *CountingSink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}
