package runner

import (
	"io"
	"sync"
	"time"
)

// idleReader wraps the child's stdout and calls kill when no output arrives
// for timeout. A zero timeout disables the watchdog.
type idleReader struct {
	r       io.Reader
	timer   *time.Timer
	timeout time.Duration
	kill    func()

	mu    sync.Mutex
	fired bool
}

func newIdleReader(r io.Reader, timeout time.Duration, kill func()) *idleReader {
	ir := &idleReader{r: r, timeout: timeout, kill: kill}
	if timeout > 0 {
		ir.timer = time.AfterFunc(timeout, ir.onIdle)
	}
	return ir
}

func (ir *idleReader) Read(p []byte) (int, error) {
	n, err := ir.r.Read(p)
	if n > 0 && ir.timer != nil {
		ir.timer.Reset(ir.timeout)
	}
	return n, err
}

func (ir *idleReader) onIdle() {
	ir.mu.Lock()
	ir.fired = true
	ir.mu.Unlock()
	if ir.kill != nil {
		ir.kill()
	}
}

// Fired reports whether the child was killed for being idle.
func (ir *idleReader) Fired() bool {
	ir.mu.Lock()
	defer ir.mu.Unlock()
	return ir.fired
}

// Stop disarms the watchdog.
func (ir *idleReader) Stop() {
	if ir.timer != nil {
		ir.timer.Stop()
	}
}
