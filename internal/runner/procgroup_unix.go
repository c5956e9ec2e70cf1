//go:build !windows

package runner

import (
	"os/exec"
	"syscall"
)

// setupProcessGroup starts the analysis product in its own process group and
// makes context cancellation kill the whole group, so compiler and parser
// helpers spawned by the product do not outlive an interrupted build.
func setupProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
