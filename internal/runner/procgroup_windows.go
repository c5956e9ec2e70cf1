//go:build windows

package runner

import "os/exec"

// setupProcessGroup is a no-op on Windows; exec.CommandContext kills the
// direct child on cancellation.
func setupProcessGroup(cmd *exec.Cmd) {}
