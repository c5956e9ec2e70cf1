//go:build !windows

package runner

import (
	"context"
	"os/exec"
	"syscall"
	"testing"
	"time"
)

func TestSetupProcessGroup_KillsChildren(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	// a shell with a background child, like a product spawning its parser
	cmd := exec.CommandContext(ctx, "sh", "-c", "sleep 60 & sleep 60")
	setupProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	pid := cmd.Process.Pid

	if err := syscall.Kill(pid, 0); err != nil {
		t.Fatalf("process %d not alive after start: %v", pid, err)
	}

	cancel()
	_ = cmd.Wait()
	time.Sleep(50 * time.Millisecond)

	if err := syscall.Kill(-pid, 0); err == nil {
		t.Errorf("process group %d still alive after context cancel", pid)
	}
}

func TestSetupProcessGroup_SetsAttributes(t *testing.T) {
	cmd := exec.Command("echo", "test")
	setupProcessGroup(cmd)

	if cmd.SysProcAttr == nil || !cmd.SysProcAttr.Setpgid {
		t.Fatal("Setpgid not set")
	}
	if cmd.Cancel == nil {
		t.Error("Cancel function not set")
	}
}

func TestSetupProcessGroup_CancelNilProcess(t *testing.T) {
	cmd := exec.Command("nonexistent-binary-xyz")
	setupProcessGroup(cmd)

	if err := cmd.Cancel(); err != nil {
		t.Errorf("expected nil error for nil process, got: %v", err)
	}
}
