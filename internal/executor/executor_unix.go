//go:build !windows

package executor

import (
	"os/exec"
	"syscall"
)

// setProcessGroup spawns the child into its own process group so a
// timeout signal sent to the negative pid reaches grandchildren too.
// The daemon supervisor in this lineage detaches itself with Setsid; here
// the child only gets a new process group (Setpgid), not a new session.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func terminateGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
}

func killGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}
