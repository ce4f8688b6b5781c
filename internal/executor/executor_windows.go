//go:build windows

package executor

import "os/exec"

// setProcessGroup is a no-op on Windows: os/exec has no portable
// equivalent of a POSIX process group here, so a timeout kill on this
// platform can only reach the direct child, not its grandchildren. Known
// limitation, not a bug — see SPEC_FULL.md's process-group note.
func setProcessGroup(cmd *exec.Cmd) {}

func terminateGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

func killGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
