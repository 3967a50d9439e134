//go:build unix

package tool

import (
	"os/exec"
	"syscall"
)

// killProcessGroup runs the command in its own process group so a timeout
// kills everything sh spawned, not just sh.
func killProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
