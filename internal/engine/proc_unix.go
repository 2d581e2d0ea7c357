//go:build unix

package engine

import (
	"os/exec"
	"syscall"
)

// killProcessGroup запускает движок в собственной группе процессов и
// при отмене контекста убивает всю группу, включая порождённых потомков.
func killProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
