//go:build unix

package node

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// killGroup puts the shell into its own process group and makes context
// cancellation kill the whole group, so subshells and pipelines die with it.
func killGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		if errors.Is(err, syscall.ESRCH) {
			return os.ErrProcessDone
		}
		return err
	}
}
