//go:build !windows

package task

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// configureProcessGroup puts the subprocess in its own process group so that
// termination signals also reach anything it spawned.
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalProcessGroup sends sig to the whole process group led by proc.
func signalProcessGroup(proc *os.Process, sig syscall.Signal) error {
	if err := syscall.Kill(-proc.Pid, sig); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return os.ErrProcessDone
		}
		return err
	}
	return nil
}
