//go:build windows

package task

import (
	"os"
	"os/exec"
	"syscall"
)

func configureProcessGroup(_ *exec.Cmd) {}

// signalProcessGroup only supports Kill on Windows; the softer steps fail and
// the escalation proceeds to Kill on its own schedule.
func signalProcessGroup(proc *os.Process, sig syscall.Signal) error {
	if sig == syscall.SIGKILL {
		return proc.Kill()
	}
	return proc.Signal(sig)
}
