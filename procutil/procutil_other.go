//go:build plan9 || js

package procutil

import (
	"os/exec"
	"syscall"
)

// Prepare is a no-op on platforms with no process-group support.
func Prepare(cmd *exec.Cmd) {}

// Interrupt kills the process outright; these platforms have no SIGINT.
func Interrupt(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}

// Kill kills the process.
func Kill(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}

// Signal kills the process regardless of the requested signal.
func Signal(cmd *exec.Cmd, sig syscall.Signal) error {
	return cmd.Process.Kill()
}
