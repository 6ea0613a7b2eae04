//go:build linux

package supervisor

import (
	"os/exec"
	"syscall"
)

// setDeathSignal makes the kernel send SIGTERM to the worker if the
// supervisor dies first. The kernel tracks the forking thread rather than
// the process, so Spawn must be called from a goroutine that stays locked
// to its OS thread until the worker has been reaped.
func setDeathSignal(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Pdeathsig = syscall.SIGTERM
}
