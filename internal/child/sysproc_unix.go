//go:build unix

package child

import (
	"os/exec"
	"syscall"
)

// setProcessGroup puts cmd's process in its own process group, so
// the whole tree it spawns can be signaled via a single negative-PID
// kill, matching the teacher's firecracker VM lifecycle termination.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
