//go:build !windows

package display

import (
	"os/exec"
	"syscall"
	"time"
)

// setProcGroup puts the Xvfb child in its own process group so it can be
// killed as a unit, independent of the parent's signal handling.
func setProcGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killByPid(pid int) {
	syscall.Kill(pid, syscall.SIGKILL)
}

func waitForProcessesDead(pids []int, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		allDead := true
		for _, pid := range pids {
			if syscall.Kill(pid, 0) == nil {
				allDead = false
				break
			}
		}
		if allDead {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}
