//go:build windows

package display

import (
	"bytes"
	"fmt"
	"os/exec"
	"time"
)

// setProcGroup is a no-op on Windows; Xvfb itself is Unix-only, so Start
// never reaches a point where this matters there, but the build still needs
// to compile.
func setProcGroup(cmd *exec.Cmd) {}

func killByPid(pid int) {
	exec.Command("taskkill", "/T", "/F", "/PID", fmt.Sprintf("%d", pid)).Run()
}

func isProcessAlive(pid int) bool {
	out, err := exec.Command("tasklist", "/FI", fmt.Sprintf("PID eq %d", pid), "/FO", "CSV", "/NH").Output()
	if err != nil {
		return false
	}
	return len(out) > 0 && bytes.Contains(out, []byte(fmt.Sprintf("%d", pid)))
}

func waitForProcessesDead(pids []int, timeout time.Duration) {
	time.Sleep(50 * time.Millisecond)
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		allDead := true
		for _, pid := range pids {
			if isProcessAlive(pid) {
				allDead = false
				break
			}
		}
		if allDead {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
}
