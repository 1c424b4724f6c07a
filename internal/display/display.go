// Package display implements the Display Bootstrapper (spec §4.I): when the
// service is configured for headed rendering and no graphical display is
// already present, it spawns a virtual framebuffer (Xvfb) as a child
// process, polls for its socket to appear, and publishes the display
// identifier into the process environment before the native browser is
// launched.
//
// Grounded on the teacher's internal/browser/launcher_unix.go process-group
// and kill-by-pid conventions (setProcGroup, killByPid), generalized here
// from "kill the browser" to "kill the virtual framebuffer" using the same
// process-group discipline so an Xvfb child is never orphaned on shutdown.
package display

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/browserhive/remotebrowser/internal/rblog"
)

// DefaultPollTimeout is the spec §4.I default wait for the Xvfb socket to
// appear before bootstrap gives up.
const DefaultPollTimeout = 5 * time.Second

// Bootstrapper owns an optional Xvfb child process.
type Bootstrapper struct {
	displayNum   int
	pollTimeout  time.Duration
	log          rblog.Logger

	cmd *exec.Cmd
}

// Options configures a Bootstrapper.
type Options struct {
	DisplayNum  int // e.g. 99 for :99
	PollTimeout time.Duration
	Log         rblog.Logger
}

// New constructs a Bootstrapper. Call Start to actually spawn Xvfb.
func New(opts Options) *Bootstrapper {
	if opts.DisplayNum == 0 {
		opts.DisplayNum = 99
	}
	if opts.PollTimeout == 0 {
		opts.PollTimeout = DefaultPollTimeout
	}
	return &Bootstrapper{
		displayNum:  opts.DisplayNum,
		pollTimeout: opts.PollTimeout,
		log:         opts.Log,
	}
}

// hasGraphicalDisplay reports whether the environment already advertises a
// usable display (X11 or Wayland), in which case bootstrap is a no-op.
func hasGraphicalDisplay() bool {
	return os.Getenv("DISPLAY") != "" || os.Getenv("WAYLAND_DISPLAY") != ""
}

// socketPath is where Xvfb's X11 unix-domain socket appears once it is
// ready to accept connections.
func socketPath(displayNum int) string {
	return fmt.Sprintf("/tmp/.X11-unix/X%d", displayNum)
}

// Start spawns Xvfb if headed rendering was requested and no display is
// already present; it is a no-op (returning nil) in every other case. On
// success it sets DISPLAY in the process environment so the native browser
// launcher picks it up.
func (b *Bootstrapper) Start(headless bool) error {
	if headless || hasGraphicalDisplay() {
		return nil
	}

	display := fmt.Sprintf(":%d", b.displayNum)
	cmd := exec.Command("Xvfb", display, "-screen", "0", "1280x720x24", "-nolisten", "tcp")
	setProcGroup(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting Xvfb: %w", err)
	}
	b.cmd = cmd

	if err := b.waitForSocket(); err != nil {
		b.Stop()
		return err
	}

	if err := os.Setenv("DISPLAY", display); err != nil {
		b.Stop()
		return fmt.Errorf("publishing DISPLAY: %w", err)
	}

	b.log.Info().Str("display", display).Int("pid", cmd.Process.Pid).Msg("virtual display started")
	return nil
}

func (b *Bootstrapper) waitForSocket() error {
	deadline := time.Now().Add(b.pollTimeout)
	path := socketPath(b.displayNum)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("timed out after %s waiting for Xvfb socket %s", b.pollTimeout, path)
}

// Stop kills the Xvfb child process, if one was started. Idempotent.
// Registered for cleanup on shutdown (spec §4.I).
func (b *Bootstrapper) Stop() {
	if b.cmd == nil || b.cmd.Process == nil {
		return
	}
	killByPid(b.cmd.Process.Pid)
	waitForProcessesDead([]int{b.cmd.Process.Pid}, 2*time.Second)
	b.cmd = nil
}
