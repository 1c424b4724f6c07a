// Package debugchannel owns the remote-debugging channel for a single
// Session's page: screencast lifecycle and input dispatch (spec §4.C).
//
// Grounded on the WeKnora Browserless handler's chromedp.ListenTarget +
// page.StartScreencast/EventScreencastFrame/ScreencastFrameAck usage, and on
// the velocipi hub's ack-errors-are-swallowed, one-RPC-at-a-time discipline
// carried over from the teacher's internal/bidi/connection.go.
package debugchannel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/browserhive/remotebrowser/internal/inputmap"
	"github.com/browserhive/remotebrowser/internal/protocol"
	"github.com/browserhive/remotebrowser/internal/rblog"
)

// Frame is the immutable value handed to a Session's frame broadcaster each
// time the channel's screencast delivers a new image.
type Frame struct {
	Format    string
	Data      string // base64, standard alphabet, as delivered by CDP
	Viewport  protocol.Viewport
	Timestamp time.Time
}

// Event is an out-of-band notification the channel raises (ready, or a
// fatal channel failure the owning Session must react to).
type Event struct {
	Name string
	Data interface{}
}

// ScreencastOptions configures Page.startScreencast. Zero values are
// replaced with spec §4.C defaults by Start/Restart.
type ScreencastOptions struct {
	Quality       int
	MaxWidth      int
	MaxHeight     int
	EveryNthFrame int
}

func (o ScreencastOptions) withDefaults() ScreencastOptions {
	if o.Quality == 0 {
		o.Quality = 60
	}
	if o.MaxWidth == 0 {
		o.MaxWidth = 1280
	}
	if o.MaxHeight == 0 {
		o.MaxHeight = 720
	}
	if o.EveryNthFrame == 0 {
		o.EveryNthFrame = 1
	}
	return o
}

// Channel is the debug-channel manager for one page. All its methods are
// safe for concurrent use; RPCs against the underlying chromedp context are
// serialized by rpcMu so that at most one is in flight at a time.
type Channel struct {
	ctx context.Context // chromedp tab context for this page

	rpcMu sync.Mutex

	frames chan Frame
	events chan Event

	mu              sync.Mutex
	closed          bool
	screencastOpts  ScreencastOptions
	browserViewport protocol.Viewport

	log rblog.Logger
}

// New attaches a Channel to an already-created chromedp page context and
// emits the initial "ready" event carrying viewport. Frame and event
// channels are buffered so a slow Session reader never blocks the CDP
// event-delivery goroutine chromedp runs internally.
func New(ctx context.Context, initialViewport protocol.Viewport, log rblog.Logger) *Channel {
	c := &Channel{
		ctx:             ctx,
		frames:          make(chan Frame, 8),
		events:          make(chan Event, 8),
		browserViewport: initialViewport,
		log:             log,
	}

	chromedp.ListenTarget(ctx, c.onTargetEvent)

	c.events <- Event{Name: protocol.EventReady, Data: initialViewport}
	return c
}

// Frames returns the channel's single-subscriber frame stream. The Session
// that owns this Channel is the only intended reader (spec §9 design note:
// model broadcasters as explicit channels, not multi-listener emitters).
func (c *Channel) Frames() <-chan Frame { return c.frames }

// Events returns the channel's single-subscriber event stream.
func (c *Channel) Events() <-chan Event { return c.events }

func (c *Channel) onTargetEvent(ev interface{}) {
	frame, ok := ev.(*page.EventScreencastFrame)
	if !ok {
		return
	}

	c.mu.Lock()
	vp := protocol.Viewport{
		Width:            int(frame.Metadata.DeviceWidth),
		Height:           int(frame.Metadata.DeviceHeight),
		DevicePixelRatio: frame.Metadata.PageScaleFactor,
	}
	if vp.Width > 0 && vp.Height > 0 {
		c.browserViewport = vp
	} else {
		vp = c.browserViewport
	}
	c.mu.Unlock()

	f := Frame{
		Format:    "jpeg",
		Data:      frame.Data,
		Viewport:  vp,
		Timestamp: time.Now(),
	}

	select {
	case c.frames <- f:
	default:
		// Slow consumer: drop the stale frame rather than block the CDP
		// event loop (spec §4.G back-pressure policy applies symmetrically
		// to the producer side).
		select {
		case <-c.frames:
		default:
		}
		c.frames <- f
	}

	// Acknowledge asynchronously; ack failures are swallowed (idempotent,
	// best-effort) per spec §4.C.
	sessionID := frame.SessionID
	go func() {
		c.rpcMu.Lock()
		defer c.rpcMu.Unlock()
		_ = chromedp.Run(c.ctx, page.ScreencastFrameAck(sessionID))
	}()
}

// StartScreencast issues Page.startScreencast with the given options
// (zero fields replaced by defaults). Failures here are raised to the
// caller per spec §4.C's failure model.
func (c *Channel) StartScreencast(opts ScreencastOptions) error {
	opts = opts.withDefaults()

	c.rpcMu.Lock()
	defer c.rpcMu.Unlock()

	c.mu.Lock()
	c.screencastOpts = opts
	c.mu.Unlock()

	action := page.StartScreencast().
		WithFormat(page.ScreencastFormatJpeg).
		WithQuality(int64(opts.Quality)).
		WithMaxWidth(int64(opts.MaxWidth)).
		WithMaxHeight(int64(opts.MaxHeight)).
		WithEveryNthFrame(int64(opts.EveryNthFrame))

	if err := chromedp.Run(c.ctx, action); err != nil {
		return fmt.Errorf("start screencast: %w", err)
	}
	return nil
}

// RestartScreencast changes maxWidth/maxHeight and restarts the stream
// without dropping the active flag (spec §4.C, driven by setViewport).
func (c *Channel) RestartScreencast(maxWidth, maxHeight int) error {
	c.mu.Lock()
	opts := c.screencastOpts
	c.mu.Unlock()

	opts.MaxWidth = maxWidth
	opts.MaxHeight = maxHeight
	return c.StartScreencast(opts)
}

// StopScreencast stops the stream; errors are swallowed (idempotent).
func (c *Channel) StopScreencast() {
	c.rpcMu.Lock()
	defer c.rpcMu.Unlock()
	_ = chromedp.Run(c.ctx, page.StopScreencast())
}

// DispatchMouse synthesizes one or two Input.dispatchMouseEvent calls for a
// wire mouse action, per the mapping table in spec §4.B/§4.C. Failures are
// logged and swallowed: input dispatch is best-effort.
func (c *Channel) DispatchMouse(action string, x, y int, button string, modifiers int64, deltaX, deltaY float64) {
	btn := input.MouseButton(inputmap.MouseButton(button))

	run := func(a chromedp.Action) {
		c.rpcMu.Lock()
		defer c.rpcMu.Unlock()
		if err := chromedp.Run(c.ctx, a); err != nil {
			c.log.Debug().Err(err).Str("action", action).Msg("mouse dispatch failed, swallowed")
		}
	}

	switch action {
	case protocol.MouseMove:
		run(input.DispatchMouseEvent(input.MouseMoved, float64(x), float64(y)).
			WithButton(btn).WithModifiers(input.Modifier(modifiers)))
	case protocol.MouseDown:
		run(input.DispatchMouseEvent(input.MousePressed, float64(x), float64(y)).
			WithButton(btn).WithClickCount(1).WithModifiers(input.Modifier(modifiers)))
	case protocol.MouseUp:
		run(input.DispatchMouseEvent(input.MouseReleased, float64(x), float64(y)).
			WithButton(btn).WithClickCount(1).WithModifiers(input.Modifier(modifiers)))
	case protocol.MouseWheel:
		run(input.DispatchMouseEvent(input.MouseWheel, float64(x), float64(y)).
			WithDeltaX(deltaX).WithDeltaY(deltaY).WithModifiers(input.Modifier(modifiers)))
	case protocol.MouseClick:
		run(input.DispatchMouseEvent(input.MousePressed, float64(x), float64(y)).
			WithButton(btn).WithClickCount(1).WithModifiers(input.Modifier(modifiers)))
		run(input.DispatchMouseEvent(input.MouseReleased, float64(x), float64(y)).
			WithButton(btn).WithClickCount(1).WithModifiers(input.Modifier(modifiers)))
	case protocol.MouseDblClick:
		run(input.DispatchMouseEvent(input.MousePressed, float64(x), float64(y)).
			WithButton(btn).WithClickCount(1).WithModifiers(input.Modifier(modifiers)))
		run(input.DispatchMouseEvent(input.MouseReleased, float64(x), float64(y)).
			WithButton(btn).WithClickCount(1).WithModifiers(input.Modifier(modifiers)))
		time.Sleep(50 * time.Millisecond)
		run(input.DispatchMouseEvent(input.MousePressed, float64(x), float64(y)).
			WithButton(btn).WithClickCount(2).WithModifiers(input.Modifier(modifiers)))
		run(input.DispatchMouseEvent(input.MouseReleased, float64(x), float64(y)).
			WithButton(btn).WithClickCount(2).WithModifiers(input.Modifier(modifiers)))
	default:
		// Unknown actions are no-ops (spec §4.C point 3).
	}
}

// DispatchKey synthesizes Input.dispatchKeyEvent calls for a wire keyboard
// action. press emits keyDown, an optional char event when text is
// present, then keyUp.
func (c *Channel) DispatchKey(action, key, text string, modifiers int64) {
	run := func(a chromedp.Action) {
		c.rpcMu.Lock()
		defer c.rpcMu.Unlock()
		if err := chromedp.Run(c.ctx, a); err != nil {
			c.log.Debug().Err(err).Str("action", action).Msg("key dispatch failed, swallowed")
		}
	}

	code, _ := inputmap.WindowsVirtualKeyCode(key)

	keyDown := func() {
		a := input.DispatchKeyEvent(input.KeyDown).
			WithKey(key).WithModifiers(input.Modifier(modifiers))
		if code != 0 {
			a = a.WithWindowsVirtualKeyCode(int64(code)).WithNativeVirtualKeyCode(int64(code))
		}
		run(a)
	}
	keyUp := func() {
		a := input.DispatchKeyEvent(input.KeyUp).
			WithKey(key).WithModifiers(input.Modifier(modifiers))
		if code != 0 {
			a = a.WithWindowsVirtualKeyCode(int64(code)).WithNativeVirtualKeyCode(int64(code))
		}
		run(a)
	}
	charEvent := func() {
		run(input.DispatchKeyEvent(input.KeyChar).
			WithText(text).WithModifiers(input.Modifier(modifiers)))
	}

	switch action {
	case protocol.KeyDown:
		keyDown()
	case protocol.KeyUp:
		keyUp()
	case protocol.KeyPress:
		keyDown()
		if text != "" {
			charEvent()
		}
		keyUp()
	default:
		// Unknown actions are no-ops.
	}
}

// Close stops the screencast and releases channel resources. Idempotent.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.StopScreencast()
}
