package debugchannel

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/browserhive/remotebrowser/internal/protocol"
)

func TestScreencastOptionsDefaults(t *testing.T) {
	opts := ScreencastOptions{}.withDefaults()
	assert.Equal(t, 60, opts.Quality)
	assert.Equal(t, 1280, opts.MaxWidth)
	assert.Equal(t, 720, opts.MaxHeight)
	assert.Equal(t, 1, opts.EveryNthFrame)
}

func TestScreencastOptionsPreservesNonZero(t *testing.T) {
	opts := ScreencastOptions{Quality: 80, MaxWidth: 640, MaxHeight: 480, EveryNthFrame: 2}.withDefaults()
	assert.Equal(t, 80, opts.Quality)
	assert.Equal(t, 640, opts.MaxWidth)
	assert.Equal(t, 480, opts.MaxHeight)
	assert.Equal(t, 2, opts.EveryNthFrame)
}

// newTestChannel builds a Channel without attaching it to a live chromedp
// context, exercising only the pure bookkeeping paths (frame/event buffers,
// viewport caching) that don't require a browser.
func newTestChannel() *Channel {
	return &Channel{
		frames:          make(chan Frame, 8),
		events:          make(chan Event, 8),
		browserViewport: protocol.Viewport{Width: 1280, Height: 720, DevicePixelRatio: 1},
	}
}

func TestFrameChannelDropsOldestWhenFull(t *testing.T) {
	c := newTestChannel()
	for i := 0; i < 8; i++ {
		c.frames <- Frame{Data: "a"}
	}

	select {
	case c.frames <- Frame{Data: "newest"}:
		t.Fatal("expected channel to be full")
	default:
	}

	// Mirror the drop-oldest behavior exercised in onTargetEvent's select.
	select {
	case <-c.frames:
	default:
	}
	c.frames <- Frame{Data: "newest"}

	var last Frame
	for i := 0; i < 8; i++ {
		last = <-c.frames
	}
	assert.Equal(t, "newest", last.Data)
}

func TestEventsBufferHoldsReadyEvent(t *testing.T) {
	c := newTestChannel()
	c.events <- Event{Name: protocol.EventReady, Data: c.browserViewport}

	ev := <-c.events
	assert.Equal(t, protocol.EventReady, ev.Name)
	assert.Equal(t, protocol.Viewport{Width: 1280, Height: 720, DevicePixelRatio: 1}, ev.Data)
}
