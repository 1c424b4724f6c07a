package display

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSocketPath(t *testing.T) {
	assert.Equal(t, "/tmp/.X11-unix/X99", socketPath(99))
	assert.Equal(t, "/tmp/.X11-unix/X7", socketPath(7))
}

func TestHasGraphicalDisplay(t *testing.T) {
	origDisplay := os.Getenv("DISPLAY")
	origWayland := os.Getenv("WAYLAND_DISPLAY")
	defer os.Setenv("DISPLAY", origDisplay)
	defer os.Setenv("WAYLAND_DISPLAY", origWayland)

	require.NoError(t, os.Unsetenv("DISPLAY"))
	require.NoError(t, os.Unsetenv("WAYLAND_DISPLAY"))
	assert.False(t, hasGraphicalDisplay())

	require.NoError(t, os.Setenv("DISPLAY", ":0"))
	assert.True(t, hasGraphicalDisplay())
}

func TestStartIsNoOpWhenHeadless(t *testing.T) {
	b := New(Options{})
	assert.NoError(t, b.Start(true))
	assert.Nil(t, b.cmd)
}

func TestStartIsNoOpWhenDisplayAlreadyPresent(t *testing.T) {
	orig := os.Getenv("DISPLAY")
	defer os.Setenv("DISPLAY", orig)
	require.NoError(t, os.Setenv("DISPLAY", ":0"))

	b := New(Options{})
	assert.NoError(t, b.Start(false))
	assert.Nil(t, b.cmd)
}

func TestStopIsIdempotentWithoutStart(t *testing.T) {
	b := New(Options{})
	assert.NotPanics(t, func() { b.Stop() })
	assert.NotPanics(t, func() { b.Stop() })
}

func TestNewAppliesDefaults(t *testing.T) {
	b := New(Options{})
	assert.Equal(t, 99, b.displayNum)
	assert.Equal(t, DefaultPollTimeout, b.pollTimeout)
}
