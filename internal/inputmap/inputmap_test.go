package inputmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapPointOrigin(t *testing.T) {
	x, y := MapPoint(0, 0, 640, 360, 1280, 720)
	assert.Equal(t, 0, x)
	assert.Equal(t, 0, y)
}

func TestMapPointScales(t *testing.T) {
	x, y := MapPoint(320, 180, 640, 360, 1280, 720)
	assert.Equal(t, 640, x)
	assert.Equal(t, 360, y)
}

func TestMapPointFarCorner(t *testing.T) {
	x, y := MapPoint(639, 359, 640, 360, 1280, 720)
	assert.Equal(t, 1278, x)
	assert.Equal(t, 718, y)
}

func TestMapPointNegativeClampsToZero(t *testing.T) {
	x, y := MapPoint(-10, -10, 640, 360, 1280, 720)
	assert.Equal(t, 0, x)
	assert.Equal(t, 0, y)
}

func TestMapPointBeyondViewportClampsToMax(t *testing.T) {
	x, y := MapPoint(10000, 10000, 640, 360, 1280, 720)
	assert.Equal(t, 1279, x)
	assert.Equal(t, 719, y)
}

func TestMapPointZeroSourceDimension(t *testing.T) {
	x, y := MapPoint(100, 100, 0, 360, 1280, 720)
	assert.Equal(t, 0, x)
	assert.Equal(t, 0, y)

	x, y = MapPoint(100, 100, 640, 0, 1280, 720)
	assert.Equal(t, 0, x)
	assert.Equal(t, 0, y)
}

func TestMapPointIdempotentWhenViewportsMatch(t *testing.T) {
	x, y := MapPoint(123, 456, 1280, 720, 1280, 720)
	assert.Equal(t, 123, x)
	assert.Equal(t, 456, y)
}

func TestModifierFlagsRoundTrip(t *testing.T) {
	cases := []ModifierSet{
		{},
		{Alt: true},
		{Ctrl: true},
		{Meta: true},
		{Shift: true},
		{Alt: true, Ctrl: true, Meta: true, Shift: true},
		{Ctrl: true, Shift: true},
	}
	for _, s := range cases {
		flags := FlagsFromSet(s)
		assert.Equal(t, s, SetFromFlags(flags))
	}
}

func TestModifierFlagBitOrder(t *testing.T) {
	assert.EqualValues(t, 1, FlagsFromSet(ModifierSet{Alt: true}))
	assert.EqualValues(t, 2, FlagsFromSet(ModifierSet{Ctrl: true}))
	assert.EqualValues(t, 4, FlagsFromSet(ModifierSet{Meta: true}))
	assert.EqualValues(t, 8, FlagsFromSet(ModifierSet{Shift: true}))
}

func TestMouseButtonMapping(t *testing.T) {
	assert.Equal(t, "left", MouseButton("left"))
	assert.Equal(t, "middle", MouseButton("middle"))
	assert.Equal(t, "right", MouseButton("right"))
	assert.Equal(t, "none", MouseButton("back"))
	assert.Equal(t, "none", MouseButton(""))
}

func TestMouseEventTypeMapping(t *testing.T) {
	tp, ok := MouseEventType("move")
	assert.True(t, ok)
	assert.Equal(t, CDPMouseMoved, tp)

	tp, ok = MouseEventType("down")
	assert.True(t, ok)
	assert.Equal(t, CDPMousePressed, tp)

	tp, ok = MouseEventType("up")
	assert.True(t, ok)
	assert.Equal(t, CDPMouseReleased, tp)

	tp, ok = MouseEventType("wheel")
	assert.True(t, ok)
	assert.Equal(t, CDPMouseWheel, tp)

	_, ok = MouseEventType("click")
	assert.False(t, ok, "click is decomposed by the dispatcher, not mapped directly")
}

func TestWindowsVirtualKeyCode(t *testing.T) {
	code, ok := WindowsVirtualKeyCode("Enter")
	assert.True(t, ok)
	assert.Equal(t, 0x0D, code)

	code, ok = WindowsVirtualKeyCode("ArrowDown")
	assert.True(t, ok)
	assert.Equal(t, 0x28, code)

	_, ok = WindowsVirtualKeyCode("F24")
	assert.False(t, ok)
}

func TestKeyEventTypesForAction(t *testing.T) {
	assert.Equal(t, []string{CDPKeyDown}, KeyEventTypesForAction("down"))
	assert.Equal(t, []string{CDPKeyUp}, KeyEventTypesForAction("up"))
	assert.Equal(t, []string{CDPKeyDown, CDPKeyUp}, KeyEventTypesForAction("press"))
	assert.Nil(t, KeyEventTypesForAction("bogus"))
}
