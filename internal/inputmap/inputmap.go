// Package inputmap maps client-space input events (coordinates, modifier
// sets, mouse buttons, key actions) onto Chrome DevTools Protocol
// Input.dispatch* event shapes. Every function here is pure: no I/O, no
// browser handle, just the wire <-> CDP translation described in spec §4.B.
package inputmap

import "math"

// ModifierSet mirrors protocol.InputMessage.Modifiers.
type ModifierSet struct {
	Alt   bool
	Ctrl  bool
	Meta  bool
	Shift bool
}

// CDP modifier bit values, fixed by Input.dispatchMouseEvent/dispatchKeyEvent.
const (
	modAlt   = 1
	modCtrl  = 2
	modMeta  = 4
	modShift = 8
)

// FlagsFromSet bit-packs a ModifierSet into the CDP modifier bitmask.
func FlagsFromSet(s ModifierSet) int64 {
	var f int64
	if s.Alt {
		f |= modAlt
	}
	if s.Ctrl {
		f |= modCtrl
	}
	if s.Meta {
		f |= modMeta
	}
	if s.Shift {
		f |= modShift
	}
	return f
}

// SetFromFlags is the inverse of FlagsFromSet.
func SetFromFlags(f int64) ModifierSet {
	return ModifierSet{
		Alt:   f&modAlt != 0,
		Ctrl:  f&modCtrl != 0,
		Meta:  f&modMeta != 0,
		Shift: f&modShift != 0,
	}
}

// MapPoint scales a client-viewport point (x,y) in a client viewport
// W x H into the browser viewport w x h, clamped into [0,w-1] x [0,h-1].
// If either source dimension is <= 0 the result is (0,0); this is kept
// deliberately (spec §9 Open Questions) rather than "corrected".
func MapPoint(x, y float64, clientW, clientH, browserW, browserH int) (int, int) {
	if clientW <= 0 || clientH <= 0 || browserW <= 0 || browserH <= 0 {
		return 0, 0
	}
	xp := clamp(int(math.Round(x*float64(browserW)/float64(clientW))), 0, browserW-1)
	yp := clamp(int(math.Round(y*float64(browserH)/float64(clientH))), 0, browserH-1)
	return xp, yp
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// MouseButton returns the CDP mouse button name for a wire button string.
// left/middle/right pass through unchanged; anything else becomes "none".
func MouseButton(btn string) string {
	switch btn {
	case "left", "middle", "right":
		return btn
	default:
		return "none"
	}
}

// CDP Input.dispatchMouseEvent "type" values.
const (
	CDPMouseMoved    = "mouseMoved"
	CDPMousePressed  = "mousePressed"
	CDPMouseReleased = "mouseReleased"
	CDPMouseWheel    = "mouseWheel"
)

// MouseEventType maps a wire mouse action to its CDP event type. click and
// dblclick have no single CDP type — the debug channel decomposes them into
// pressed+released pairs (see internal/debugchannel).
func MouseEventType(action string) (cdpType string, ok bool) {
	switch action {
	case "move":
		return CDPMouseMoved, true
	case "down":
		return CDPMousePressed, true
	case "up":
		return CDPMouseReleased, true
	case "wheel":
		return CDPMouseWheel, true
	default:
		return "", false
	}
}

// CDP Input.dispatchKeyEvent "type" values.
const (
	CDPKeyDown = "keyDown"
	CDPKeyUp   = "keyUp"
)

// windowsVirtualKeyCodes covers the common control/arrow/function/space/
// alphanumeric set. Keys outside this table are left unset (0), matching
// spec §4.B: "otherwise unset".
var windowsVirtualKeyCodes = map[string]int{
	"Backspace": 0x08, "Tab": 0x09, "Enter": 0x0D, "Shift": 0x10,
	"Control": 0x11, "Alt": 0x12, "Pause": 0x13, "CapsLock": 0x14,
	"Escape": 0x1B, "Space": 0x20, " ": 0x20,
	"PageUp": 0x21, "PageDown": 0x22, "End": 0x23, "Home": 0x24,
	"ArrowLeft": 0x25, "ArrowUp": 0x26, "ArrowRight": 0x27, "ArrowDown": 0x28,
	"Insert": 0x2D, "Delete": 0x2E,
	"0": 0x30, "1": 0x31, "2": 0x32, "3": 0x33, "4": 0x34,
	"5": 0x35, "6": 0x36, "7": 0x37, "8": 0x38, "9": 0x39,
	"a": 0x41, "b": 0x42, "c": 0x43, "d": 0x44, "e": 0x45, "f": 0x46,
	"g": 0x47, "h": 0x48, "i": 0x49, "j": 0x4A, "k": 0x4B, "l": 0x4C,
	"m": 0x4D, "n": 0x4E, "o": 0x4F, "p": 0x50, "q": 0x51, "r": 0x52,
	"s": 0x53, "t": 0x54, "u": 0x55, "v": 0x56, "w": 0x57, "x": 0x58,
	"y": 0x59, "z": 0x5A,
	"Meta": 0x5B,
	"F1": 0x70, "F2": 0x71, "F3": 0x72, "F4": 0x73, "F5": 0x74, "F6": 0x75,
	"F7": 0x76, "F8": 0x77, "F9": 0x78, "F10": 0x79, "F11": 0x7A, "F12": 0x7B,
}

// WindowsVirtualKeyCode looks up the Windows virtual-key code for a key
// name. ok is false when the key is outside the covered set.
func WindowsVirtualKeyCode(key string) (code int, ok bool) {
	code, ok = windowsVirtualKeyCodes[key]
	return
}

// KeyEventTypesForAction returns the ordered CDP key event types to emit
// for a wire key action. press emits keyDown then keyUp (with an optional
// char event injected by the caller between them when text is present).
func KeyEventTypesForAction(action string) []string {
	switch action {
	case "down":
		return []string{CDPKeyDown}
	case "up":
		return []string{CDPKeyUp}
	case "press":
		return []string{CDPKeyDown, CDPKeyUp}
	default:
		return nil
	}
}
