package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCmd(t *testing.T) {
	raw := []byte(`{"type":"cmd","id":"a","method":"navigate","params":{"url":"https://example.com"}}`)
	msg, err := Parse(raw)
	require.NoError(t, err)
	cmd, ok := msg.(*CmdMessage)
	require.True(t, ok)
	assert.Equal(t, "a", cmd.ID)
	assert.Equal(t, "navigate", cmd.Method)
	assert.Equal(t, "https://example.com", cmd.Params["url"])
}

func TestParseCmdUnknownMethodIsNotAParseError(t *testing.T) {
	raw := []byte(`{"type":"cmd","id":"a","method":"doesNotExist"}`)
	msg, err := Parse(raw)
	require.NoError(t, err)
	cmd := msg.(*CmdMessage)
	assert.Equal(t, "doesNotExist", cmd.Method)
}

func TestParseCmdMissingFieldFails(t *testing.T) {
	raw := []byte(`{"type":"cmd","id":"a"}`)
	_, err := Parse(raw)
	require.Error(t, err)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
}

func TestParseInputUnknownDeviceFails(t *testing.T) {
	raw := []byte(`{"type":"input","device":"gamepad","action":"move"}`)
	_, err := Parse(raw)
	require.Error(t, err)
}

func TestParseInputUnknownMouseActionFails(t *testing.T) {
	raw := []byte(`{"type":"input","device":"mouse","action":"teleport"}`)
	_, err := Parse(raw)
	require.Error(t, err)
}

func TestParseInputValid(t *testing.T) {
	raw := []byte(`{"type":"input","device":"mouse","action":"click","x":1,"y":2}`)
	msg, err := Parse(raw)
	require.NoError(t, err)
	in := msg.(*InputMessage)
	assert.Equal(t, DeviceMouse, in.Device)
	assert.Equal(t, MouseClick, in.Action)
}

func TestParsePing(t *testing.T) {
	raw := []byte(`{"type":"ping","t":12345}`)
	msg, err := Parse(raw)
	require.NoError(t, err)
	ping := msg.(*PingMessage)
	assert.Equal(t, int64(12345), ping.T)
}

func TestParseUnknownType(t *testing.T) {
	_, err := Parse([]byte(`{"type":"nonsense"}`))
	require.Error(t, err)
}

func TestParseMalformedJSON(t *testing.T) {
	_, err := Parse([]byte(`not json`))
	require.Error(t, err)
}

func TestSerializeNeverErrors(t *testing.T) {
	msgs := []interface{}{
		&CmdMessage{ID: "1", Method: "navigate"},
		&InputMessage{Device: DeviceMouse, Action: MouseMove},
		&PingMessage{T: 1},
		&FrameMessage{Format: "jpeg", Data: "abcd"},
		&ResultMessage{ID: "1", OK: true, Result: map[string]string{"url": "x"}},
		&ResultMessage{ID: "1", OK: false, Error: &ResultError{Code: "TIMEOUT", Message: "boom"}},
		&EventMessage{Name: EventReady},
		&PongMessage{T: 1},
		&InterventionCreatedMessage{ID: "1", InterventionID: "iv1"},
		&InterventionCompletedMessage{ID: "1", InterventionID: "iv1", ResolvedAt: 99},
	}
	for _, m := range msgs {
		b, err := Serialize(m)
		require.NoError(t, err)
		assert.Contains(t, string(b), `"type":`)
	}
}

func TestRoundTripPing(t *testing.T) {
	orig := &PingMessage{T: 42}
	b, err := Serialize(orig)
	require.NoError(t, err)
	parsed, err := Parse(b)
	require.NoError(t, err)
	assert.Equal(t, orig, parsed)
}

func TestRoundTripCmd(t *testing.T) {
	orig := &CmdMessage{ID: "x", Method: "evaluate", Params: map[string]interface{}{"expression": "1+1"}}
	b, err := Serialize(orig)
	require.NoError(t, err)
	parsed, err := Parse(b)
	require.NoError(t, err)
	assert.Equal(t, orig, parsed)
}

func TestRoundTripInput(t *testing.T) {
	orig := &InputMessage{Device: DeviceMouse, Action: MouseClick, X: 10, Y: 20}
	b, err := Serialize(orig)
	require.NoError(t, err)
	parsed, err := Parse(b)
	require.NoError(t, err)
	assert.Equal(t, orig, parsed)
}

func TestRoundTripFrame(t *testing.T) {
	orig := &FrameMessage{
		Format:    "jpeg",
		Data:      "abcd",
		Viewport:  Viewport{Width: 1280, Height: 720, DevicePixelRatio: 1},
		Timestamp: 1700000000000,
	}
	b, err := Serialize(orig)
	require.NoError(t, err)
	parsed, err := Parse(b)
	require.NoError(t, err)
	assert.Equal(t, orig, parsed)
}

func TestRoundTripResultSuccess(t *testing.T) {
	orig := &ResultMessage{ID: "c1", OK: true, Result: "done"}
	b, err := Serialize(orig)
	require.NoError(t, err)
	parsed, err := Parse(b)
	require.NoError(t, err)
	assert.Equal(t, orig, parsed)
}

func TestRoundTripResultFailure(t *testing.T) {
	orig := &ResultMessage{ID: "c1", OK: false, Error: &ResultError{Code: "TIMEOUT", Message: "boom"}}
	b, err := Serialize(orig)
	require.NoError(t, err)
	parsed, err := Parse(b)
	require.NoError(t, err)
	assert.Equal(t, orig, parsed)
}

func TestRoundTripEvent(t *testing.T) {
	orig := &EventMessage{Name: EventNavigated, Data: "https://example.com"}
	b, err := Serialize(orig)
	require.NoError(t, err)
	parsed, err := Parse(b)
	require.NoError(t, err)
	assert.Equal(t, orig, parsed)
}

func TestRoundTripPong(t *testing.T) {
	orig := &PongMessage{T: 99}
	b, err := Serialize(orig)
	require.NoError(t, err)
	parsed, err := Parse(b)
	require.NoError(t, err)
	assert.Equal(t, orig, parsed)
}

func TestRoundTripInterventionCreated(t *testing.T) {
	orig := &InterventionCreatedMessage{ID: "c1", InterventionID: "iv1", ViewerURL: "https://host/sessions/s1/viewer"}
	b, err := Serialize(orig)
	require.NoError(t, err)
	parsed, err := Parse(b)
	require.NoError(t, err)
	assert.Equal(t, orig, parsed)
}

func TestRoundTripInterventionCompleted(t *testing.T) {
	orig := &InterventionCompletedMessage{ID: "c1", InterventionID: "iv1", ResolvedAt: 1700000000000}
	b, err := Serialize(orig)
	require.NoError(t, err)
	parsed, err := Parse(b)
	require.NoError(t, err)
	assert.Equal(t, orig, parsed)
}
