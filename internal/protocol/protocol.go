// Package protocol defines the tagged JSON message schema exchanged between
// clients and the remote browser service, and its parse/serialize boundary.
//
// Client->Server: cmd, input, ping.
// Server->Client: frame, result, event, pong, intervention_created, intervention_completed.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Message type tags, stable on the wire.
const (
	TypeCmd                    = "cmd"
	TypeInput                  = "input"
	TypePing                   = "ping"
	TypeFrame                  = "frame"
	TypeResult                 = "result"
	TypeEvent                  = "event"
	TypePong                   = "pong"
	TypeInterventionCreated    = "intervention_created"
	TypeInterventionCompleted  = "intervention_completed"
)

// Device kinds for input messages.
const (
	DeviceMouse = "mouse"
	DeviceKey   = "key"
)

// Mouse actions.
const (
	MouseMove     = "move"
	MouseDown     = "down"
	MouseUp       = "up"
	MouseClick    = "click"
	MouseDblClick = "dblclick"
	MouseWheel    = "wheel"
)

// Keyboard actions.
const (
	KeyDown  = "down"
	KeyUp    = "up"
	KeyPress = "press"
)

// Event names carried by event{} messages.
const (
	EventReady     = "ready"
	EventNavigated = "navigated"
	EventConsole   = "console"
	EventError     = "error"
)

// Methods accepted at the protocol boundary. Parsing never validates method
// against this set — an unknown method parses fine and is rejected later by
// the executor with UNKNOWN_METHOD (see internal/commandqueue).
const (
	MethodNavigate           = "navigate"
	MethodClick              = "click"
	MethodDblClick           = "dblclick"
	MethodHover              = "hover"
	MethodType               = "type"
	MethodPress              = "press"
	MethodFill               = "fill"
	MethodWaitForSelector    = "waitForSelector"
	MethodSetViewport        = "setViewport"
	MethodEvaluate           = "evaluate"
	MethodScreenshot         = "screenshot"
	MethodGoBack             = "goBack"
	MethodGoForward          = "goForward"
	MethodReload             = "reload"
	MethodRequestIntervention = "requestHumanIntervention"
)

// Viewport is the semantic {w,h,dpr} triple used throughout the wire protocol.
type Viewport struct {
	Width            int     `json:"width"`
	Height           int     `json:"height"`
	DevicePixelRatio float64 `json:"dpr"`
}

// ParseError is returned for structurally invalid wire messages: missing
// required fields, wrong scalar types, or an unknown enum value for
// device/mouse-action/key-action. An unknown cmd.method is NOT a parse error.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string { return "protocol: " + e.Reason }

type envelope struct {
	Type string `json:"type"`
}

// CmdMessage is a client->server command request.
type CmdMessage struct {
	ID     string                 `json:"id"`
	Method string                 `json:"method"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// InputMessage is a client->server raw input event.
type InputMessage struct {
	Device    string  `json:"device"`
	Action    string  `json:"action"`
	X         float64 `json:"x,omitempty"`
	Y         float64 `json:"y,omitempty"`
	Button    string  `json:"button,omitempty"`
	DeltaX    float64 `json:"deltaX,omitempty"`
	DeltaY    float64 `json:"deltaY,omitempty"`
	Key       string  `json:"key,omitempty"`
	Code      string  `json:"code,omitempty"`
	Text      string  `json:"text,omitempty"`
	Modifiers struct {
		Ctrl  bool `json:"ctrl,omitempty"`
		Shift bool `json:"shift,omitempty"`
		Alt   bool `json:"alt,omitempty"`
		Meta  bool `json:"meta,omitempty"`
	} `json:"modifiers,omitempty"`
	ClientViewport  Viewport `json:"clientViewport"`
	BrowserViewport Viewport `json:"browserViewport"`
}

// PingMessage is a client->server keepalive.
type PingMessage struct {
	T int64 `json:"t"`
}

// FrameMessage is a server->client screencast frame.
type FrameMessage struct {
	Format    string   `json:"format"`
	Data      string   `json:"data"`
	Viewport  Viewport `json:"viewport"`
	Timestamp int64    `json:"timestamp"`
}

// ResultError carries a stable error code with an optional detail payload.
type ResultError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// ResultMessage is the single envelope produced per command, success or failure.
type ResultMessage struct {
	ID     string       `json:"id"`
	OK     bool         `json:"ok"`
	Result interface{}  `json:"result,omitempty"`
	Error  *ResultError `json:"error,omitempty"`
}

// EventMessage is a server->client out-of-band notification.
type EventMessage struct {
	Name string      `json:"name"`
	Data interface{} `json:"data,omitempty"`
}

// PongMessage answers a PingMessage.
type PongMessage struct {
	T int64 `json:"t"`
}

// InterventionCreatedMessage brackets the start of a human intervention.
type InterventionCreatedMessage struct {
	ID             string `json:"id"`
	InterventionID string `json:"interventionId"`
	ViewerURL      string `json:"viewerUrl"`
}

// InterventionCompletedMessage brackets the end of a human intervention.
type InterventionCompletedMessage struct {
	ID             string `json:"id"`
	InterventionID string `json:"interventionId"`
	ResolvedAt     int64  `json:"resolvedAt"`
}

var validDevices = map[string]bool{DeviceMouse: true, DeviceKey: true}
var validMouseActions = map[string]bool{
	MouseMove: true, MouseDown: true, MouseUp: true,
	MouseClick: true, MouseDblClick: true, MouseWheel: true,
}
var validKeyActions = map[string]bool{KeyDown: true, KeyUp: true, KeyPress: true}

// Parse decodes a single wire message and returns the concrete message
// value. It handles every type Serialize produces, client->server
// (*CmdMessage, *InputMessage, *PingMessage) and server->client
// (*FrameMessage, *ResultMessage, *EventMessage, *PongMessage,
// *InterventionCreatedMessage, *InterventionCompletedMessage), so that
// parse(serialize(m)) reconstructs m for every message this package defines.
// Client->server types get field-presence validation since they arrive from
// untrusted network input; server->client types are decoded directly since
// this package is their only producer.
func Parse(raw []byte) (interface{}, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &ParseError{Reason: "malformed JSON: " + err.Error()}
	}

	switch env.Type {
	case TypeCmd:
		var m struct {
			ID     *string                `json:"id"`
			Method *string                `json:"method"`
			Params map[string]interface{} `json:"params"`
		}
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, &ParseError{Reason: "cmd: " + err.Error()}
		}
		if m.ID == nil || m.Method == nil {
			return nil, &ParseError{Reason: "cmd: missing required field id/method"}
		}
		return &CmdMessage{ID: *m.ID, Method: *m.Method, Params: m.Params}, nil

	case TypeInput:
		var raw2 struct {
			Device *string `json:"device"`
			Action *string `json:"action"`
		}
		if err := json.Unmarshal(raw, &raw2); err != nil {
			return nil, &ParseError{Reason: "input: " + err.Error()}
		}
		if raw2.Device == nil || raw2.Action == nil {
			return nil, &ParseError{Reason: "input: missing required field device/action"}
		}
		if !validDevices[*raw2.Device] {
			return nil, &ParseError{Reason: fmt.Sprintf("input: unknown device %q", *raw2.Device)}
		}
		if *raw2.Device == DeviceMouse && !validMouseActions[*raw2.Action] {
			return nil, &ParseError{Reason: fmt.Sprintf("input: unknown mouse action %q", *raw2.Action)}
		}
		if *raw2.Device == DeviceKey && !validKeyActions[*raw2.Action] {
			return nil, &ParseError{Reason: fmt.Sprintf("input: unknown key action %q", *raw2.Action)}
		}
		var m InputMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, &ParseError{Reason: "input: " + err.Error()}
		}
		return &m, nil

	case TypePing:
		var m struct {
			T *int64 `json:"t"`
		}
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, &ParseError{Reason: "ping: " + err.Error()}
		}
		if m.T == nil {
			return nil, &ParseError{Reason: "ping: missing required field t"}
		}
		return &PingMessage{T: *m.T}, nil

	case TypeFrame:
		var m FrameMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, &ParseError{Reason: "frame: " + err.Error()}
		}
		return &m, nil

	case TypeResult:
		var m ResultMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, &ParseError{Reason: "result: " + err.Error()}
		}
		return &m, nil

	case TypeEvent:
		var m EventMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, &ParseError{Reason: "event: " + err.Error()}
		}
		return &m, nil

	case TypePong:
		var m PongMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, &ParseError{Reason: "pong: " + err.Error()}
		}
		return &m, nil

	case TypeInterventionCreated:
		var m InterventionCreatedMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, &ParseError{Reason: "intervention_created: " + err.Error()}
		}
		return &m, nil

	case TypeInterventionCompleted:
		var m InterventionCompletedMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, &ParseError{Reason: "intervention_completed: " + err.Error()}
		}
		return &m, nil

	default:
		return nil, &ParseError{Reason: fmt.Sprintf("unknown message type %q", env.Type)}
	}
}

// Serialize is a total function: it always succeeds for the message types
// defined in this package, tagging the envelope with the correct "type".
func Serialize(msg interface{}) ([]byte, error) {
	var tagged map[string]interface{}

	wrap := func(tag string, v interface{}) ([]byte, error) {
		b, err := json.Marshal(v)
		if err != nil {
			// Unreachable for well-formed struct values; kept defensive
			// since Serialize is documented as total.
			return json.Marshal(map[string]string{"type": tag})
		}
		if err := json.Unmarshal(b, &tagged); err != nil {
			return json.Marshal(map[string]string{"type": tag})
		}
		tagged["type"] = tag
		return json.Marshal(tagged)
	}

	switch m := msg.(type) {
	case *CmdMessage:
		return wrap(TypeCmd, m)
	case CmdMessage:
		return wrap(TypeCmd, m)
	case *InputMessage:
		return wrap(TypeInput, m)
	case InputMessage:
		return wrap(TypeInput, m)
	case *PingMessage:
		return wrap(TypePing, m)
	case PingMessage:
		return wrap(TypePing, m)
	case *FrameMessage:
		return wrap(TypeFrame, m)
	case FrameMessage:
		return wrap(TypeFrame, m)
	case *ResultMessage:
		return wrap(TypeResult, m)
	case ResultMessage:
		return wrap(TypeResult, m)
	case *EventMessage:
		return wrap(TypeEvent, m)
	case EventMessage:
		return wrap(TypeEvent, m)
	case *PongMessage:
		return wrap(TypePong, m)
	case PongMessage:
		return wrap(TypePong, m)
	case *InterventionCreatedMessage:
		return wrap(TypeInterventionCreated, m)
	case InterventionCreatedMessage:
		return wrap(TypeInterventionCreated, m)
	case *InterventionCompletedMessage:
		return wrap(TypeInterventionCompleted, m)
	case InterventionCompletedMessage:
		return wrap(TypeInterventionCompleted, m)
	default:
		return json.Marshal(map[string]string{"type": "unknown"})
	}
}
