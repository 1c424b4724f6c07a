// Package errcode holds the stable wire error codes from spec §7, shared by
// every layer that can produce a result{ok:false, error:{code,...}} envelope.
package errcode

// Connection-plane.
const (
	ConnectionFailed  = "CONNECTION_FAILED"
	ConnectionTimeout = "CONNECTION_TIMEOUT"
	ConnectionClosed  = "CONNECTION_CLOSED"
	NotConnected      = "NOT_CONNECTED"
	ReconnectFailed   = "RECONNECT_FAILED"
)

// Command-plane.
const (
	CommandTimeout = "COMMAND_TIMEOUT"
	CommandFailed  = "COMMAND_FAILED"
	UnknownMethod  = "UNKNOWN_METHOD"
	InvalidParams  = "INVALID_PARAMS"
	ExecutionError = "EXECUTION_ERROR"
	Cancelled      = "CANCELLED"
)

// Engine-plane.
const (
	SelectorNotFound = "SELECTOR_NOT_FOUND"
	SelectorError    = "SELECTOR_ERROR"
	NavigationError  = "NAVIGATION_ERROR"
	Timeout          = "TIMEOUT"
)

// Session-plane.
const (
	SessionNotFound     = "SESSION_NOT_FOUND"
	SessionLimitReached = "SESSION_LIMIT_REACHED"
	SessionCreationFailed = "SESSION_CREATION_FAILED"
)

// Provider-plane. Reserved for external bootstrap errors; the core never
// emits this itself.
const ProviderError = "PROVIDER_ERROR"

// Error is a wire-facing error with a stable code, satisfying the standard
// error interface so it can flow through normal Go error handling up to the
// point a ResultError is built from it.
type Error struct {
	Code    string
	Message string
	Details interface{}
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

// New constructs an *Error.
func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithDetails attaches a details payload and returns the same *Error.
func (e *Error) WithDetails(d interface{}) *Error {
	e.Details = d
	return e
}
