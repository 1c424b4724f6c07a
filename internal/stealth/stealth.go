// Package stealth defines the hook points a session's page lifecycle calls
// into an external fingerprint/anti-detection layer. The layer's actual
// anti-detection logic is out of scope (Non-goals); only its seams are
// modeled so internal/session has somewhere concrete to call.
package stealth

// Hooks is implemented by whatever external fingerprint-profile provider is
// wired into the Registry. A zero-value NoOp satisfies it trivially.
type Hooks interface {
	// Init returns JavaScript sources to install on the new page via
	// Page.addScriptToEvaluateOnNewDocument, before any navigation, keyed
	// by the session that will own them.
	Init(sessionID string) []string

	// Cleanup releases any state the provider tracks for sessionID. Called
	// from destroySession, exactly once per session, even if Init was
	// never called for it (idempotent).
	Cleanup(sessionID string)
}

// NoOp is the zero-configuration Hooks implementation: no init scripts, no
// per-session state to clean up. Used when no external provider is wired.
type NoOp struct{}

func (NoOp) Init(string) []string { return nil }
func (NoOp) Cleanup(string)       {}
