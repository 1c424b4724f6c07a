// Package intervention implements the Intervention Coordinator (spec §4.F):
// an at-most-one-pending-per-session rendezvous between a parked command
// and a human operator's "complete" signal.
//
// Grounded on the teacher's proxy.BrowserSession.internalCmds correlation
// map (internal/proxy/router.go: map[int]chan json.RawMessage, one entry
// per in-flight internal command) — repurposed here into a single-shot
// completion channel keyed by intervention id instead of command id, since
// (per Design Note §9) this must never reuse the Command Queue's own result
// channel: the parked command and the intervention are different rendezvous
// primitives that happen to be triggered by the same human action.
package intervention

import (
	"sync"
	"time"

	"github.com/browserhive/remotebrowser/internal/errcode"
)

// Status is an Intervention's lifecycle state.
type Status int

const (
	Pending Status = iota
	Completed
	Cancelled
)

// Intervention is one human-in-the-loop request.
type Intervention struct {
	ID                    string
	SessionID             string
	Reason                string
	Instructions          string
	Status                Status
	CreatedAt             time.Time
	ResolvedAt            time.Time
	OriginatingCommandID  string

	done chan struct{}
}

// CreateParams are the inputs to Create.
type CreateParams struct {
	SessionID      string
	Reason         string
	Instructions   string
	CommandID      string
	InterventionID string // caller-supplied id, e.g. uuid; required
}

// Coordinator owns the id->Intervention map and the session->active-id map.
type Coordinator struct {
	mu          sync.Mutex
	byID        map[string]*Intervention
	bySession   map[string]string // sessionID -> interventionID
}

// New constructs an empty Coordinator.
func New() *Coordinator {
	return &Coordinator{
		byID:      make(map[string]*Intervention),
		bySession: make(map[string]string),
	}
}

// Create registers a new Pending intervention. Fails if the session already
// has one pending. The returned Intervention's done channel closes when
// Complete or Cancel resolves it; callers that need to park a command
// should select on it.
func (c *Coordinator) Create(p CreateParams) (*Intervention, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.bySession[p.SessionID]; exists {
		return nil, errcode.New(errcode.CommandFailed, "session already has a pending intervention")
	}

	iv := &Intervention{
		ID:                   p.InterventionID,
		SessionID:            p.SessionID,
		Reason:               p.Reason,
		Instructions:         p.Instructions,
		Status:               Pending,
		CreatedAt:            time.Now(),
		OriginatingCommandID: p.CommandID,
		done:                 make(chan struct{}),
	}
	c.byID[iv.ID] = iv
	c.bySession[p.SessionID] = iv.ID
	return iv, nil
}

// Done returns the channel that closes once iv resolves (Completed or
// Cancelled). Safe to read from concurrently with Complete/Cancel.
func (iv *Intervention) Done() <-chan struct{} { return iv.done }

// Complete transitions interventionID Pending->Completed. No-op (returns
// false) if it isn't Pending or doesn't exist.
func (c *Coordinator) Complete(interventionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	iv, ok := c.byID[interventionID]
	if !ok || iv.Status != Pending {
		return false
	}
	iv.Status = Completed
	iv.ResolvedAt = time.Now()
	delete(c.bySession, iv.SessionID)
	close(iv.done)
	return true
}

// Cancel transitions interventionID Pending->Cancelled without signaling
// completion semantics beyond unparking the waiter.
func (c *Coordinator) Cancel(interventionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	iv, ok := c.byID[interventionID]
	if !ok || iv.Status != Pending {
		return false
	}
	iv.Status = Cancelled
	iv.ResolvedAt = time.Now()
	delete(c.bySession, iv.SessionID)
	close(iv.done)
	return true
}

// CancelBySession cancels sessionID's pending intervention, if any. Called
// unconditionally from destroySession.
func (c *Coordinator) CancelBySession(sessionID string) {
	c.mu.Lock()
	id, ok := c.bySession[sessionID]
	c.mu.Unlock()
	if !ok {
		return
	}
	c.Cancel(id)
}

// ListPending returns all currently Pending interventions.
func (c *Coordinator) ListPending() []*Intervention {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []*Intervention
	for _, iv := range c.byID {
		if iv.Status == Pending {
			out = append(out, iv)
		}
	}
	return out
}

// CleanupOld removes resolved interventions older than maxAge from the
// ledger, so it doesn't grow unbounded over a long-lived process.
func (c *Coordinator) CleanupOld(maxAge time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	for id, iv := range c.byID {
		if iv.Status != Pending && iv.ResolvedAt.Before(cutoff) {
			delete(c.byID, id)
		}
	}
}

// Get looks up an intervention by id.
func (c *Coordinator) Get(id string) (*Intervention, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	iv, ok := c.byID[id]
	return iv, ok
}
