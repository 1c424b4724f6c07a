// Package procsupervisor implements the Process Supervisor (spec §4.J):
// signal-sequenced graceful shutdown (close transports → close Registry →
// stop virtual display → exit). It does not search for or kill orphaned
// native browser subprocesses; it only runs the steps registered with it.
//
// Grounded on the teacher's cmd/clicker/serve.go shutdown shape (wait for a
// signal, then close the router, then stop the server) generalized from a
// two-step teardown to the service's full component chain.
package procsupervisor

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/browserhive/remotebrowser/internal/rblog"
)

// Stoppable is any component with a synchronous teardown step. Transports
// have no listener of their own to stop (they live inside the HTTP server),
// so "close transports" in spec §4.J is realized as shutting down the HTTP
// server first: it stops accepting new connections and waits, up to the
// caller's timeout, for in-flight requests. It does not close hijacked
// WebSocket connections, and SSE streams still open at the timeout are left
// open.
type Stoppable interface {
	Close() error
}

// Supervisor runs the shutdown sequence once, in order, on receipt of an
// interrupt or termination signal.
type Supervisor struct {
	log rblog.Logger

	// Steps run in slice order; each is a (name, func) pair so shutdown
	// logging can identify which step is in flight.
	steps []step
}

type step struct {
	name string
	fn   func() error
}

// New constructs an empty Supervisor.
func New(log rblog.Logger) *Supervisor {
	return &Supervisor{log: log}
}

// AddStep appends a named shutdown step, run in the order added.
func (s *Supervisor) AddStep(name string, fn func() error) {
	s.steps = append(s.steps, step{name: name, fn: fn})
}

// Wait blocks until SIGINT or SIGTERM, then runs every registered step in
// order, logging and continuing past individual step errors so one failing
// component never prevents the rest of the shutdown sequence from running.
func (s *Supervisor) Wait() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	<-ch
	signal.Stop(ch)

	s.log.Info().Msg("shutdown signal received, beginning graceful shutdown")
	for _, st := range s.steps {
		if err := st.fn(); err != nil {
			s.log.Warn().Err(err).Str("step", st.name).Msg("shutdown step failed")
		} else {
			s.log.Info().Str("step", st.name).Msg("shutdown step complete")
		}
	}
	s.log.Info().Msg("shutdown complete")
}
