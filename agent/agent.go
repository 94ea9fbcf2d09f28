// Package agent defines the external contracts user code implements to
// drive a World or a Planet: Agent for the single-threaded regime,
// ThreadedAgent for the optimistic parallel regime, and the Context types
// each receives.
package agent

import (
	"aikasim/event"
	"aikasim/internal/telemetry"
	"aikasim/mail"
)

// Context is the single-threaded regime's per-step handle: current time and
// a logger, nothing else — a World has no inter-world mail to send.
type Context struct {
	Time   uint64
	Logger telemetry.Logger
}

// Agent is the single-threaded contract: step the agent at the context's
// current time and return the Event describing what it wants to happen
// next.
type Agent interface {
	Step(ctx Context, id uint64) event.Event
}

// PlanetContext is the parallel regime's per-step handle. SendMail is the
// only legal way to emit cross-world mail: it both enqueues the outbound
// Msg and journals the matching AntiMsg, so user code can never produce a
// Msg without its retraction half existing.
type PlanetContext[T any] struct {
	Time    uint64
	WorldID uint64
	Logger  telemetry.Logger

	sendMail func(msg mail.Msg[T], toWorld uint64) error
}

// NewPlanetContext constructs a PlanetContext bound to the given send-mail
// callback. Planet wires this to its own SendMail method; exporting the
// constructor here (rather than a raw struct literal) keeps sendMail
// unexported so agent code cannot forge mail delivery around the planet's
// bookkeeping.
func NewPlanetContext[T any](time, worldID uint64, logger telemetry.Logger, sendMail func(mail.Msg[T], uint64) error) PlanetContext[T] {
	return PlanetContext[T]{Time: time, WorldID: worldID, Logger: logger, sendMail: sendMail}
}

// SendMail dispatches msg to toWorld, journaling the matched anti-message.
func (c PlanetContext[T]) SendMail(msg mail.Msg[T], toWorld uint64) error {
	return c.sendMail(msg, toWorld)
}

// ThreadedAgent is the parallel regime's contract.
type ThreadedAgent[T any] interface {
	// Step is invoked when the agent's scheduled event comes due.
	Step(ctx PlanetContext[T], id uint64) event.Event
	// ReadMessage is invoked when a Msg addressed to this agent (or
	// broadcast to its world) commits.
	ReadMessage(ctx PlanetContext[T], msg mail.Msg[T], id uint64)
}
