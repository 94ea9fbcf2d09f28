// Package event defines the Event/Action data model and the local event
// system (a Clock wheel plus overflow) that every World and Planet drives.
package event

import (
	"aikasim/clock"
)

// ActionKind tags the variant carried by an Action.
type ActionKind int

const (
	// ActionTimeout reschedules the same agent δ steps from now.
	ActionTimeout ActionKind = iota
	// ActionSchedule reschedules the same agent at an absolute time t.
	ActionSchedule
	// ActionTrigger schedules a (possibly different) agent Idx at time Time.
	ActionTrigger
	// ActionWait is a no-op result: the agent produced nothing to schedule.
	ActionWait
	// ActionBreak aborts processing the remainder of the current tick's
	// event batch.
	ActionBreak
)

// Action is the scheduling decision an agent returns from its step.
type Action struct {
	Kind ActionKind
	// Delta is meaningful for ActionTimeout.
	Delta uint64
	// Time is meaningful for ActionSchedule and ActionTrigger.
	Time uint64
	// Idx is meaningful for ActionTrigger: the target agent id.
	Idx uint64
}

// Timeout returns an Action that reschedules the acting agent δ steps ahead.
func Timeout(delta uint64) Action { return Action{Kind: ActionTimeout, Delta: delta} }

// Schedule returns an Action that reschedules the acting agent at time t.
func Schedule(t uint64) Action { return Action{Kind: ActionSchedule, Time: t} }

// Trigger returns an Action that schedules agent idx at the given time.
func Trigger(t uint64, idx uint64) Action { return Action{Kind: ActionTrigger, Time: t, Idx: idx} }

// Wait returns a no-op Action.
func Wait() Action { return Action{Kind: ActionWait} }

// Break returns an Action that aborts the remainder of the current tick's
// event batch.
func Break() Action { return Action{Kind: ActionBreak} }

// Event is a single scheduled occurrence: at Time, invoke Agent's step (or,
// via Trigger, a peer's). CommitTime is the step at which the event was
// enqueued — used only to decide whether a rollback discards it, never for
// ordering.
//
// Wheel bucketing is by Time alone; this is a bucketing optimization, not a
// claim that two events with equal Time are the same occurrence. Go's == on
// Event compares every field.
type Event struct {
	Time       uint64
	CommitTime uint64
	Agent      uint64
	Yield      Action
}

// New constructs an Event.
func New(commitTime, time, agent uint64, yield Action) Event {
	return Event{Time: time, CommitTime: commitTime, Agent: agent, Yield: yield}
}

// Event exposes Time as a plain field, so a thin wrapper type satisfies
// clock.Scheduleable's Time() method without a name collision.
type scheduleableEvent struct{ Event }

func (s scheduleableEvent) Time() uint64 { return s.Event.Time }

// AsScheduleable adapts an Event to clock.Scheduleable for wheel insertion.
func AsScheduleable(e Event) Scheduleable { return scheduleableEvent{e} }

// Scheduleable is the event wheel's item type.
type Scheduleable interface {
	clock.Scheduleable
	Unwrap() Event
}

func (s scheduleableEvent) Unwrap() Event { return s.Event }

// Schedulable iff time >= now and time*timestep <= terminal. The clock and
// terminal check are split across callers (Wheel.Insert enforces time >=
// now via ErrTimeTravel); this helper checks the terminal bound only.
func WithinTerminal(time uint64, timestep, terminal float64) bool {
	return float64(time)*timestep <= terminal
}
