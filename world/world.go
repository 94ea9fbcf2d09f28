// Package world implements World, the single-threaded discrete-event
// simulation regime: one local event system, an optional set of agents
// exchanging events through it, and a fixed-point run loop. World never
// rolls back — it is the baseline regime events replay against when
// checking an optimistic Planet for correctness.
package world

import (
	"context"

	"aikasim/agent"
	"aikasim/event"
	"aikasim/internal/telemetry"
	"aikasim/simerr"
)

// TimeInfo carries the wall-clock interpretation of simulated steps: each
// step advances simulated time by Timestep, and the run stops once
// (now+1)*Timestep would exceed Terminal. Timescale is a real-time playback
// multiplier carried for downstream consumers (e.g. a UI replaying a run at
// half or double speed); it is purely informational and never consulted by
// scheduling logic. A zero Timescale is treated as 1.0.
type TimeInfo struct {
	Timestep  float64
	Terminal  float64
	Timescale float64
}

// EffectiveTimescale returns Timescale, defaulting to 1.0 when unset.
func (t TimeInfo) EffectiveTimescale() float64 {
	if t.Timescale == 0 {
		return 1.0
	}
	return t.Timescale
}

// World drives one local event system against a fixed slice of agents. Agent
// ids are positions in the Agents slice, assigned by SpawnAgent.
type World struct {
	events *event.LocalEventSystem
	agents []agent.Agent
	info   TimeInfo
	logger telemetry.Logger

	stepsProcessed uint64
}

// New constructs a World with the given event-wheel geometry and time
// bounds. logger may be nil; a nil logger is treated as a no-op.
func New(slots, height int, info TimeInfo, logger telemetry.Logger) (*World, error) {
	events, err := event.NewLocalEventSystem(slots, height)
	if err != nil {
		return nil, err
	}
	return &World{
		events: events,
		info:   info,
		logger: logger,
	}, nil
}

// SpawnAgent appends agent to the World's agent table and returns its id.
func (w *World) SpawnAgent(a agent.Agent) uint64 {
	w.agents = append(w.agents, a)
	return uint64(len(w.agents) - 1)
}

// Now returns the current step.
func (w *World) Now() uint64 { return w.events.Step() }

// StepsProcessed reports how many events Run/RunContext has dispatched to
// agents, for tests and diagnostics.
func (w *World) StepsProcessed() uint64 { return w.stepsProcessed }

// Schedule enqueues a Wait event for agent id at the given absolute time.
// It rejects times before Now (ErrTimeTravel, via the underlying wheel) and
// times past Terminal (ErrPastTerminal).
func (w *World) Schedule(time uint64, id uint64) error {
	if !event.WithinTerminal(time, w.info.Timestep, w.info.Terminal) {
		return simerr.ErrPastTerminal
	}
	return w.events.Insert(event.New(w.Now(), time, id, event.Wait()))
}

// Run drives the event loop to completion: repeatedly ticking the event
// wheel, dispatching due events to their agents, and interpreting the
// returned Action, until (now+1)*Timestep exceeds Terminal.
func (w *World) Run() error {
	return w.RunContext(context.Background())
}

// RunContext is Run honoring ctx: between ticks it checks ctx.Done() and
// returns ctx.Err() if the context has been canceled.
func (w *World) RunContext(ctx context.Context) error {
	for {
		if float64(w.Now()+1)*w.info.Timestep > w.info.Terminal {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		due, err := w.events.Tick()
		if err != nil {
			return err
		}

		for _, ev := range due {
			if !event.WithinTerminal(ev.Time, w.info.Timestep, w.info.Terminal) {
				continue
			}
			if int(ev.Agent) >= len(w.agents) {
				return simerr.ErrNotAllAgentsRegistered
			}
			w.stepsProcessed++
			ctxStep := agent.Context{Time: ev.Time, Logger: w.logger}
			result := w.agents[ev.Agent].Step(ctxStep, ev.Agent)
			if stop, err := w.apply(ev.Agent, result); stop || err != nil {
				if err != nil {
					return err
				}
				break
			}
		}

		w.events.Increment()
	}
}

// apply interprets the Action an agent's Step returned and schedules the
// follow-up event it describes, if any. It reports stop=true for
// event.ActionBreak, which aborts the remainder of the current tick's
// batch without affecting subsequent ticks.
func (w *World) apply(actingAgent uint64, result event.Event) (stop bool, err error) {
	now := w.Now()
	switch result.Yield.Kind {
	case event.ActionTimeout:
		next := now + result.Yield.Delta
		if !event.WithinTerminal(next, w.info.Timestep, w.info.Terminal) {
			return false, nil
		}
		return false, w.events.Insert(event.New(now, next, actingAgent, event.Wait()))
	case event.ActionSchedule:
		if !event.WithinTerminal(result.Yield.Time, w.info.Timestep, w.info.Terminal) {
			return false, nil
		}
		return false, w.events.Insert(event.New(now, result.Yield.Time, actingAgent, event.Wait()))
	case event.ActionTrigger:
		if !event.WithinTerminal(result.Yield.Time, w.info.Timestep, w.info.Terminal) {
			return false, nil
		}
		return false, w.events.Insert(event.New(now, result.Yield.Time, result.Yield.Idx, event.Wait()))
	case event.ActionWait:
		return false, nil
	case event.ActionBreak:
		return true, nil
	default:
		return false, nil
	}
}
