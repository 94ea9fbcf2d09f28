package world

import (
	"testing"

	"aikasim/agent"
	"aikasim/event"
)

// timeoutAgent always re-arms itself one step ahead, forever.
type timeoutAgent struct{}

func (timeoutAgent) Step(ctx agent.Context, id uint64) event.Event {
	return event.New(ctx.Time, ctx.Time, id, event.Timeout(1))
}

func TestRunAdvancesToTerminalWithOneEventPerStep(t *testing.T) {
	w, err := New(8, 3, TimeInfo{Timestep: 1.0, Terminal: 1000}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	id := w.SpawnAgent(timeoutAgent{})
	if id != 0 {
		t.Fatalf("SpawnAgent id = %d, want 0", id)
	}
	if err := w.Schedule(0, id); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	if err := w.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := w.Now(); got != 1000 {
		t.Fatalf("Now() = %d, want 1000", got)
	}
	if got := w.StepsProcessed(); got != 1000 {
		t.Fatalf("StepsProcessed() = %d, want 1000", got)
	}
}

// breakingAgent records that it ran and then breaks, aborting whatever else
// was due in the same tick's batch — including a sibling agent's event that
// was already due in that same bucket.
type breakingAgent struct {
	ran *[]uint64
}

func (a breakingAgent) Step(ctx agent.Context, id uint64) event.Event {
	*a.ran = append(*a.ran, id)
	return event.New(ctx.Time, ctx.Time, id, event.Break())
}

func TestBreakAbortsOnlyCurrentTickBatch(t *testing.T) {
	var ran []uint64
	w, err := New(8, 3, TimeInfo{Timestep: 1.0, Terminal: 10}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	first := w.SpawnAgent(breakingAgent{ran: &ran})
	second := w.SpawnAgent(breakingAgent{ran: &ran})

	if err := w.Schedule(1, first); err != nil {
		t.Fatalf("Schedule first: %v", err)
	}
	if err := w.Schedule(1, second); err != nil {
		t.Fatalf("Schedule second: %v", err)
	}

	if err := w.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(ran) != 1 || ran[0] != first {
		t.Fatalf("ran = %v, want only [%d] to have run — break drops the rest of the batch", ran, first)
	}
}

func TestScheduleRejectsTimePastTerminal(t *testing.T) {
	w, err := New(8, 3, TimeInfo{Timestep: 1.0, Terminal: 10}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	id := w.SpawnAgent(timeoutAgent{})
	if err := w.Schedule(11, id); err == nil {
		t.Fatalf("Schedule past terminal: want error, got nil")
	}
}
