package hybrid

import (
	"context"
	"testing"
	"time"

	"aikasim/agent"
	"aikasim/event"
	"aikasim/mail"
)

// schedulingAgent re-arms itself one step ahead forever, ignoring mail.
type schedulingAgent struct{}

func (schedulingAgent) Step(ctx agent.PlanetContext[int], id uint64) event.Event {
	return event.New(ctx.Time, ctx.Time, id, event.Timeout(1))
}
func (schedulingAgent) ReadMessage(ctx agent.PlanetContext[int], msg mail.Msg[int], id uint64) {}

func TestEngineBasicRun(t *testing.T) {
	const numWorlds = 4
	const agentsPerWorld = 10
	const totalAgents = numWorlds * agentsPerWorld
	const terminal = 200.0

	cfg := NewConfig(numWorlds, 16).
		WithTimeBounds(terminal, 1.0).
		WithOptimisticSync(50, 100).
		WithUniformWorlds(16, agentsPerWorld, 16)

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got := cfg.TotalAgents(); got != totalAgents {
		t.Fatalf("TotalAgents() = %d, want %d", got, totalAgents)
	}

	engine, err := Create[int](cfg, Options{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	for i := 0; i < totalAgents; i++ {
		engine.SpawnAgentAutobalance(schedulingAgent{}, nil)
	}

	for worldID := 0; worldID < numWorlds; worldID++ {
		for agentID := uint64(0); agentID < 5; agentID++ {
			if err := engine.Schedule(worldID, agentID, 1); err != nil {
				t.Fatalf("Schedule(%d, %d): %v", worldID, agentID, err)
			}
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := engine.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
}
