package app

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"

	"aikasim/agent"
	"aikasim/event"
	"aikasim/hybrid"
	"aikasim/internal/telemetry"
	"aikasim/logging"
	loggingSinks "aikasim/logging/sinks"
	"aikasim/mail"
)

// demoAgent is the engine's built-in demo agent: it re-arms one time unit
// ahead forever and ignores any mail it receives.
type demoAgent struct{}

func (demoAgent) Step(ctx agent.PlanetContext[int], id uint64) event.Event {
	return event.New(ctx.Time, ctx.Time, id, event.Timeout(1))
}

func (demoAgent) ReadMessage(ctx agent.PlanetContext[int], msg mail.Msg[int], id uint64) {}

// Config carries the dependencies cmd/aika wires in before calling Run.
type Config struct {
	Logger telemetry.Logger
}

// Run wires the logging router, builds a hybrid engine sized by environment
// variables (or sensible defaults), spawns a demo agent population, and
// drives the engine to its configured terminal time.
func Run(ctx context.Context, cfg Config) error {
	logger := log.Default()

	logConfig := logging.DefaultConfig()
	sinks := map[string]logging.Sink{
		"console": loggingSinks.NewConsoleSink(os.Stdout, logging.ConsoleConfig{}),
	}

	router, err := logging.NewRouter(logConfig, logging.SystemClock{}, logger, sinks)
	if err != nil {
		return fmt.Errorf("failed to construct logging router: %w", err)
	}
	defer func() {
		if cerr := router.Close(ctx); cerr != nil {
			logger.Printf("failed to close logging router: %v", cerr)
		}
	}()

	numWorlds := envInt("AIKA_WORLDS", 4)
	agentsPerWorld := envInt("AIKA_AGENTS_PER_WORLD", 25)
	terminal := envInt("AIKA_TERMINAL_TICKS", 1000)
	throttle := envInt("AIKA_THROTTLE_HORIZON", 50)
	checkpoint := envInt("AIKA_CHECKPOINT_FREQUENCY", 100)

	hybridCfg := hybrid.NewConfig(numWorlds, 16).
		WithTimeBounds(float64(terminal), 1.0).
		WithOptimisticSync(uint64(throttle), uint64(checkpoint)).
		WithUniformWorlds(16, agentsPerWorld, 16)

	if err := hybridCfg.Validate(); err != nil {
		return fmt.Errorf("invalid hybrid engine configuration: %w", err)
	}

	engineLogger := cfg.Logger
	if engineLogger == nil {
		engineLogger = telemetry.WrapLogger(logger)
	}

	engine, err := hybrid.Create[int](hybridCfg, hybrid.Options{
		Logger:    engineLogger,
		Metrics:   telemetry.WrapMetrics(router.Metrics()),
		Publisher: router,
	})
	if err != nil {
		return fmt.Errorf("failed to create hybrid engine: %w", err)
	}

	for i := 0; i < hybridCfg.TotalAgents(); i++ {
		engine.SpawnAgentAutobalance(demoAgent{}, nil)
	}
	for worldID := 0; worldID < numWorlds; worldID++ {
		for agentID := uint64(0); agentID < uint64(agentsPerWorld); agentID++ {
			if err := engine.Schedule(worldID, agentID, 1); err != nil {
				return fmt.Errorf("failed to schedule world %d agent %d: %w", worldID, agentID, err)
			}
		}
	}

	logger.Printf("starting hybrid simulation: %d worlds, %d agents, terminal=%d", numWorlds, hybridCfg.TotalAgents(), terminal)
	if err := engine.Run(ctx); err != nil {
		return fmt.Errorf("hybrid engine run failed: %w", err)
	}
	logger.Printf("hybrid simulation completed")
	return nil
}

func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
