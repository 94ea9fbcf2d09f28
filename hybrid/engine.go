package hybrid

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"aikasim/agent"
	"aikasim/galaxy"
	"aikasim/internal/telemetry"
	"aikasim/logging"
	"aikasim/planet"
	"aikasim/simerr"
)

// Engine owns one Galaxy coordinator and one Planet per configured world,
// and drives them concurrently to completion.
type Engine[T any] struct {
	config  *Config
	counter *galaxy.Counter[T]
	planets []*planet.Planet[T]
	counts  []int
	logger  telemetry.Logger
	metrics telemetry.Metrics
	pub     logging.Publisher
}

// Options carries the ambient telemetry wiring an Engine forwards to every
// Planet it builds.
type Options struct {
	Logger    telemetry.Logger
	Metrics   telemetry.Metrics
	Publisher logging.Publisher
}

// Create validates cfg and builds a Galaxy-coordinated Planet for each
// configured world, wiring each Planet's messenger and shared GVT/LVT cells
// to the coordinator.
func Create[T any](cfg *Config, opts Options) (*Engine[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	counter := galaxy.NewCounter[T](cfg.NumberOfWorlds, cfg.CheckpointFreq, cfg.TimeInfo(), opts.Publisher)

	planets := make([]*planet.Planet[T], cfg.NumberOfWorlds)
	for i := 0; i < cfg.NumberOfWorlds; i++ {
		p, err := planet.New(planet.Config[T]{
			WorldID:         uint64(i),
			TimeInfo:        cfg.TimeInfo(),
			ThrottleHorizon: cfg.ThrottleHorizon,
			EventSlots:      64,
			EventHeight:     4,
			MessageSlots:    64,
			MessageHeight:   4,
			Messenger:       counter.Messenger(uint64(i)),
			Shared:          counter.Shared(),
			LVT:             counter.LVT(uint64(i)),
			Logger:          opts.Logger,
			Metrics:         opts.Metrics,
			Publisher:       opts.Publisher,
		})
		if err != nil {
			return nil, err
		}
		planets[i] = p
	}

	return &Engine[T]{
		config:  cfg,
		counter: counter,
		planets: planets,
		counts:  make([]int, cfg.NumberOfWorlds),
		logger:  opts.Logger,
		metrics: opts.Metrics,
		pub:     opts.Publisher,
	}, nil
}

// SpawnAgent registers agent a on worldID's planet, returning its id within
// that world.
func (e *Engine[T]) SpawnAgent(worldID int, a agent.ThreadedAgent[T], initialState any) (uint64, error) {
	if worldID >= len(e.planets) {
		return 0, &simerr.InvalidWorldIDError{WorldID: uint64(worldID)}
	}
	id := e.planets[worldID].SpawnAgent(a, initialState)
	e.counts[worldID]++
	return id, nil
}

// SpawnAgentAutobalance registers agent a on whichever world currently has
// the fewest agents.
func (e *Engine[T]) SpawnAgentAutobalance(a agent.ThreadedAgent[T], initialState any) (worldID int, agentID uint64) {
	best := 0
	for i := 1; i < len(e.planets); i++ {
		if e.counts[i] < e.counts[best] {
			best = i
		}
	}
	id := e.planets[best].SpawnAgent(a, initialState)
	e.counts[best]++
	return best, id
}

// Schedule commits a Wait event for agentID on worldID's planet.
func (e *Engine[T]) Schedule(worldID int, agentID uint64, time uint64) error {
	if worldID >= len(e.planets) {
		return &simerr.InvalidWorldIDError{WorldID: uint64(worldID)}
	}
	return e.planets[worldID].Schedule(time, agentID)
}

// Run drives the galaxy coordinator and every planet concurrently until all
// reach terminal time (or ctx is cancelled). Any worker's error cancels the
// shared context so the rest wind down cooperatively, but the return value
// aggregates every worker's non-nil error via errors.Join rather than
// surfacing only the first, mirroring how logging.Router.Close reports every
// sink's close failure instead of stopping at the first.
func (e *Engine[T]) Run(ctx context.Context) error {
	var mu sync.Mutex
	var errs []error
	record := func(err error) {
		if err == nil {
			return
		}
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := runGuarded(func() error { return e.counter.Run(ctx) })
		record(err)
		return err
	})
	for _, p := range e.planets {
		p := p
		g.Go(func() error {
			err := runGuarded(func() error { return p.Run(ctx) })
			record(err)
			return err
		})
	}
	g.Wait()
	return errors.Join(errs...)
}

// runGuarded invokes fn, recovering a panic and turning it into
// simerr.ErrThreadPanic so a single worker's crash is reported like any
// other error at the join boundary instead of taking the whole process
// down.
func runGuarded(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", simerr.ErrThreadPanic, r)
		}
	}()
	return fn()
}
