package galaxy

import (
	"context"
	"math"
	"runtime"
	"sync/atomic"

	"aikasim/logging"
	"aikasim/logging/simulation"
	"aikasim/planet"
	"aikasim/world"
)

// Counter is the counter-variant GVT coordinator: it reads aggregate
// sends/recvs the fabric tracks across every world and, when mail is still
// in flight, holds GVT at the earliest in-flight send; otherwise it
// recomputes GVT as the minimum of every Planet's LVT. A candidate that
// would regress GVT is silently not applied — never a fatal error — since a
// stale candidate racing against a Planet's own LVT publish is an expected,
// recoverable event, not a correctness violation.
type Counter[T any] struct {
	fabric              *Fabric[T]
	lvts                []*atomic.Uint64
	shared              *planet.Shared
	checkpointFrequency uint64
	timeInfo            world.TimeInfo
	pub                 logging.Publisher
}

// NewCounter constructs a Counter sized for numWorlds.
func NewCounter[T any](numWorlds int, checkpointFrequency uint64, timeInfo world.TimeInfo, pub logging.Publisher) *Counter[T] {
	if pub == nil {
		pub = logging.NopPublisher{}
	}
	lvts := make([]*atomic.Uint64, numWorlds)
	for i := range lvts {
		lvts[i] = new(atomic.Uint64)
	}
	shared := planet.NewShared()
	shared.Checkpoint.Store(checkpointFrequency)
	return &Counter[T]{
		fabric:              NewFabric[T](numWorlds, numWorlds*4+1),
		lvts:                lvts,
		shared:              shared,
		checkpointFrequency: checkpointFrequency,
		timeInfo:            timeInfo,
		pub:                 pub,
	}
}

// Shared returns the atomic GVT/checkpoint cells every Planet reads.
func (c *Counter[T]) Shared() *planet.Shared { return c.shared }

// LVT returns the atomic cell worldID's Planet publishes its local time
// through.
func (c *Counter[T]) LVT(worldID uint64) *atomic.Uint64 { return c.lvts[worldID] }

// Messenger returns worldID's Planet-facing messenger endpoint.
func (c *Counter[T]) Messenger(worldID uint64) planet.Messenger[T] { return c.fabric.Endpoint(worldID) }

// NumWorlds reports how many worlds this coordinator was sized for.
func (c *Counter[T]) NumWorlds() int { return len(c.lvts) }

// Run drives the gvt_daemon loop: deliver in-flight mail, recompute GVT,
// exit once every world's LVT has reached terminal.
func (c *Counter[T]) Run(ctx context.Context) error {
	defer c.fabric.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		c.deliverMail()
		c.recalcGVT()

		if c.allTerminal() {
			return nil
		}

		current := c.shared.GVT.Load()
		if current >= c.shared.Checkpoint.Load() {
			c.shared.Checkpoint.Store(current + c.checkpointFrequency)
		}
		runtime.Gosched()
	}
}

// deliverMail drains whatever is currently available on the merged
// outbound stream, routing each envelope to its destination. Sends/recvs
// accounting for GVT purposes happens in the fabric itself, at Send/Poll
// time, not here.
func (c *Counter[T]) deliverMail() {
	for {
		select {
		case m, ok := <-c.fabric.merged:
			if !ok {
				return
			}
			c.fabric.deliver(m)
		default:
			return
		}
	}
}

// recalcGVT implements spec.md §4.5 step 2-3: if aggregate sends exceed
// aggregate recvs, mail is still in flight and the candidate is the lowest
// in-flight send time; otherwise the candidate is the minimum LVT. A
// candidate that would regress GVT is logged and discarded, never treated
// as fatal — a Planet's mail-send and its own LVT publish are two
// independent writes that can be observed out of order by one non-blocking
// poll, so a stale-looking candidate is expected and self-corrects on the
// next round.
func (c *Counter[T]) recalcGVT() {
	current := c.shared.GVT.Load()

	sends, recvs := c.fabric.Totals()
	var candidate uint64
	if sends > recvs {
		floor, inFlight := c.fabric.InFlightFloor()
		if !inFlight {
			// Accounting and the floor set are updated under separate
			// critical sections; on this rare race, hold GVT rather than
			// guess.
			return
		}
		candidate = floor
	} else {
		candidate = math.MaxUint64
		for _, lvt := range c.lvts {
			if v := lvt.Load(); v < candidate {
				candidate = v
			}
		}
	}

	if candidate < current {
		simulation.GVTRefused(context.Background(), c.pub, candidate, simulation.GVTRefusedPayload{
			CurrentGVT: current,
			Candidate:  candidate,
		}, nil)
		return
	}
	if candidate == current {
		return
	}
	simulation.GVTAdvance(context.Background(), c.pub, candidate, simulation.GVTAdvancePayload{
		PreviousGVT: current,
		NewGVT:      candidate,
	}, nil)
	c.shared.GVT.Store(candidate)
}

func (c *Counter[T]) allTerminal() bool {
	for _, lvt := range c.lvts {
		if float64(lvt.Load())*c.timeInfo.Timestep < c.timeInfo.Terminal {
			return false
		}
	}
	return true
}
