// Package planet implements Planet, the optimistic parallel Time Warp
// worker: it runs the same step loop as a world.World but additionally
// drives a local message wheel, journals every outbound anti-message, and
// rolls back on receipt of a message or anti-message addressed to its past.
package planet

import (
	"context"
	"sync/atomic"
	"time"

	"aikasim/agent"
	"aikasim/event"
	"aikasim/internal/telemetry"
	"aikasim/journal"
	"aikasim/logging"
	"aikasim/logging/simulation"
	"aikasim/mail"
	"aikasim/simerr"
	"aikasim/world"
)

// Messenger is the inter-world endpoint a Planet sends outbound Mail
// through and polls inbound Mail from. Galaxy supplies the concrete
// implementation; Planet only depends on this interface so the two
// packages don't import each other.
type Messenger[T any] interface {
	Send(m mail.Mail[T]) error
	Poll() []mail.Mail[T]
}

// Shared holds the atomic cross-goroutine state a Galaxy publishes and every
// Planet reads: global virtual time and the next checkpoint. Send/recv
// accounting is not kept here.
type Shared struct {
	GVT        *atomic.Uint64
	Checkpoint *atomic.Uint64
}

// NewShared allocates a zeroed Shared block.
func NewShared() *Shared {
	return &Shared{GVT: new(atomic.Uint64), Checkpoint: new(atomic.Uint64)}
}

// Snapshot is a read-only counters view into a running Planet, exposing
// telemetry without taking the write lock.
type Snapshot struct {
	WorldID       uint64
	LVT           uint64
	Rollbacks     uint64
	Annihilations uint64
	Sends         uint64
	Recvs         uint64
}

// Planet owns one local event wheel, one local message wheel, a world-state
// journal, one state journal per agent, an anti-message journal, and the
// atomic LVT every other goroutine may read.
type Planet[T any] struct {
	worldID  uint64
	timeInfo world.TimeInfo

	agents      []agent.ThreadedAgent[T]
	agentStates []*journal.StateJournal[any]
	worldState  *journal.StateJournal[any]

	events   *event.LocalEventSystem
	messages *mail.LocalMailSystem[T]

	messenger       Messenger[T]
	shared          *Shared
	lvt             *atomic.Uint64
	throttleHorizon uint64

	logger  telemetry.Logger
	metrics telemetry.Metrics
	pub     logging.Publisher

	rollbacks     atomic.Uint64
	annihilations atomic.Uint64
	sends         atomic.Uint64
	recvs         atomic.Uint64
}

// Config bundles the construction parameters for a Planet.
type Config[T any] struct {
	WorldID         uint64
	TimeInfo        world.TimeInfo
	ThrottleHorizon uint64
	EventSlots      int
	EventHeight     int
	MessageSlots    int
	MessageHeight   int
	Messenger       Messenger[T]
	Shared          *Shared
	LVT             *atomic.Uint64
	Logger          telemetry.Logger
	Metrics         telemetry.Metrics
	Publisher       logging.Publisher
}

// New constructs a Planet from cfg. cfg.LVT is the atomic cell the Planet
// publishes its local time through; callers (typically hybrid.Engine)
// retain a copy to read it from other goroutines.
func New[T any](cfg Config[T]) (*Planet[T], error) {
	events, err := event.NewLocalEventSystem(cfg.EventSlots, cfg.EventHeight)
	if err != nil {
		return nil, err
	}
	messages, err := mail.NewLocalMailSystem[T](cfg.MessageSlots, cfg.MessageHeight)
	if err != nil {
		return nil, err
	}
	lvt := cfg.LVT
	if lvt == nil {
		lvt = new(atomic.Uint64)
	}
	shared := cfg.Shared
	if shared == nil {
		shared = NewShared()
	}
	pub := cfg.Publisher
	if pub == nil {
		pub = logging.NopPublisher{}
	}
	return &Planet[T]{
		worldID:         cfg.WorldID,
		timeInfo:        cfg.TimeInfo,
		worldState:      journal.New[any](nil, 0),
		events:          events,
		messages:        messages,
		messenger:       cfg.Messenger,
		shared:          shared,
		lvt:             lvt,
		throttleHorizon: cfg.ThrottleHorizon,
		logger:          cfg.Logger,
		metrics:         cfg.Metrics,
		pub:             pub,
	}, nil
}

// WorldID returns this planet's world identifier.
func (p *Planet[T]) WorldID() uint64 { return p.worldID }

// Now returns the planet's current local virtual time.
func (p *Planet[T]) Now() uint64 { return p.events.Step() }

// Stats returns a point-in-time counters snapshot.
func (p *Planet[T]) Stats() Snapshot {
	return Snapshot{
		WorldID:       p.worldID,
		LVT:           p.Now(),
		Rollbacks:     p.rollbacks.Load(),
		Annihilations: p.annihilations.Load(),
		Sends:         p.sends.Load(),
		Recvs:         p.recvs.Load(),
	}
}

// SpawnAgent registers an agent and its initial state, returning its id.
func (p *Planet[T]) SpawnAgent(a agent.ThreadedAgent[T], initialState any) uint64 {
	p.agents = append(p.agents, a)
	p.agentStates = append(p.agentStates, journal.New[any](initialState, 0))
	return uint64(len(p.agents) - 1)
}

// Schedule commits a Wait event for agent id at the given absolute time.
func (p *Planet[T]) Schedule(time uint64, id uint64) error {
	if time < p.Now() {
		return simerr.ErrTimeTravel
	}
	if !event.WithinTerminal(time, p.timeInfo.Timestep, p.timeInfo.Terminal) {
		return simerr.ErrPastTerminal
	}
	return p.events.Insert(event.New(p.Now(), time, id, event.Wait()))
}

// SendMail dispatches msg to toWorld: it builds the matching AntiMsg,
// journals it at the current LVT, increments the send counter, and hands
// the envelope to the messenger.
func (p *Planet[T]) SendMail(msg mail.Msg[T], toWorld uint64) error {
	from, _, sent, recv := msg.Identity()
	anti := mail.NewAntiMsg(sent, recv, from, toWorld)

	letter := mail.WriteLetter(mail.WrapMsg(msg), p.worldID, &toWorld)
	if err := p.messenger.Send(letter); err != nil {
		return err
	}
	p.sends.Add(1)
	p.messages.AntiLog.Append(anti, p.Now())
	return nil
}

// PollInterplanetaryMessenger drains every available inbound Mail. For each
// envelope it validates the destination, accounts the receive, rolls back
// first if the transfer's time has already passed, and then commits it.
func (p *Planet[T]) PollInterplanetaryMessenger() error {
	letters := p.messenger.Poll()
	for _, letter := range letters {
		if letter.ToWorld != nil && *letter.ToWorld != p.worldID {
			return simerr.ErrMismatchedDeliveryAddress
		}
		p.recvs.Add(1)

		t := letter.Transfer.Time()
		if t < p.Now() {
			if err := p.Rollback(t); err != nil {
				return err
			}
		}
		annihilated, err := p.messages.Commit(letter.Transfer)
		if err != nil {
			return err
		}
		switch {
		case letter.Transfer.Kind == mail.TransferAnti:
			p.annihilations.Add(1)
			simulation.Annihilation(context.Background(), p.pub, p.Now(), simulation.AnnihilationPayload{
				WorldID: p.worldID,
				SendLVT: letter.Transfer.Anti.Sent,
			}, nil)
		case annihilated:
			p.annihilations.Add(1)
			_, _, sent, _ := letter.Transfer.Msg.Identity()
			simulation.Annihilation(context.Background(), p.pub, p.Now(), simulation.AnnihilationPayload{
				WorldID: p.worldID,
				SendLVT: sent,
			}, nil)
		}
	}
	return nil
}

// Rollback restores the planet to an earlier LVT: every state journal
// discards entries committed after target, the message wheel's cursor
// retreats (messages, being inputs, are kept), every anti-message stamped
// after target is reclaimed and re-dispatched (locally annihilated if it
// addresses this world, sent onward otherwise), the event wheel discards
// locally-produced events committed after target, and LVT is set to target.
func (p *Planet[T]) Rollback(target uint64) error {
	fromLVT := p.Now()
	if target > fromLVT {
		return simerr.ErrTimeTravel
	}
	p.rollbacks.Add(1)
	simulation.Rollback(context.Background(), p.pub, target, simulation.RollbackPayload{
		WorldID: p.worldID,
		FromLVT: fromLVT,
		ToLVT:   target,
	}, nil)

	p.worldState.Rollback(target)
	for _, s := range p.agentStates {
		s.Rollback(target)
	}

	p.messages.Rollback(target)

	reclaimed := p.messages.AntiLog.ReclaimAfter(target)
	for _, entry := range reclaimed {
		if entry.Anti.To == p.worldID {
			p.messages.Annihilate(entry.Anti)
			continue
		}
		toWorld := entry.Anti.To
		letter := mail.WriteLetter(mail.WrapAnti[T](entry.Anti), p.worldID, &toWorld)
		if err := p.messenger.Send(letter); err != nil {
			return err
		}
	}

	p.events.Rollback(target)
	p.lvt.Store(target)
	return nil
}

// Step advances the planet by one LVT tick: checks clock consistency,
// drains the due message bucket (delivering to agents via ReadMessage,
// broadcast when To is nil), drains the due event bucket (dispatching
// agent.Step and interpreting the returned Action exactly as world.World
// does), and then increments both wheels and publishes the new LVT.
func (p *Planet[T]) Step() error {
	if err := p.checkTimeValidity(); err != nil {
		return err
	}

	dueMail, err := p.messages.Tick()
	if err != nil {
		return err
	}
	for _, tr := range dueMail {
		if tr.Kind != mail.TransferMsg {
			continue
		}
		ctx := agent.NewPlanetContext(tr.Msg.Recv, p.worldID, p.logger, p.SendMail)
		if tr.Msg.To == nil {
			for i, a := range p.agents {
				a.ReadMessage(ctx, tr.Msg, uint64(i))
			}
			continue
		}
		id := *tr.Msg.To
		if int(id) < len(p.agents) {
			p.agents[id].ReadMessage(ctx, tr.Msg, id)
		}
	}

	dueEvents, err := p.events.Tick()
	if err != nil {
		return err
	}
	for _, ev := range dueEvents {
		ctx := agent.NewPlanetContext(ev.Time, p.worldID, p.logger, p.SendMail)
		result := p.agents[ev.Agent].Step(ctx, ev.Agent)
		if stop, err := p.apply(ev.Agent, result); stop || err != nil {
			if err != nil {
				return err
			}
			break
		}
	}

	p.events.Increment()
	p.messages.Increment()
	p.lvt.Store(p.Now())
	return nil
}

// apply mirrors world.World.apply: it interprets the Action an agent's Step
// returned and schedules the follow-up event it describes.
func (p *Planet[T]) apply(actingAgent uint64, result event.Event) (stop bool, err error) {
	now := p.Now()
	switch result.Yield.Kind {
	case event.ActionTimeout:
		next := now + result.Yield.Delta
		if !event.WithinTerminal(next, p.timeInfo.Timestep, p.timeInfo.Terminal) {
			return false, nil
		}
		return false, p.events.Insert(event.New(now, next, actingAgent, event.Wait()))
	case event.ActionSchedule:
		if !event.WithinTerminal(result.Yield.Time, p.timeInfo.Timestep, p.timeInfo.Terminal) {
			return false, nil
		}
		return false, p.events.Insert(event.New(now, result.Yield.Time, actingAgent, event.Wait()))
	case event.ActionTrigger:
		if !event.WithinTerminal(result.Yield.Time, p.timeInfo.Timestep, p.timeInfo.Terminal) {
			return false, nil
		}
		return false, p.events.Insert(event.New(now, result.Yield.Time, result.Yield.Idx, event.Wait()))
	case event.ActionWait:
		return false, nil
	case event.ActionBreak:
		return true, nil
	default:
		return false, nil
	}
}

// checkTimeValidity enforces that the event and message wheels agree with
// LVT, and that neither GVT nor the local clock has already reached
// terminal.
func (p *Planet[T]) checkTimeValidity() error {
	load := p.lvt.Load()
	if p.messages.Step() != p.events.Step() || p.events.Step() != load {
		return simerr.ErrClockSyncIssue
	}
	if p.timeInfo.Terminal <= p.timeInfo.Timestep*float64(load) {
		return simerr.ErrPastTerminal
	}
	gvt := p.shared.GVT.Load()
	if float64(gvt)*p.timeInfo.Timestep >= p.timeInfo.Terminal {
		return simerr.ErrPastTerminal
	}
	return nil
}

// yieldOrDone briefly sleeps before the gating loop re-polls, so a blocked
// Planet yields its OS thread instead of busy-spinning; it returns false
// without sleeping if ctx is already cancelled, so a held Planet notices
// cancellation instead of sleeping through it.
func yieldOrDone(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(100 * time.Nanosecond):
		return true
	}
}

// Run is the outer gating loop: poll the inbox, hold at a pending
// checkpoint, hold past the throttle horizon, otherwise step — until
// PastTerminal or ctx is cancelled. Every hold point selects on ctx.Done()
// so a cancelled run (e.g. a sibling Planet or the coordinator failing)
// unblocks this Planet instead of leaving it parked on frozen GVT/checkpoint
// atomics forever.
func (p *Planet[T]) Run(ctx context.Context) error {
	terminalStep := uint64(p.timeInfo.Terminal / p.timeInfo.Timestep)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := p.PollInterplanetaryMessenger(); err != nil {
			return err
		}

		checkpoint := p.shared.Checkpoint.Load()
		now := p.Now()
		if now == checkpoint && now != terminalStep {
			if !yieldOrDone(ctx) {
				return ctx.Err()
			}
			continue
		}

		gvt := p.shared.GVT.Load()
		if gvt+p.throttleHorizon < now {
			if !yieldOrDone(ctx) {
				return ctx.Err()
			}
			continue
		}

		if err := p.Step(); err != nil {
			if err == simerr.ErrPastTerminal {
				return nil
			}
			return err
		}
	}
}
