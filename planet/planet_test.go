package planet

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"aikasim/agent"
	"aikasim/event"
	"aikasim/mail"
	"aikasim/world"
)

// fakeMessenger is an in-memory Messenger[T] stub: Send appends to sent,
// Poll drains and returns a pre-loaded inbox once.
type fakeMessenger[T any] struct {
	sent  []mail.Mail[T]
	inbox []mail.Mail[T]
}

func (f *fakeMessenger[T]) Send(m mail.Mail[T]) error {
	f.sent = append(f.sent, m)
	return nil
}

func (f *fakeMessenger[T]) Poll() []mail.Mail[T] {
	out := f.inbox
	f.inbox = nil
	return out
}

// timeoutAgent re-arms itself one step ahead forever.
type timeoutAgent struct{}

func (timeoutAgent) Step(ctx agent.PlanetContext[int], id uint64) event.Event {
	return event.New(ctx.Time, ctx.Time, id, event.Timeout(1))
}
func (timeoutAgent) ReadMessage(ctx agent.PlanetContext[int], msg mail.Msg[int], id uint64) {}

func newTestPlanet(t *testing.T, messenger Messenger[int], terminal float64, throttle uint64) (*Planet[int], *Shared) {
	t.Helper()
	shared := NewShared()
	shared.Checkpoint.Store(1_000_000)
	p, err := New(Config[int]{
		WorldID:         0,
		TimeInfo:        world.TimeInfo{Timestep: 1.0, Terminal: terminal},
		ThrottleHorizon: throttle,
		EventSlots:      8,
		EventHeight:     3,
		MessageSlots:    8,
		MessageHeight:   3,
		Messenger:       messenger,
		Shared:          shared,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p, shared
}

func TestScheduleRejectsTimeTravelAndPastTerminal(t *testing.T) {
	p, _ := newTestPlanet(t, &fakeMessenger[int]{}, 100, 10)
	id := p.SpawnAgent(timeoutAgent{}, nil)

	if err := p.Schedule(200, id); err == nil {
		t.Fatalf("Schedule past terminal: want error, got nil")
	}
	if err := p.Schedule(1, id); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
}

func TestSpawnAgentAssignsSequentialIDs(t *testing.T) {
	p, _ := newTestPlanet(t, &fakeMessenger[int]{}, 100, 10)
	first := p.SpawnAgent(timeoutAgent{}, "a")
	second := p.SpawnAgent(timeoutAgent{}, "b")
	if first != 0 || second != 1 {
		t.Fatalf("ids = (%d, %d), want (0, 1)", first, second)
	}
}

func TestStepAdvancesLVTByOne(t *testing.T) {
	p, _ := newTestPlanet(t, &fakeMessenger[int]{}, 100, 10)
	id := p.SpawnAgent(timeoutAgent{}, nil)
	if err := p.Schedule(1, id); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	before := p.Now()
	if err := p.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if got := p.Now(); got != before+1 {
		t.Fatalf("Now() = %d, want %d", got, before+1)
	}
}

func TestSendMailJournalsMatchingAntiMessage(t *testing.T) {
	messenger := &fakeMessenger[int]{}
	p, _ := newTestPlanet(t, messenger, 100, 10)

	msg := mail.NewMsg(42, 0, 5, 0, nil)
	if err := p.SendMail(msg, 1); err != nil {
		t.Fatalf("SendMail: %v", err)
	}

	if len(messenger.sent) != 1 {
		t.Fatalf("messenger got %d sends, want 1", len(messenger.sent))
	}
	if p.messages.AntiLog.Len() != 1 {
		t.Fatalf("AntiLog has %d entries, want 1", p.messages.AntiLog.Len())
	}
	if p.Stats().Sends != 1 {
		t.Fatalf("Stats().Sends = %d, want 1", p.Stats().Sends)
	}
}

func TestRollbackRestoresEarlierLVT(t *testing.T) {
	p, _ := newTestPlanet(t, &fakeMessenger[int]{}, 1000, 1000)
	id := p.SpawnAgent(timeoutAgent{}, nil)
	if err := p.Schedule(1, id); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	for i := 0; i < 20; i++ {
		if err := p.Step(); err != nil {
			t.Fatalf("Step: %v", err)
		}
	}
	if p.Now() != 20 {
		t.Fatalf("Now() = %d, want 20", p.Now())
	}

	if err := p.Rollback(5); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if p.Now() != 5 {
		t.Fatalf("Now() after rollback = %d, want 5", p.Now())
	}
	if p.Stats().Rollbacks != 1 {
		t.Fatalf("Stats().Rollbacks = %d, want 1", p.Stats().Rollbacks)
	}

	if err := p.Rollback(10); err == nil {
		t.Fatalf("Rollback to a future LVT: want error, got nil")
	}
}

func TestPollInterplanetaryMessengerRollsBackOnStragglerAndCommits(t *testing.T) {
	// S4-style: a straggler Msg addressed to the planet's past forces a
	// rollback before it is committed onto the message wheel.
	messenger := &fakeMessenger[int]{}
	p, _ := newTestPlanet(t, messenger, 1000, 1000)
	id := p.SpawnAgent(timeoutAgent{}, nil)
	if err := p.Schedule(1, id); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	for i := 0; i < 20; i++ {
		if err := p.Step(); err != nil {
			t.Fatalf("Step: %v", err)
		}
	}
	if p.Now() != 20 {
		t.Fatalf("Now() = %d, want 20", p.Now())
	}

	straggler := mail.NewMsg(7, 3, 5, 1, ptr0())
	messenger.inbox = []mail.Mail[int]{mail.WriteLetter(mail.WrapMsg(straggler), 1, ptr0())}

	if err := p.PollInterplanetaryMessenger(); err != nil {
		t.Fatalf("PollInterplanetaryMessenger: %v", err)
	}
	if p.Now() != 5 {
		t.Fatalf("Now() after straggler poll = %d, want 5", p.Now())
	}
	if p.Stats().Recvs != 1 {
		t.Fatalf("Stats().Recvs = %d, want 1", p.Stats().Recvs)
	}
}

func TestMismatchedDeliveryAddressIsRejected(t *testing.T) {
	messenger := &fakeMessenger[int]{}
	p, _ := newTestPlanet(t, messenger, 1000, 1000)

	other := uint64(9)
	msg := mail.NewMsg(1, 0, 5, 0, nil)
	messenger.inbox = []mail.Mail[int]{mail.WriteLetter(mail.WrapMsg(msg), 1, &other)}

	if err := p.PollInterplanetaryMessenger(); err == nil {
		t.Fatalf("PollInterplanetaryMessenger with mismatched address: want error, got nil")
	}
}

func TestThrottleHorizonCapsRun(t *testing.T) {
	messenger := &fakeMessenger[int]{}
	lvtCell := new(atomic.Uint64)
	shared := NewShared()
	shared.Checkpoint.Store(1_000_000)

	p, err := New(Config[int]{
		WorldID:         0,
		TimeInfo:        world.TimeInfo{Timestep: 1.0, Terminal: 100},
		ThrottleHorizon: 10,
		EventSlots:      8,
		EventHeight:     3,
		MessageSlots:    8,
		MessageHeight:   3,
		Messenger:       messenger,
		Shared:          shared,
		LVT:             lvtCell,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	id := p.SpawnAgent(timeoutAgent{}, nil)
	if err := p.Schedule(1, id); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	time.Sleep(5 * time.Millisecond)
	if got := lvtCell.Load(); got > 11 {
		t.Fatalf("lvt = %d, want <= 11 while throttled at GVT=0", got)
	}

	shared.GVT.Store(100)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not complete after the throttle was released")
	}
}

func ptr0() *uint64 {
	v := uint64(0)
	return &v
}
