package galaxy

import (
	"context"
	"testing"
	"time"

	"aikasim/agent"
	"aikasim/event"
	"aikasim/mail"
	"aikasim/planet"
	"aikasim/world"
)

// timeoutAgent re-arms itself one step ahead forever.
type timeoutAgent struct{}

func (timeoutAgent) Step(ctx agent.PlanetContext[int], id uint64) event.Event {
	return event.New(ctx.Time, ctx.Time, id, event.Timeout(1))
}
func (timeoutAgent) ReadMessage(ctx agent.PlanetContext[int], msg mail.Msg[int], id uint64) {}

func TestCounterDrivesTwoPlanetsToTerminal(t *testing.T) {
	// Two planets under a Counter coordinator run concurrently; the test fails
	// if the coordinator or either planet returns an error other than a
	// deadline expiry, or does not return in time.
	const terminal = 50.0
	timeInfo := world.TimeInfo{Timestep: 1.0, Terminal: terminal}
	counter := NewCounter[int](2, 1_000_000, timeInfo, nil)

	planets := make([]*planet.Planet[int], 2)
	for w := 0; w < 2; w++ {
		p, err := planet.New(planet.Config[int]{
			WorldID:         uint64(w),
			TimeInfo:        timeInfo,
			ThrottleHorizon: 1_000_000,
			EventSlots:      8,
			EventHeight:     3,
			MessageSlots:    8,
			MessageHeight:   3,
			Messenger:       counter.Messenger(uint64(w)),
			Shared:          counter.Shared(),
			LVT:             counter.LVT(uint64(w)),
		})
		if err != nil {
			t.Fatalf("planet.New(%d): %v", w, err)
		}
		id := p.SpawnAgent(timeoutAgent{}, nil)
		if err := p.Schedule(1, id); err != nil {
			t.Fatalf("Schedule: %v", err)
		}
		planets[w] = p
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	errs := make(chan error, 3)
	go func() { errs <- counter.Run(ctx) }()
	for _, p := range planets {
		p := p
		go func() { errs <- p.Run(ctx) }()
	}

	for i := 0; i < 3; i++ {
		select {
		case err := <-errs:
			if err != nil && err != context.DeadlineExceeded {
				t.Fatalf("goroutine returned: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for goroutine %d", i)
		}
	}
}

func TestBlockRecvAttributesAcrossLookback(t *testing.T) {
	block, err := NewBlock(100, 110, 0, 10, 4)
	if err != nil {
		t.Fatalf("NewBlock: %v", err)
	}
	block.Send()
	if block.Sends != 1 {
		t.Fatalf("Sends = %d, want 1", block.Sends)
	}

	if err := block.Recv(105); err != nil {
		t.Fatalf("Recv(current): %v", err)
	}
	if block.Recvs != 1 {
		t.Fatalf("Recvs = %d, want 1", block.Recvs)
	}

	if err := block.Recv(85); err != nil {
		t.Fatalf("Recv(two blocks back): %v", err)
	}
	if block.RecvsFromPrevious[1] != 1 {
		t.Fatalf("RecvsFromPrevious[1] = %d, want 1", block.RecvsFromPrevious[1])
	}

	if err := block.Recv(0); err == nil {
		t.Fatalf("Recv(beyond lookback): want error, got nil")
	}
}

func TestBlockCoordinatorAdvancesOnceEveryWorldReconciles(t *testing.T) {
	timeInfo := world.TimeInfo{Timestep: 1.0, Terminal: 30}
	bc := NewBlockCoordinator[int](2, 10, 4, 1_000_000, timeInfo, nil)

	b0, err := NewBlock(0, 10, 0, 0, 4)
	if err != nil {
		t.Fatalf("NewBlock: %v", err)
	}
	b0.Send()
	b0.Send()
	b1, err := NewBlock(0, 10, 1, 0, 4)
	if err != nil {
		t.Fatalf("NewBlock: %v", err)
	}
	if err := b1.Recv(2); err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if err := b1.Recv(3); err != nil {
		t.Fatalf("Recv: %v", err)
	}

	bc.ReportBlock(b0)
	bc.ReportBlock(b1)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	go bc.Run(ctx)

	deadline := time.Now().Add(150 * time.Millisecond)
	for time.Now().Before(deadline) {
		if bc.GVT() >= 10 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if bc.GVT() < 10 {
		t.Fatalf("GVT = %d, want >= 10 once block 0 reconciled across both worlds", bc.GVT())
	}
}
