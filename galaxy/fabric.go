// Package galaxy implements the coordinator: the inter-world messenger
// fabric shared by every Planet, and the two GVT coordination strategies,
// Counter and BlockCoordinator. hybrid.Engine is wired to Counter only.
package galaxy

import (
	"sync"

	channerics "github.com/niceyeti/channerics/channels"

	"aikasim/mail"
)

// Fabric is the N-to-N inter-world mailbox: one buffered outbound channel
// per world (written to by that world's Endpoint.Send, read by the
// coordinator's merged stream) and one buffered inbound channel per world
// (written to by the coordinator's delivery step, read by that world's
// Endpoint.Poll). It also tracks aggregate sends/recvs and the set of
// currently in-flight (sent but not yet polled by their destination) send
// timestamps, the accounting spec.md §4.5 step 2 requires of the coordinator.
type Fabric[T any] struct {
	done     chan struct{}
	outbound []chan mail.Mail[T]
	inbound  []chan mail.Mail[T]
	merged   <-chan mail.Mail[T]

	mu      sync.Mutex
	sends   uint64
	recvs   uint64
	pending map[uint64]int // sent timestamp -> outstanding envelope count
}

// NewFabric allocates a Fabric sized for numWorlds, each channel buffered to
// bufferSize.
func NewFabric[T any](numWorlds, bufferSize int) *Fabric[T] {
	done := make(chan struct{})
	outbound := make([]chan mail.Mail[T], numWorlds)
	inbound := make([]chan mail.Mail[T], numWorlds)
	readOnly := make([]<-chan mail.Mail[T], numWorlds)
	for i := range outbound {
		outbound[i] = make(chan mail.Mail[T], bufferSize)
		inbound[i] = make(chan mail.Mail[T], bufferSize)
		readOnly[i] = outbound[i]
	}
	return &Fabric[T]{
		done:     done,
		outbound: outbound,
		inbound:  inbound,
		merged:   channerics.Merge(done, readOnly...),
		pending:  make(map[uint64]int),
	}
}

// Totals returns the aggregate sends and recvs across every world tracked so
// far.
func (f *Fabric[T]) Totals() (sends, recvs uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sends, f.recvs
}

// InFlightFloor returns the lowest send timestamp among envelopes that have
// been sent but not yet polled by their destination, and whether any such
// envelope exists at all.
func (f *Fabric[T]) InFlightFloor() (floor uint64, inFlight bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return 0, false
	}
	first := true
	for t := range f.pending {
		if first || t < floor {
			floor = t
			first = false
		}
	}
	return floor, true
}

// trackSend records one envelope as in flight, fanning out to every world's
// copy count for a broadcast (ToWorld == nil).
func (f *Fabric[T]) trackSend(m mail.Mail[T]) {
	copies := 1
	if m.ToWorld == nil {
		copies = len(f.inbound)
	}
	t := m.Transfer.CommitTime()
	f.mu.Lock()
	f.sends += uint64(copies)
	f.pending[t] += copies
	f.mu.Unlock()
}

// trackRecv records one envelope as received (polled by its destination),
// removing it from the in-flight set.
func (f *Fabric[T]) trackRecv(m mail.Mail[T]) {
	t := m.Transfer.CommitTime()
	f.mu.Lock()
	f.recvs++
	if c := f.pending[t]; c <= 1 {
		delete(f.pending, t)
	} else {
		f.pending[t] = c - 1
	}
	f.mu.Unlock()
}

// Endpoint returns the Planet-facing handle for worldID.
func (f *Fabric[T]) Endpoint(worldID uint64) *Endpoint[T] {
	return &Endpoint[T]{worldID: worldID, outbound: f.outbound[worldID], inbound: f.inbound[worldID], fabric: f}
}

// Close signals every consumer of the merged stream to stop.
func (f *Fabric[T]) Close() { close(f.done) }

// deliver routes one piece of mail to its destination's inbound channel, or
// to every world's inbound channel when ToWorld is nil (broadcast).
func (f *Fabric[T]) deliver(m mail.Mail[T]) {
	if m.ToWorld == nil {
		for _, in := range f.inbound {
			in <- m
		}
		return
	}
	f.inbound[*m.ToWorld] <- m
}

// Endpoint is one world's handle onto the Fabric: it implements
// planet.Messenger[T].
type Endpoint[T any] struct {
	worldID  uint64
	outbound chan<- mail.Mail[T]
	inbound  <-chan mail.Mail[T]
	fabric   *Fabric[T]
}

// Send enqueues m on this world's outbound channel for the coordinator to
// pick up and route, recording it as in flight.
func (e *Endpoint[T]) Send(m mail.Mail[T]) error {
	e.fabric.trackSend(m)
	e.outbound <- m
	return nil
}

// Poll drains whatever mail is currently buffered for this world without
// blocking, recording each drained envelope as received.
func (e *Endpoint[T]) Poll() []mail.Mail[T] {
	var out []mail.Mail[T]
	for {
		select {
		case m := <-e.inbound:
			e.fabric.trackRecv(m)
			out = append(out, m)
		default:
			return out
		}
	}
}
