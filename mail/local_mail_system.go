package mail

import "aikasim/clock"

// LocalMailSystem pairs a message wheel (keyed by Recv) with its overflow
// heap, an append-only log of outbound anti-messages awaiting possible
// retraction on rollback, and a pending-anti set for early-arriving
// anti-messages.
//
// The pending-anti set resolves the paired-ordering race explicitly: an
// AntiMsg that arrives before its Msg is held here and tested against every
// subsequently-committed Msg, rather than assumed to always arrive second.
// Holding the set is mandatory (not merely recommended) for the counter
// coordination variant, which has no other mechanism to guarantee delivery
// order and can otherwise deadlock waiting for an annihilation that already
// happened out of order.
type LocalMailSystem[T any] struct {
	Wheel    *clock.Wheel[Transfer[T]]
	Overflow *clock.Overflow[Transfer[T]]
	AntiLog  *AntiLog
	Pending  *PendingAntiSet
}

// NewLocalMailSystem constructs a LocalMailSystem with the given wheel
// geometry.
func NewLocalMailSystem[T any](slots, height int) (*LocalMailSystem[T], error) {
	wheel, err := clock.New[Transfer[T]](slots, height)
	if err != nil {
		return nil, err
	}
	return &LocalMailSystem[T]{
		Wheel:    wheel,
		Overflow: clock.NewOverflow[Transfer[T]](),
		AntiLog:  NewAntiLog(),
		Pending:  NewPendingAntiSet(),
	}, nil
}

// Insert places a transfer onto the wheel, routing to overflow past the
// wheel's horizon.
func (s *LocalMailSystem[T]) Insert(t Transfer[T]) error {
	overflowed, err := s.Wheel.Insert(t)
	if err != nil {
		return err
	}
	if overflowed {
		s.Overflow.Push(t)
	}
	return nil
}

// Tick drains the due bucket.
func (s *LocalMailSystem[T]) Tick() ([]Transfer[T], error) {
	return s.Wheel.Tick()
}

// Increment advances the wheel by one step.
func (s *LocalMailSystem[T]) Increment() {
	s.Wheel.Increment(s.Overflow)
}

// Step returns the wheel's current step.
func (s *LocalMailSystem[T]) Step() uint64 { return s.Wheel.Step() }

// Rollback retreats the wheel's cursors/step to target. Messages already
// committed remain on the wheel — they are inputs received from elsewhere,
// not locally-produced effects — so discard always returns false.
func (s *LocalMailSystem[T]) Rollback(target uint64) {
	s.Wheel.Rollback(target, s.Overflow, func(Transfer[T]) bool { return false })
}

// Commit dispatches a received Transfer: a Msg whose identity matches an
// already-parked pending anti-message is annihilated on arrival rather than
// committed, and annihilated reports true for that case (T4(b)); any other
// Msg is inserted onto the message wheel and annihilated is false; an
// AntiMsg runs Annihilate and annihilated is always false for it, since a
// same-ordering (T4(a)) annihilation is reported by the caller from the
// AntiMsg transfer itself.
func (s *LocalMailSystem[T]) Commit(tr Transfer[T]) (annihilated bool, err error) {
	switch tr.Kind {
	case TransferMsg:
		from, to, sent, recv := tr.Msg.Identity()
		if s.Pending.TestAndConsume(from, to, sent, recv) {
			return true, nil
		}
		return false, s.Insert(tr)
	case TransferAnti:
		s.Annihilate(tr.Anti)
		return false, nil
	default:
		return false, nil
	}
}

// Annihilate locates the message-wheel bucket (or overflow entry) that holds
// the Msg matching anti's identity and removes it. If no match is found —
// anti arrived before its paired Msg — anti is parked in the pending set,
// to be tested against every subsequently-committed Msg.
func (s *LocalMailSystem[T]) Annihilate(anti AntiMsg) {
	match := func(tr Transfer[T]) bool {
		if tr.Kind != TransferMsg {
			return false
		}
		from, to, sent, recv := tr.Msg.Identity()
		return anti.Annihilates(to, sent, recv, from)
	}

	if level, slot, ok := s.Wheel.Locate(anti.Received); ok {
		if _, removed := s.Wheel.RemoveMatching(level, slot, match); removed {
			return
		}
	} else if _, removed := s.Overflow.RemoveMatching(match); removed {
		return
	}
	s.Pending.Hold(anti)
}

// antiKey identifies an AntiMsg/Msg pair for pending-set lookups.
type antiKey struct {
	from, to, sent, recv uint64
}

// AntiLogEntry is one append-only record of an outbound anti-message,
// stamped with the sender's LVT at send time.
type AntiLogEntry struct {
	Anti  AntiMsg
	Stamp uint64
}

// AntiLog is the append-only anti-message journal: one entry per outbound
// cross-world Msg, appended at send time and walked on rollback to
// retract (re-dispatch) every entry stamped after the rollback target.
type AntiLog struct {
	entries []AntiLogEntry
}

// NewAntiLog returns an empty anti-message log.
func NewAntiLog() *AntiLog { return &AntiLog{} }

// Append records a new anti-message at the given stamp (the sender's LVT at
// send time).
func (l *AntiLog) Append(anti AntiMsg, stamp uint64) {
	l.entries = append(l.entries, AntiLogEntry{Anti: anti, Stamp: stamp})
}

// ReclaimAfter removes and returns every entry stamped strictly after
// target, in original append order, for retraction during rollback.
func (l *AntiLog) ReclaimAfter(target uint64) []AntiLogEntry {
	kept := l.entries[:0:0]
	var reclaimed []AntiLogEntry
	for _, e := range l.entries {
		if e.Stamp > target {
			reclaimed = append(reclaimed, e)
		} else {
			kept = append(kept, e)
		}
	}
	l.entries = kept
	return reclaimed
}

// Len reports the number of entries currently retained.
func (l *AntiLog) Len() int { return len(l.entries) }

// PendingAntiSet holds anti-messages that arrived before their paired Msg.
type PendingAntiSet struct {
	byIdentity map[antiKey]AntiMsg
}

// NewPendingAntiSet returns an empty pending-anti set.
func NewPendingAntiSet() *PendingAntiSet {
	return &PendingAntiSet{byIdentity: make(map[antiKey]AntiMsg)}
}

// Hold parks an anti-message for later matching against its Msg.
func (p *PendingAntiSet) Hold(a AntiMsg) {
	p.byIdentity[antiKey{from: a.From, to: a.To, sent: a.Sent, recv: a.Received}] = a
}

// TestAndConsume reports whether a pending anti-message matches the
// identity of the given Msg; if so it is removed from the set and true is
// returned (the caller must annihilate rather than commit the Msg).
func (p *PendingAntiSet) TestAndConsume(from uint64, to *uint64, sent, recv uint64) bool {
	if to == nil {
		return false
	}
	key := antiKey{from: from, to: *to, sent: sent, recv: recv}
	if _, ok := p.byIdentity[key]; !ok {
		return false
	}
	delete(p.byIdentity, key)
	return true
}

// Len reports the number of anti-messages currently parked.
func (p *PendingAntiSet) Len() int { return len(p.byIdentity) }
