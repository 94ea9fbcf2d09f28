// Package journal implements StateJournal, the arena-backed append-only log
// of typed values tagged with commit time that backs every rollback in the
// engine: world state, per-agent state, and (indirectly, via mail.AntiLog)
// anti-message retraction.
//
// A journal owns its value type at construction (StateJournal[T]): the
// rollback contract is purely temporal (discard everything committed after a
// step) and needs no dynamic dispatch over the stored values.
package journal

import "sync"

// entry pairs a committed value with the step at which it was committed.
type entry[T any] struct {
	value T
	step  uint64
}

// StateJournal is an append-only, mutex-protected log of (value, step)
// pairs. Rollback(step) discards every entry committed after step and
// restores the latest surviving entry as current.
type StateJournal[T any] struct {
	mu      sync.RWMutex
	entries []entry[T]
	arena   int // advisory capacity hint; the log grows past it if needed
}

// New constructs a StateJournal seeded with an initial value at step 0.
// arenaSize is an advisory pre-allocation hint, mirroring the arena-sizing
// knobs Config exposes per world/agent; the journal is not bounded by it —
// Commit never fails for capacity reasons.
func New[T any](initial T, arenaSize int) *StateJournal[T] {
	if arenaSize < 0 {
		arenaSize = 0
	}
	entries := make([]entry[T], 0, arenaSize+1)
	entries = append(entries, entry[T]{value: initial, step: 0})
	return &StateJournal[T]{entries: entries, arena: arenaSize}
}

// Commit appends a new value tagged with the given step. step must be >=
// the step of the most recent entry; callers (Planet/World) are the
// causality authority, so Commit does not re-validate ordering itself.
func (j *StateJournal[T]) Commit(value T, step uint64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry[T]{value: value, step: step})
}

// Current returns the most recently committed value.
func (j *StateJournal[T]) Current() T {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.entries[len(j.entries)-1].value
}

// Rollback discards every entry committed after target and returns the
// value of the latest surviving entry (committed at or before target),
// which becomes the new current value.
func (j *StateJournal[T]) Rollback(target uint64) T {
	j.mu.Lock()
	defer j.mu.Unlock()

	idx := len(j.entries) - 1
	for idx > 0 && j.entries[idx].step > target {
		idx--
	}
	j.entries = j.entries[:idx+1]
	return j.entries[idx].value
}

// Len reports the number of entries currently retained, for diagnostics and
// tests only.
func (j *StateJournal[T]) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.entries)
}
