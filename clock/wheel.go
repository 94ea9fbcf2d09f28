// Package clock implements the hierarchical timing wheel used as the local
// event and message scheduler for a world or planet.
//
// A Wheel[T] holds HEIGHT levels of SLOTS buckets each. Level k covers delays
// in [S_k, S_{k+1}) where S_k = (SLOTS^(k+1) - SLOTS)/(SLOTS - 1). Items whose
// delay is at or beyond the horizon S_HEIGHT are the caller's responsibility
// to push into an Overflow heap; Insert reports when that happens.
package clock

import "aikasim/simerr"

// Scheduleable is anything a Wheel can bucket: the only thing the wheel
// cares about is the absolute step at which an item is due.
type Scheduleable interface {
	Time() uint64
}

// Wheel is a generic hierarchical timing wheel over items implementing
// Scheduleable. SLOTS and HEIGHT are fixed at construction (Go has no const
// generics, so geometry is computed once and cached rather than baked into
// the type).
type Wheel[T Scheduleable] struct {
	slots  int
	height int

	// wheels[k][slot] holds items bucketed at level k, slot index.
	wheels [][][]T
	// cursors[k] is the current slot index at level k.
	cursors []int
	// bounds[k] is S_k, the start-of-range delay for level k. bounds has
	// height+1 entries; bounds[height] is the horizon S_HEIGHT.
	bounds []uint64

	step uint64
}

// New constructs a Wheel with the given slot count and height. height < 1 is
// rejected with simerr.ErrNoClock.
func New[T Scheduleable](slots, height int) (*Wheel[T], error) {
	if height < 1 {
		return nil, simerr.ErrNoClock
	}
	if slots < 1 {
		return nil, simerr.ErrNoClock
	}

	w := &Wheel[T]{
		slots:   slots,
		height:  height,
		wheels:  make([][][]T, height),
		cursors: make([]int, height),
		bounds:  make([]uint64, height+1),
	}
	for k := 0; k < height; k++ {
		w.wheels[k] = make([][]T, slots)
	}
	for k := 0; k <= height; k++ {
		w.bounds[k] = boundary(slots, k)
	}
	return w, nil
}

// boundary computes S_k = (SLOTS^(k+1) - SLOTS) / (SLOTS - 1), the standard
// geometric-series partition of the wheel's delay ranges. SLOTS == 1 is
// degenerate (every level covers a single delay) and is handled separately
// to avoid division by zero.
func boundary(slots, k int) uint64 {
	if slots == 1 {
		return uint64(k)
	}
	num := ipow(uint64(slots), k+1) - uint64(slots)
	return num / uint64(slots-1)
}

func ipow(base uint64, exp int) uint64 {
	result := uint64(1)
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

// Step returns the wheel's current step.
func (w *Wheel[T]) Step() uint64 { return w.step }

// Horizon returns S_HEIGHT, the delay beyond which items must go to an
// overflow structure instead.
func (w *Wheel[T]) Horizon() uint64 { return w.bounds[w.height] }

// Slots and Height expose the wheel's fixed geometry.
func (w *Wheel[T]) Slots() int  { return w.slots }
func (w *Wheel[T]) Height() int { return w.height }

// Insert places item into the appropriate level/slot. It returns
// (false, nil) on success, (true, nil) if the item's delay is at or beyond
// the horizon (the caller must route it to an overflow heap instead), or a
// non-nil error (simerr.ErrTimeTravel) if item.Time() is already past the
// wheel's current step.
func (w *Wheel[T]) Insert(item T) (overflowed bool, err error) {
	t := item.Time()
	if t < w.step {
		return false, simerr.ErrTimeTravel
	}
	delta := t - w.step

	if delta >= w.bounds[w.height] {
		return true, nil
	}

	for k := 0; k < w.height; k++ {
		if delta < w.bounds[k+1] {
			offset := w.bucketOffset(k, delta)
			w.wheels[k][offset] = append(w.wheels[k][offset], item)
			return false, nil
		}
	}
	// Unreachable given the horizon check above, but fail safe.
	return true, nil
}

// bucketOffset computes the slot index at level k for a delay known to lie
// in [S_k, S_{k+1}).
func (w *Wheel[T]) bucketOffset(k int, delta uint64) int {
	levelSpan := ipow(uint64(w.slots), k)
	steps := (delta - w.bounds[k]) / levelSpan
	return (w.cursors[k] + int(steps)) % w.slots
}

// Locate reports the level/slot that currently holds (or would hold) an
// item due at time, using the same delta-to-bucket mapping as Insert. ok is
// false when time is at or beyond the horizon — the caller should search
// Overflow instead.
func (w *Wheel[T]) Locate(time uint64) (level, slot int, ok bool) {
	if time < w.step {
		time = w.step
	}
	delta := time - w.step
	if delta >= w.bounds[w.height] {
		return 0, 0, false
	}
	for k := 0; k < w.height; k++ {
		if delta < w.bounds[k+1] {
			return k, w.bucketOffset(k, delta), true
		}
	}
	return 0, 0, false
}

// RemoveMatching removes and returns the first item in bucket (level, slot)
// for which match returns true.
func (w *Wheel[T]) RemoveMatching(level, slot int, match func(T) bool) (T, bool) {
	bucket := w.wheels[level][slot]
	for i, item := range bucket {
		if match(item) {
			w.wheels[level][slot] = append(bucket[:i:i], bucket[i+1:]...)
			return item, true
		}
	}
	var zero T
	return zero, false
}

// Overflow is a min-heap of items ordered by Time(), holding items whose
// delay exceeded a wheel's horizon.
type Overflow[T Scheduleable] struct {
	items overflowHeap[T]
}

// NewOverflow returns an empty overflow heap.
func NewOverflow[T Scheduleable]() *Overflow[T] {
	return &Overflow[T]{}
}

// Push adds an item to the overflow heap.
func (o *Overflow[T]) Push(item T) {
	heapPush(&o.items, item)
}

// Len reports the number of items parked in overflow.
func (o *Overflow[T]) Len() int { return len(o.items) }

// PopFirst removes and returns the earliest item, or false if empty.
func (o *Overflow[T]) PopFirst() (T, bool) {
	var zero T
	if len(o.items) == 0 {
		return zero, false
	}
	return heapPop(&o.items), true
}

// RemoveMatching scans the overflow heap for the first item for which match
// returns true, removes it, and reports true. Used by annihilation to find a
// message whose delay exceeds the wheel's horizon.
func (o *Overflow[T]) RemoveMatching(match func(T) bool) (T, bool) {
	return heapRemoveMatching(&o.items, match)
}

// Tick drains the bucket at the current level-0 cursor; the cursor itself
// only moves in Increment. It returns the drained items (possibly empty) and
// fails with simerr.ErrTimeTravel if the first drained item's time already
// precedes the wheel's step — a time-travel bug, not a normal empty tick.
func (w *Wheel[T]) Tick() ([]T, error) {
	cursor := w.cursors[0]
	items := w.wheels[0][cursor]
	w.wheels[0][cursor] = nil

	if len(items) > 0 && items[0].Time() < w.step {
		return nil, simerr.ErrTimeTravel
	}
	return items, nil
}

// Increment advances the wheel by one step and the level-0 cursor by one
// slot, rotating higher levels into lower ones (and pulling from overflow at
// the top level) whenever the level-0 cursor wraps and their periods elapse.
func (w *Wheel[T]) Increment(overflow *Overflow[T]) {
	w.step++
	w.cursors[0] = (w.cursors[0] + 1) % w.slots
	if w.cursors[0] == 0 {
		w.rotate(overflow)
	}
}

// rotate drains every level k>=1 whose period (SLOTS^k) has elapsed at the
// new step, re-inserting its items into lower levels. At the topmost level
// it additionally pulls up to SLOTS^(HEIGHT-1) items back in from overflow.
func (w *Wheel[T]) rotate(overflow *Overflow[T]) {
	for k := 1; k < w.height; k++ {
		period := ipow(uint64(w.slots), k)
		if w.step%period != 0 {
			continue
		}
		cursor := w.cursors[k]
		drained := w.wheels[k][cursor]
		w.wheels[k][cursor] = nil
		w.cursors[k] = (cursor + 1) % w.slots

		for _, item := range drained {
			overflowed, err := w.Insert(item)
			if err != nil {
				// A rotated item should never be in the past; surface as a
				// programmer error by parking it in overflow rather than
				// panicking the wheel.
				overflowed = true
			}
			if overflowed && overflow != nil {
				overflow.Push(item)
			}
		}
	}

	topPeriod := ipow(uint64(w.slots), w.height)
	if w.step%topPeriod != 0 {
		return
	}
	if overflow == nil {
		return
	}
	pulls := ipow(uint64(w.slots), w.height-1)
	for i := uint64(0); i < pulls; i++ {
		item, ok := overflow.PopFirst()
		if !ok {
			break
		}
		overflowed, err := w.Insert(item)
		if err == nil && overflowed {
			overflow.Push(item)
		}
	}
}

// Rollback restores the wheel to an earlier step. Cursors reset to zero;
// every bucket (and the overflow heap) is walked, discarding any item for
// which discard returns true, and re-inserting survivors. Callers supply
// discard to encode wheel-specific retention policy: the event wheel
// discards locally-produced events with CommitTime > step, while the
// message wheel keeps everything (messages are inputs, not outputs) and
// only its cursors/step retreat.
func (w *Wheel[T]) Rollback(step uint64, overflow *Overflow[T], discard func(T) bool) {
	for k := 0; k < w.height; k++ {
		w.cursors[k] = 0
	}
	w.step = step

	var survivors []T
	for k := 0; k < w.height; k++ {
		for slot := 0; slot < w.slots; slot++ {
			for _, item := range w.wheels[k][slot] {
				if discard == nil || !discard(item) {
					survivors = append(survivors, item)
				}
			}
			w.wheels[k][slot] = nil
		}
	}

	if overflow != nil {
		var keep []T
		for {
			item, ok := overflow.PopFirst()
			if !ok {
				break
			}
			if discard == nil || !discard(item) {
				keep = append(keep, item)
			}
		}
		for _, item := range keep {
			overflow.Push(item)
		}
	}

	for _, item := range survivors {
		overflowed, err := w.Insert(item)
		if err != nil {
			continue
		}
		if overflowed && overflow != nil {
			overflow.Push(item)
		}
	}
}
