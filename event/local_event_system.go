package event

import "aikasim/clock"

// LocalEventSystem pairs an event wheel with its overflow heap. Every World
// and Planet owns exactly one.
type LocalEventSystem struct {
	Wheel    *clock.Wheel[Scheduleable]
	Overflow *clock.Overflow[Scheduleable]
}

// NewLocalEventSystem constructs a LocalEventSystem with the given wheel
// geometry.
func NewLocalEventSystem(slots, height int) (*LocalEventSystem, error) {
	wheel, err := clock.New[Scheduleable](slots, height)
	if err != nil {
		return nil, err
	}
	return &LocalEventSystem{
		Wheel:    wheel,
		Overflow: clock.NewOverflow[Scheduleable](),
	}, nil
}

// Insert places e onto the wheel, routing to overflow if its delay exceeds
// the wheel's horizon. TimeTravel errors (e.Time before the wheel's current
// step) are propagated to the caller rather than silently dropped.
func (s *LocalEventSystem) Insert(e Event) error {
	item := AsScheduleable(e)
	overflowed, err := s.Wheel.Insert(item)
	if err != nil {
		return err
	}
	if overflowed {
		s.Overflow.Push(item)
	}
	return nil
}

// Tick drains the due bucket, returning the unwrapped Events.
func (s *LocalEventSystem) Tick() ([]Event, error) {
	items, err := s.Wheel.Tick()
	if err != nil {
		return nil, err
	}
	events := make([]Event, 0, len(items))
	for _, item := range items {
		events = append(events, item.Unwrap())
	}
	return events, nil
}

// Increment advances the wheel by one step.
func (s *LocalEventSystem) Increment() {
	s.Wheel.Increment(s.Overflow)
}

// Step returns the wheel's current step.
func (s *LocalEventSystem) Step() uint64 { return s.Wheel.Step() }

// Rollback discards locally-produced events with CommitTime > step and
// retreats the wheel to step.
func (s *LocalEventSystem) Rollback(step uint64) {
	s.Wheel.Rollback(step, s.Overflow, func(item Scheduleable) bool {
		return item.Unwrap().CommitTime > step
	})
}
