package domain

import "time"

// Clock supplies current time for cooldown and deadline comparisons. All
// time-based transitions are lazily evaluated against it at the start of an
// operation; nothing in the protocol schedules timers.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall-clock Clock used outside of tests.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
