package engine

import "time"

// Clock supplies wall time for presence join times and message timestamps.
// Implemented by SystemClock (production) and testutil.DeterministicClock.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real time in UTC.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
