package services

import "time"

// Clock abstracts "now" so services never call time.Now directly and tests
// can pin timestamps.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the default wall clock.
var SystemClock Clock = systemClock{}

// FixedClock always returns the same instant. Test helper.
type FixedClock struct {
	At time.Time
}

func (c FixedClock) Now() time.Time { return c.At }
