package stats

import "time"

// Clock abstracts the time source so trials can be simulated in tests.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

type systemClock struct{}

func (systemClock) Now() time.Time                  { return time.Now() }
func (systemClock) Since(t time.Time) time.Duration { return time.Since(t) }

// SystemClock reads the wall clock; durations use its monotonic reading.
var SystemClock Clock = systemClock{}

// Measure times exactly one invocation of fn.
func Measure[T any](clock Clock, fn func() (T, error)) (T, time.Duration, error) {
	if clock == nil {
		clock = SystemClock
	}
	start := clock.Now()
	result, err := fn()
	return result, clock.Since(start), err
}
