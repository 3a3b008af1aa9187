package engine

import "time"

// Clock supplies wall-clock time. Elapsed time is always derived from Clock.Now and a
// stored start time, so a fake clock fully controls what the engine reports.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the real clock.
func SystemClock() Clock { return systemClock{} }
