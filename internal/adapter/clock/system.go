package clock

import (
	"time"

	"github.com/crabzie/factory-runtime/internal/core/port"
)

type systemClock struct{}

// NewSystemClock returns the wall clock. Each timer fires on its own goroutine.
func NewSystemClock() port.Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) AfterFunc(d time.Duration, f func()) port.Timer {
	return time.AfterFunc(d, f)
}
