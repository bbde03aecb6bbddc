package port

import "time"

// Timer is a pending deferred call
type Timer interface {
	// Stop prevents the call from firing. It returns false if the call
	// already fired or was stopped.
	Stop() bool
}

// Clock schedules deferred calls. Implementations must run f on its own
// goroutine so timers of different machines never delay each other.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}
