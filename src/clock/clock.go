// Package clock lets the hub's timers run against virtual time in tests.
//
// Production code uses Real(). Tests use Fake(start) and call Advance;
// AfterFunc callbacks then fire synchronously, in deadline order, inside
// Advance.
package clock

import "time"

// Clock is the subset of the time package the sync client depends on.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer cancels a pending AfterFunc call.
type Timer interface {
	// Stop reports whether the call was prevented from firing.
	Stop() bool
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
