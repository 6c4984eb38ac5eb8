// Package system provides the wall clock used outside tests.
package system

import "time"

// Clock implements harvest.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current local time with its monotonic reading, so
// session durations survive wall-clock adjustments. Callers convert to UTC
// for display.
func (Clock) Now() time.Time {
	return time.Now()
}
