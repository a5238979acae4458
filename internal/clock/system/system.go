// Package system provides a real clock implementation.
package system

import "time"

// Clock implements stock.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Func adapts a plain function to the Clock contract.
type Func func() time.Time

// Now calls f.
func (f Func) Now() time.Time {
	return f()
}
