// Package system provides a real clock implementation.
package system

import "time"

// Clock returns wall-clock time in UTC. Components that need the current
// time declare their own small Clock interface; this type satisfies all of
// them.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
