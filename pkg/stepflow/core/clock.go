package core

import "time"

// Clock is the engine's only source of time. Step backoff waits on After and
// approval deadlines are compared against Now.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// RealClock reports wall time in UTC, matching what the repositories store.
type RealClock struct{}

func NewRealClock() Clock { return RealClock{} }

func (RealClock) Now() time.Time { return time.Now().UTC() }

func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
