package rftio

import "time"

// Clock is the time source spec.md §1 scopes out of the core as an
// external collaborator, so tests can substitute a fake one without
// sleeping real wall-clock time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the real, os-backed Clock.
var SystemClock Clock = systemClock{}
