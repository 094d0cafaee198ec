// Package clock provides the wall-clock source used by the scheduler.
// The system clock is never modified; manual adjustments are kept as an
// offset so the daemon can run unprivileged.
package clock

import (
	"sync"
	"time"
)

// Source supplies the current instant and accepts manual adjustment.
type Source interface {
	// Now returns the current (possibly adjusted) wall-clock instant.
	Now() time.Time

	// Set moves the clock to t. Subsequent Now calls advance from t.
	Set(t time.Time)
}

// System is a Source backed by time.Now plus an adjustable offset.
type System struct {
	// now is the underlying time source (time.Now outside tests).
	now func() time.Time

	mu     sync.RWMutex
	offset time.Duration
	loc    *time.Location
}

// NewSystem creates a System clock reporting instants in loc.
// A nil loc means time.Local.
func NewSystem(loc *time.Location) *System {
	if loc == nil {
		loc = time.Local
	}
	return &System{now: time.Now, loc: loc}
}

// Now returns the adjusted wall-clock instant.
func (s *System) Now() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.now().Add(s.offset).In(s.loc)
}

// Set records the offset between t and the underlying clock.
func (s *System) Set(t time.Time) {
	s.mu.Lock()
	s.offset = t.Sub(s.now())
	s.mu.Unlock()
}

// Offset returns the current manual adjustment.
func (s *System) Offset() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.offset
}

// Fake is a manually driven Source for tests.
type Fake struct {
	mu sync.Mutex
	t  time.Time
}

// NewFake creates a Fake clock frozen at t.
func NewFake(t time.Time) *Fake {
	return &Fake{t: t}
}

// Now returns the frozen instant.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

// Set moves the clock to t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.t = t
	f.mu.Unlock()
}

// Advance moves the clock forward by d and returns the new instant.
func (f *Fake) Advance(d time.Duration) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
	return f.t
}
