package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSystemSetKeepsOffset(t *testing.T) {
	base := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	underlying := base
	s := NewSystem(time.UTC)
	s.now = func() time.Time { return underlying }

	assert.Equal(t, base, s.Now())

	s.Set(base.Add(-2 * time.Hour))
	assert.Equal(t, -2*time.Hour, s.Offset())
	assert.Equal(t, base.Add(-2*time.Hour), s.Now())

	// The adjusted clock keeps ticking with the underlying one.
	underlying = base.Add(30 * time.Second)
	assert.Equal(t, base.Add(-2*time.Hour+30*time.Second), s.Now())
}

func TestSystemReportsLocation(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	s := NewSystem(loc)
	assert.Equal(t, loc, s.Now().Location())
}

func TestSystemNilLocationIsLocal(t *testing.T) {
	s := NewSystem(nil)
	assert.Equal(t, time.Local, s.Now().Location())
}

func TestFake(t *testing.T) {
	start := time.Date(2026, 1, 5, 7, 59, 59, 0, time.UTC)
	f := NewFake(start)
	assert.Equal(t, start, f.Now())

	got := f.Advance(time.Second)
	assert.Equal(t, start.Add(time.Second), got)
	assert.Equal(t, got, f.Now())

	later := start.Add(48 * time.Hour)
	f.Set(later)
	assert.Equal(t, later, f.Now())
}

func TestFakeSatisfiesSource(t *testing.T) {
	var _ Source = NewFake(time.Time{})
	var _ Source = NewSystem(time.UTC)
}
