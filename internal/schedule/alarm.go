// Package schedule contains the alarm scheduling core: weekly recurring
// alarms, the relays that own them, and the registry that merges every
// alarm into a chronologically ordered firing queue.
//
// Nothing in this package reads the wall clock. Every operation that depends
// on time takes the reference instant as a parameter.
package schedule

import (
	"time"
)

const (
	// Week is the horizon of the firing queue.
	Week = 7 * 24 * time.Hour

	// DebounceInterval is the minimum time between two firings of one alarm.
	DebounceInterval = time.Minute

	// GraceInterval is how long after its occurrence an alarm is still
	// recognised as due. It covers the poll granularity.
	GraceInterval = time.Minute
)

// NeverFired is the LastFired value of an alarm that has not fired since it
// was created or loaded.
var NeverFired = time.Unix(0, 0).UTC()

// Weekdays marks the days an alarm is active on, indexed like time.Weekday
// (0 = Sunday .. 6 = Saturday).
type Weekdays [7]bool

// On reports whether d is marked active.
func (w Weekdays) On(d time.Weekday) bool {
	return w[d]
}

// Any reports whether at least one day is active.
func (w Weekdays) Any() bool {
	for _, on := range w {
		if on {
			return true
		}
	}
	return false
}

// WeekdaysOf returns a Weekdays with the given days active.
func WeekdaysOf(days ...time.Weekday) Weekdays {
	var w Weekdays
	for _, d := range days {
		w[d] = true
	}
	return w
}

// EveryDay is active on all seven days.
var EveryDay = Weekdays{true, true, true, true, true, true, true}

// Alarm switches its relay to State at Hour:Minute:Second on every active
// weekday.
type Alarm struct {
	ID      uint
	RelayID uint

	Hour   uint
	Minute uint
	Second uint

	Weekdays Weekdays

	// State is the relay state applied when the alarm fires (true = on).
	State bool

	// LastFired is the last instant the alarm switched its relay.
	// It is not persisted.
	LastFired time.Time
}

// NextOccurrence returns the distance from now to the next occurrence of the
// alarm, in whole seconds. An occurrence exactly at now has distance 0.
// The second result is false when no weekday is active.
//
// The scan starts at now's weekday and includes the same weekday one week
// later, so an alarm whose only occurrence today has passed reports next
// week's occurrence rather than none.
func (a *Alarm) NextOccurrence(now time.Time) (time.Duration, bool) {
	now = now.Truncate(time.Second)
	today := int(now.Weekday())

	for i := 0; i <= 7; i++ {
		day := (today + i) % 7
		if !a.Weekdays[day] {
			continue
		}

		at := a.on(now, i)
		if at.Before(now) {
			continue
		}
		return at.Sub(now), true
	}

	return 0, false
}

// NextOccurrenceSeconds is NextOccurrence in seconds, with -1 meaning none.
func (a *Alarm) NextOccurrenceSeconds(now time.Time) int64 {
	d, ok := a.NextOccurrence(now)
	if !ok {
		return -1
	}
	return int64(d / time.Second)
}

// PreviousOccurrence returns the time elapsed since the most recent
// occurrence of the alarm at or before now, in whole seconds. The second
// result is false when no weekday is active.
func (a *Alarm) PreviousOccurrence(now time.Time) (time.Duration, bool) {
	now = now.Truncate(time.Second)
	today := int(now.Weekday())

	for i := 0; i <= 7; i++ {
		day := ((today-i)%7 + 7) % 7
		if !a.Weekdays[day] {
			continue
		}

		at := a.on(now, -i)
		if at.After(now) {
			continue
		}
		return now.Sub(at), true
	}

	return 0, false
}

// IsDue reports whether the alarm should fire at now: its occurrence is now
// or less than GraceInterval ago, and it has not fired within
// DebounceInterval. Lateness is measured from the most recent occurrence, so
// an alarm active on several weekdays keeps its grace window.
func (a *Alarm) IsDue(now time.Time) bool {
	d, ok := a.NextOccurrence(now)
	if !ok {
		return false
	}
	if d != 0 {
		late, ok := a.PreviousOccurrence(now)
		if !ok || late >= GraceInterval {
			return false
		}
	}
	return a.LastFired.Before(now.Add(-DebounceInterval))
}

// TimeOfDay returns the alarm time as a duration since midnight.
func (a *Alarm) TimeOfDay() time.Duration {
	return time.Duration(a.Hour)*time.Hour +
		time.Duration(a.Minute)*time.Minute +
		time.Duration(a.Second)*time.Second
}

// on returns the alarm time on the day offset days after ref's date.
func (a *Alarm) on(ref time.Time, offset int) time.Time {
	return time.Date(ref.Year(), ref.Month(), ref.Day()+offset,
		int(a.Hour), int(a.Minute), int(a.Second), 0, ref.Location())
}

// AlarmSpec carries the user-settable fields of an alarm.
type AlarmSpec struct {
	Hour     uint
	Minute   uint
	Second   uint
	Weekdays Weekdays
	State    bool
}

// Validate rejects out-of-range time components.
func (s AlarmSpec) Validate() error {
	if s.Hour > 23 || s.Minute > 59 || s.Second > 59 {
		return Errorf(ErrInvalid, "time %02d:%02d:%02d out of range", s.Hour, s.Minute, s.Second)
	}
	return nil
}

func (a *Alarm) apply(s AlarmSpec) {
	a.Hour = s.Hour
	a.Minute = s.Minute
	a.Second = s.Second
	a.Weekdays = s.Weekdays
	a.State = s.State
}

// Spec returns the user-settable fields of a.
func (a *Alarm) Spec() AlarmSpec {
	return AlarmSpec{
		Hour:     a.Hour,
		Minute:   a.Minute,
		Second:   a.Second,
		Weekdays: a.Weekdays,
		State:    a.State,
	}
}
