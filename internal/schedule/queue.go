package schedule

import (
	"sort"
	"time"
)

// Group is a set of alarms sharing one occurrence instant.
type Group struct {
	// At is the instant of the group's occurrence in the current cycle.
	At time.Time

	// Alarms is ordered by ascending alarm id.
	Alarms []*Alarm
}

// settled reports whether the group's occurrence window has closed without it
// being due any more: either the grace interval has passed, or every alarm in
// it already fired for this occurrence.
func (g *Group) settled(now time.Time) bool {
	if now.After(g.At.Add(GraceInterval)) {
		return true
	}
	for _, a := range g.Alarms {
		if a.LastFired.Before(g.At) {
			return false
		}
	}
	return true
}

// Queue is the circular firing queue. The head is the next occurrence; after
// it fires it is rotated to the tail, one week later.
type Queue struct {
	groups []*Group
}

// BuildQueue groups alarms by occurrence over the seven days starting at
// now's date. Within a day, groups are ordered by time of day; alarms with an
// identical time of day share a group. Groups of today that lie more than
// GraceInterval before now are moved to the tail (next week).
func BuildQueue(alarms []*Alarm, now time.Time) *Queue {
	now = now.Truncate(time.Second)
	q := &Queue{}

	type entry struct {
		alarm *Alarm
		dist  time.Duration
	}

	today := int(now.Weekday())
	for i := 0; i < 7; i++ {
		day := (today + i) % 7
		midnight := time.Date(now.Year(), now.Month(), now.Day()+i, 0, 0, 0, 0, now.Location())

		var entries []entry
		for _, a := range alarms {
			if !a.Weekdays[day] {
				continue
			}
			d, _ := a.NextOccurrence(midnight)
			entries = append(entries, entry{alarm: a, dist: d})
		}

		sort.SliceStable(entries, func(i, j int) bool {
			if entries[i].dist != entries[j].dist {
				return entries[i].dist < entries[j].dist
			}
			return entries[i].alarm.ID < entries[j].alarm.ID
		})

		var cur *Group
		var curDist time.Duration
		for _, e := range entries {
			if cur == nil || e.dist != curDist {
				cur = &Group{At: midnight.Add(e.dist)}
				curDist = e.dist
				q.groups = append(q.groups, cur)
			}
			cur.Alarms = append(cur.Alarms, e.alarm)
		}
	}

	cutoff := now.Add(-GraceInterval)
	for n := len(q.groups); n > 0 && q.groups[0].At.Before(cutoff); n-- {
		q.Rotate()
	}

	return q
}

// Len returns the number of groups.
func (q *Queue) Len() int {
	return len(q.groups)
}

// Head returns the next group, or nil if the queue is empty.
func (q *Queue) Head() *Group {
	if len(q.groups) == 0 {
		return nil
	}
	return q.groups[0]
}

// Rotate moves the head group to the tail, one week later.
func (q *Queue) Rotate() {
	if len(q.groups) == 0 {
		return
	}
	head := q.groups[0]
	head.At = head.At.Add(Week)
	q.groups = append(q.groups[1:], head)
}

// Groups returns the groups in queue order.
func (q *Queue) Groups() []*Group {
	out := make([]*Group, len(q.groups))
	copy(out, q.groups)
	return out
}

// GroupSnapshot is a copy of a queue group.
type GroupSnapshot struct {
	At       time.Time
	AlarmIDs []uint
	RelayIDs []uint
}

func (q *Queue) snapshot() []GroupSnapshot {
	out := make([]GroupSnapshot, 0, len(q.groups))
	for _, g := range q.groups {
		s := GroupSnapshot{At: g.At}
		for _, a := range g.Alarms {
			s.AlarmIDs = append(s.AlarmIDs, a.ID)
			s.RelayIDs = append(s.RelayIDs, a.RelayID)
		}
		out = append(out, s)
	}
	return out
}
