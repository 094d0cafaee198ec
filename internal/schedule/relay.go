package schedule

import "sort"

// Relay is a switched output driven by one physical channel. It owns its
// alarms; alarms refer back to it by id only.
type Relay struct {
	ID      uint
	Name    string
	Channel uint

	alarms map[uint]*Alarm
}

func newRelay(id, channel uint, name string) *Relay {
	return &Relay{
		ID:      id,
		Name:    name,
		Channel: channel,
		alarms:  make(map[uint]*Alarm),
	}
}

// AlarmIDs returns the ids of the relay's alarms in ascending order.
func (r *Relay) AlarmIDs() []uint {
	ids := make([]uint, 0, len(r.alarms))
	for id := range r.alarms {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// alarmList returns the relay's alarms ordered by id.
func (r *Relay) alarmList() []*Alarm {
	out := make([]*Alarm, 0, len(r.alarms))
	for _, id := range r.AlarmIDs() {
		out = append(out, r.alarms[id])
	}
	return out
}

func (r *Relay) addAlarm(a *Alarm) {
	a.RelayID = r.ID
	r.alarms[a.ID] = a
}

func (r *Relay) removeAlarm(id uint) bool {
	if _, ok := r.alarms[id]; !ok {
		return false
	}
	delete(r.alarms, id)
	return true
}

// RelaySnapshot is a copy of a relay and its alarms, safe to use without the
// registry lock.
type RelaySnapshot struct {
	ID      uint
	Name    string
	Channel uint
	Alarms  []Alarm
}

func (r *Relay) snapshot() RelaySnapshot {
	s := RelaySnapshot{
		ID:      r.ID,
		Name:    r.Name,
		Channel: r.Channel,
		Alarms:  make([]Alarm, 0, len(r.alarms)),
	}
	for _, a := range r.alarmList() {
		s.Alarms = append(s.Alarms, *a)
	}
	return s
}
