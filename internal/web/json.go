package web

import (
	"time"

	"github.com/sweeney/relay-scheduler/internal/schedule"
)

// RelayJSON is one entry of /api/all-relays.
type RelayJSON struct {
	ID     uint   `json:"id"`
	Name   string `json:"name"`
	Pin    uint   `json:"pin"`
	Alarms int    `json:"alarms"`

	// State is null when the line could not be read.
	State *bool `json:"state"`
}

// AlarmJSON is the API representation of an alarm.
type AlarmJSON struct {
	ID       uint   `json:"id"`
	RelayID  uint   `json:"relayId"`
	Hour     uint   `json:"hour"`
	Minute   uint   `json:"minute"`
	Second   uint   `json:"second"`
	Weekdays []bool `json:"weekdays"`
	State    bool   `json:"state"`

	// NextInSeconds is -1 when no weekday is active.
	NextInSeconds int64  `json:"nextInSeconds"`
	LastFired     string `json:"lastFired,omitempty"`
}

func alarmJSON(a schedule.Alarm, now time.Time) AlarmJSON {
	out := AlarmJSON{
		ID:            a.ID,
		RelayID:       a.RelayID,
		Hour:          a.Hour,
		Minute:        a.Minute,
		Second:        a.Second,
		Weekdays:      append([]bool(nil), a.Weekdays[:]...),
		State:         a.State,
		NextInSeconds: a.NextOccurrenceSeconds(now),
	}
	if a.LastFired.After(schedule.NeverFired) {
		out.LastFired = a.LastFired.Format(time.RFC3339)
	}
	return out
}

// GroupJSON is one entry of /api/next-alarms.
type GroupJSON struct {
	At        string `json:"at"`
	InSeconds int64  `json:"inSeconds"`
	AlarmIDs  []uint `json:"alarmIds"`
	RelayIDs  []uint `json:"relayIds"`
}

// TimeJSON is the broken-down clock reading of /api/server-time.
type TimeJSON struct {
	Year      int    `json:"year"`
	Month     int    `json:"month"`
	Day       int    `json:"day"`
	Hour      int    `json:"hour"`
	Minute    int    `json:"minute"`
	Second    int    `json:"second"`
	Weekday   int    `json:"weekday"`
	Timestamp string `json:"timestamp"`
}

func timeJSON(t time.Time) TimeJSON {
	return TimeJSON{
		Year:      t.Year(),
		Month:     int(t.Month()),
		Day:       t.Day(),
		Hour:      t.Hour(),
		Minute:    t.Minute(),
		Second:    t.Second(),
		Weekday:   int(t.Weekday()),
		Timestamp: t.Format(time.RFC3339),
	}
}
