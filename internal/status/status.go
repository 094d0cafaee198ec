// Package status provides a thread-safe status tracker for the relay-scheduler daemon.
// It is read by HTTP handlers and by MQTT lifecycle events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/relay-scheduler/internal/schedule"
)

// NetworkInfo contains network state. This is a local copy to avoid
// importing internal/mqtt from status.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	Name     string
	PollMs   int64
	Broker   string
	HTTPAddr string
	Store    string
	Actuator string
}

// Relay is the displayed state of one relay.
type Relay struct {
	ID      uint
	Name    string
	Channel uint
	Alarms  int

	// State is "ON", "OFF" or "UNKNOWN" when the line could not be read.
	State string
}

// Next is the head of the firing queue.
type Next struct {
	At       time.Time
	AlarmIDs []uint
	RelayIDs []uint
}

// Counts tallies alarm firings since startup.
type Counts struct {
	Fired  int
	Failed int
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Relays        []Relay
	Next          *Next
	Counts        Counts
	LastFired     *schedule.Fired
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
		now: time.Now,
	}
}

// SetNow replaces the clock used to stamp snapshots.
func (t *Tracker) SetNow(now func() time.Time) {
	t.mu.Lock()
	t.now = now
	t.mu.Unlock()
}

// SetRelays replaces the displayed relays. Called from runLoop on every tick.
func (t *Tracker) SetRelays(relays []Relay) {
	t.mu.Lock()
	t.snap.Relays = relays
	t.mu.Unlock()
}

// SetNext sets the head of the firing queue, nil when no alarms exist.
func (t *Tracker) SetNext(next *Next) {
	t.mu.Lock()
	t.snap.Next = next
	t.mu.Unlock()
}

// RecordFired counts fired alarms and remembers the last one.
func (t *Tracker) RecordFired(fired []schedule.Fired) {
	if len(fired) == 0 {
		return
	}
	t.mu.Lock()
	t.snap.Counts.Fired += len(fired)
	last := fired[len(fired)-1]
	t.snap.LastFired = &last
	t.mu.Unlock()
}

// RecordFailures counts alarms that failed to switch their relay.
func (t *Tracker) RecordFailures(n int) {
	t.mu.Lock()
	t.snap.Counts.Failed += n
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// SetName updates the displayed system name.
func (t *Tracker) SetName(name string) {
	t.mu.Lock()
	t.snap.Config.Name = name
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	now := t.now
	t.mu.RUnlock()
	s.Relays = append([]Relay(nil), s.Relays...)
	s.Now = now()
	return s
}

// RelaysFrom builds the displayed relay list from registry snapshots.
// read returns the line state of a relay id.
func RelaysFrom(relays []schedule.RelaySnapshot, read func(id uint) (bool, error)) []Relay {
	out := make([]Relay, 0, len(relays))
	for _, r := range relays {
		state := "UNKNOWN"
		if on, err := read(r.ID); err == nil {
			state = stateString(on)
		}
		out = append(out, Relay{
			ID:      r.ID,
			Name:    r.Name,
			Channel: r.Channel,
			Alarms:  len(r.Alarms),
			State:   state,
		})
	}
	return out
}

// NextFrom returns the head of a queue snapshot, nil if it is empty.
func NextFrom(groups []schedule.GroupSnapshot) *Next {
	if len(groups) == 0 {
		return nil
	}
	g := groups[0]
	return &Next{At: g.At, AlarmIDs: g.AlarmIDs, RelayIDs: g.RelayIDs}
}

func stateString(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}
