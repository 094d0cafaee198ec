// Package mqtt provides MQTT publishing with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/relay-scheduler/internal/schedule"
)

// Topic is the MQTT topic for relay events.
const Topic = "home/relay-scheduler/events"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "home/relay-scheduler/system"

// EventType names what switched a relay.
type EventType string

const (
	EventAlarmFired EventType = "ALARM_FIRED"
	EventManual     EventType = "MANUAL"
)

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a relay event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event RelayEvent) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// RelayEvent records a relay switching state.
type RelayEvent struct {
	Timestamp time.Time
	Type      EventType
	RelayID   uint
	RelayName string
	State     bool

	// AlarmID and ScheduledAt are zero for manual switches.
	AlarmID     uint
	ScheduledAt time.Time
}

// FromFired converts a fired alarm into a relay event.
func FromFired(f schedule.Fired) RelayEvent {
	return RelayEvent{
		Timestamp:   f.FiredAt,
		Type:        EventAlarmFired,
		RelayID:     f.RelayID,
		RelayName:   f.RelayName,
		State:       f.State,
		AlarmID:     f.AlarmID,
		ScheduledAt: f.ScheduledAt,
	}
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Relay RelayPayload `json:"relay"`
}

// RelayPayload contains the relay event details.
type RelayPayload struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	RelayID   uint   `json:"relay_id"`
	Name      string `json:"name"`
	State     string `json:"state"`
	AlarmID   uint   `json:"alarm_id,omitempty"`
	Scheduled string `json:"scheduled,omitempty"`
}

// FormatPayload creates the JSON payload for a relay event.
func FormatPayload(event RelayEvent) ([]byte, error) {
	payload := Payload{
		Relay: RelayPayload{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     string(event.Type),
			RelayID:   event.RelayID,
			Name:      event.RelayName,
			State:     stateString(event.State),
			AlarmID:   event.AlarmID,
		},
	}
	if !event.ScheduledAt.IsZero() {
		payload.Relay.Scheduled = event.ScheduledAt.UTC().Format(time.RFC3339)
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

func stateString(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}
