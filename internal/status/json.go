package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	Name          string       `json:"name"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Relays        []RelayJSON  `json:"relays"`
	Next          *NextJSON    `json:"next_alarm,omitempty"`
	Counts        CountsJSON   `json:"alarm_counts"`
	LastFired     *FiredJSON   `json:"last_fired,omitempty"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// RelayJSON is the JSON representation of one relay.
type RelayJSON struct {
	ID      uint   `json:"id"`
	Name    string `json:"name"`
	Channel uint   `json:"pin"`
	State   string `json:"state"`
	Alarms  int    `json:"alarms"`
}

// NextJSON is the JSON representation of the firing queue head.
type NextJSON struct {
	At       string `json:"at"`
	AlarmIDs []uint `json:"alarm_ids"`
	RelayIDs []uint `json:"relay_ids"`
}

// CountsJSON is the JSON representation of alarm counts.
type CountsJSON struct {
	Fired  int `json:"fired"`
	Failed int `json:"failed"`
}

// FiredJSON is the JSON representation of the last fired alarm.
type FiredJSON struct {
	AlarmID uint   `json:"alarm_id"`
	RelayID uint   `json:"relay_id"`
	Name    string `json:"name"`
	State   string `json:"state"`
	At      string `json:"at"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	PollMs   int64  `json:"poll_ms"`
	Broker   string `json:"broker"`
	HTTPAddr string `json:"http_addr"`
	Store    string `json:"store"`
	Actuator string `json:"actuator"`
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		Name:          snap.Config.Name,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Relays:        make([]RelayJSON, 0, len(snap.Relays)),
		Counts:        CountsJSON{Fired: snap.Counts.Fired, Failed: snap.Counts.Failed},
		Config: ConfigJSON{
			PollMs:   snap.Config.PollMs,
			Broker:   snap.Config.Broker,
			HTTPAddr: snap.Config.HTTPAddr,
			Store:    snap.Config.Store,
			Actuator: snap.Config.Actuator,
		},
	}

	for _, r := range snap.Relays {
		state := r.State
		if state == "" {
			state = "UNKNOWN"
		}
		inner.Relays = append(inner.Relays, RelayJSON{
			ID:      r.ID,
			Name:    r.Name,
			Channel: r.Channel,
			State:   state,
			Alarms:  r.Alarms,
		})
	}

	if snap.Next != nil {
		inner.Next = &NextJSON{
			At:       snap.Next.At.UTC().Format(time.RFC3339),
			AlarmIDs: snap.Next.AlarmIDs,
			RelayIDs: snap.Next.RelayIDs,
		}
	}

	if f := snap.LastFired; f != nil {
		inner.LastFired = &FiredJSON{
			AlarmID: f.AlarmID,
			RelayID: f.RelayID,
			Name:    f.RelayName,
			State:   stateString(f.State),
			At:      f.FiredAt.UTC().Format(time.RFC3339),
		}
	}

	return inner
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
