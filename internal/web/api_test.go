package web

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/sweeney/relay-scheduler/internal/mqtt"
	"github.com/sweeney/relay-scheduler/internal/schedule"
	"github.com/sweeney/relay-scheduler/internal/status"
)

var weekdays = []bool{false, true, true, true, true, true, false}

func TestGetAllRelays(t *testing.T) {
	env := newTestEnv(t)
	env.lines.Set(25, true)

	rec := env.do(t, http.MethodGet, "/api/all-relays", nil)
	if rec.Code != 200 {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	var body struct {
		Relays []RelayJSON `json:"relays"`
	}
	decode(t, rec, &body)
	if len(body.Relays) != 2 {
		t.Fatalf("relays: got %d, want 2", len(body.Relays))
	}
	if r := body.Relays[0]; r.ID != 1 || r.Name != "Relay 1" || r.Pin != 26 || r.State == nil || *r.State {
		t.Errorf("relay 1: got %+v", r)
	}
	if r := body.Relays[1]; r.State == nil || !*r.State {
		t.Errorf("relay 2 should read on: got %+v", r)
	}
}

func TestGetAllRelaysUnreadableLine(t *testing.T) {
	env := newTestEnv(t)
	env.lines.GetError = errors.New("line busy")

	rec := env.do(t, http.MethodGet, "/api/all-relays", nil)
	if rec.Code != 200 {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"state":null`) {
		t.Errorf("expected null state, got %s", rec.Body.String())
	}
}

func TestRelayControl(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/relay-control", map[string]any{"relayId": 2, "state": "on"})
	if rec.Code != 200 {
		t.Fatalf("status: got %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if on, _ := env.lines.Get(25); !on {
		t.Error("expected channel 25 on")
	}

	events := env.pub.RecordedEvents()
	if len(events) != 1 {
		t.Fatalf("events: got %d, want 1", len(events))
	}
	if e := events[0]; e.Type != mqtt.EventManual || e.RelayID != 2 || e.RelayName != "Relay 2" || !e.State || !e.Timestamp.Equal(testNow) {
		t.Errorf("event: got %+v", e)
	}
}

func TestRelayControlRejects(t *testing.T) {
	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{"bad state", map[string]any{"relayId": 1, "state": "maybe"}, 400},
		{"missing relay", map[string]any{"state": "on"}, 400},
		{"missing state", map[string]any{"relayId": 1}, 400},
		{"unknown relay", map[string]any{"relayId": 99, "state": "off"}, 404},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			rec := env.do(t, http.MethodPost, "/api/relay-control", tt.body)
			if rec.Code != tt.want {
				t.Errorf("status: got %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
			if n := len(env.lines.WriteLog()); n != 0 {
				t.Errorf("lines written: %d", n)
			}
			if n := len(env.pub.RecordedEvents()); n != 0 {
				t.Errorf("events published: %d", n)
			}
		})
	}
}

func TestRelayControlLineFailure(t *testing.T) {
	env := newTestEnv(t)
	env.lines.SetError = errors.New("gpio gone")

	rec := env.do(t, http.MethodPost, "/api/relay-control", map[string]any{"relayId": 1, "state": "on"})
	if rec.Code != 500 {
		t.Errorf("status: got %d, want 500", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "gpio gone") {
		t.Error("internal error detail leaked to client")
	}
}

func createAlarm(t *testing.T, env *testEnv, body map[string]any) AlarmJSON {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/api/relay-alarm", body)
	if rec.Code != 201 {
		t.Fatalf("create alarm: got %d: %s", rec.Code, rec.Body.String())
	}
	var a AlarmJSON
	decode(t, rec, &a)
	return a
}

func TestCreateAlarm(t *testing.T) {
	env := newTestEnv(t)

	a := createAlarm(t, env, map[string]any{
		"relayId": 1, "hour": 8, "minute": 0, "second": 0, "weekdays": weekdays, "state": true,
	})
	if a.ID != 1 || a.RelayID != 1 || a.Hour != 8 || !a.State {
		t.Errorf("alarm: got %+v", a)
	}
	if a.NextInSeconds != 60 {
		t.Errorf("NextInSeconds: got %d, want 60", a.NextInSeconds)
	}
	if a.LastFired != "" {
		t.Errorf("LastFired: got %q, want empty", a.LastFired)
	}

	doc, err := env.store.Get(context.Background(), schedule.DocumentKey)
	if err != nil {
		t.Fatalf("document not saved: %v", err)
	}
	if !strings.Contains(doc, `"hour":8`) {
		t.Errorf("saved document missing alarm: %s", doc)
	}
}

func TestCreateAlarmRejects(t *testing.T) {
	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{"hour out of range", map[string]any{"relayId": 1, "hour": 24, "weekdays": weekdays}, 400},
		{"second out of range", map[string]any{"relayId": 1, "second": 60, "weekdays": weekdays}, 400},
		{"short weekdays", map[string]any{"relayId": 1, "hour": 8, "weekdays": []bool{true, true}}, 400},
		{"missing weekdays", map[string]any{"relayId": 1, "hour": 8}, 400},
		{"missing relay", map[string]any{"hour": 8, "weekdays": weekdays}, 400},
		{"unknown relay", map[string]any{"relayId": 7, "hour": 8, "weekdays": weekdays}, 404},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			rec := env.do(t, http.MethodPost, "/api/relay-alarm", tt.body)
			if rec.Code != tt.want {
				t.Errorf("status: got %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
			if _, err := env.store.Get(context.Background(), schedule.DocumentKey); err == nil {
				t.Error("rejected request saved the document")
			}
		})
	}
}

func TestCreateAlarmSaveFailure(t *testing.T) {
	env := newTestEnv(t)
	env.store.SetError = errors.New("disk full")

	rec := env.do(t, http.MethodPost, "/api/relay-alarm", map[string]any{"relayId": 1, "hour": 8, "weekdays": weekdays})
	if rec.Code != 500 {
		t.Errorf("status: got %d, want 500", rec.Code)
	}
}

func TestGetRelayAlarms(t *testing.T) {
	env := newTestEnv(t)
	createAlarm(t, env, map[string]any{"relayId": 1, "hour": 8, "weekdays": weekdays, "state": true})
	createAlarm(t, env, map[string]any{"relayId": 1, "hour": 20, "weekdays": weekdays})
	createAlarm(t, env, map[string]any{"relayId": 2, "hour": 9, "weekdays": weekdays})

	rec := env.do(t, http.MethodGet, "/api/relay-alarms/1", nil)
	if rec.Code != 200 {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	var body struct {
		RelayID uint        `json:"relayId"`
		Alarms  []AlarmJSON `json:"alarms"`
	}
	decode(t, rec, &body)
	if body.RelayID != 1 || len(body.Alarms) != 2 {
		t.Fatalf("got %+v", body)
	}
	if body.Alarms[0].ID != 1 || body.Alarms[1].ID != 2 || body.Alarms[1].Hour != 20 {
		t.Errorf("alarms: got %+v", body.Alarms)
	}

	if rec := env.do(t, http.MethodGet, "/api/relay-alarms/abc", nil); rec.Code != 400 {
		t.Errorf("bad id: got %d, want 400", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/relay-alarms/99", nil); rec.Code != 404 {
		t.Errorf("unknown relay: got %d, want 404", rec.Code)
	}
}

func TestUpdateAlarm(t *testing.T) {
	env := newTestEnv(t)
	a := createAlarm(t, env, map[string]any{"relayId": 1, "hour": 8, "weekdays": weekdays, "state": true})

	rec := env.do(t, http.MethodPut, "/api/relay-alarm/1/1", map[string]any{
		"hour": 6, "minute": 30, "second": 15, "weekdays": weekdays, "state": false,
	})
	if rec.Code != 200 {
		t.Fatalf("status: got %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var updated AlarmJSON
	decode(t, rec, &updated)
	if updated.ID != a.ID || updated.Hour != 6 || updated.Minute != 30 || updated.Second != 15 || updated.State {
		t.Errorf("updated: got %+v", updated)
	}

	got, err := env.reg.Alarm(1, 1)
	if err != nil {
		t.Fatalf("Alarm: %v", err)
	}
	if got.Hour != 6 {
		t.Errorf("registry hour: got %d, want 6", got.Hour)
	}

	if rec := env.do(t, http.MethodPut, "/api/relay-alarm/1/9", map[string]any{"hour": 6, "weekdays": weekdays}); rec.Code != 404 {
		t.Errorf("unknown alarm: got %d, want 404", rec.Code)
	}
	if rec := env.do(t, http.MethodPut, "/api/relay-alarm/2/1", map[string]any{"hour": 6, "weekdays": weekdays}); rec.Code != 404 {
		t.Errorf("alarm on other relay: got %d, want 404", rec.Code)
	}
	if rec := env.do(t, http.MethodPut, "/api/relay-alarm/1/1", map[string]any{"minute": 75, "weekdays": weekdays}); rec.Code != 400 {
		t.Errorf("bad minute: got %d, want 400", rec.Code)
	}
}

func TestDeleteAlarm(t *testing.T) {
	env := newTestEnv(t)
	createAlarm(t, env, map[string]any{"relayId": 1, "hour": 8, "weekdays": weekdays})

	if rec := env.do(t, http.MethodDelete, "/api/relay-alarm/1/1", nil); rec.Code != 204 {
		t.Fatalf("delete: got %d, want 204", rec.Code)
	}
	if _, err := env.reg.Alarm(1, 1); !schedule.IsNotFound(err) {
		t.Errorf("alarm still present: %v", err)
	}
	if rec := env.do(t, http.MethodDelete, "/api/relay-alarm/1/1", nil); rec.Code != 404 {
		t.Errorf("second delete: got %d, want 404", rec.Code)
	}
	if rec := env.do(t, http.MethodDelete, "/api/relay-alarm/1/0", nil); rec.Code != 400 {
		t.Errorf("zero id: got %d, want 400", rec.Code)
	}
}

func TestServerTime(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/server-time", nil)
	var tj TimeJSON
	decode(t, rec, &tj)
	if tj.Year != 2026 || tj.Month != 3 || tj.Day != 2 || tj.Hour != 7 || tj.Minute != 59 || tj.Weekday != 1 {
		t.Errorf("time: got %+v", tj)
	}

	rec = env.do(t, http.MethodPost, "/api/server-time", map[string]any{"hourAdjustment": 1, "secondAdjustment": -30})
	if rec.Code != 200 {
		t.Fatalf("adjust: got %d: %s", rec.Code, rec.Body.String())
	}
	if want := testNow.Add(time.Hour - 30*time.Second); !env.clock.Now().Equal(want) {
		t.Errorf("clock: got %v, want %v", env.clock.Now(), want)
	}

	rec = env.do(t, http.MethodPost, "/api/server-time", map[string]any{"date": "2026-03-06"})
	if rec.Code != 200 {
		t.Fatalf("date: got %d: %s", rec.Code, rec.Body.String())
	}
	if want := time.Date(2026, 3, 6, 8, 58, 30, 0, time.UTC); !env.clock.Now().Equal(want) {
		t.Errorf("clock: got %v, want %v", env.clock.Now(), want)
	}

	rec = env.do(t, http.MethodPost, "/api/server-time", map[string]any{"date": "06/03/2026"})
	if rec.Code != 400 {
		t.Errorf("bad date: got %d, want 400", rec.Code)
	}
	rec = env.do(t, http.MethodPost, "/api/server-time", map[string]any{})
	if rec.Code != 400 {
		t.Errorf("empty adjustment: got %d, want 400", rec.Code)
	}
}

func TestServerTimeSetInvalidatesQueue(t *testing.T) {
	env := newTestEnv(t)
	createAlarm(t, env, map[string]any{"relayId": 1, "hour": 8, "weekdays": weekdays})

	env.do(t, http.MethodPost, "/api/server-time", map[string]any{"hourAdjustment": 2})

	rec := env.do(t, http.MethodGet, "/api/next-alarms", nil)
	var body struct {
		Groups []GroupJSON `json:"groups"`
	}
	decode(t, rec, &body)
	if len(body.Groups) == 0 {
		t.Fatal("expected queue groups")
	}
	// 09:59 Monday: the next 08:00 is Tuesday.
	if body.Groups[0].At != "2026-03-03T08:00:00Z" {
		t.Errorf("head: got %s, want Tuesday 08:00", body.Groups[0].At)
	}
}

func TestNextAlarms(t *testing.T) {
	env := newTestEnv(t)
	createAlarm(t, env, map[string]any{"relayId": 1, "hour": 8, "weekdays": weekdays, "state": true})
	createAlarm(t, env, map[string]any{"relayId": 2, "hour": 8, "weekdays": weekdays})

	rec := env.do(t, http.MethodGet, "/api/next-alarms", nil)
	if rec.Code != 200 {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	var body struct {
		Now    string      `json:"now"`
		Groups []GroupJSON `json:"groups"`
	}
	decode(t, rec, &body)
	if body.Now != "2026-03-02T07:59:00Z" {
		t.Errorf("now: got %s", body.Now)
	}
	if len(body.Groups) != 5 {
		t.Fatalf("groups: got %d, want 5 (one per weekday)", len(body.Groups))
	}
	head := body.Groups[0]
	if head.InSeconds != 60 || len(head.AlarmIDs) != 2 || len(head.RelayIDs) != 2 {
		t.Errorf("head: got %+v", head)
	}
}

func TestSettings(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/settings", map[string]any{"name": "shed"})
	if rec.Code != 200 {
		t.Fatalf("status: got %d: %s", rec.Code, rec.Body.String())
	}
	if env.reg.Name() != "shed" {
		t.Errorf("registry name: got %q", env.reg.Name())
	}
	if env.tracker.Snapshot().Config.Name != "shed" {
		t.Errorf("tracker name: got %q", env.tracker.Snapshot().Config.Name)
	}

	rec = env.do(t, http.MethodGet, "/api/settings", nil)
	if !strings.Contains(rec.Body.String(), `"shed"`) {
		t.Errorf("GET settings: got %s", rec.Body.String())
	}

	if rec := env.do(t, http.MethodPost, "/api/settings", map[string]any{"name": ""}); rec.Code != 400 {
		t.Errorf("empty name: got %d, want 400", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t)
	env.srv = New(Options{
		Tracker:  status.NewTracker(testNow, status.Config{}),
		Registry: env.reg,
		Rate:     0.001,
		Burst:    2,
	})

	body := map[string]any{"relayId": 1, "state": "on"}
	for i := 0; i < 2; i++ {
		if rec := env.do(t, http.MethodPost, "/api/relay-control", body); rec.Code != 200 {
			t.Fatalf("request %d: got %d", i, rec.Code)
		}
	}
	if rec := env.do(t, http.MethodPost, "/api/relay-control", body); rec.Code != 429 {
		t.Errorf("third request: got %d, want 429", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/all-relays", nil); rec.Code != 200 {
		t.Errorf("reads are not limited: got %d", rec.Code)
	}
}
