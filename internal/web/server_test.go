package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sweeney/relay-scheduler/internal/clock"
	"github.com/sweeney/relay-scheduler/internal/gpio"
	"github.com/sweeney/relay-scheduler/internal/kv"
	"github.com/sweeney/relay-scheduler/internal/mqtt"
	"github.com/sweeney/relay-scheduler/internal/schedule"
	"github.com/sweeney/relay-scheduler/internal/status"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// Monday 2026-03-02, one minute before 08:00.
var testNow = time.Date(2026, 3, 2, 7, 59, 0, 0, time.UTC)

type testEnv struct {
	srv     *Server
	tracker *status.Tracker
	reg     *schedule.Registry
	clock   *clock.Fake
	store   *kv.Memory
	lines   *gpio.FakeLines
	pub     *mqtt.FakePublisher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		clock: clock.NewFake(testNow),
		store: kv.NewMemory(),
		lines: gpio.NewFakeLines(),
		pub:   mqtt.NewFakePublisher(),
	}
	env.reg = schedule.NewRegistry(env.clock, env.store, env.lines, nil)
	for _, r := range []struct {
		ch   uint
		name string
	}{{26, "Relay 1"}, {25, "Relay 2"}} {
		if _, err := env.reg.AddRelay(context.Background(), 0, r.ch, r.name); err != nil {
			t.Fatalf("AddRelay: %v", err)
		}
	}

	env.tracker = status.NewTracker(testNow.Add(-time.Hour), status.Config{
		Name:     "greenhouse",
		PollMs:   1000,
		Broker:   "tcp://192.168.1.200:1883",
		HTTPAddr: ":80",
		Store:    "memory",
		Actuator: "fake",
	})
	env.tracker.SetNow(env.clock.Now)

	env.srv = New(Options{
		Addr:      ":0",
		Tracker:   env.tracker,
		Registry:  env.reg,
		Publisher: env.pub,
		Rate:      1000,
		Burst:     1000,
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestJSONEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.tracker.SetRelays([]status.Relay{{ID: 1, Name: "Relay 1", Channel: 26, State: "ON", Alarms: 2}})
	env.tracker.SetMQTTConnected(true)

	rec := env.do(t, http.MethodGet, "/index.json", nil)
	if rec.Code != 200 {
		t.Errorf("status: got %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want application/json", ct)
	}

	var sj status.StatusJSON
	decode(t, rec, &sj)
	if sj.Status.Name != "greenhouse" {
		t.Errorf("Name: got %q, want greenhouse", sj.Status.Name)
	}
	if len(sj.Status.Relays) != 1 || sj.Status.Relays[0].State != "ON" {
		t.Errorf("Relays: got %+v", sj.Status.Relays)
	}
	if !sj.Status.MQTT.Connected {
		t.Error("expected MQTT.Connected=true")
	}
	if sj.Status.UptimeSeconds != 3600 {
		t.Errorf("UptimeSeconds: got %d, want 3600", sj.Status.UptimeSeconds)
	}
}

func TestHTMLEndpointRoot(t *testing.T) {
	env := newTestEnv(t)
	env.tracker.SetRelays([]status.Relay{{ID: 1, Name: "Porch light", Channel: 26, State: "OFF"}})
	env.tracker.SetNext(&status.Next{At: testNow.Add(time.Minute), AlarmIDs: []uint{4, 5}})

	rec := env.do(t, http.MethodGet, "/", nil)
	if rec.Code != 200 {
		t.Errorf("status: got %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type: got %q, want text/html", ct)
	}
	body := rec.Body.String()
	for _, want := range []string{"Porch light", "2026-03-02T08:00:00Z", "alarms 4, 5", "1h 0m 0s"} {
		if !strings.Contains(body, want) {
			t.Errorf("page missing %q", want)
		}
	}
}

func TestHTMLEndpointIndexHTML(t *testing.T) {
	env := newTestEnv(t)
	if rec := env.do(t, http.MethodGet, "/index.html", nil); rec.Code != 200 {
		t.Errorf("status: got %d, want 200", rec.Code)
	}
}

func TestNotFoundForUnknownPath(t *testing.T) {
	env := newTestEnv(t)
	if rec := env.do(t, http.MethodGet, "/nonexistent", nil); rec.Code != 404 {
		t.Errorf("status: got %d, want 404", rec.Code)
	}
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", nil)
	if rec.Code != 200 || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("healthz: got %d %s", rec.Code, rec.Body.String())
	}
}

func TestServeAndShutdown(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/index.json")
	if err != nil {
		t.Fatalf("GET /index.json: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := env.srv.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}
