package web

import (
	"net/http"
	"strconv"
	"time"

	z "github.com/Oudwins/zog"
	"github.com/Oudwins/zog/zhttp"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sweeney/relay-scheduler/internal/mqtt"
	"github.com/sweeney/relay-scheduler/internal/schedule"
)

func (s *Server) fail(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	switch schedule.ErrorCode(err) {
	case schedule.ErrNotFound:
		code = http.StatusNotFound
	case schedule.ErrInvalid:
		code = http.StatusBadRequest
	default:
		s.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(code, gin.H{"error": schedule.ErrorDescription(err)})
}

// save persists the registry after a mutation. It reports false after
// writing an error response.
func (s *Server) save(c *gin.Context) bool {
	if err := s.reg.Save(c.Request.Context()); err != nil {
		s.log.Error("save failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "changes applied but not saved"})
		return false
	}
	return true
}

func paramID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be a positive integer"})
		return 0, false
	}
	return uint(id), true
}

func (s *Server) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) GetAllRelays(c *gin.Context) {
	relays := s.reg.Relays()
	out := make([]RelayJSON, 0, len(relays))
	for _, r := range relays {
		rj := RelayJSON{ID: r.ID, Name: r.Name, Pin: r.Channel, Alarms: len(r.Alarms)}
		if on, err := s.reg.RelayState(r.ID); err == nil {
			rj.State = &on
		} else {
			s.log.Warn("relay state unreadable", zap.Uint("relay", r.ID), zap.Error(err))
		}
		out = append(out, rj)
	}
	c.JSON(http.StatusOK, gin.H{"relays": out})
}

type RelayControlRequest struct {
	RelayID int    `zog:"relayId"`
	State   string `zog:"state"`
}

var relayControlSchema = z.Struct(z.Shape{
	"RelayID": z.Int().GT(0).Required(),
	"State":   z.String().Required(),
})

func (s *Server) PostRelayControl(c *gin.Context) {
	var req RelayControlRequest
	if issues := relayControlSchema.Parse(zhttp.Request(c.Request), &req); len(issues) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": issues})
		return
	}

	var on bool
	switch req.State {
	case "on":
		on = true
	case "off":
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "state must be on or off"})
		return
	}

	id := uint(req.RelayID)
	if err := s.reg.SetRelayState(id, on); err != nil {
		s.fail(c, err)
		return
	}

	if s.pub != nil {
		relay, _ := s.reg.Relay(id)
		event := mqtt.RelayEvent{
			Timestamp: s.reg.Now(),
			Type:      mqtt.EventManual,
			RelayID:   id,
			RelayName: relay.Name,
			State:     on,
		}
		if err := s.pub.Publish(event); err != nil {
			s.log.Warn("publish manual switch failed", zap.Uint("relay", id), zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, gin.H{"relayId": id, "state": req.State})
}

func (s *Server) GetRelayAlarms(c *gin.Context) {
	relayID, ok := paramID(c, "relayId")
	if !ok {
		return
	}
	alarms, err := s.reg.Alarms(relayID)
	if err != nil {
		s.fail(c, err)
		return
	}

	now := s.reg.Now()
	out := make([]AlarmJSON, 0, len(alarms))
	for _, a := range alarms {
		out = append(out, alarmJSON(a, now))
	}
	c.JSON(http.StatusOK, gin.H{"relayId": relayID, "alarms": out})
}

// AlarmRequest carries the body of alarm create and update calls. RelayID is
// only read on create.
type AlarmRequest struct {
	RelayID  int    `zog:"relayId"`
	Hour     int    `zog:"hour"`
	Minute   int    `zog:"minute"`
	Second   int    `zog:"second"`
	Weekdays []bool `zog:"weekdays"`
	State    bool   `zog:"state"`
}

func (r AlarmRequest) spec() schedule.AlarmSpec {
	spec := schedule.AlarmSpec{
		Hour:   uint(r.Hour),
		Minute: uint(r.Minute),
		Second: uint(r.Second),
		State:  r.State,
	}
	copy(spec.Weekdays[:], r.Weekdays)
	return spec
}

var createAlarmSchema = z.Struct(z.Shape{
	"RelayID":  z.Int().GT(0).Required(),
	"Hour":     z.Int().GTE(0).LTE(23),
	"Minute":   z.Int().GTE(0).LTE(59),
	"Second":   z.Int().GTE(0).LTE(59),
	"Weekdays": z.Slice(z.Bool()).Required().Len(7),
	"State":    z.Bool(),
})

var updateAlarmSchema = z.Struct(z.Shape{
	"Hour":     z.Int().GTE(0).LTE(23),
	"Minute":   z.Int().GTE(0).LTE(59),
	"Second":   z.Int().GTE(0).LTE(59),
	"Weekdays": z.Slice(z.Bool()).Required().Len(7),
	"State":    z.Bool(),
})

func (s *Server) PostRelayAlarm(c *gin.Context) {
	var req AlarmRequest
	if issues := createAlarmSchema.Parse(zhttp.Request(c.Request), &req); len(issues) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": issues})
		return
	}

	a, err := s.reg.AddAlarm(c.Request.Context(), uint(req.RelayID), 0, req.spec())
	if err != nil {
		s.fail(c, err)
		return
	}
	if !s.save(c) {
		return
	}
	c.JSON(http.StatusCreated, alarmJSON(a, s.reg.Now()))
}

func (s *Server) PutRelayAlarm(c *gin.Context) {
	relayID, ok := paramID(c, "relayId")
	if !ok {
		return
	}
	alarmID, ok := paramID(c, "alarmId")
	if !ok {
		return
	}

	var req AlarmRequest
	if issues := updateAlarmSchema.Parse(zhttp.Request(c.Request), &req); len(issues) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": issues})
		return
	}

	a, err := s.reg.UpdateAlarm(relayID, alarmID, req.spec())
	if err != nil {
		s.fail(c, err)
		return
	}
	if !s.save(c) {
		return
	}
	c.JSON(http.StatusOK, alarmJSON(a, s.reg.Now()))
}

func (s *Server) DeleteRelayAlarm(c *gin.Context) {
	relayID, ok := paramID(c, "relayId")
	if !ok {
		return
	}
	alarmID, ok := paramID(c, "alarmId")
	if !ok {
		return
	}

	if err := s.reg.RemoveAlarm(relayID, alarmID); err != nil {
		s.fail(c, err)
		return
	}
	if !s.save(c) {
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) GetServerTime(c *gin.Context) {
	c.JSON(http.StatusOK, timeJSON(s.reg.Now()))
}

// ServerTimeRequest either sets the clock to Timestamp or adjusts it. Date
// (YYYY-MM-DD) replaces the calendar date while keeping the time of day;
// the adjustments are then added to the result.
type ServerTimeRequest struct {
	Timestamp        time.Time `zog:"timestamp"`
	Date             string    `zog:"date"`
	HourAdjustment   int       `zog:"hourAdjustment"`
	MinuteAdjustment int       `zog:"minuteAdjustment"`
	SecondAdjustment int       `zog:"secondAdjustment"`
}

var serverTimeSchema = z.Struct(z.Shape{
	"Timestamp":        z.Time(),
	"Date":             z.String(),
	"HourAdjustment":   z.Int(),
	"MinuteAdjustment": z.Int(),
	"SecondAdjustment": z.Int(),
})

func (s *Server) PostServerTime(c *gin.Context) {
	var req ServerTimeRequest
	if issues := serverTimeSchema.Parse(zhttp.Request(c.Request), &req); len(issues) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": issues})
		return
	}

	now := s.reg.Now()
	t := now
	switch {
	case !req.Timestamp.IsZero():
		t = req.Timestamp.In(now.Location())
	case req.Date != "":
		d, err := time.ParseInLocation("2006-01-02", req.Date, now.Location())
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
			return
		}
		t = time.Date(d.Year(), d.Month(), d.Day(),
			now.Hour(), now.Minute(), now.Second(), now.Nanosecond(), now.Location())
	}
	t = t.Add(time.Duration(req.HourAdjustment)*time.Hour +
		time.Duration(req.MinuteAdjustment)*time.Minute +
		time.Duration(req.SecondAdjustment)*time.Second)

	if t.Equal(now) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "nothing to adjust"})
		return
	}

	s.reg.SetClock(t)
	c.JSON(http.StatusOK, timeJSON(s.reg.Now()))
}

func (s *Server) GetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"name": s.reg.Name()})
}

type SettingsRequest struct {
	Name string `zog:"name"`
}

var settingsSchema = z.Struct(z.Shape{
	"Name": z.String().Min(1).Required(),
})

func (s *Server) PostSettings(c *gin.Context) {
	var req SettingsRequest
	if issues := settingsSchema.Parse(zhttp.Request(c.Request), &req); len(issues) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": issues})
		return
	}

	s.reg.SetName(req.Name)
	s.tracker.SetName(req.Name)
	if !s.save(c) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": req.Name})
}

func (s *Server) GetNextAlarms(c *gin.Context) {
	now := s.reg.Now()
	groups := s.reg.Queue(now)
	out := make([]GroupJSON, 0, len(groups))
	for _, g := range groups {
		out = append(out, GroupJSON{
			At:        g.At.Format(time.RFC3339),
			InSeconds: int64(g.At.Sub(now.Truncate(time.Second)) / time.Second),
			AlarmIDs:  g.AlarmIDs,
			RelayIDs:  g.RelayIDs,
		})
	}
	c.JSON(http.StatusOK, gin.H{"now": now.Format(time.RFC3339), "groups": out})
}
