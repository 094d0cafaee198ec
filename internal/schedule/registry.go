package schedule

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/sweeney/relay-scheduler/internal/clock"
	"github.com/sweeney/relay-scheduler/internal/kv"
)

// MaxPollGap is the largest forward step between two polls that is still
// treated as normal clock progress. A larger step, or any backward step,
// is a clock discontinuity and forces a queue rebuild.
const MaxPollGap = time.Hour

// Lines drives the physical channels behind relays.
type Lines interface {
	// Set drives channel on (true) or off (false).
	Set(channel uint, on bool) error

	// Get reads back the current state of channel.
	Get(channel uint) (bool, error)
}

// Fired describes one alarm that switched its relay.
type Fired struct {
	AlarmID   uint
	RelayID   uint
	RelayName string
	State     bool

	// ScheduledAt is the occurrence the alarm fired for.
	ScheduledAt time.Time

	// FiredAt is the poll instant that fired it.
	FiredAt time.Time
}

// Registry owns every relay and alarm and the firing queue derived from them.
// One mutex guards relays, alarms, id counters and the queue as a unit; any
// mutation discards the queue and the next Poll rebuilds it.
type Registry struct {
	clock clock.Source
	store kv.Store
	lines Lines
	log   *zap.Logger

	mu       sync.Mutex
	name     string
	relays   map[uint]*Relay
	relayIDs *Allocator
	alarmIDs *Allocator
	queue    *Queue
	lastPoll time.Time
}

// NewRegistry creates an empty registry. Id counters are read from store on
// first allocation.
func NewRegistry(clk clock.Source, store kv.Store, lines Lines, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		clock:    clk,
		store:    store,
		lines:    lines,
		log:      log,
		relays:   make(map[uint]*Relay),
		relayIDs: NewAllocator(store, RelayCounterKey),
		alarmIDs: NewAllocator(store, AlarmCounterKey),
	}
}

// Name returns the system name.
func (r *Registry) Name() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.name
}

// SetName sets the system name.
func (r *Registry) SetName(name string) {
	r.mu.Lock()
	r.name = name
	r.mu.Unlock()
}

// Now returns the registry clock's current instant.
func (r *Registry) Now() time.Time {
	return r.clock.Now()
}

// SetClock adjusts the clock and discards the firing queue.
func (r *Registry) SetClock(t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clock.Set(t)
	r.invalidateLocked()
	r.log.Info("clock adjusted", zap.Time("now", t))
}

// Invalidate discards the firing queue. The next Poll or Queue rebuilds it.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	r.invalidateLocked()
	r.mu.Unlock()
}

func (r *Registry) invalidateLocked() {
	r.queue = nil
}

// AddRelay creates a relay. An id of 0 allocates a fresh one. If a relay with
// the given id already exists it is returned unchanged.
func (r *Registry) AddRelay(ctx context.Context, id, channel uint, name string) (RelaySnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	relay, err := r.addRelayLocked(ctx, id, channel, name)
	if err != nil {
		return RelaySnapshot{}, err
	}
	return relay.snapshot(), nil
}

func (r *Registry) addRelayLocked(ctx context.Context, id, channel uint, name string) (*Relay, error) {
	if id != 0 {
		if existing, ok := r.relays[id]; ok {
			return existing, nil
		}
		if err := r.relayIDs.Observe(ctx, id); err != nil {
			return nil, err
		}
	} else {
		var err error
		if id, err = r.relayIDs.Next(ctx); err != nil {
			return nil, err
		}
	}

	relay := newRelay(id, channel, name)
	r.relays[id] = relay
	r.invalidateLocked()
	r.log.Info("relay added", zap.Uint("relay", id), zap.Uint("channel", channel), zap.String("name", name))
	return relay, nil
}

// RemoveRelay deletes a relay and all of its alarms.
func (r *Registry) RemoveRelay(id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	relay, ok := r.relays[id]
	if !ok {
		return relayNotFound(id)
	}
	delete(r.relays, id)
	r.invalidateLocked()
	r.log.Info("relay removed", zap.Uint("relay", id), zap.Int("alarms", len(relay.alarms)))
	return nil
}

// RenameRelay changes a relay's display name.
func (r *Registry) RenameRelay(id uint, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	relay, ok := r.relays[id]
	if !ok {
		return relayNotFound(id)
	}
	relay.Name = name
	return nil
}

// Relay returns a copy of one relay.
func (r *Registry) Relay(id uint) (RelaySnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	relay, ok := r.relays[id]
	if !ok {
		return RelaySnapshot{}, relayNotFound(id)
	}
	return relay.snapshot(), nil
}

// Relays returns copies of all relays in ascending id order.
func (r *Registry) Relays() []RelaySnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RelaySnapshot, 0, len(r.relays))
	for _, relay := range r.relayList() {
		out = append(out, relay.snapshot())
	}
	return out
}

func (r *Registry) relayList() []*Relay {
	ids := make([]uint, 0, len(r.relays))
	for id := range r.relays {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]*Relay, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.relays[id])
	}
	return out
}

// RelayState reads the relay's channel.
func (r *Registry) RelayState(id uint) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	relay, ok := r.relays[id]
	if !ok {
		return false, relayNotFound(id)
	}
	return r.lines.Get(relay.Channel)
}

// SetRelayState switches the relay's channel manually.
func (r *Registry) SetRelayState(id uint, on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	relay, ok := r.relays[id]
	if !ok {
		return relayNotFound(id)
	}
	if err := r.lines.Set(relay.Channel, on); err != nil {
		return err
	}
	r.log.Info("relay switched", zap.Uint("relay", id), zap.Bool("state", on))
	return nil
}

// AddAlarm creates an alarm on a relay. An id of 0 allocates a fresh one. If
// an alarm with the given id already exists anywhere in the registry it is
// returned unchanged.
func (r *Registry) AddAlarm(ctx context.Context, relayID, id uint, spec AlarmSpec) (Alarm, error) {
	if err := spec.Validate(); err != nil {
		return Alarm{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	relay, ok := r.relays[relayID]
	if !ok {
		return Alarm{}, relayNotFound(relayID)
	}
	a, err := r.addAlarmLocked(ctx, relay, id, spec)
	if err != nil {
		return Alarm{}, err
	}
	return *a, nil
}

func (r *Registry) addAlarmLocked(ctx context.Context, relay *Relay, id uint, spec AlarmSpec) (*Alarm, error) {
	if id != 0 {
		if existing := r.findAlarmLocked(id); existing != nil {
			return existing, nil
		}
		if err := r.alarmIDs.Observe(ctx, id); err != nil {
			return nil, err
		}
	} else {
		var err error
		if id, err = r.alarmIDs.Next(ctx); err != nil {
			return nil, err
		}
	}

	a := &Alarm{ID: id, LastFired: NeverFired}
	a.apply(spec)
	relay.addAlarm(a)
	r.invalidateLocked()
	r.log.Info("alarm added",
		zap.Uint("relay", relay.ID),
		zap.Uint("alarm", id),
		zap.Duration("time_of_day", a.TimeOfDay()),
		zap.Bool("state", a.State))
	return a, nil
}

func (r *Registry) findAlarmLocked(id uint) *Alarm {
	for _, relay := range r.relays {
		if a, ok := relay.alarms[id]; ok {
			return a
		}
	}
	return nil
}

// UpdateAlarm replaces the time, weekdays and state of an alarm.
func (r *Registry) UpdateAlarm(relayID, alarmID uint, spec AlarmSpec) (Alarm, error) {
	if err := spec.Validate(); err != nil {
		return Alarm{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	relay, ok := r.relays[relayID]
	if !ok {
		return Alarm{}, relayNotFound(relayID)
	}
	a, ok := relay.alarms[alarmID]
	if !ok {
		return Alarm{}, alarmNotFound(relayID, alarmID)
	}
	a.apply(spec)
	r.invalidateLocked()
	r.log.Info("alarm updated", zap.Uint("relay", relayID), zap.Uint("alarm", alarmID))
	return *a, nil
}

// RemoveAlarm deletes an alarm.
func (r *Registry) RemoveAlarm(relayID, alarmID uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	relay, ok := r.relays[relayID]
	if !ok {
		return relayNotFound(relayID)
	}
	if !relay.removeAlarm(alarmID) {
		return alarmNotFound(relayID, alarmID)
	}
	r.invalidateLocked()
	r.log.Info("alarm removed", zap.Uint("relay", relayID), zap.Uint("alarm", alarmID))
	return nil
}

// Alarm returns a copy of one alarm.
func (r *Registry) Alarm(relayID, alarmID uint) (Alarm, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	relay, ok := r.relays[relayID]
	if !ok {
		return Alarm{}, relayNotFound(relayID)
	}
	a, ok := relay.alarms[alarmID]
	if !ok {
		return Alarm{}, alarmNotFound(relayID, alarmID)
	}
	return *a, nil
}

// Alarms returns copies of a relay's alarms in ascending id order.
func (r *Registry) Alarms(relayID uint) ([]Alarm, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	relay, ok := r.relays[relayID]
	if !ok {
		return nil, relayNotFound(relayID)
	}
	return relay.snapshot().Alarms, nil
}

// allAlarmsLocked flattens every alarm, ordered by relay id then alarm id.
func (r *Registry) allAlarmsLocked() []*Alarm {
	var out []*Alarm
	for _, relay := range r.relayList() {
		out = append(out, relay.alarmList()...)
	}
	return out
}

func (r *Registry) queueLocked(now time.Time) *Queue {
	if r.queue == nil {
		r.queue = BuildQueue(r.allAlarmsLocked(), now)
		r.log.Debug("firing queue rebuilt", zap.Int("groups", r.queue.Len()), zap.Time("now", now))
	}
	return r.queue
}

// Queue returns a copy of the firing queue, rebuilding it at now if stale.
func (r *Registry) Queue(now time.Time) []GroupSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queueLocked(now).snapshot()
}

// Poll is called once per tick. It looks only at the head of the firing
// queue: if the head's first alarm is due, every alarm in the group switches
// its relay and the group rotates to the tail. A head whose occurrence window
// closed without it firing (clock jumped, or it fired before a rebuild) is
// rotated without firing.
//
// Line errors do not stop the rest of the group from firing; they are
// combined into the returned error.
func (r *Registry) Poll(now time.Time) ([]Fired, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.lastPoll.IsZero() {
		step := now.Sub(r.lastPoll)
		if step < 0 || step > MaxPollGap {
			r.log.Warn("clock discontinuity, rebuilding firing queue",
				zap.Time("previous", r.lastPoll), zap.Time("now", now))
			r.invalidateLocked()
		}
	}
	r.lastPoll = now

	q := r.queueLocked(now)
	if q.Len() == 0 {
		return nil, nil
	}

	for n := q.Len(); n > 0 && q.Head().settled(now); n-- {
		r.log.Debug("skipping settled group", zap.Time("at", q.Head().At))
		q.Rotate()
	}

	head := q.Head()
	if now.Before(head.At) || !head.Alarms[0].IsDue(now) {
		return nil, nil
	}

	var fired []Fired
	var errs error
	for _, a := range head.Alarms {
		relay, ok := r.relays[a.RelayID]
		if !ok {
			errs = multierr.Append(errs, relayNotFound(a.RelayID))
			continue
		}
		if err := r.lines.Set(relay.Channel, a.State); err != nil {
			r.log.Error("alarm failed to switch relay",
				zap.Uint("relay", relay.ID), zap.Uint("alarm", a.ID), zap.Error(err))
			errs = multierr.Append(errs, err)
			continue
		}
		a.LastFired = now
		fired = append(fired, Fired{
			AlarmID:     a.ID,
			RelayID:     relay.ID,
			RelayName:   relay.Name,
			State:       a.State,
			ScheduledAt: head.At,
			FiredAt:     now,
		})
		r.log.Info("alarm fired",
			zap.Uint("relay", relay.ID), zap.Uint("alarm", a.ID), zap.Bool("state", a.State))
	}
	q.Rotate()

	return fired, errs
}
