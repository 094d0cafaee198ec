package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	z "github.com/Oudwins/zog"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/sweeney/relay-scheduler/internal/kv"
)

// DocumentKey is the KV key of the persisted relay document.
const DocumentKey = "relays"

// CorruptKey holds a copy of a document that could not be decoded, so that
// saving a fresh one does not lose it.
const CorruptKey = DocumentKey + ".corrupt"

type document struct {
	Name   string            `json:"name"`
	Relays []json.RawMessage `json:"relays"`
}

type relayRecord struct {
	ID     int               `json:"id"`
	Name   string            `json:"name"`
	Pin    int               `json:"pin"`
	Alarms []json.RawMessage `json:"alarms"`
}

type alarmRecord struct {
	ID       int    `json:"id"`
	Hour     int    `json:"hour"`
	Minute   int    `json:"minute"`
	Second   int    `json:"second"`
	Weekdays []bool `json:"weekdays"`
	Relay    int    `json:"relay"`
	State    bool   `json:"state"`
}

var relayRecordSchema = z.Struct(z.Shape{
	"ID":  z.Int().GT(0),
	"Pin": z.Int().GTE(0),
})

var alarmRecordSchema = z.Struct(z.Shape{
	"ID":       z.Int().GT(0),
	"Hour":     z.Int().GTE(0).LTE(23),
	"Minute":   z.Int().GTE(0).LTE(59),
	"Second":   z.Int().GTE(0).LTE(59),
	"Weekdays": z.Slice(z.Bool()).Len(7),
})

// LoadReport summarises a Load or Unmarshal.
type LoadReport struct {
	Relays  int
	Alarms  int
	Skipped int
}

// Marshal encodes every relay and alarm as the persisted document.
// LastFired is not part of it.
func (r *Registry) Marshal() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc := struct {
		Name   string        `json:"name"`
		Relays []relayRecord `json:"relays"`
	}{Name: r.name, Relays: []relayRecord{}}

	for _, relay := range r.relayList() {
		rec := relayRecord{
			ID:     int(relay.ID),
			Name:   relay.Name,
			Pin:    int(relay.Channel),
			Alarms: []json.RawMessage{},
		}
		for _, a := range relay.alarmList() {
			raw, err := json.Marshal(alarmRecord{
				ID:       int(a.ID),
				Hour:     int(a.Hour),
				Minute:   int(a.Minute),
				Second:   int(a.Second),
				Weekdays: a.Weekdays[:],
				Relay:    int(relay.ID),
				State:    a.State,
			})
			if err != nil {
				return nil, fmt.Errorf("encode alarm %d: %w", a.ID, err)
			}
			rec.Alarms = append(rec.Alarms, raw)
		}
		doc.Relays = append(doc.Relays, rec)
	}

	return json.Marshal(doc)
}

// Save writes the document to the store under DocumentKey.
func (r *Registry) Save(ctx context.Context) error {
	data, err := r.Marshal()
	if err != nil {
		return err
	}
	if err := r.store.Set(ctx, DocumentKey, string(data)); err != nil {
		return fmt.Errorf("save %s: %w", DocumentKey, err)
	}
	r.log.Debug("relays saved", zap.Int("bytes", len(data)))
	return nil
}

// Load reads the document from the store and merges it into the registry.
// A missing or empty document leaves the registry empty. When any part of the
// document could not be decoded, the whole document is first copied to
// CorruptKey so that the next Save does not lose it. A document that cannot be
// decoded at all is reported as ErrInvalid; if its copy fails, the error is
// not ErrInvalid and the caller must not save over it.
func (r *Registry) Load(ctx context.Context) (LoadReport, error) {
	data, err := r.store.Get(ctx, DocumentKey)
	if errors.Is(err, kv.ErrNotFound) {
		r.log.Info("no saved relays")
		return LoadReport{}, nil
	}
	if err != nil {
		return LoadReport{}, fmt.Errorf("load %s: %w", DocumentKey, err)
	}

	report, err := r.Unmarshal(ctx, []byte(data))
	if err == nil {
		return report, nil
	}
	if berr := r.store.Set(ctx, CorruptKey, data); berr != nil {
		berr = fmt.Errorf("back up %s: %w", DocumentKey, berr)
		if report == (LoadReport{}) {
			return report, fmt.Errorf("%v: %w", err, berr)
		}
		return report, multierr.Append(err, berr)
	}
	r.log.Warn("saved relays partly unreadable, copy kept", zap.String("key", CorruptKey))
	return report, err
}

// Unmarshal merges a persisted document into the registry. Relays and alarms
// whose ids are already present are kept as they are. Malformed records are
// skipped; their errors are combined into the returned error while the rest
// of the document is still applied. Only a document that cannot be parsed at
// all fails with nothing applied.
func (r *Registry) Unmarshal(ctx context.Context, data []byte) (LoadReport, error) {
	var report LoadReport
	if len(data) == 0 {
		return report, nil
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return report, Errorf(ErrInvalid, "decode document: %v", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if doc.Name != "" {
		r.name = doc.Name
	}

	var errs error
	for i, raw := range doc.Relays {
		var rec relayRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			errs = multierr.Append(errs, Errorf(ErrInvalid, "relay record %d: %v", i, err))
			report.Skipped++
			continue
		}
		if issues := relayRecordSchema.Validate(&rec); len(issues) > 0 {
			errs = multierr.Append(errs, Errorf(ErrInvalid, "relay record %d: %v", i, issues))
			report.Skipped++
			continue
		}

		relay, err := r.addRelayLocked(ctx, uint(rec.ID), uint(rec.Pin), rec.Name)
		if err != nil {
			errs = multierr.Append(errs, err)
			report.Skipped++
			continue
		}
		report.Relays++

		for j, rawAlarm := range rec.Alarms {
			if err := r.unmarshalAlarmLocked(ctx, relay, rawAlarm); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("relay %d alarm record %d: %w", relay.ID, j, err))
				report.Skipped++
				continue
			}
			report.Alarms++
		}
	}

	r.log.Info("relays loaded",
		zap.Int("relays", report.Relays),
		zap.Int("alarms", report.Alarms),
		zap.Int("skipped", report.Skipped))
	return report, errs
}

func (r *Registry) unmarshalAlarmLocked(ctx context.Context, relay *Relay, raw json.RawMessage) error {
	var rec alarmRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Errorf(ErrInvalid, "%v", err)
	}
	if issues := alarmRecordSchema.Validate(&rec); len(issues) > 0 {
		return Errorf(ErrInvalid, "%v", issues)
	}

	spec := AlarmSpec{
		Hour:   uint(rec.Hour),
		Minute: uint(rec.Minute),
		Second: uint(rec.Second),
		State:  rec.State,
	}
	copy(spec.Weekdays[:], rec.Weekdays)

	_, err := r.addAlarmLocked(ctx, relay, uint(rec.ID), spec)
	return err
}
