package schedule

import (
	"context"
	"fmt"
	"strconv"

	"github.com/sweeney/relay-scheduler/internal/kv"
)

// KV keys of the persisted id counters.
const (
	RelayCounterKey = "relayIdCounter"
	AlarmCounterKey = "alarmIdCounter"
)

// Allocator hands out monotonically increasing ids for one entity kind.
// The counter holds the next id to hand out; it is read from the store on
// first use and written back whenever it moves. Not safe for concurrent use;
// the registry lock serialises access.
type Allocator struct {
	store  kv.Store
	key    string
	next   uint
	loaded bool
}

// NewAllocator creates an Allocator persisting its counter under key.
func NewAllocator(store kv.Store, key string) *Allocator {
	return &Allocator{store: store, key: key}
}

func (a *Allocator) load(ctx context.Context) error {
	if a.loaded {
		return nil
	}
	v, err := kv.GetDefault(ctx, a.store, a.key, "1")
	if err != nil {
		return fmt.Errorf("load %s: %w", a.key, err)
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return fmt.Errorf("parse %s %q: %w", a.key, v, err)
	}
	if n < 1 {
		n = 1
	}
	a.next = uint(n)
	a.loaded = true
	return nil
}

func (a *Allocator) save(ctx context.Context) error {
	if err := a.store.Set(ctx, a.key, strconv.FormatUint(uint64(a.next), 10)); err != nil {
		return fmt.Errorf("save %s: %w", a.key, err)
	}
	return nil
}

// Next allocates a fresh id.
func (a *Allocator) Next(ctx context.Context) (uint, error) {
	if err := a.load(ctx); err != nil {
		return 0, err
	}
	id := a.next
	a.next++
	if err := a.save(ctx); err != nil {
		return 0, err
	}
	return id, nil
}

// Observe records that id is in use. If id is at or beyond the counter, the
// counter moves to id+1 so Next never hands it out. The counter never moves
// backwards.
func (a *Allocator) Observe(ctx context.Context, id uint) error {
	if err := a.load(ctx); err != nil {
		return err
	}
	if id < a.next {
		return nil
	}
	a.next = id + 1
	return a.save(ctx)
}

// Peek returns the id Next would hand out, without allocating it.
func (a *Allocator) Peek(ctx context.Context) (uint, error) {
	if err := a.load(ctx); err != nil {
		return 0, err
	}
	return a.next, nil
}
