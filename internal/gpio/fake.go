package gpio

import "sync"

// Write records one Set call on FakeLines.
type Write struct {
	Channel uint
	On      bool
}

// FakeLines is a test double that keeps line levels in memory.
type FakeLines struct {
	mu     sync.Mutex
	levels map[uint]bool

	// Writes contains every successful Set, in order.
	Writes []Write

	// Closed tracks if Close was called
	Closed bool

	// SetError, if set, will be returned by Set()
	SetError error

	// GetError, if set, will be returned by Get()
	GetError error
}

// NewFakeLines creates FakeLines with every channel off.
func NewFakeLines() *FakeLines {
	return &FakeLines{levels: make(map[uint]bool)}
}

// Set records the write and stores the level.
func (f *FakeLines) Set(channel uint, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetError != nil {
		return f.SetError
	}
	f.levels[channel] = on
	f.Writes = append(f.Writes, Write{Channel: channel, On: on})
	return nil
}

// Get returns the stored level, off if never set.
func (f *FakeLines) Get(channel uint) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.GetError != nil {
		return false, f.GetError
	}
	return f.levels[channel], nil
}

// WriteLog returns a copy of Writes.
func (f *FakeLines) WriteLog() []Write {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Write, len(f.Writes))
	copy(out, f.Writes)
	return out
}

// Close marks the lines as closed.
func (f *FakeLines) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}
