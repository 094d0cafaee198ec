//go:build linux

package gpio

import (
	"fmt"
	"sync"

	"github.com/warthog618/go-gpiocdev"
	"go.uber.org/multierr"
)

// RealLines drives relays from actual hardware using the Linux GPIO
// character device. Lines are requested as outputs the first time they are
// set.
type RealLines struct {
	opts Options

	mu    sync.Mutex
	chip  *gpiocdev.Chip
	lines map[uint]*gpiocdev.Line
}

// NewRealLines opens the GPIO chip.
func NewRealLines(opts Options) (*RealLines, error) {
	if opts.Chip == "" {
		opts.Chip = DefaultChip
	}
	if opts.Consumer == "" {
		opts.Consumer = "relay-scheduler"
	}
	chip, err := gpiocdev.NewChip(opts.Chip, gpiocdev.WithConsumer(opts.Consumer))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", opts.Chip, err)
	}
	return &RealLines{
		opts:  opts,
		chip:  chip,
		lines: make(map[uint]*gpiocdev.Line),
	}, nil
}

func (r *RealLines) line(channel uint) (*gpiocdev.Line, error) {
	if l, ok := r.lines[channel]; ok {
		return l, nil
	}
	opts := []gpiocdev.LineReqOption{gpiocdev.AsOutput(0)}
	if r.opts.ActiveLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}
	l, err := r.chip.RequestLine(int(channel), opts...)
	if err != nil {
		return nil, fmt.Errorf("request pin %d: %w", channel, err)
	}
	r.lines[channel] = l
	return l, nil
}

// Set drives the pin high (on) or low (off).
func (r *RealLines) Set(channel uint, on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, err := r.line(channel)
	if err != nil {
		return err
	}
	v := 0
	if on {
		v = 1
	}
	if err := l.SetValue(v); err != nil {
		return fmt.Errorf("set pin %d: %w", channel, err)
	}
	return nil
}

// Get reads the pin level back. A pin this process has not driven is read
// as-is and released again, so reading never changes its direction or level.
func (r *RealLines) Get(channel uint) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.lines[channel]
	if !ok {
		return r.peek(channel)
	}
	v, err := l.Value()
	if err != nil {
		return false, fmt.Errorf("read pin %d: %w", channel, err)
	}
	return v == 1, nil
}

func (r *RealLines) peek(channel uint) (bool, error) {
	opts := []gpiocdev.LineReqOption{gpiocdev.AsIs}
	if r.opts.ActiveLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}
	l, err := r.chip.RequestLine(int(channel), opts...)
	if err != nil {
		return false, fmt.Errorf("request pin %d: %w", channel, err)
	}
	defer l.Close()
	v, err := l.Value()
	if err != nil {
		return false, fmt.Errorf("read pin %d: %w", channel, err)
	}
	return v == 1, nil
}

// Close releases GPIO resources.
// Reconfigures pins to input with pull-down (matching Pi boot defaults) before
// closing so relays are released across shutdown/reboot.
func (r *RealLines) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs error
	for ch, l := range r.lines {
		if err := l.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("reconfigure pin %d: %w", ch, err))
		}
		if err := l.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close pin %d: %w", ch, err))
		}
	}
	r.lines = make(map[uint]*gpiocdev.Line)
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close chip: %w", err))
		}
		r.chip = nil
	}
	return errs
}
