// Package modbus drives relays on Modbus relay modules, one coil per relay
// channel.
package modbus

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	mb "github.com/goburrow/modbus"
	"go.uber.org/zap"
)

// Coil write values.
const (
	CoilOn  uint16 = 0xff00
	CoilOff uint16 = 0
)

// CoilValue returns the write value for on.
func CoilValue(on bool) uint16 {
	if on {
		return CoilOn
	}
	return CoilOff
}

// coilClient is the part of mb.Client relays need.
type coilClient interface {
	ReadCoils(address, quantity uint16) ([]byte, error)
	WriteSingleCoil(address, value uint16) ([]byte, error)
}

// CoilLines maps relay channels to coil addresses on one slave.
type CoilLines struct {
	mu     sync.Mutex
	client coilClient
	close  func() error
	log    *zap.Logger
}

// Options configures a Modbus connection.
type Options struct {
	// Address is host:port for TCP or a serial device path for RTU.
	Address string
	SlaveID byte
	Timeout time.Duration

	// BaudRate selects RTU when non-zero.
	BaudRate int
}

// New opens a TCP or RTU connection according to opts.
func New(opts Options, log *zap.Logger) *CoilLines {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Timeout == 0 {
		opts.Timeout = 2 * time.Second
	}

	if opts.BaudRate != 0 {
		handler := mb.NewRTUClientHandler(opts.Address)
		handler.BaudRate = opts.BaudRate
		handler.DataBits = 8
		handler.Parity = "N"
		handler.StopBits = 1
		handler.SlaveId = opts.SlaveID
		handler.Timeout = opts.Timeout
		return newCoilLines(mb.NewClient(handler), handler.Close, log)
	}

	handler := mb.NewTCPClientHandler(opts.Address)
	handler.SlaveId = opts.SlaveID
	handler.Timeout = opts.Timeout
	return newCoilLines(mb.NewClient(handler), handler.Close, log)
}

func newCoilLines(c coilClient, close func() error, log *zap.Logger) *CoilLines {
	return &CoilLines{client: c, close: close, log: log}
}

// closeIfNeeded drops a broken connection; the handler reconnects on the
// next request.
func (c *CoilLines) closeIfNeeded(e error) {
	if e == nil {
		return
	}

	if errors.Is(e, syscall.EPIPE) {
		c.log.Warn("reconnect due to broken pipe")
		if err := c.close(); err != nil {
			c.log.Error("error closing client", zap.Error(err))
		}
		return
	}

	if errors.Is(e, os.ErrDeadlineExceeded) {
		c.log.Warn("reconnect due to i/o timeout")
		if err := c.close(); err != nil {
			c.log.Error("error closing client", zap.Error(err))
		}
	}
}

// Set writes the coil at address channel.
func (c *CoilLines) Set(channel uint, on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	address := uint16(channel)
	value := CoilValue(on)
	if _, err := c.client.WriteSingleCoil(address, value); err != nil {
		c.closeIfNeeded(err)
		return fmt.Errorf("error writing coil %d value %#x: %w", address, value, err)
	}
	return nil
}

// Get reads the coil at address channel.
func (c *CoilLines) Get(channel uint) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	address := uint16(channel)
	b, err := c.client.ReadCoils(address, 1)
	if err != nil {
		c.closeIfNeeded(err)
		return false, fmt.Errorf("error reading coil %d: %w", address, err)
	}
	if len(b) == 0 {
		return false, fmt.Errorf("error reading coil %d: empty response", address)
	}
	return b[0]&1 == 1, nil
}

// Close closes the underlying connection.
func (c *CoilLines) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.close()
}
