//go:build !linux

package gpio

import "errors"

var errUnsupported = errors.New("gpio: not supported on this platform (requires Linux)")

// RealLines is not available on non-Linux platforms.
type RealLines struct{}

// NewRealLines returns an error on non-Linux platforms.
func NewRealLines(opts Options) (*RealLines, error) {
	return nil, errUnsupported
}

// Set is not implemented on non-Linux platforms.
func (r *RealLines) Set(channel uint, on bool) error {
	return errUnsupported
}

// Get is not implemented on non-Linux platforms.
func (r *RealLines) Get(channel uint) (bool, error) {
	return false, errUnsupported
}

// Close is not implemented on non-Linux platforms.
func (r *RealLines) Close() error {
	return nil
}
