// Package gpio drives relay outputs on GPIO lines.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// DefaultChip is the GPIO chip relays are wired to on a Raspberry Pi.
const DefaultChip = "gpiochip0"

// Options configures the real GPIO lines.
type Options struct {
	// Chip is the character device name, e.g. "gpiochip0".
	Chip string

	// ActiveLow inverts the line level, for relay boards that switch on a
	// low output.
	ActiveLow bool

	// Consumer labels the requested lines in the kernel.
	Consumer string
}
