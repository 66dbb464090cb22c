// Package hw abstracts the vehicle's hardware behind small interfaces so the
// drive loop can be exercised without a Raspberry Pi on the desk.
package hw

// PWMDriver drives one or more PWM channels of a servo controller.
// Pulse values are PCA9685 off-ticks (0-4095) at the configured frequency.
type PWMDriver interface {
	// SetPulse sets the pulse width on a channel.
	SetPulse(channel int, ticks uint16) error

	// Close releases the underlying device.
	Close() error
}

// Switch is a single on/off output, e.g. a GPIO pin behind a relay.
type Switch interface {
	// Set drives the output high (true) or low (false).
	Set(on bool) error

	// Close drives the output low and releases it.
	Close() error
}
