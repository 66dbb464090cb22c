// Package drive holds the pure maths that turns normalized controller input
// into PCA9685 pulse ticks. Nothing in here touches hardware.
package drive

import "fmt"

// maxTicks is the PCA9685 counter range (12-bit).
const maxTicks = 4095

// Calibration describes the pulse table of a specific vehicle: where the ESC
// sits at rest, how wide the reverse and forward bands are, and the sweep of
// the steering servo. All pulse values are PCA9685 off-ticks at the
// configured PWM frequency.
type Calibration struct {
	// ThrottleNeutral is the ESC's no-movement pulse.
	ThrottleNeutral uint16

	// Deadband is the half-width of the input range around zero that maps
	// to neutral. Inputs in [-Deadband, Deadband] do not move the vehicle.
	Deadband int64

	// ReverseSpan and ForwardSpan are the tick distances from neutral to
	// full reverse and full forward. ESCs brake much harder than they
	// reverse, so the spans are asymmetric.
	ReverseSpan uint16
	ForwardSpan uint16

	// TurboBoost widens the output by a fixed tick offset in the direction
	// of travel while turbo is engaged.
	TurboBoost uint16

	// SteeringCenter is the servo pulse for straight-ahead.
	// SteeringSpan is the tick distance from center to full lock.
	SteeringCenter uint16
	SteeringSpan   uint16
}

// Default returns the calibration of the reference vehicle.
func Default() Calibration {
	return Calibration{
		ThrottleNeutral: 1450,
		Deadband:        7,
		ReverseSpan:     200,
		ForwardSpan:     750,
		TurboBoost:      100,
		SteeringCenter:  1450,
		SteeringSpan:    400,
	}
}

// Validate checks the calibration for values the hardware cannot express.
func (c Calibration) Validate() error {
	if c.Deadband < 0 || c.Deadband >= 100 {
		return fmt.Errorf("deadband must be in [0, 100), got %d", c.Deadband)
	}
	if c.ThrottleNeutral == 0 || c.ThrottleNeutral > maxTicks {
		return fmt.Errorf("throttle neutral %d outside PWM range", c.ThrottleNeutral)
	}
	if int(c.ThrottleNeutral)+int(c.ForwardSpan)+int(c.TurboBoost) > maxTicks {
		return fmt.Errorf("forward span %d overflows PWM range", c.ForwardSpan)
	}
	if int(c.ThrottleNeutral)-int(c.ReverseSpan)-int(c.TurboBoost) < 0 {
		return fmt.Errorf("reverse span %d underflows PWM range", c.ReverseSpan)
	}
	if c.SteeringCenter == 0 || c.SteeringCenter > maxTicks {
		return fmt.Errorf("steering center %d outside PWM range", c.SteeringCenter)
	}
	if c.SteeringSpan == 0 {
		return fmt.Errorf("steering span must be positive")
	}
	if int(c.SteeringCenter)+int(c.SteeringSpan) > maxTicks || int(c.SteeringCenter)-int(c.SteeringSpan) < 0 {
		return fmt.Errorf("steering span %d overflows PWM range", c.SteeringSpan)
	}
	return nil
}
