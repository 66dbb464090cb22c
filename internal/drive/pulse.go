package drive

import "math"

// ThrottlePulse maps a speed input in [-100, 100] to an ESC pulse.
// Inputs inside the deadband return neutral. Outside it the map is linear
// from the deadband edge to full lock, with separate slopes for reverse and
// forward. Turbo shifts the result by a fixed offset away from neutral.
func (c Calibration) ThrottlePulse(speed int64, turbo bool) uint16 {
	x := clamp(speed)

	if x >= -c.Deadband && x <= c.Deadband {
		return c.ThrottleNeutral
	}

	travel := float64(100 - c.Deadband)
	if x < -c.Deadband {
		slope := float64(c.ReverseSpan) / travel
		y := float64(c.ThrottleNeutral) + (float64(x)+float64(c.Deadband))*slope
		p := uint16(math.Round(y))
		if turbo {
			p -= c.TurboBoost
		}
		return p
	}

	slope := float64(c.ForwardSpan) / travel
	y := float64(c.ThrottleNeutral) + (float64(x)-float64(c.Deadband))*slope
	p := uint16(math.Round(y))
	if turbo {
		p += c.TurboBoost
	}
	return p
}

// SteeringPulse maps a direction input in [-100, 100] to a servo pulse.
// Negative is left, positive is right. The same deadband as the throttle
// keeps a sloppy stick centered.
func (c Calibration) SteeringPulse(direction int64) uint16 {
	x := clamp(direction)

	if x >= -c.Deadband && x <= c.Deadband {
		return c.SteeringCenter
	}

	slope := float64(c.SteeringSpan) / float64(100-c.Deadband)
	var y float64
	if x < -c.Deadband {
		y = float64(c.SteeringCenter) + (float64(x)+float64(c.Deadband))*slope
	} else {
		y = float64(c.SteeringCenter) + (float64(x)-float64(c.Deadband))*slope
	}

	p := uint16(math.Round(y))
	if p < c.SteeringCenter-c.SteeringSpan {
		p = c.SteeringCenter - c.SteeringSpan
	}
	if p > c.SteeringCenter+c.SteeringSpan {
		p = c.SteeringCenter + c.SteeringSpan
	}
	return p
}

func clamp(v int64) int64 {
	if v < -100 {
		return -100
	}
	if v > 100 {
		return 100
	}
	return v
}
