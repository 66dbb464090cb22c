package domain

import "time"

// DriveState is a point-in-time snapshot of what the vehicle is doing.
// The drive loop is the only writer; everyone else receives copies.
type DriveState struct {
	Speed      int64 `json:"speed"`
	Direction  int64 `json:"direction"`
	Turbo      bool  `json:"turbo"`
	Headlights bool  `json:"headlights"`
	Horn       bool  `json:"horn"`

	// ThrottlePulse and SteeringPulse are the PCA9685 off-ticks currently
	// applied to the ESC and steering servo channels.
	ThrottlePulse uint16 `json:"throttle_pulse"`
	SteeringPulse uint16 `json:"steering_pulse"`

	// WatchdogStopped is set when the failsafe forced the throttle to
	// neutral because drive commands stopped arriving. Cleared by the next
	// drive command.
	WatchdogStopped bool `json:"watchdog_stopped"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Moving returns true if the vehicle has a non-neutral throttle applied.
func (s DriveState) Moving() bool {
	return s.Speed != 0
}
