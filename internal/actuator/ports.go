// Package actuator runs the drive loop: the single goroutine that owns the
// vehicle's hardware and applies control commands to it.
package actuator

import (
	"time"

	"github.com/robotpi/robotd/internal/calibration"
	"github.com/robotpi/robotd/internal/domain"
	"github.com/robotpi/robotd/internal/drive"
	"github.com/robotpi/robotd/internal/hw"
)

// Hardware groups the handles the loop drives. The loop is their only user;
// nothing else in the process may write to them.
type Hardware struct {
	PWM        hw.PWMDriver
	Horn       hw.Switch
	Headlights hw.Switch
}

// Config holds the loop's tunables.
type Config struct {
	Calibration     drive.Calibration
	ThrottleChannel int
	SteeringChannel int

	// WatchdogTimeout is how long the loop waits for a drive command while
	// the vehicle is moving before forcing the throttle to neutral.
	WatchdogTimeout time.Duration

	// QueueSize is the capacity of the command channel.
	QueueSize int
}

// Publisher receives a state snapshot after every applied command.
type Publisher interface {
	Publish(domain.DriveState)
}

// TrimStore persists calibration changes made by the calibrate command.
type TrimStore interface {
	Save(calibration.Trim) error
}
