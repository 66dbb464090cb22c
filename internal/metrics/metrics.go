// Package metrics exposes the daemon's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Command outcomes as recorded on CommandsTotal.
const (
	OutcomeApplied  = "applied"
	OutcomeRejected = "rejected"
	OutcomeDropped  = "dropped"
	OutcomeError    = "error"
)

var (
	// CommandsTotal counts commands by type and what happened to them.
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "robotd_commands_total",
		Help: "Control commands received, by type and outcome.",
	}, []string{"type", "outcome"})

	// ThrottlePulse is the ESC pulse currently applied, in PCA9685 ticks.
	ThrottlePulse = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "robotd_throttle_pulse_ticks",
		Help: "Pulse currently applied to the ESC channel.",
	})

	// SteeringPulse is the steering servo pulse currently applied.
	SteeringPulse = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "robotd_steering_pulse_ticks",
		Help: "Pulse currently applied to the steering servo channel.",
	})

	// QueueDepth is the number of commands waiting for the drive loop.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "robotd_command_queue_depth",
		Help: "Commands buffered ahead of the drive loop.",
	})

	// WatchdogTrips counts failsafe activations.
	WatchdogTrips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "robotd_watchdog_trips_total",
		Help: "Times the failsafe forced the throttle to neutral.",
	})

	// HardwareErrors counts failed writes to the PWM controller or GPIO.
	HardwareErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "robotd_hardware_errors_total",
		Help: "Failed hardware writes.",
	})

	// TelemetryDropped counts state frames dropped for slow subscribers.
	TelemetryDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "robotd_telemetry_dropped_frames_total",
		Help: "State frames dropped because a subscriber was slow.",
	})
)
