package actuator

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/robotpi/robotd/internal/calibration"
	"github.com/robotpi/robotd/internal/domain"
	"github.com/robotpi/robotd/internal/drive"
	"github.com/robotpi/robotd/internal/hw"
	"github.com/robotpi/robotd/internal/metrics"
)

// Loop receives commands over a buffered channel and applies them to the
// hardware, one at a time, in arrival order.
type Loop struct {
	cfg    Config
	cal    drive.Calibration
	hw     Hardware
	pub    Publisher
	trim   TrimStore
	logger *zap.Logger

	cmds     chan domain.Command
	stopChan chan struct{}
	wg       sync.WaitGroup

	mu      sync.Mutex
	running bool
	state   domain.DriveState
}

// New creates a drive loop. pub and trim may be nil.
func New(cfg Config, hardware Hardware, pub Publisher, trim TrimStore, logger *zap.Logger) *Loop {
	return &Loop{
		cfg:      cfg,
		cal:      cfg.Calibration,
		hw:       hardware,
		pub:      pub,
		trim:     trim,
		logger:   logger,
		cmds:     make(chan domain.Command, cfg.QueueSize),
		stopChan: make(chan struct{}),
	}
}

// Start drives the hardware to its safe state and begins consuming commands.
// It fails if the initial safe state cannot be applied; a vehicle whose ESC
// never saw a neutral pulse must not go live.
func (l *Loop) Start() error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return nil
	}
	l.running = true
	// A fresh channel per Start makes the loop restartable after Stop.
	l.stopChan = make(chan struct{})
	stopChan := l.stopChan
	l.mu.Unlock()

	if err := l.applySafeState(); err != nil {
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
		return fmt.Errorf("apply initial safe state: %w", err)
	}

	l.wg.Add(1)
	go l.run(stopChan)

	l.logger.Info("drive loop started",
		zap.Int("queue_size", l.cfg.QueueSize),
		zap.Duration("watchdog_timeout", l.cfg.WatchdogTimeout))
	return nil
}

// Stop terminates the loop, drives the hardware back to its safe state and
// closes the handles.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	stopChan := l.stopChan
	l.mu.Unlock()

	close(stopChan)
	l.wg.Wait()

	if err := l.applySafeState(); err != nil {
		l.logger.Error("failed to apply safe state on shutdown", zap.Error(err))
	}

	if err := l.hw.PWM.Close(); err != nil {
		l.logger.Error("failed to close pwm controller", zap.Error(err))
	}
	if err := l.hw.Horn.Close(); err != nil {
		l.logger.Error("failed to close horn pin", zap.Error(err))
	}
	if err := l.hw.Headlights.Close(); err != nil {
		l.logger.Error("failed to close headlights pin", zap.Error(err))
	}

	l.logger.Info("drive loop stopped")
}

// Dispatch queues a command for the loop. It never blocks: a saturated queue
// returns ErrQueueFull and the command is dropped.
func (l *Loop) Dispatch(cmd domain.Command) error {
	l.mu.Lock()
	running := l.running
	l.mu.Unlock()
	if !running {
		return domain.ErrNotRunning
	}

	select {
	case l.cmds <- cmd:
		metrics.QueueDepth.Set(float64(len(l.cmds)))
		return nil
	default:
		metrics.CommandsTotal.WithLabelValues(string(cmd.Type), metrics.OutcomeDropped).Inc()
		return domain.ErrQueueFull
	}
}

// Running reports whether the loop is consuming commands.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// State returns a snapshot of the current drive state.
func (l *Loop) State() domain.DriveState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Loop) run(stopChan <-chan struct{}) {
	defer l.wg.Done()

	watchdog := time.NewTimer(l.cfg.WatchdogTimeout)
	defer watchdog.Stop()

	for {
		select {
		case cmd := <-l.cmds:
			metrics.QueueDepth.Set(float64(len(l.cmds)))
			if cmd.Type.IsDrive() {
				resetTimer(watchdog, l.cfg.WatchdogTimeout)
			}
			l.apply(cmd)

		case <-watchdog.C:
			l.watchdogTrip()
			watchdog.Reset(l.cfg.WatchdogTimeout)

		case <-stopChan:
			return
		}
	}
}

// resetTimer drains and restarts a timer. Required dance for timers whose
// channel may already hold a tick.
func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

func (l *Loop) apply(cmd domain.Command) {
	var err error
	switch cmd.Type {
	case domain.CommandSpeed:
		err = l.applySpeed(cmd)
	case domain.CommandDirection:
		err = l.applyDirection(cmd)
	case domain.CommandTurbo:
		err = l.applyTurbo(cmd)
	case domain.CommandHeadlights:
		err = l.applySwitch(cmd, l.hw.Headlights, func(s *domain.DriveState, on bool) { s.Headlights = on })
	case domain.CommandHorn:
		err = l.applySwitch(cmd, l.hw.Horn, func(s *domain.DriveState, on bool) { s.Horn = on })
	case domain.CommandCalibrate:
		err = l.applyCalibrate(cmd)
	case domain.CommandStop:
		err = l.applyStop()
	default:
		err = fmt.Errorf("%w: %q", domain.ErrUnknownCommand, cmd.Type)
	}

	if err != nil {
		// Hardware write failures are logged and counted but never kill
		// the loop; the next command may well succeed.
		metrics.CommandsTotal.WithLabelValues(string(cmd.Type), metrics.OutcomeError).Inc()
		l.logger.Error("failed to apply command",
			zap.String("command", string(cmd.Type)), zap.Error(err))
		return
	}

	metrics.CommandsTotal.WithLabelValues(string(cmd.Type), metrics.OutcomeApplied).Inc()
	l.publish()
}

func (l *Loop) applySpeed(cmd domain.Command) error {
	v, err := cmd.Int()
	if err != nil {
		return err
	}

	l.mu.Lock()
	turbo := l.state.Turbo
	l.mu.Unlock()

	if err := l.setThrottle(l.cal.ThrottlePulse(v, turbo)); err != nil {
		return err
	}

	l.mu.Lock()
	l.state.Speed = v
	l.state.WatchdogStopped = false
	l.mu.Unlock()
	return nil
}

func (l *Loop) applyDirection(cmd domain.Command) error {
	v, err := cmd.Int()
	if err != nil {
		return err
	}

	if err := l.setSteering(l.cal.SteeringPulse(v)); err != nil {
		return err
	}

	l.mu.Lock()
	l.state.Direction = v
	l.state.WatchdogStopped = false
	l.mu.Unlock()
	return nil
}

// applyTurbo flips the turbo flag and immediately re-applies the current
// speed so the boost takes effect without waiting for the next stick input.
func (l *Loop) applyTurbo(cmd domain.Command) error {
	on, err := cmd.Bool()
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.state.Turbo = on
	speed := l.state.Speed
	l.mu.Unlock()

	return l.setThrottle(l.cal.ThrottlePulse(speed, on))
}

func (l *Loop) applySwitch(cmd domain.Command, sw hw.Switch, update func(*domain.DriveState, bool)) error {
	on, err := cmd.Bool()
	if err != nil {
		return err
	}

	if err := sw.Set(on); err != nil {
		metrics.HardwareErrors.Inc()
		return err
	}

	l.mu.Lock()
	update(&l.state, on)
	l.mu.Unlock()
	return nil
}

// applyCalibrate adjusts the loop's calibration, re-applies the affected
// outputs and persists the new trim.
func (l *Loop) applyCalibrate(cmd domain.Command) error {
	upd, err := cmd.Calibration()
	if err != nil {
		return err
	}

	next := l.cal
	if upd.ThrottleNeutral != nil {
		next.ThrottleNeutral = *upd.ThrottleNeutral
	}
	if upd.SteeringCenter != nil {
		next.SteeringCenter = *upd.SteeringCenter
	}
	if err := next.Validate(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrBadValue, err)
	}
	l.cal = next

	l.mu.Lock()
	speed, direction, turbo := l.state.Speed, l.state.Direction, l.state.Turbo
	l.mu.Unlock()

	if err := l.setThrottle(l.cal.ThrottlePulse(speed, turbo)); err != nil {
		return err
	}
	if err := l.setSteering(l.cal.SteeringPulse(direction)); err != nil {
		return err
	}

	if l.trim != nil {
		if err := l.trim.Save(calibration.Trim{
			ThrottleNeutral: l.cal.ThrottleNeutral,
			SteeringCenter:  l.cal.SteeringCenter,
		}); err != nil {
			// Trim applies for this run either way.
			l.logger.Error("failed to persist trim", zap.Error(err))
		}
	}

	l.logger.Info("calibration updated",
		zap.Uint16("throttle_neutral", l.cal.ThrottleNeutral),
		zap.Uint16("steering_center", l.cal.SteeringCenter))
	return nil
}

// applyStop parks the vehicle and clears the turbo flag. The controller page
// resets its turbo toggle on STOP without sending a separate turbo command, so
// a lingering server-side flag would silently boost the next throttle input.
func (l *Loop) applyStop() error {
	if err := l.setThrottle(l.cal.ThrottleNeutral); err != nil {
		return err
	}
	if err := l.setSteering(l.cal.SteeringCenter); err != nil {
		return err
	}
	if err := l.hw.Horn.Set(false); err != nil {
		metrics.HardwareErrors.Inc()
		return err
	}
	if err := l.hw.Headlights.Set(false); err != nil {
		metrics.HardwareErrors.Inc()
		return err
	}

	l.mu.Lock()
	l.state.Speed = 0
	l.state.Direction = 0
	l.state.Turbo = false
	l.state.Horn = false
	l.state.Headlights = false
	l.mu.Unlock()
	return nil
}

// applySafeState parks the vehicle: neutral throttle, centered steering,
// everything off.
func (l *Loop) applySafeState() error {
	if err := l.setThrottle(l.cal.ThrottleNeutral); err != nil {
		return err
	}
	if err := l.setSteering(l.cal.SteeringCenter); err != nil {
		return err
	}
	if err := l.hw.Horn.Set(false); err != nil {
		metrics.HardwareErrors.Inc()
		return err
	}
	if err := l.hw.Headlights.Set(false); err != nil {
		metrics.HardwareErrors.Inc()
		return err
	}

	l.mu.Lock()
	l.state = domain.DriveState{
		ThrottlePulse: l.cal.ThrottleNeutral,
		SteeringPulse: l.cal.SteeringCenter,
		UpdatedAt:     time.Now(),
	}
	l.mu.Unlock()

	l.publish()
	return nil
}

// watchdogTrip fires when drive commands stop arriving. A moving vehicle is
// forced to neutral; a parked one is left alone.
func (l *Loop) watchdogTrip() {
	l.mu.Lock()
	moving := l.state.Moving()
	l.mu.Unlock()
	if !moving {
		return
	}

	if err := l.setThrottle(l.cal.ThrottleNeutral); err != nil {
		l.logger.Error("watchdog failed to stop vehicle", zap.Error(err))
		return
	}

	l.mu.Lock()
	l.state.Speed = 0
	l.state.WatchdogStopped = true
	l.mu.Unlock()

	metrics.WatchdogTrips.Inc()
	l.logger.Warn("watchdog tripped, throttle forced to neutral",
		zap.Duration("timeout", l.cfg.WatchdogTimeout))
	l.publish()
}

func (l *Loop) setThrottle(ticks uint16) error {
	if err := l.hw.PWM.SetPulse(l.cfg.ThrottleChannel, ticks); err != nil {
		metrics.HardwareErrors.Inc()
		return err
	}
	l.mu.Lock()
	l.state.ThrottlePulse = ticks
	l.mu.Unlock()
	metrics.ThrottlePulse.Set(float64(ticks))
	return nil
}

func (l *Loop) setSteering(ticks uint16) error {
	if err := l.hw.PWM.SetPulse(l.cfg.SteeringChannel, ticks); err != nil {
		metrics.HardwareErrors.Inc()
		return err
	}
	l.mu.Lock()
	l.state.SteeringPulse = ticks
	l.mu.Unlock()
	metrics.SteeringPulse.Set(float64(ticks))
	return nil
}

func (l *Loop) publish() {
	l.mu.Lock()
	l.state.UpdatedAt = time.Now()
	snapshot := l.state
	l.mu.Unlock()

	if l.pub != nil {
		l.pub.Publish(snapshot)
	}
}
