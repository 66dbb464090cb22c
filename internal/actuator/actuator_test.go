package actuator

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/robotpi/robotd/internal/calibration"
	"github.com/robotpi/robotd/internal/domain"
	"github.com/robotpi/robotd/internal/drive"
	"github.com/robotpi/robotd/internal/hw"
)

const (
	testThrottleChannel = 0
	testSteeringChannel = 1
)

// recordingPublisher is a test double for Publisher.
type recordingPublisher struct {
	mu     sync.Mutex
	states []domain.DriveState
}

func (p *recordingPublisher) Publish(s domain.DriveState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states = append(p.states, s)
}

func (p *recordingPublisher) last() (domain.DriveState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.states) == 0 {
		return domain.DriveState{}, false
	}
	return p.states[len(p.states)-1], true
}

// recordingTrimStore is a test double for TrimStore.
type recordingTrimStore struct {
	mu    sync.Mutex
	saved []calibration.Trim
	err   error
}

func (s *recordingTrimStore) Save(t calibration.Trim) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, t)
	return nil
}

type fixture struct {
	loop  *Loop
	pwm   *hw.MockPWM
	horn  *hw.MockSwitch
	beams *hw.MockSwitch
	pub   *recordingPublisher
	trim  *recordingTrimStore
}

func newFixture(t *testing.T, watchdog time.Duration) *fixture {
	t.Helper()

	f := &fixture{
		pwm:   hw.NewMockPWM(),
		horn:  hw.NewMockSwitch(),
		beams: hw.NewMockSwitch(),
		pub:   &recordingPublisher{},
		trim:  &recordingTrimStore{},
	}

	f.loop = New(Config{
		Calibration:     drive.Default(),
		ThrottleChannel: testThrottleChannel,
		SteeringChannel: testSteeringChannel,
		WatchdogTimeout: watchdog,
		QueueSize:       16,
	}, Hardware{
		PWM:        f.pwm,
		Horn:       f.horn,
		Headlights: f.beams,
	}, f.pub, f.trim, zap.NewNop())

	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	require.NoError(t, f.loop.Start())
	t.Cleanup(f.loop.Stop)
}

// dispatch sends a command and waits until its effect is observable.
func (f *fixture) dispatch(t *testing.T, cmd domain.Command) {
	t.Helper()
	require.NoError(t, f.loop.Dispatch(cmd))
}

func TestStartAppliesSafeState(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.start(t)

	p, ok := f.pwm.LastPulse(testThrottleChannel)
	require.True(t, ok)
	assert.Equal(t, uint16(1450), p)

	p, ok = f.pwm.LastPulse(testSteeringChannel)
	require.True(t, ok)
	assert.Equal(t, uint16(1450), p)

	assert.False(t, f.horn.On())
	assert.False(t, f.beams.On())
}

func TestStartFailsWhenSafeStateCannotBeApplied(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.pwm.FailWith(errors.New("i2c write failed"))

	err := f.loop.Start()
	require.Error(t, err)
	assert.False(t, f.loop.Running())
}

func TestSpeedCommandSetsThrottlePulse(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.start(t)

	f.dispatch(t, domain.Command{Type: domain.CommandSpeed, Value: json.Number("100")})

	require.Eventually(t, func() bool {
		p, _ := f.pwm.LastPulse(testThrottleChannel)
		return p == 2200
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, int64(100), f.loop.State().Speed)
}

func TestDirectionCommandSetsSteeringPulse(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.start(t)

	f.dispatch(t, domain.Command{Type: domain.CommandDirection, Value: json.Number("-100")})

	require.Eventually(t, func() bool {
		p, _ := f.pwm.LastPulse(testSteeringChannel)
		return p == 1050
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, int64(-100), f.loop.State().Direction)
}

func TestTurboReappliesCurrentSpeed(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.start(t)

	f.dispatch(t, domain.Command{Type: domain.CommandSpeed, Value: json.Number("100")})
	require.Eventually(t, func() bool {
		p, _ := f.pwm.LastPulse(testThrottleChannel)
		return p == 2200
	}, time.Second, 5*time.Millisecond)

	f.dispatch(t, domain.Command{Type: domain.CommandTurbo, Value: true})

	// Boost must land without another speed command.
	require.Eventually(t, func() bool {
		p, _ := f.pwm.LastPulse(testThrottleChannel)
		return p == 2300
	}, time.Second, 5*time.Millisecond)

	f.dispatch(t, domain.Command{Type: domain.CommandTurbo, Value: false})
	require.Eventually(t, func() bool {
		p, _ := f.pwm.LastPulse(testThrottleChannel)
		return p == 2200
	}, time.Second, 5*time.Millisecond)
}

func TestSwitchCommands(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.start(t)

	f.dispatch(t, domain.Command{Type: domain.CommandHeadlights, Value: true})
	require.Eventually(t, f.beams.On, time.Second, 5*time.Millisecond)
	assert.True(t, f.loop.State().Headlights)

	f.dispatch(t, domain.Command{Type: domain.CommandHorn, Value: true})
	require.Eventually(t, f.horn.On, time.Second, 5*time.Millisecond)

	f.dispatch(t, domain.Command{Type: domain.CommandHorn, Value: false})
	require.Eventually(t, func() bool { return !f.horn.On() }, time.Second, 5*time.Millisecond)
}

func TestStopParksEverything(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.start(t)

	f.dispatch(t, domain.Command{Type: domain.CommandSpeed, Value: json.Number("80")})
	f.dispatch(t, domain.Command{Type: domain.CommandDirection, Value: json.Number("50")})
	f.dispatch(t, domain.Command{Type: domain.CommandHeadlights, Value: true})
	f.dispatch(t, domain.Command{Type: domain.CommandStop})

	require.Eventually(t, func() bool {
		s := f.loop.State()
		return s.Speed == 0 && s.Direction == 0 && !s.Headlights && !s.Horn
	}, time.Second, 5*time.Millisecond)

	p, _ := f.pwm.LastPulse(testThrottleChannel)
	assert.Equal(t, uint16(1450), p)
	p, _ = f.pwm.LastPulse(testSteeringChannel)
	assert.Equal(t, uint16(1450), p)
}

func TestStopClearsTurbo(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.start(t)

	f.dispatch(t, domain.Command{Type: domain.CommandTurbo, Value: true})
	f.dispatch(t, domain.Command{Type: domain.CommandSpeed, Value: json.Number("100")})
	require.Eventually(t, func() bool {
		p, _ := f.pwm.LastPulse(testThrottleChannel)
		return p == 2300
	}, time.Second, 5*time.Millisecond)

	f.dispatch(t, domain.Command{Type: domain.CommandStop})
	require.Eventually(t, func() bool {
		return !f.loop.State().Turbo
	}, time.Second, 5*time.Millisecond)

	// The next throttle input must not be boosted by a stale turbo flag.
	f.dispatch(t, domain.Command{Type: domain.CommandSpeed, Value: json.Number("100")})
	require.Eventually(t, func() bool {
		p, _ := f.pwm.LastPulse(testThrottleChannel)
		return p == 2200
	}, time.Second, 5*time.Millisecond)
}

func TestWatchdogForcesNeutralWhileMoving(t *testing.T) {
	f := newFixture(t, 30*time.Millisecond)
	f.start(t)

	f.dispatch(t, domain.Command{Type: domain.CommandSpeed, Value: json.Number("60")})

	require.Eventually(t, func() bool {
		s := f.loop.State()
		return s.WatchdogStopped && s.Speed == 0
	}, time.Second, 5*time.Millisecond)

	p, _ := f.pwm.LastPulse(testThrottleChannel)
	assert.Equal(t, uint16(1450), p)

	// The next drive command clears the flag.
	f.dispatch(t, domain.Command{Type: domain.CommandSpeed, Value: json.Number("20")})
	require.Eventually(t, func() bool {
		s := f.loop.State()
		return !s.WatchdogStopped && s.Speed == 20
	}, time.Second, 5*time.Millisecond)
}

func TestWatchdogLeavesParkedVehicleAlone(t *testing.T) {
	f := newFixture(t, 20*time.Millisecond)
	f.start(t)

	time.Sleep(100 * time.Millisecond)

	assert.False(t, f.loop.State().WatchdogStopped)
}

func TestCalibrateAdjustsTrimAndPersists(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.start(t)

	f.dispatch(t, domain.Command{Type: domain.CommandCalibrate, Value: map[string]any{
		"steering_center": json.Number("1400"),
	}})

	require.Eventually(t, func() bool {
		p, _ := f.pwm.LastPulse(testSteeringChannel)
		return p == 1400
	}, time.Second, 5*time.Millisecond)

	f.trim.mu.Lock()
	defer f.trim.mu.Unlock()
	require.Len(t, f.trim.saved, 1)
	assert.Equal(t, uint16(1400), f.trim.saved[0].SteeringCenter)
	assert.Equal(t, uint16(1450), f.trim.saved[0].ThrottleNeutral)
}

func TestCalibrateRejectsInvalidResult(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.start(t)

	// A steering center at the edge of the PWM range cannot hold the
	// configured span.
	f.dispatch(t, domain.Command{Type: domain.CommandCalibrate, Value: map[string]any{
		"steering_center": json.Number("4000"),
	}})

	// Steering stays where it was.
	time.Sleep(50 * time.Millisecond)
	p, _ := f.pwm.LastPulse(testSteeringChannel)
	assert.Equal(t, uint16(1450), p)

	f.trim.mu.Lock()
	defer f.trim.mu.Unlock()
	assert.Empty(t, f.trim.saved)
}

func TestDispatchBeforeStart(t *testing.T) {
	f := newFixture(t, time.Hour)

	err := f.loop.Dispatch(domain.Command{Type: domain.CommandStop})
	assert.ErrorIs(t, err, domain.ErrNotRunning)
}

func TestDispatchAfterStop(t *testing.T) {
	f := newFixture(t, time.Hour)
	require.NoError(t, f.loop.Start())
	f.loop.Stop()

	err := f.loop.Dispatch(domain.Command{Type: domain.CommandStop})
	assert.ErrorIs(t, err, domain.ErrNotRunning)
}

func TestDispatchQueueFull(t *testing.T) {
	f := &fixture{
		pwm:   hw.NewMockPWM(),
		horn:  hw.NewMockSwitch(),
		beams: hw.NewMockSwitch(),
		pub:   &recordingPublisher{},
		trim:  &recordingTrimStore{},
	}
	f.loop = New(Config{
		Calibration:     drive.Default(),
		ThrottleChannel: testThrottleChannel,
		SteeringChannel: testSteeringChannel,
		WatchdogTimeout: time.Hour,
		QueueSize:       1,
	}, Hardware{PWM: f.pwm, Horn: f.horn, Headlights: f.beams}, f.pub, f.trim, zap.NewNop())

	f.start(t)

	// Pin the loop inside a hardware write, then fill the queue.
	f.pwm.BlockWrites()
	defer f.pwm.ReleaseWrites()

	require.NoError(t, f.loop.Dispatch(domain.Command{Type: domain.CommandSpeed, Value: json.Number("10")}))
	require.Eventually(t, func() bool { return f.pwm.BlockedWriters() > 0 },
		time.Second, time.Millisecond)

	// Loop is blocked; one slot in the buffer.
	require.NoError(t, f.loop.Dispatch(domain.Command{Type: domain.CommandSpeed, Value: json.Number("20")}))

	err := f.loop.Dispatch(domain.Command{Type: domain.CommandSpeed, Value: json.Number("30")})
	assert.ErrorIs(t, err, domain.ErrQueueFull)
}

func TestHardwareErrorDoesNotKillLoop(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.start(t)

	f.pwm.FailWith(errors.New("i2c write failed"))
	f.dispatch(t, domain.Command{Type: domain.CommandSpeed, Value: json.Number("50")})

	// Loop keeps consuming; once the hardware recovers, commands apply.
	f.pwm.FailWith(nil)
	f.dispatch(t, domain.Command{Type: domain.CommandSpeed, Value: json.Number("100")})

	require.Eventually(t, func() bool {
		p, _ := f.pwm.LastPulse(testThrottleChannel)
		return p == 2200
	}, time.Second, 5*time.Millisecond)
	assert.True(t, f.loop.Running())
}

func TestStopClosesHardware(t *testing.T) {
	f := newFixture(t, time.Hour)
	require.NoError(t, f.loop.Start())

	f.loop.Stop()

	assert.True(t, f.pwm.Closed())
	assert.True(t, f.horn.Closed())
	assert.True(t, f.beams.Closed())
}

func TestRestartAfterStop(t *testing.T) {
	f := newFixture(t, time.Hour)
	require.NoError(t, f.loop.Start())
	f.loop.Stop()

	require.NoError(t, f.loop.Start())
	t.Cleanup(f.loop.Stop)

	f.dispatch(t, domain.Command{Type: domain.CommandSpeed, Value: json.Number("100")})
	require.Eventually(t, func() bool {
		p, _ := f.pwm.LastPulse(testThrottleChannel)
		return p == 2200
	}, time.Second, 5*time.Millisecond)
}

func TestCommandsPublishSnapshots(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.start(t)

	f.dispatch(t, domain.Command{Type: domain.CommandSpeed, Value: json.Number("40")})

	require.Eventually(t, func() bool {
		s, ok := f.pub.last()
		return ok && s.Speed == 40
	}, time.Second, 5*time.Millisecond)
}
