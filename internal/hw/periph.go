package hw

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/pca9685"
	"periph.io/x/host/v3"
)

// hostInit guards periph host initialization, which must happen exactly once
// per process regardless of how many devices are opened.
var hostInit sync.Once

var hostInitErr error

func initHost() error {
	hostInit.Do(func() {
		_, hostInitErr = host.Init()
	})
	return hostInitErr
}

// PCA9685 is a PWMDriver backed by a real PCA9685 servo controller on I2C.
type PCA9685 struct {
	dev *pca9685.Dev
	bus i2c.BusCloser
}

// OpenPCA9685 opens the controller on the given bus and sets the PWM
// frequency. The open is retried with exponential backoff: on a cold boot the
// daemon regularly comes up before the I2C device answers.
func OpenPCA9685(ctx context.Context, busName string, addr uint16, freqHz int, logger *zap.Logger) (*PCA9685, error) {
	if err := initHost(); err != nil {
		return nil, fmt.Errorf("init periph host: %w", err)
	}

	open := func() (*PCA9685, error) {
		bus, err := i2creg.Open(busName)
		if err != nil {
			return nil, fmt.Errorf("open i2c bus %q: %w", busName, err)
		}

		dev, err := pca9685.NewI2C(bus, addr)
		if err != nil {
			_ = bus.Close()
			return nil, fmt.Errorf("open pca9685 at %#x: %w", addr, err)
		}

		if err := dev.SetPwmFreq(physic.Frequency(freqHz) * physic.Hertz); err != nil {
			_ = bus.Close()
			return nil, fmt.Errorf("set pwm frequency %d Hz: %w", freqHz, err)
		}

		return &PCA9685{dev: dev, bus: bus}, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond

	p, err := backoff.Retry(ctx, open,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(5),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("motor controller not answering, retrying",
				zap.Error(err), zap.Duration("next_try_in", next))
		}))
	if err != nil {
		return nil, err
	}

	logger.Info("motor controller ready",
		zap.String("bus", busName), zap.Int("freq_hz", freqHz))
	return p, nil
}

// SetPulse sets the off-tick of a channel; the on-tick is always zero.
func (p *PCA9685) SetPulse(channel int, ticks uint16) error {
	if err := p.dev.SetPwm(channel, 0, gpio.Duty(ticks)); err != nil {
		return fmt.Errorf("set pwm channel %d: %w", channel, err)
	}
	return nil
}

// Close turns all channels off and releases the bus.
func (p *PCA9685) Close() error {
	if err := p.dev.SetAllPwm(0, 0); err != nil {
		_ = p.bus.Close()
		return fmt.Errorf("clear pwm outputs: %w", err)
	}
	return p.bus.Close()
}

// GPIOSwitch is a Switch backed by a named GPIO pin.
type GPIOSwitch struct {
	pin gpio.PinIO
}

// OpenGPIOSwitch looks up a pin by name (e.g. "GPIO23") and drives it low.
func OpenGPIOSwitch(name string) (*GPIOSwitch, error) {
	if err := initHost(); err != nil {
		return nil, fmt.Errorf("init periph host: %w", err)
	}

	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("gpio pin %q not found", name)
	}
	if err := pin.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("configure %q as output: %w", name, err)
	}
	return &GPIOSwitch{pin: pin}, nil
}

// Set drives the pin high or low.
func (s *GPIOSwitch) Set(on bool) error {
	if err := s.pin.Out(gpio.Level(on)); err != nil {
		return fmt.Errorf("set %s: %w", s.pin.Name(), err)
	}
	return nil
}

// Close drives the pin low and halts it.
func (s *GPIOSwitch) Close() error {
	if err := s.pin.Out(gpio.Low); err != nil {
		return err
	}
	return s.pin.Halt()
}
