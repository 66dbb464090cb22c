// Package config loads the daemon configuration from an optional YAML file
// with ROBOTD_-prefixed environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/robotpi/robotd/internal/drive"
)

// Driver names accepted by the hardware section.
const (
	DriverPeriph = "periph"
	DriverMock   = "mock"
)

// Config holds the daemon configuration.
type Config struct {
	ListenAddr string `mapstructure:"listen_addr"`
	LogLevel   string `mapstructure:"log_level"`

	Hardware  Hardware  `mapstructure:"hardware"`
	Drive     Drive     `mapstructure:"drive"`
	Telemetry Telemetry `mapstructure:"telemetry"`

	// CalibrationFile is where persisted trim lives.
	CalibrationFile string `mapstructure:"calibration_file"`
}

// Hardware selects and configures the hardware driver.
type Hardware struct {
	// Driver is "periph" on the vehicle, "mock" on the bench.
	Driver string `mapstructure:"driver"`

	I2CBus      string `mapstructure:"i2c_bus"`
	PCA9685Addr uint16 `mapstructure:"pca9685_addr"`
	PWMFreqHz   int    `mapstructure:"pwm_freq_hz"`

	ThrottleChannel int `mapstructure:"throttle_channel"`
	SteeringChannel int `mapstructure:"steering_channel"`

	HornPin       string `mapstructure:"horn_pin"`
	HeadlightsPin string `mapstructure:"headlights_pin"`
}

// Drive configures the drive loop and pulse calibration.
type Drive struct {
	QueueSize       int           `mapstructure:"queue_size"`
	WatchdogTimeout time.Duration `mapstructure:"watchdog_timeout"`

	ThrottleNeutral uint16 `mapstructure:"throttle_neutral"`
	Deadband        int64  `mapstructure:"deadband"`
	ReverseSpan     uint16 `mapstructure:"reverse_span"`
	ForwardSpan     uint16 `mapstructure:"forward_span"`
	TurboBoost      uint16 `mapstructure:"turbo_boost"`
	SteeringCenter  uint16 `mapstructure:"steering_center"`
	SteeringSpan    uint16 `mapstructure:"steering_span"`
}

// Telemetry configures the state broadcaster.
type Telemetry struct {
	Heartbeat time.Duration `mapstructure:"heartbeat"`
}

// Calibration converts the drive section into the calibration value the
// pulse maps consume.
func (d Drive) Calibration() drive.Calibration {
	return drive.Calibration{
		ThrottleNeutral: d.ThrottleNeutral,
		Deadband:        d.Deadband,
		ReverseSpan:     d.ReverseSpan,
		ForwardSpan:     d.ForwardSpan,
		TurboBoost:      d.TurboBoost,
		SteeringCenter:  d.SteeringCenter,
		SteeringSpan:    d.SteeringSpan,
	}
}

// Load reads configuration from the given file (optional; empty path means
// defaults plus environment only) and applies environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("ROBOTD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("calibration_file", "/var/lib/robotd/trim.yaml")

	v.SetDefault("hardware.driver", DriverPeriph)
	v.SetDefault("hardware.i2c_bus", "")
	v.SetDefault("hardware.pca9685_addr", 0x40)
	v.SetDefault("hardware.pwm_freq_hz", 200)
	v.SetDefault("hardware.throttle_channel", 0)
	v.SetDefault("hardware.steering_channel", 1)
	v.SetDefault("hardware.horn_pin", "GPIO23")
	v.SetDefault("hardware.headlights_pin", "GPIO24")

	v.SetDefault("drive.queue_size", 32)
	v.SetDefault("drive.watchdog_timeout", 500*time.Millisecond)

	cal := drive.Default()
	v.SetDefault("drive.throttle_neutral", int(cal.ThrottleNeutral))
	v.SetDefault("drive.deadband", cal.Deadband)
	v.SetDefault("drive.reverse_span", int(cal.ReverseSpan))
	v.SetDefault("drive.forward_span", int(cal.ForwardSpan))
	v.SetDefault("drive.turbo_boost", int(cal.TurboBoost))
	v.SetDefault("drive.steering_center", int(cal.SteeringCenter))
	v.SetDefault("drive.steering_span", int(cal.SteeringSpan))

	v.SetDefault("telemetry.heartbeat", time.Second)
}

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}

	switch c.Hardware.Driver {
	case DriverPeriph, DriverMock:
	default:
		return fmt.Errorf("hardware.driver must be %q or %q, got %q",
			DriverPeriph, DriverMock, c.Hardware.Driver)
	}

	if c.Hardware.PWMFreqHz <= 0 {
		return fmt.Errorf("hardware.pwm_freq_hz must be positive, got %d", c.Hardware.PWMFreqHz)
	}
	if c.Hardware.ThrottleChannel < 0 || c.Hardware.ThrottleChannel > 15 {
		return fmt.Errorf("hardware.throttle_channel must be in [0, 15], got %d", c.Hardware.ThrottleChannel)
	}
	if c.Hardware.SteeringChannel < 0 || c.Hardware.SteeringChannel > 15 {
		return fmt.Errorf("hardware.steering_channel must be in [0, 15], got %d", c.Hardware.SteeringChannel)
	}
	if c.Hardware.ThrottleChannel == c.Hardware.SteeringChannel {
		return fmt.Errorf("throttle and steering cannot share PWM channel %d", c.Hardware.ThrottleChannel)
	}
	if c.Hardware.Driver == DriverPeriph {
		if c.Hardware.HornPin == "" || c.Hardware.HeadlightsPin == "" {
			return fmt.Errorf("horn_pin and headlights_pin must be set for the periph driver")
		}
		if c.Hardware.HornPin == c.Hardware.HeadlightsPin {
			return fmt.Errorf("horn and headlights cannot share pin %q", c.Hardware.HornPin)
		}
	}

	if c.Drive.QueueSize <= 0 {
		return fmt.Errorf("drive.queue_size must be positive, got %d", c.Drive.QueueSize)
	}
	if c.Drive.WatchdogTimeout <= 0 {
		return fmt.Errorf("drive.watchdog_timeout must be positive, got %v", c.Drive.WatchdogTimeout)
	}
	if c.Telemetry.Heartbeat <= 0 {
		return fmt.Errorf("telemetry.heartbeat must be positive, got %v", c.Telemetry.Heartbeat)
	}

	if err := c.Drive.Calibration().Validate(); err != nil {
		return fmt.Errorf("drive calibration: %w", err)
	}
	return nil
}
