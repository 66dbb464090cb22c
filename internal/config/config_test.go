package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")

	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, DriverPeriph, cfg.Hardware.Driver)
	assert.Equal(t, uint16(0x40), cfg.Hardware.PCA9685Addr)
	assert.Equal(t, 200, cfg.Hardware.PWMFreqHz)
	assert.Equal(t, 0, cfg.Hardware.ThrottleChannel)
	assert.Equal(t, 1, cfg.Hardware.SteeringChannel)
	assert.Equal(t, "GPIO23", cfg.Hardware.HornPin)
	assert.Equal(t, "GPIO24", cfg.Hardware.HeadlightsPin)
	assert.Equal(t, 500*time.Millisecond, cfg.Drive.WatchdogTimeout)
	assert.Equal(t, uint16(1450), cfg.Drive.ThrottleNeutral)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "robotd.yaml")
	content := `
listen_addr: ":9090"
log_level: debug
hardware:
  driver: mock
drive:
  watchdog_timeout: 250ms
  steering_center: 1430
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, DriverMock, cfg.Hardware.Driver)
	assert.Equal(t, 250*time.Millisecond, cfg.Drive.WatchdogTimeout)
	assert.Equal(t, uint16(1430), cfg.Drive.SteeringCenter)

	// Unset values keep their defaults.
	assert.Equal(t, uint16(1450), cfg.Drive.ThrottleNeutral)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("ROBOTD_LISTEN_ADDR", ":7000")
	t.Setenv("ROBOTD_HARDWARE_DRIVER", "mock")

	cfg, err := Load("")

	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.ListenAddr)
	assert.Equal(t, DriverMock, cfg.Hardware.Driver)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "empty listen addr", mutate: func(c *Config) { c.ListenAddr = "" }},
		{name: "unknown driver", mutate: func(c *Config) { c.Hardware.Driver = "gpiozero" }},
		{name: "zero pwm frequency", mutate: func(c *Config) { c.Hardware.PWMFreqHz = 0 }},
		{name: "channel out of range", mutate: func(c *Config) { c.Hardware.ThrottleChannel = 16 }},
		{name: "shared pwm channel", mutate: func(c *Config) { c.Hardware.SteeringChannel = c.Hardware.ThrottleChannel }},
		{name: "shared gpio pin", mutate: func(c *Config) { c.Hardware.HeadlightsPin = c.Hardware.HornPin }},
		{name: "zero queue size", mutate: func(c *Config) { c.Drive.QueueSize = 0 }},
		{name: "zero watchdog", mutate: func(c *Config) { c.Drive.WatchdogTimeout = 0 }},
		{name: "zero heartbeat", mutate: func(c *Config) { c.Telemetry.Heartbeat = 0 }},
		{name: "bad calibration", mutate: func(c *Config) { c.Drive.ForwardSpan = 4000 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateMockDriverSkipsPinChecks(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Hardware.Driver = DriverMock
	cfg.Hardware.HornPin = ""
	cfg.Hardware.HeadlightsPin = ""

	assert.NoError(t, cfg.Validate())
}
