package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/robotpi/robotd/internal/actuator"
	"github.com/robotpi/robotd/internal/api"
	"github.com/robotpi/robotd/internal/calibration"
	"github.com/robotpi/robotd/internal/config"
	"github.com/robotpi/robotd/internal/drive"
	"github.com/robotpi/robotd/internal/hw"
	"github.com/robotpi/robotd/internal/telemetry"
)

const shutdownTimeout = 5 * time.Second

func main() {
	var configPath string
	pflag.StringVarP(&configPath, "config", "c", "", "path to config file")
	pflag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("robotd failed", zap.Error(err))
	}
}

func buildLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("unknown log level %q: %w", level, err)
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

// run wires up all dependencies and blocks until shutdown.
// This is the composition root; nothing below it constructs its own
// dependencies.
func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hardware, err := buildHardware(ctx, cfg, logger)
	if err != nil {
		return err
	}

	trimStore := calibration.NewStore(cfg.CalibrationFile, logger.Named("calibration"))
	cal := loadCalibration(cfg, trimStore, logger)

	broadcaster := telemetry.NewBroadcaster(cfg.Telemetry.Heartbeat, logger.Named("telemetry"))
	broadcaster.Start()
	defer broadcaster.Stop()

	loop := actuator.New(actuator.Config{
		Calibration:     cal,
		ThrottleChannel: cfg.Hardware.ThrottleChannel,
		SteeringChannel: cfg.Hardware.SteeringChannel,
		WatchdogTimeout: cfg.Drive.WatchdogTimeout,
		QueueSize:       cfg.Drive.QueueSize,
	}, hardware, broadcaster, trimStore, logger.Named("actuator"))
	if err := loop.Start(); err != nil {
		return err
	}
	defer loop.Stop()

	renderer, err := api.NewRenderer()
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	api.NewHandler(loop, broadcaster, renderer, logger.Named("api")).RegisterRoutes(mux)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("robotd listening",
			zap.String("addr", cfg.ListenAddr),
			zap.String("driver", cfg.Hardware.Driver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", zap.Error(err))
	}
	return nil
}

// loadCalibration merges persisted trim into the configured calibration.
// Unreadable or invalid trim falls back to the config values; a trim file
// must never keep the car from starting.
func loadCalibration(cfg *config.Config, store *calibration.Store, logger *zap.Logger) drive.Calibration {
	cal := cfg.Drive.Calibration()

	trim, err := store.Load()
	if err != nil {
		logger.Warn("ignoring unreadable trim file", zap.Error(err))
		return cal
	}
	if trim == nil {
		return cal
	}

	if trim.ThrottleNeutral != 0 {
		cal.ThrottleNeutral = trim.ThrottleNeutral
	}
	if trim.SteeringCenter != 0 {
		cal.SteeringCenter = trim.SteeringCenter
	}
	if err := cal.Validate(); err != nil {
		logger.Warn("persisted trim invalid, using configured calibration", zap.Error(err))
		return cfg.Drive.Calibration()
	}
	return cal
}

// buildHardware opens the configured hardware driver.
func buildHardware(ctx context.Context, cfg *config.Config, logger *zap.Logger) (actuator.Hardware, error) {
	if cfg.Hardware.Driver == config.DriverMock {
		logger.Warn("mock hardware driver selected, nothing will move")
		return actuator.Hardware{
			PWM:        hw.NewMockPWM(),
			Horn:       hw.NewMockSwitch(),
			Headlights: hw.NewMockSwitch(),
		}, nil
	}

	pwm, err := hw.OpenPCA9685(ctx, cfg.Hardware.I2CBus, cfg.Hardware.PCA9685Addr,
		cfg.Hardware.PWMFreqHz, logger.Named("hw"))
	if err != nil {
		return actuator.Hardware{}, fmt.Errorf("open motor controller: %w", err)
	}

	horn, err := hw.OpenGPIOSwitch(cfg.Hardware.HornPin)
	if err != nil {
		_ = pwm.Close()
		return actuator.Hardware{}, fmt.Errorf("open horn pin: %w", err)
	}

	headlights, err := hw.OpenGPIOSwitch(cfg.Hardware.HeadlightsPin)
	if err != nil {
		_ = pwm.Close()
		_ = horn.Close()
		return actuator.Hardware{}, fmt.Errorf("open headlights pin: %w", err)
	}

	return actuator.Hardware{PWM: pwm, Horn: horn, Headlights: headlights}, nil
}
