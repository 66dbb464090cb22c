// Package calibration persists per-vehicle trim so the car still drives
// straight after a restart.
package calibration

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Trim holds the persisted calibration values. Zero fields mean "use the
// configured default".
type Trim struct {
	ThrottleNeutral uint16 `yaml:"throttle_neutral,omitempty"`
	SteeringCenter  uint16 `yaml:"steering_center,omitempty"`
}

// Store reads and writes the trim file.
type Store struct {
	path   string
	mu     sync.Mutex
	logger *zap.Logger
}

// NewStore creates a store for the given file path.
func NewStore(path string, logger *zap.Logger) *Store {
	return &Store{path: path, logger: logger}
}

// Load reads the trim file. A missing file is not an error; it returns
// (nil, nil) so the caller falls back to configured defaults.
func (s *Store) Load() (*Trim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.logger.Info("no trim file, using configured calibration", zap.String("path", s.path))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read trim file: %w", err)
	}

	var trim Trim
	if err := yaml.Unmarshal(data, &trim); err != nil {
		return nil, fmt.Errorf("parse trim file %s: %w", s.path, err)
	}

	s.logger.Info("loaded trim",
		zap.String("path", s.path),
		zap.Uint16("throttle_neutral", trim.ThrottleNeutral),
		zap.Uint16("steering_center", trim.SteeringCenter))
	return &trim, nil
}

// Save writes the trim file, creating parent directories as needed.
func (s *Store) Save(trim Trim) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := yaml.Marshal(trim)
	if err != nil {
		return fmt.Errorf("encode trim: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create trim directory: %w", err)
		}
	}

	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write trim file: %w", err)
	}

	s.logger.Info("saved trim", zap.String("path", s.path))
	return nil
}
