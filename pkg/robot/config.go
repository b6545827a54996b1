package robot

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// DefaultConfigFile is written by the setup command.
const DefaultConfigFile = "lerobot.json"

var ErrNotConfigured = errors.New("arms not configured")

// Config holds the leader and follower arm setup.
type Config struct {
	Leader   ArmConfig `json:"leader"`
	Follower ArmConfig `json:"follower"`
}

// ArmConfig holds configuration for a single arm.
type ArmConfig struct {
	Port        string      `json:"port"`
	Calibration Calibration `json:"calibration,omitempty"`
}

// IsCalibrated returns true if the arm has calibration data.
func (a *ArmConfig) IsCalibrated() bool {
	return len(a.Calibration) > 0
}

// LoadConfig reads an arm configuration file. An empty path means DefaultConfigFile.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFile
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// Save writes the configuration to path.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks that both arms have a port and a complete calibration.
func (c *Config) Validate() error {
	for _, arm := range []struct {
		role string
		cfg  ArmConfig
	}{{"leader", c.Leader}, {"follower", c.Follower}} {
		if arm.cfg.Port == "" {
			return fmt.Errorf("%w: %s has no port", ErrNotConfigured, arm.role)
		}
		if !arm.cfg.IsCalibrated() {
			return fmt.Errorf("%w: %s is not calibrated", ErrNotConfigured, arm.role)
		}
		if err := arm.cfg.Calibration.Validate(); err != nil {
			return fmt.Errorf("%s: %w", arm.role, err)
		}
	}
	return nil
}
