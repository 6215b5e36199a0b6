package app

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/uavctl/uavctl/internal/control"
	"github.com/uavctl/uavctl/internal/input"
	"github.com/uavctl/uavctl/internal/mode"
	"github.com/uavctl/uavctl/internal/track"
)

const (
	LinkSim = "sim"

	InputBackendTerminal = "terminal"
	InputBackendEvdev    = "evdev"
)

// Config represents the main application configuration
type Config struct {
	Settings  Settings        `yaml:"settings"`
	Vehicle   VehicleConfig   `yaml:"vehicle"`
	Input     InputConfig     `yaml:"input"`
	Mode      mode.Config     `yaml:"mode"`
	Tracking  track.Config    `yaml:"tracking"`
	Dispatch  control.Config  `yaml:"dispatch"`
	Detection DetectionConfig `yaml:"detection"`
	API       APIConfig       `yaml:"api"`
	Storage   StorageConfig   `yaml:"storage"`
}

// Settings represents global application settings
type Settings struct {
	LogLevel string `yaml:"logLevel"`
}

// SlogLevel parses the configured log level.
func (s Settings) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", s.LogLevel, err)
	}
	return level, nil
}

// VehicleConfig represents the vehicle link settings
type VehicleConfig struct {
	// Link selects the vehicle connection. Only the built-in simulator is
	// supported at the moment.
	Link string `yaml:"link"`

	Name            string  `yaml:"name"`
	TakeoffAltitude float64 `yaml:"takeoffAltitude"` // meters
	StreamRateHz    float64 `yaml:"streamRateHz"`    // simulator telemetry rate
}

func (c VehicleConfig) validate() error {
	if c.Link != LinkSim {
		return fmt.Errorf("unsupported vehicle link %q", c.Link)
	}
	if c.TakeoffAltitude <= 0 {
		return fmt.Errorf("takeoffAltitude must be positive, got %g", c.TakeoffAltitude)
	}
	if c.StreamRateHz <= 0 || c.StreamRateHz > 100 {
		return fmt.Errorf("streamRateHz must be in (0, 100], got %g", c.StreamRateHz)
	}
	return nil
}

// InputConfig represents keyboard capture settings
type InputConfig struct {
	// Backend selects the capture mechanism: "terminal" works everywhere
	// including over SSH, "evdev" reads a Linux input device directly.
	Backend string `yaml:"backend"`

	// Device is the evdev device path; empty autodetects.
	Device string `yaml:"device"`

	input.Config `yaml:",inline"`
}

func (c InputConfig) validate() error {
	switch c.Backend {
	case InputBackendTerminal, InputBackendEvdev:
	default:
		return fmt.Errorf("unsupported input backend %q", c.Backend)
	}
	return c.Config.Validate()
}

// DetectionConfig represents the detection feed settings
type DetectionConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

func (c DetectionConfig) validate() error {
	if c.Enabled && c.Listen == "" {
		return fmt.Errorf("detection listen address required when enabled")
	}
	return nil
}

// APIConfig represents the HTTP control surface settings
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

func (c APIConfig) validate() error {
	if c.Enabled && c.Listen == "" {
		return fmt.Errorf("api listen address required when enabled")
	}
	return nil
}

// StorageConfig represents flight recorder settings
type StorageConfig struct {
	Enabled       bool    `yaml:"enabled"`
	DataDirectory string  `yaml:"dataDirectory"`
	SampleRate    float64 `yaml:"sampleRate"` // telemetry samples per second
}

func (c StorageConfig) validate() error {
	if !c.Enabled {
		return nil
	}
	if c.SampleRate <= 0 || c.SampleRate > 50 {
		return fmt.Errorf("storage sampleRate must be in (0, 50], got %g", c.SampleRate)
	}
	return nil
}

// DefaultConfig returns the stock configuration: simulator link, terminal
// keyboard, everything else enabled on loopback addresses.
func DefaultConfig() *Config {
	return &Config{
		Settings: Settings{LogLevel: "info"},
		Vehicle: VehicleConfig{
			Link:            LinkSim,
			Name:            "sim",
			TakeoffAltitude: 5.0,
			StreamRateHz:    20.0,
		},
		Input: InputConfig{
			Backend: InputBackendTerminal,
			Config:  input.DefaultConfig(),
		},
		Mode:     mode.DefaultConfig(),
		Tracking: track.DefaultConfig(),
		Dispatch: control.DefaultConfig(),
		Detection: DetectionConfig{
			Enabled: true,
			Listen:  "127.0.0.1:5600",
		},
		API: APIConfig{
			Enabled: true,
			Listen:  "127.0.0.1:8080",
		},
		Storage: StorageConfig{
			Enabled:       true,
			DataDirectory: "data",
			SampleRate:    1.0,
		},
	}
}

// LoadConfig reads the configuration file over the defaults. An empty path
// returns the defaults unchanged. Invalid values are rejected, never
// adjusted.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks every section. The first failing section aborts with its
// error; nothing is clamped or defaulted here.
func (c *Config) Validate() error {
	if _, err := c.Settings.SlogLevel(); err != nil {
		return err
	}

	sections := []struct {
		name string
		fn   func() error
	}{
		{name: "vehicle", fn: c.Vehicle.validate},
		{name: "input", fn: c.Input.validate},
		{name: "mode", fn: c.Mode.Validate},
		{name: "tracking", fn: c.Tracking.Validate},
		{name: "dispatch", fn: c.Dispatch.Validate},
		{name: "detection", fn: c.Detection.validate},
		{name: "api", fn: c.API.validate},
		{name: "storage", fn: c.Storage.validate},
	}
	for _, s := range sections {
		if err := s.fn(); err != nil {
			return fmt.Errorf("%s config: %w", s.name, err)
		}
	}
	return nil
}
