package app

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("Default config should validate, got %v", err)
	}
}

func TestLoadConfig_EmptyPathReturnsDefaults(t *testing.T) {
	config, err := LoadConfig("")
	if err != nil {
		t.Fatalf("Failed to load defaults: %v", err)
	}

	if config.Vehicle.Link != LinkSim {
		t.Errorf("Expected sim link, got %q", config.Vehicle.Link)
	}
	if config.Input.Backend != InputBackendTerminal {
		t.Errorf("Expected terminal backend, got %q", config.Input.Backend)
	}
}

func TestLoadConfig_OverlaysDefaults(t *testing.T) {
	path := writeConfigFile(t, `
settings:
  logLevel: debug
vehicle:
  takeoffAltitude: 2.5
mode:
  manualTimeout: 5.0
tracking:
  pGainYaw: 10.0
api:
  enabled: false
`)

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if config.Settings.LogLevel != "debug" {
		t.Errorf("Expected debug log level, got %q", config.Settings.LogLevel)
	}
	if config.Vehicle.TakeoffAltitude != 2.5 {
		t.Errorf("Expected takeoff altitude 2.5, got %g", config.Vehicle.TakeoffAltitude)
	}
	if config.Mode.ManualTimeout != 5.0 {
		t.Errorf("Expected manual timeout 5.0, got %g", config.Mode.ManualTimeout)
	}
	if config.Tracking.PGainYaw != 10.0 {
		t.Errorf("Expected yaw gain 10.0, got %g", config.Tracking.PGainYaw)
	}
	if config.API.Enabled {
		t.Error("Expected the API to be disabled")
	}

	// Untouched sections keep their defaults.
	if config.Vehicle.Link != LinkSim {
		t.Errorf("Expected default sim link, got %q", config.Vehicle.Link)
	}
	if config.Dispatch.Rate != 15.0 {
		t.Errorf("Expected default dispatch rate, got %g", config.Dispatch.Rate)
	}
}

func TestLoadConfig_InlineInputSettings(t *testing.T) {
	path := writeConfigFile(t, `
input:
  backend: terminal
  sensitivity: 0.7
  throttleSensitivity: 0.3
`)

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if config.Input.Sensitivity != 0.7 {
		t.Errorf("Expected sensitivity 0.7, got %g", config.Input.Sensitivity)
	}
	if config.Input.ThrottleSensitivity != 0.3 {
		t.Errorf("Expected throttle sensitivity 0.3, got %g", config.Input.ThrottleSensitivity)
	}
}

func TestLoadConfig_RejectsInvalidValues(t *testing.T) {
	testCases := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "bad log level",
			content: "settings:\n  logLevel: verbose\n",
			wantErr: "invalid log level",
		},
		{
			name:    "unsupported link",
			content: "vehicle:\n  link: serial\n",
			wantErr: "vehicle config",
		},
		{
			name:    "unsupported input backend",
			content: "input:\n  backend: joystick\n",
			wantErr: "input config",
		},
		{
			name:    "inverted rc thresholds",
			content: "mode:\n  rcLowThreshold: 0.8\n",
			wantErr: "mode config",
		},
		{
			name:    "smoothing out of range",
			content: "tracking:\n  velocitySmoothing: 1.0\n",
			wantErr: "tracking config",
		},
		{
			name:    "zero dispatch rate",
			content: "dispatch:\n  rate: 0\n",
			wantErr: "dispatch config",
		},
		{
			name:    "detection enabled without address",
			content: "detection:\n  listen: \"\"\n",
			wantErr: "detection config",
		},
		{
			name:    "storage sample rate too high",
			content: "storage:\n  sampleRate: 100\n",
			wantErr: "storage config",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfigFile(t, tc.content)

			_, err := LoadConfig(path)
			if err == nil {
				t.Fatal("Expected error for invalid config")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for a missing file")
	}
}
