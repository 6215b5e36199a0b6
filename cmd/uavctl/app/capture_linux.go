//go:build linux

package app

import (
	"github.com/uavctl/uavctl/internal/input"
)

func createCapture(config *InputConfig) (input.Capture, error) {
	if config.Backend == InputBackendEvdev {
		return input.NewEvdevCapture(config.Device)
	}
	return input.NewTerminalCapture(), nil
}
