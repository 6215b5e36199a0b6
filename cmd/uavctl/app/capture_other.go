//go:build !linux

package app

import (
	"fmt"

	"github.com/uavctl/uavctl/internal/input"
)

func createCapture(config *InputConfig) (input.Capture, error) {
	if config.Backend == InputBackendEvdev {
		return nil, fmt.Errorf("input backend %q is only available on linux", config.Backend)
	}
	return input.NewTerminalCapture(), nil
}
