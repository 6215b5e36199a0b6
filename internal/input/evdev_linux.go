//go:build linux

package input

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarinX/keylogger"
)

// EvdevCapture reads key transitions straight from a Linux input device. It
// needs read access to /dev/input but delivers real key-up events, so holds
// are exact rather than inferred from terminal repeats. Use it when the
// process runs on the vehicle's companion computer with a local keyboard.
type EvdevCapture struct {
	dev *keylogger.KeyLogger
}

// NewEvdevCapture opens the given input device. An empty path autodetects
// the first keyboard-capable device.
func NewEvdevCapture(devicePath string) (*EvdevCapture, error) {
	if devicePath == "" {
		devicePath = keylogger.FindKeyboardDevice()
	}
	if devicePath == "" {
		return nil, errors.New("no keyboard input device found under /dev/input")
	}

	dev, err := keylogger.New(devicePath)
	if err != nil {
		return nil, fmt.Errorf("opening input device %s: %w", devicePath, err)
	}

	return &EvdevCapture{dev: dev}, nil
}

// Events starts the translation goroutine over the device's event stream.
func (e *EvdevCapture) Events(ctx context.Context) (<-chan Event, error) {
	raw := e.dev.Read()
	out := make(chan Event, 16)

	go func() {
		defer close(out)

		for {
			select {
			case <-ctx.Done():
				return

			case ev, ok := <-raw:
				if !ok {
					return
				}
				if ev.Type != keylogger.EvKey {
					continue
				}

				key := evdevKeyName(ev.KeyString())
				if key == "" {
					continue
				}

				var event Event
				switch {
				case ev.KeyPress():
					event = Event{Key: key, Pressed: true}
				case ev.KeyRelease():
					event = Event{Key: key, Pressed: false}
				default:
					continue // key repeat
				}

				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Close closes the underlying input device.
func (e *EvdevCapture) Close() error {
	return e.dev.Close()
}

func evdevKeyName(name string) string {
	switch name = strings.ToLower(name); name {
	case "w", "a", "s", "d", "t", "l", "g", "q",
		"up", "down", "left", "right", "space":
		return name
	case "esc":
		return keyQuit
	default:
		return ""
	}
}
