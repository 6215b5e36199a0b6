package input

import (
	"context"
	"fmt"
	"time"

	"github.com/eiannone/keyboard"
)

const (
	// defaultHoldWindow is how long a key counts as held after its last
	// terminal event. Raw terminals report repeats, never releases, so the
	// release is synthesized when the repeats stop.
	defaultHoldWindow = 250 * time.Millisecond

	holdSweepInterval = 50 * time.Millisecond
)

// WithHoldWindow sets the synthesized-release window.
func WithHoldWindow(d time.Duration) func(t *TerminalCapture) {
	return func(t *TerminalCapture) {
		t.holdWindow = d
	}
}

// TerminalCapture reads key events from the controlling terminal in raw
// mode. It works over SSH and requires no device permissions, at the cost of
// key-up events: a press is held while the terminal keeps repeating it and
// released once the repeats stop for the hold window.
type TerminalCapture struct {
	holdWindow time.Duration
}

// NewTerminalCapture creates a terminal capture backend.
func NewTerminalCapture(options ...func(t *TerminalCapture)) *TerminalCapture {
	t := TerminalCapture{holdWindow: defaultHoldWindow}

	for _, option := range options {
		option(&t)
	}

	return &t
}

// Events puts the terminal into raw mode and starts the translation
// goroutine. The terminal is restored when the returned channel closes.
func (t *TerminalCapture) Events(ctx context.Context) (<-chan Event, error) {
	keys, err := keyboard.GetKeys(16)
	if err != nil {
		return nil, fmt.Errorf("opening terminal in raw mode: %w", err)
	}

	out := make(chan Event, 16)

	go func() {
		defer close(out)
		defer keyboard.Close()

		held := make(map[string]time.Time) // key -> hold expiry

		ticker := time.NewTicker(holdSweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return

			case ev, ok := <-keys:
				if !ok || ev.Err != nil {
					return
				}

				key := terminalKeyName(ev)
				if key == "" {
					continue
				}

				if _, down := held[key]; !down {
					select {
					case out <- Event{Key: key, Pressed: true}:
					case <-ctx.Done():
						return
					}
				}
				held[key] = time.Now().Add(t.holdWindow)

			case now := <-ticker.C:
				for key, expiry := range held {
					if now.Before(expiry) {
						continue
					}
					delete(held, key)
					select {
					case out <- Event{Key: key, Pressed: false}:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return out, nil
}

// Close restores the terminal. Safe to call after the event goroutine has
// already done so.
func (t *TerminalCapture) Close() error {
	return keyboard.Close()
}

func terminalKeyName(ev keyboard.KeyEvent) string {
	switch ev.Key {
	case keyboard.KeyArrowUp:
		return keyPitchForward
	case keyboard.KeyArrowDown:
		return keyPitchBack
	case keyboard.KeyArrowLeft:
		return keyRollLeft
	case keyboard.KeyArrowRight:
		return keyRollRight
	case keyboard.KeySpace:
		return keyEmergencyStop
	case keyboard.KeyCtrlC, keyboard.KeyEsc:
		// Raw mode swallows the interrupt signal, so these arrive as keys.
		return keyQuit
	}

	if ev.Rune >= 'A' && ev.Rune <= 'Z' {
		return string(ev.Rune + ('a' - 'A'))
	}
	if ev.Rune >= 'a' && ev.Rune <= 'z' {
		return string(ev.Rune)
	}

	return ""
}
