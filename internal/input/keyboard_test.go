package input

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeCapture struct {
	mu     sync.Mutex
	events chan Event
	closed bool
}

func newFakeCapture() *fakeCapture {
	return &fakeCapture{events: make(chan Event, 16)}
}

func (f *fakeCapture) Events(ctx context.Context) (<-chan Event, error) {
	out := make(chan Event, 16)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-f.events:
				if !ok {
					return
				}
				select {
				case out <- e:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (f *fakeCapture) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func newTestController(t *testing.T, options ...func(c *Controller)) *Controller {
	t.Helper()

	c, err := NewController(DefaultConfig(), newFakeCapture(), options...)
	if err != nil {
		t.Fatalf("Failed to create controller: %v", err)
	}
	return c
}

func press(c *Controller, key string)   { c.handle(Event{Key: key, Pressed: true}) }
func release(c *Controller, key string) { c.handle(Event{Key: key, Pressed: false}) }

func TestController_AxisMapping(t *testing.T) {
	c := newTestController(t)

	press(c, "up")
	press(c, "d")
	press(c, "w")

	v := c.Vector()
	if v.X != 1.0 {
		t.Errorf("Expected full forward pitch, got %g", v.X)
	}
	if v.R != 1.0 {
		t.Errorf("Expected full right yaw, got %g", v.R)
	}
	if v.Z != 0.5 {
		t.Errorf("Expected half throttle up, got %g", v.Z)
	}
	if v.Y != 0 {
		t.Errorf("Expected neutral roll, got %g", v.Y)
	}

	release(c, "up")
	release(c, "d")
	release(c, "w")
	if v := c.Vector(); !v.IsZero() {
		t.Errorf("Expected neutral vector after releases, got %+v", v)
	}
}

func TestController_OpposingKeysCancel(t *testing.T) {
	c := newTestController(t)

	press(c, "w")
	press(c, "s")
	press(c, "a")
	press(c, "d")

	if v := c.Vector(); !v.IsZero() {
		t.Errorf("Opposing keys should cancel to neutral, got %+v", v)
	}
}

func TestController_Sensitivity(t *testing.T) {
	cfg := Config{Sensitivity: 0.3, ThrottleSensitivity: 0.2}
	c, err := NewController(cfg, newFakeCapture())
	if err != nil {
		t.Fatalf("Failed to create controller: %v", err)
	}

	press(c, "up")
	press(c, "w")

	v := c.Vector()
	if v.X != 0.3 {
		t.Errorf("Expected pitch scaled to 0.3, got %g", v.X)
	}
	if v.Z != 0.2 {
		t.Errorf("Expected throttle scaled to 0.2, got %g", v.Z)
	}
}

func TestController_EdgeTriggeredActions(t *testing.T) {
	var actions []Action
	c := newTestController(t, OnAction(func(a Action) { actions = append(actions, a) }))

	// A held key fires once, no matter how many press events the backend
	// reports before the release.
	press(c, "g")
	press(c, "g")
	press(c, "g")
	if len(actions) != 1 || actions[0] != ActionToggleTracking {
		t.Fatalf("Expected one toggle action, got %v", actions)
	}

	release(c, "g")
	press(c, "g")
	if len(actions) != 2 {
		t.Errorf("Expected a second action after release and re-press, got %v", actions)
	}

	press(c, "t")
	press(c, "l")
	press(c, "q")
	want := []Action{ActionToggleTracking, ActionToggleTracking, ActionArmTakeoff, ActionLand, ActionQuit}
	if len(actions) != len(want) {
		t.Fatalf("Expected %d actions, got %v", len(want), actions)
	}
	for i := range want {
		if actions[i] != want[i] {
			t.Errorf("Action %d: expected %s, got %s", i, want[i], actions[i])
		}
	}
}

func TestController_EmergencyStopClearsVector(t *testing.T) {
	var got []Action
	c := newTestController(t, OnAction(func(a Action) { got = append(got, a) }))

	press(c, "w")
	press(c, "up")
	press(c, "space")

	if len(got) != 1 || got[0] != ActionEmergencyStop {
		t.Fatalf("Expected emergency stop action, got %v", got)
	}
	if v := c.Vector(); !v.IsZero() {
		t.Errorf("Emergency stop should clear held keys, got %+v", v)
	}
}

func TestController_ActivityHook(t *testing.T) {
	var count int
	c := newTestController(t, OnActivity(func() { count++ }))

	press(c, "w")
	release(c, "w")
	press(c, "x") // unmapped keys still count as operator presence

	if count != 3 {
		t.Errorf("Expected 3 activity notifications, got %d", count)
	}
}

func TestController_Lifecycle(t *testing.T) {
	capture := newFakeCapture()
	c, err := NewController(DefaultConfig(), capture)
	if err != nil {
		t.Fatalf("Failed to create controller: %v", err)
	}

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start controller: %v", err)
	}
	if err := c.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("Expected ErrAlreadyRunning, got %v", err)
	}

	capture.events <- Event{Key: "w", Pressed: true}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.Vector().Z == 0.5 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if c.Vector().Z != 0.5 {
		t.Error("Event from the capture backend should reach the vector")
	}

	c.Stop()
	c.Stop() // must be safe to repeat

	capture.mu.Lock()
	closed := capture.closed
	capture.mu.Unlock()
	if !closed {
		t.Error("Stop should close the capture backend")
	}
	if !c.Vector().IsZero() {
		t.Error("Stop should clear the pressed keys")
	}
}

func TestConfig_Validate(t *testing.T) {
	testCases := []struct {
		name string
		cfg  Config
	}{
		{"zero sensitivity", Config{Sensitivity: 0, ThrottleSensitivity: 0.5}},
		{"sensitivity above one", Config{Sensitivity: 1.5, ThrottleSensitivity: 0.5}},
		{"zero throttle", Config{Sensitivity: 1, ThrottleSensitivity: 0}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.cfg.Validate(); err == nil {
				t.Error("Expected error for invalid config")
			}
		})
	}
}
