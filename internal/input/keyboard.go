// Package input turns keyboard activity into normalized control vectors and
// edge-triggered flight actions. Capture backends deliver raw key
// transitions; the Controller owns the pressed-key state and the axis
// mapping.
package input

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/uavctl/uavctl/internal/vehicle"
)

// Mode 2 layout. The bindings are fixed; only sensitivities are tunable.
const (
	keyThrottleUp   = "w"
	keyThrottleDown = "s"
	keyYawLeft      = "a"
	keyYawRight     = "d"
	keyPitchForward = "up"
	keyPitchBack    = "down"
	keyRollLeft     = "left"
	keyRollRight    = "right"

	keyEmergencyStop  = "space"
	keyArmTakeoff     = "t"
	keyLand           = "l"
	keyToggleTracking = "g"
	keyQuit           = "q"
)

// ErrAlreadyRunning is returned when Start is called on a running Controller.
var ErrAlreadyRunning = errors.New("keyboard controller is already running")

// Action is a discrete flight action bound to a single key.
type Action int

const (
	ActionQuit Action = iota
	ActionEmergencyStop
	ActionArmTakeoff
	ActionLand
	ActionToggleTracking
)

func (a Action) String() string {
	switch a {
	case ActionQuit:
		return "quit"
	case ActionEmergencyStop:
		return "emergencyStop"
	case ActionArmTakeoff:
		return "armTakeoff"
	case ActionLand:
		return "land"
	case ActionToggleTracking:
		return "toggleTracking"
	default:
		return "unknown"
	}
}

// Event is a single key transition reported by a capture backend. Key is the
// lowercase key name ("w", "up", "space"). Backends without hardware key-up
// events synthesize Pressed=false transitions themselves.
type Event struct {
	Key     string
	Pressed bool
}

// Capture is a keyboard capture backend. Events returns a channel of key
// transitions that is closed when the context is cancelled or the backend
// fails.
type Capture interface {
	Events(ctx context.Context) (<-chan Event, error)
	Close() error
}

// Config holds the axis sensitivities.
type Config struct {
	// Sensitivity scales the pitch, roll and yaw axes, (0, 1].
	Sensitivity float64 `yaml:"sensitivity"`

	// ThrottleSensitivity scales the vertical axis, (0, 1].
	ThrottleSensitivity float64 `yaml:"throttleSensitivity"`
}

// DefaultConfig returns full-deflection attitude axes with a halved throttle.
func DefaultConfig() Config {
	return Config{
		Sensitivity:         1.0,
		ThrottleSensitivity: 0.5,
	}
}

// Validate rejects configurations that would silently change meaning.
func (c Config) Validate() error {
	if c.Sensitivity <= 0 || c.Sensitivity > 1 {
		return fmt.Errorf("sensitivity must be in (0, 1], got %g", c.Sensitivity)
	}
	if c.ThrottleSensitivity <= 0 || c.ThrottleSensitivity > 1 {
		return fmt.Errorf("throttleSensitivity must be in (0, 1], got %g", c.ThrottleSensitivity)
	}
	return nil
}

// WithLogger sets the logger for the controller.
func WithLogger(logger *slog.Logger) func(c *Controller) {
	return func(c *Controller) {
		c.logger = logger.With(slog.String("component", "input"))
	}
}

// OnAction registers the handler for edge-triggered flight actions. The
// handler runs on the capture goroutine and must not block.
func OnAction(fn func(Action)) func(c *Controller) {
	return func(c *Controller) {
		c.onAction = fn
	}
}

// OnActivity registers the hook invoked for every processed key event,
// pressed or released. The mode manager uses it to stamp manual activity.
func OnActivity(fn func()) func(c *Controller) {
	return func(c *Controller) {
		c.onActivity = fn
	}
}

// Controller consumes key transitions from a capture backend and exposes the
// resulting control vector. The capture goroutine and the control loop read
// and write the pressed-key set concurrently, so every access is under the
// mutex and holds it only for the map operation.
type Controller struct {
	cfg     Config
	capture Capture
	logger  *slog.Logger

	onAction   func(Action)
	onActivity func()

	mu      sync.Mutex
	pressed map[string]struct{}

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewController creates a Controller reading from the given capture backend.
func NewController(cfg Config, capture Capture, options ...func(c *Controller)) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("input config: %w", err)
	}

	c := Controller{
		cfg:     cfg,
		capture: capture,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
		pressed: make(map[string]struct{}),
	}

	for _, option := range options {
		option(&c)
	}

	return &c, nil
}

// Start opens the capture backend and launches the consumption goroutine.
func (c *Controller) Start(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)

	events, err := c.capture.Events(ctx)
	if err != nil {
		cancel()
		c.running.Store(false)
		return fmt.Errorf("opening keyboard capture: %w", err)
	}

	c.cancel = cancel
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for event := range events {
			c.handle(event)
		}
	}()

	c.logger.Info("keyboard capture started")
	return nil
}

// Stop cancels the capture and waits for the consumption goroutine to exit.
// It is safe to call Stop multiple times.
func (c *Controller) Stop() {
	if !c.running.Load() {
		return // already stopped
	}

	c.cancel()
	c.wg.Wait()
	c.running.Store(false)

	if err := c.capture.Close(); err != nil {
		c.logger.Warn("closing keyboard capture", slog.Any("error", err))
	}

	c.mu.Lock()
	clear(c.pressed)
	c.mu.Unlock()

	c.logger.Info("keyboard capture stopped")
}

// IsRunning returns true while the capture goroutine is active.
func (c *Controller) IsRunning() bool {
	return c.running.Load()
}

// handle applies one key transition. Action keys fire exactly once per
// key-down: a key already held fires nothing until it is released.
func (c *Controller) handle(event Event) {
	c.mu.Lock()
	edge := false
	if event.Pressed {
		_, held := c.pressed[event.Key]
		edge = !held
		c.pressed[event.Key] = struct{}{}
	} else {
		delete(c.pressed, event.Key)
	}
	c.mu.Unlock()

	if c.onActivity != nil {
		c.onActivity()
	}

	if !edge {
		return
	}

	action, ok := actionFor(event.Key)
	if !ok {
		return
	}

	if action == ActionEmergencyStop {
		// Force the vector back to neutral along with the action.
		c.mu.Lock()
		clear(c.pressed)
		c.mu.Unlock()
	}

	c.logger.Info("flight action", slog.String("action", action.String()))
	if c.onAction != nil {
		c.onAction(action)
	}
}

func actionFor(key string) (Action, bool) {
	switch key {
	case keyQuit:
		return ActionQuit, true
	case keyEmergencyStop:
		return ActionEmergencyStop, true
	case keyArmTakeoff:
		return ActionArmTakeoff, true
	case keyLand:
		return ActionLand, true
	case keyToggleTracking:
		return ActionToggleTracking, true
	default:
		return 0, false
	}
}

// Vector maps the current pressed-key set to a control vector. Opposing keys
// cancel to zero on their axis.
func (c *Controller) Vector() vehicle.ControlVector {
	c.mu.Lock()
	defer c.mu.Unlock()

	var v vehicle.ControlVector

	if c.held(keyPitchForward) {
		v.X += c.cfg.Sensitivity
	}
	if c.held(keyPitchBack) {
		v.X -= c.cfg.Sensitivity
	}
	if c.held(keyRollRight) {
		v.Y += c.cfg.Sensitivity
	}
	if c.held(keyRollLeft) {
		v.Y -= c.cfg.Sensitivity
	}
	if c.held(keyThrottleUp) {
		v.Z += c.cfg.ThrottleSensitivity
	}
	if c.held(keyThrottleDown) {
		v.Z -= c.cfg.ThrottleSensitivity
	}
	if c.held(keyYawRight) {
		v.R += c.cfg.Sensitivity
	}
	if c.held(keyYawLeft) {
		v.R -= c.cfg.Sensitivity
	}

	return v.Clamped()
}

// held reports whether a key is down; callers hold the lock.
func (c *Controller) held(key string) bool {
	_, ok := c.pressed[key]
	return ok
}
