package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultPollInterval is how often WaitFor re-checks its condition.
	DefaultPollInterval = 50 * time.Millisecond

	// DefaultRetryDelay is the pause before re-subscribing a dropped stream.
	DefaultRetryDelay = time.Second
)

var (
	// ErrAlreadyRunning is returned when Start is called on a running Manager.
	ErrAlreadyRunning = errors.New("telemetry manager is already running")

	// ErrWaitTimeout is returned by WaitFor when the condition does not hold
	// within the given timeout.
	ErrWaitTimeout = errors.New("timed out waiting for telemetry condition")
)

// Streams is the subscription side of the vehicle link. Each method returns
// a channel producing typed telemetry items until the context is cancelled or
// the underlying subscription drops, at which point the channel is closed.
// Items sent on a channel are owned by the receiver.
type Streams interface {
	Positions(ctx context.Context) <-chan Position
	Attitudes(ctx context.Context) <-chan Attitude
	Batteries(ctx context.Context) <-chan Battery
	FlightStates(ctx context.Context) <-chan FlightState
	RcChannels(ctx context.Context) <-chan RcChannels
}

// WithLogger sets the logger for the manager.
func WithLogger(logger *slog.Logger) func(m *Manager) {
	return func(m *Manager) {
		m.logger = logger.With(slog.String("component", "telemetry"))
	}
}

// WithPollInterval sets the WaitFor polling interval.
func WithPollInterval(d time.Duration) func(m *Manager) {
	return func(m *Manager) {
		m.pollInterval = d
	}
}

// WithRetryDelay sets the pause before a dropped stream is re-subscribed.
func WithRetryDelay(d time.Duration) func(m *Manager) {
	return func(m *Manager) {
		m.retryDelay = d
	}
}

// Manager keeps a perpetually fresh cache of the latest telemetry item per
// class. One consumption goroutine per stream receives items and overwrites
// the corresponding slot, doing no other work between receives, so command
// issuance elsewhere is never delayed by telemetry rate. Each slot is a
// single whole value swapped atomically; readers get copies.
type Manager struct {
	streams Streams

	logger       *slog.Logger
	pollInterval time.Duration
	retryDelay   time.Duration

	position    atomic.Pointer[Position]
	attitude    atomic.Pointer[Attitude]
	battery     atomic.Pointer[Battery]
	flightState atomic.Pointer[FlightState]
	rcChannels  atomic.Pointer[RcChannels]

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager creates a Manager consuming from the given streams, with a
// discard logger unless WithLogger is supplied.
func NewManager(streams Streams, options ...func(m *Manager)) *Manager {
	m := Manager{
		streams:      streams,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
		pollInterval: DefaultPollInterval,
		retryDelay:   DefaultRetryDelay,
	}

	for _, option := range options {
		option(&m)
	}

	return &m
}

// Start launches one background consumption goroutine per telemetry class.
func (m *Manager) Start(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(5)
	go consume(ctx, m, "position", m.streams.Positions, &m.position)
	go consume(ctx, m, "attitude", m.streams.Attitudes, &m.attitude)
	go consume(ctx, m, "battery", m.streams.Batteries, &m.battery)
	go consume(ctx, m, "flightState", m.streams.FlightStates, &m.flightState)
	go consume(ctx, m, "rcChannels", m.streams.RcChannels, &m.rcChannels)

	m.logger.Info("telemetry consumption started")
	return nil
}

// Stop cancels all consumption goroutines and waits for them to exit.
// It is safe to call Stop multiple times.
func (m *Manager) Stop() {
	if !m.running.Load() {
		return // already stopped
	}

	m.cancel()
	m.wg.Wait()
	m.running.Store(false)

	m.logger.Info("telemetry consumption stopped")
}

// IsRunning returns true while the consumption goroutines are active.
func (m *Manager) IsRunning() bool {
	return m.running.Load()
}

// consume receives items from one stream and overwrites the slot, yielding
// back to the scheduler immediately after each store. A closed channel means
// the subscription dropped; it is re-established after the retry delay so a
// single failing stream never affects the others.
func consume[T any](ctx context.Context, m *Manager, name string, subscribe func(context.Context) <-chan T, slot *atomic.Pointer[T]) {
	defer m.wg.Done()

	for {
		ch := subscribe(ctx)
		for item := range ch {
			item := item
			slot.Store(&item)
		}

		if ctx.Err() != nil {
			return
		}

		m.logger.Warn("telemetry stream ended, re-subscribing", slog.String("stream", name))

		select {
		case <-ctx.Done():
			return
		case <-time.After(m.retryDelay):
		}
	}
}

// Position returns the latest cached position. ok is false until the first
// item has been received.
func (m *Manager) Position() (Position, bool) {
	p := m.position.Load()
	if p == nil {
		return Position{}, false
	}
	return *p, true
}

// Attitude returns the latest cached attitude.
func (m *Manager) Attitude() (Attitude, bool) {
	a := m.attitude.Load()
	if a == nil {
		return Attitude{}, false
	}
	return *a, true
}

// Battery returns the latest cached battery report.
func (m *Manager) Battery() (Battery, bool) {
	b := m.battery.Load()
	if b == nil {
		return Battery{}, false
	}
	return *b, true
}

// FlightState returns the latest cached arming / in-air / mode state.
func (m *Manager) FlightState() (FlightState, bool) {
	f := m.flightState.Load()
	if f == nil {
		return FlightState{}, false
	}
	return *f, true
}

// RcChannels returns a copy of the latest cached RC channel snapshot.
func (m *Manager) RcChannels() (RcChannels, bool) {
	rc := m.rcChannels.Load()
	if rc == nil {
		return RcChannels{}, false
	}

	out := *rc
	out.Values = slices.Clone(rc.Values)
	return out, true
}

// WaitFor polls the cache until cond holds or the timeout elapses. The
// condition is evaluated against the cached values only; WaitFor never
// touches the vehicle link.
func (m *Manager) WaitFor(ctx context.Context, cond func() bool, timeout time.Duration) error {
	if cond() {
		return nil
	}

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return ErrWaitTimeout
		case <-ticker.C:
			if cond() {
				return nil
			}
		}
	}
}

// WaitForAltitude waits until the vehicle is within tolerance meters of the
// target relative altitude.
func (m *Manager) WaitForAltitude(ctx context.Context, target, tolerance float64, timeout time.Duration) error {
	err := m.WaitFor(ctx, func() bool {
		p, ok := m.Position()
		return ok && math.Abs(p.RelAltitude-target) <= tolerance
	}, timeout)
	if err != nil {
		return fmt.Errorf("waiting for altitude %.1fm: %w", target, err)
	}
	return nil
}

// WaitForLanded waits until the vehicle reports it is no longer in the air.
func (m *Manager) WaitForLanded(ctx context.Context, timeout time.Duration) error {
	err := m.WaitFor(ctx, func() bool {
		fs, ok := m.FlightState()
		return ok && !fs.InAir
	}, timeout)
	if err != nil {
		return fmt.Errorf("waiting for landed state: %w", err)
	}
	return nil
}

// WaitForDisarmed waits until the vehicle reports it is disarmed.
func (m *Manager) WaitForDisarmed(ctx context.Context, timeout time.Duration) error {
	err := m.WaitFor(ctx, func() bool {
		fs, ok := m.FlightState()
		return ok && !fs.Armed
	}, timeout)
	if err != nil {
		return fmt.Errorf("waiting for disarm: %w", err)
	}
	return nil
}
