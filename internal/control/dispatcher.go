// Package control runs the command dispatch loop: once per tick it asks the
// mode manager which source is authoritative, pulls that source's vector and
// sends exactly one command to the vehicle. Sources never talk to the link
// directly.
package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/uavctl/uavctl/internal/mode"
	"github.com/uavctl/uavctl/internal/telemetry"
	"github.com/uavctl/uavctl/internal/vehicle"
)

// ErrTooManyFailures is returned by Run when consecutive dispatch failures
// reach the configured threshold.
var ErrTooManyFailures = errors.New("too many consecutive dispatch failures")

// Arbiter decides the authoritative control source for the tick.
type Arbiter interface {
	Evaluate() mode.Source
}

// ManualSource supplies the current keyboard vector.
type ManualSource interface {
	Vector() vehicle.ControlVector
}

// AutonomousSource supplies the current tracking vector.
type AutonomousSource interface {
	Output(now time.Time) vehicle.ControlVector
}

// FlightStateSource supplies the cached arming and mode state.
type FlightStateSource interface {
	FlightState() (telemetry.FlightState, bool)
}

// Recorder receives every dispatched command. Implementations must not
// block; the flight recorder buffers internally.
type Recorder interface {
	RecordCommand(source mode.Source, v vehicle.ControlVector)
}

// Config holds the dispatch loop tuning.
type Config struct {
	// Rate is the dispatch frequency in Hz.
	Rate float64 `yaml:"rate"`

	// FailureThreshold is the number of consecutive failed dispatches that
	// triggers an automatic landing.
	FailureThreshold int `yaml:"failureThreshold"`
}

// DefaultConfig returns the stock 15 Hz loop.
func DefaultConfig() Config {
	return Config{
		Rate:             15.0,
		FailureThreshold: 20,
	}
}

// Validate rejects configurations that would silently change meaning.
func (c Config) Validate() error {
	if c.Rate <= 0 || c.Rate > 100 {
		return fmt.Errorf("rate must be in (0, 100] Hz, got %g", c.Rate)
	}
	if c.FailureThreshold <= 0 {
		return fmt.Errorf("failureThreshold must be positive, got %d", c.FailureThreshold)
	}
	return nil
}

// WithLogger sets the logger for the dispatcher.
func WithLogger(logger *slog.Logger) func(d *Dispatcher) {
	return func(d *Dispatcher) {
		d.logger = logger.With(slog.String("component", "dispatch"))
	}
}

// WithRecorder attaches a command recorder.
func WithRecorder(rec Recorder) func(d *Dispatcher) {
	return func(d *Dispatcher) {
		d.recorder = rec
	}
}

// Dispatcher owns the link for the duration of Run. It tracks whether it has
// engaged offboard mode so it can hold a neutral setpoint when no source is
// active, and disengages cleanly when manual sources take over.
type Dispatcher struct {
	cfg      Config
	link     vehicle.Link
	arbiter  Arbiter
	manual   ManualSource
	auto     AutonomousSource
	flights  FlightStateSource
	recorder Recorder
	logger   *slog.Logger

	failures int
}

// NewDispatcher creates a Dispatcher with a validated configuration.
func NewDispatcher(cfg Config, link vehicle.Link, arbiter Arbiter, manual ManualSource,
	auto AutonomousSource, flights FlightStateSource, options ...func(d *Dispatcher)) (*Dispatcher, error) {

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("dispatch config: %w", err)
	}

	d := Dispatcher{
		cfg:     cfg,
		link:    link,
		arbiter: arbiter,
		manual:  manual,
		auto:    auto,
		flights: flights,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
	}

	for _, option := range options {
		option(&d)
	}

	return &d, nil
}

// Run executes the dispatch loop until ctx is cancelled or the failure
// threshold trips. On the threshold it commands a landing before returning
// ErrTooManyFailures.
func (d *Dispatcher) Run(ctx context.Context) error {
	interval := time.Duration(float64(time.Second) / d.cfg.Rate)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	d.logger.Info("dispatch loop started", slog.Float64("rateHz", d.cfg.Rate))

	for {
		select {
		case <-ctx.Done():
			d.disengageOffboard(context.WithoutCancel(ctx))
			return nil
		case now := <-ticker.C:
			if err := d.tick(ctx, now); err != nil {
				d.failures++
				d.logger.Warn("dispatch failed",
					slog.Any("error", err),
					slog.Int("consecutive", d.failures))
			} else {
				d.failures = 0
			}

			if d.failures >= d.cfg.FailureThreshold {
				d.logger.Error("dispatch failure threshold reached, landing")
				if err := d.link.Land(ctx); err != nil {
					d.logger.Error("emergency land failed", slog.Any("error", err))
				}
				return ErrTooManyFailures
			}
		}
	}
}

// tick sends at most one command to the vehicle for the selected source.
func (d *Dispatcher) tick(ctx context.Context, now time.Time) error {
	src := d.arbiter.Evaluate()

	fs, fsOK := d.flights.FlightState()

	switch src {
	case mode.SourceRC:
		// The hardware transmitter talks to the autopilot directly. Sending
		// anything here would fight the pilot.
		d.disengageOffboard(ctx)
		return nil

	case mode.SourceManual:
		if !fsOK || !fs.Armed {
			return nil
		}
		d.disengageOffboard(ctx)

		v := d.manual.Vector()
		if err := d.link.SetManualInput(ctx, v); err != nil {
			return fmt.Errorf("manual input: %w", err)
		}
		d.record(src, v)
		return nil

	case mode.SourceAutonomous:
		if !fsOK || !fs.Armed {
			return nil
		}
		if fs.Mode != telemetry.FlightModeOffboard {
			if err := d.link.SetOffboard(ctx, true); err != nil {
				return fmt.Errorf("engaging offboard: %w", err)
			}
			d.logger.Info("offboard engaged")
		}

		v := d.auto.Output(now)
		if err := d.link.SetVelocity(ctx, v); err != nil {
			return fmt.Errorf("velocity setpoint: %w", err)
		}
		d.record(src, v)
		return nil

	default: // SourceNone
		// Keep a neutral setpoint flowing while offboard is still engaged so
		// the autopilot does not trip its setpoint-loss failsafe.
		if !fsOK || fs.Mode != telemetry.FlightModeOffboard {
			return nil
		}

		v := vehicle.ControlVector{}
		if err := d.link.SetVelocity(ctx, v); err != nil {
			return fmt.Errorf("neutral setpoint: %w", err)
		}
		d.record(src, v)
		return nil
	}
}

// disengageOffboard hands flight mode back to the autopilot if the
// dispatcher had taken it. Errors are logged, not propagated, since the
// caller is already moving away from offboard control.
func (d *Dispatcher) disengageOffboard(ctx context.Context) {
	fs, ok := d.flights.FlightState()
	if !ok || fs.Mode != telemetry.FlightModeOffboard {
		return
	}

	if err := d.link.SetOffboard(ctx, false); err != nil {
		d.logger.Warn("disengaging offboard", slog.Any("error", err))
		return
	}
	d.logger.Info("offboard disengaged")
}

func (d *Dispatcher) record(src mode.Source, v vehicle.ControlVector) {
	if d.recorder != nil {
		d.recorder.RecordCommand(src, v)
	}
}
