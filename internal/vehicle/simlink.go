package vehicle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/uavctl/uavctl/internal/telemetry"
)

const (
	simStepInterval  = 50 * time.Millisecond
	simClimbRate     = 1.0    // m/s vertical speed toward the target altitude
	simDrainPerSec   = 0.0002 // battery fraction drained per second while armed
	simFullVoltage   = 16.8
	simEmptyVoltage  = 14.0
	defaultStreamHz  = 20.0
	defaultRcChannel = 8
)

var (
	// ErrNotArmed is returned for commands that require armed motors.
	ErrNotArmed = errors.New("vehicle is not armed")

	// ErrNotOffboard is returned when a velocity setpoint is sent outside
	// offboard mode.
	ErrNotOffboard = errors.New("vehicle is not in offboard mode")

	// ErrInAir is returned when disarming is requested mid-flight.
	ErrInAir = errors.New("vehicle is in the air")
)

// WithStreamRate sets the telemetry emission rate in Hz for every stream.
func WithStreamRate(hz float64) func(s *SimLink) {
	return func(s *SimLink) {
		s.streamInterval = time.Duration(float64(time.Second) / hz)
	}
}

// WithRcValues sets the RC channel values the simulated vehicle reports.
func WithRcValues(values []float64) func(s *SimLink) {
	return func(s *SimLink) {
		s.rc = slices.Clone(values)
	}
}

// WithSimLogger sets the logger for the simulated link.
func WithSimLogger(logger *slog.Logger) func(s *SimLink) {
	return func(s *SimLink) {
		s.logger = logger.With(slog.String("component", "simlink"))
	}
}

// SimLink is a loopback vehicle link with just enough flight behavior to run
// the control stack against no hardware: arming, takeoff and landing move a
// simple vertical state, telemetry streams report it, and setpoints are
// accepted under the same mode rules a real autopilot applies. It implements
// Link.
type SimLink struct {
	logger         *slog.Logger
	streamInterval time.Duration

	mu        sync.Mutex
	pos       telemetry.Position
	att       telemetry.Attitude
	bat       telemetry.Battery
	fs        telemetry.FlightState
	rc        []float64
	targetAlt float64
	landing   bool
	lastVel   ControlVector
}

// NewSimLink creates a simulated vehicle link. The stepper goroutine runs
// until ctx is cancelled.
func NewSimLink(ctx context.Context, options ...func(s *SimLink)) *SimLink {
	s := SimLink{
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
		streamInterval: time.Duration(float64(time.Second) / defaultStreamHz),
		bat:            telemetry.Battery{RemainingPct: 1.0, Voltage: simFullVoltage},
		fs:             telemetry.FlightState{Mode: telemetry.FlightModeManual},
		rc:             make([]float64, defaultRcChannel),
	}
	for i := range s.rc {
		s.rc[i] = 0.5
	}

	for _, option := range options {
		option(&s)
	}

	go s.step(ctx)
	return &s
}

// SetRcChannel overrides a single reported RC channel value, simulating the
// operator moving a hardware switch.
func (s *SimLink) SetRcChannel(i int, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i >= 0 && i < len(s.rc) {
		s.rc[i] = value
	}
}

func (s *SimLink) step(ctx context.Context) {
	ticker := time.NewTicker(simStepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		dt := simStepInterval.Seconds()

		if s.fs.InAir {
			delta := s.targetAlt - s.pos.RelAltitude
			stepM := simClimbRate * dt
			switch {
			case delta > stepM:
				s.pos.RelAltitude += stepM
			case delta < -stepM:
				s.pos.RelAltitude -= stepM
			default:
				s.pos.RelAltitude = s.targetAlt
			}

			if s.landing && s.pos.RelAltitude <= 0.05 {
				s.pos.RelAltitude = 0
				s.fs.InAir = false
				s.fs.Armed = false
				s.landing = false
				s.fs.Mode = telemetry.FlightModeManual
				s.logger.Info("touched down, disarmed")
			}
		}

		if s.fs.Armed {
			s.bat.RemainingPct -= simDrainPerSec * dt
			if s.bat.RemainingPct < 0 {
				s.bat.RemainingPct = 0
			}
			s.bat.Voltage = simEmptyVoltage + (simFullVoltage-simEmptyVoltage)*s.bat.RemainingPct
		}
		s.mu.Unlock()
	}
}

// stream emits snapshots produced by take at the configured rate until ctx
// is cancelled.
func stream[T any](ctx context.Context, interval time.Duration, take func(now time.Time) T) <-chan T {
	ch := make(chan T, 1)

	go func() {
		defer close(ch)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				select {
				case ch <- take(now):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return ch
}

func (s *SimLink) Positions(ctx context.Context) <-chan telemetry.Position {
	return stream(ctx, s.streamInterval, func(now time.Time) telemetry.Position {
		s.mu.Lock()
		defer s.mu.Unlock()
		p := s.pos
		p.Timestamp = now
		return p
	})
}

func (s *SimLink) Attitudes(ctx context.Context) <-chan telemetry.Attitude {
	return stream(ctx, s.streamInterval, func(now time.Time) telemetry.Attitude {
		s.mu.Lock()
		defer s.mu.Unlock()
		a := s.att
		a.Timestamp = now
		return a
	})
}

func (s *SimLink) Batteries(ctx context.Context) <-chan telemetry.Battery {
	return stream(ctx, s.streamInterval, func(now time.Time) telemetry.Battery {
		s.mu.Lock()
		defer s.mu.Unlock()
		b := s.bat
		b.Timestamp = now
		return b
	})
}

func (s *SimLink) FlightStates(ctx context.Context) <-chan telemetry.FlightState {
	return stream(ctx, s.streamInterval, func(now time.Time) telemetry.FlightState {
		s.mu.Lock()
		defer s.mu.Unlock()
		fs := s.fs
		fs.Timestamp = now
		return fs
	})
}

func (s *SimLink) RcChannels(ctx context.Context) <-chan telemetry.RcChannels {
	return stream(ctx, s.streamInterval, func(now time.Time) telemetry.RcChannels {
		s.mu.Lock()
		defer s.mu.Unlock()
		return telemetry.RcChannels{Values: slices.Clone(s.rc), Timestamp: now}
	})
}

func (s *SimLink) Arm(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fs.Armed = true
	s.logger.Info("armed")
	return nil
}

func (s *SimLink) Disarm(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fs.InAir {
		return ErrInAir
	}

	s.fs.Armed = false
	s.logger.Info("disarmed")
	return nil
}

func (s *SimLink) Takeoff(ctx context.Context, altitude float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.fs.Armed {
		return ErrNotArmed
	}

	s.fs.InAir = true
	s.landing = false
	s.targetAlt = altitude
	s.logger.Info("takeoff", slog.Float64("altitude", altitude))
	return nil
}

func (s *SimLink) Land(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.landing = true
	s.targetAlt = 0
	s.fs.Mode = telemetry.FlightModeLand
	s.logger.Info("landing")
	return nil
}

func (s *SimLink) SetVelocity(ctx context.Context, v ControlVector) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.fs.Armed {
		return ErrNotArmed
	}
	if s.fs.Mode != telemetry.FlightModeOffboard {
		return ErrNotOffboard
	}

	s.lastVel = v
	return nil
}

func (s *SimLink) SetManualInput(ctx context.Context, v ControlVector) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastVel = v
	return nil
}

func (s *SimLink) SetOffboard(ctx context.Context, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if on {
		if !s.fs.Armed {
			return ErrNotArmed
		}
		s.fs.Mode = telemetry.FlightModeOffboard
	} else if s.fs.Mode == telemetry.FlightModeOffboard {
		s.fs.Mode = telemetry.FlightModePosition
	}
	return nil
}

// LastVelocity returns the most recent setpoint or manual input accepted by
// the simulated vehicle.
func (s *SimLink) LastVelocity() ControlVector {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastVel
}
