package vehicle

import (
	"context"
	"math"

	"github.com/uavctl/uavctl/internal/telemetry"
)

// ControlVector is a normalized four-axis command. X is pitch / forward,
// Y is roll, Z is throttle / vertical, R is yaw rate. Manual control uses
// the -1..1 stick convention on every axis; velocity setpoints reuse the
// same shape with X in m/s forward, Z in m/s down and R in deg/s clockwise.
type ControlVector struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	R float64 `json:"r"`
}

// Clamped returns the vector with every axis limited to -1..1.
func (v ControlVector) Clamped() ControlVector {
	return ControlVector{
		X: clamp(v.X, -1, 1),
		Y: clamp(v.Y, -1, 1),
		Z: clamp(v.Z, -1, 1),
		R: clamp(v.R, -1, 1),
	}
}

// IsZero reports whether the vector is a neutral / hover command.
func (v ControlVector) IsZero() bool {
	const eps = 1e-9
	return math.Abs(v.X) < eps && math.Abs(v.Y) < eps && math.Abs(v.Z) < eps && math.Abs(v.R) < eps
}

func clamp(value, lo, hi float64) float64 {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}

// Link is the asynchronous vehicle connection. Command calls block until the
// vehicle acknowledges or the context is cancelled; telemetry subscriptions
// are provided through the embedded stream interface. The wire protocol
// behind a Link is not this package's concern.
type Link interface {
	telemetry.Streams

	// Arm requests motor arming.
	Arm(ctx context.Context) error

	// Disarm requests motor disarming. Most vehicles reject this in the air.
	Disarm(ctx context.Context) error

	// Takeoff starts an automatic takeoff to the given relative altitude
	// in meters.
	Takeoff(ctx context.Context, altitude float64) error

	// Land starts an automatic landing at the current position.
	Land(ctx context.Context) error

	// SetVelocity sends a body-frame velocity setpoint. The vehicle must be
	// in offboard mode for the setpoint to take effect.
	SetVelocity(ctx context.Context, v ControlVector) error

	// SetManualInput sends a normalized manual control input, the software
	// equivalent of stick positions.
	SetManualInput(ctx context.Context, v ControlVector) error

	// SetOffboard engages or disengages offboard mode.
	SetOffboard(ctx context.Context, on bool) error
}
