package control

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/uavctl/uavctl/internal/telemetry"
	"github.com/uavctl/uavctl/internal/vehicle"
)

const (
	takeoffTolerance = 0.5 // meters
	takeoffTimeout   = 60 * time.Second
	landTimeout      = 90 * time.Second
	disarmTimeout    = 10 * time.Second
)

// ArmAndTakeoff arms the vehicle, starts an automatic takeoff and blocks
// until the target altitude is reached or the timeout elapses.
func ArmAndTakeoff(ctx context.Context, link vehicle.Link, tel *telemetry.Manager,
	altitude float64, logger *slog.Logger) error {

	logger.Info("arming")
	if err := link.Arm(ctx); err != nil {
		return fmt.Errorf("arming: %w", err)
	}

	logger.Info("taking off", slog.Float64("altitude", altitude))
	if err := link.Takeoff(ctx, altitude); err != nil {
		return fmt.Errorf("takeoff: %w", err)
	}

	if err := tel.WaitForAltitude(ctx, altitude, takeoffTolerance, takeoffTimeout); err != nil {
		return err
	}

	logger.Info("takeoff complete")
	return nil
}

// LandAndDisarm lands the vehicle at the current position and blocks until
// it is on the ground and disarmed. Autopilots that auto-disarm on touchdown
// make the explicit disarm a no-op.
func LandAndDisarm(ctx context.Context, link vehicle.Link, tel *telemetry.Manager,
	logger *slog.Logger) error {

	logger.Info("landing")
	if err := link.Land(ctx); err != nil {
		return fmt.Errorf("landing: %w", err)
	}

	if err := tel.WaitForLanded(ctx, landTimeout); err != nil {
		return err
	}

	if fs, ok := tel.FlightState(); ok && fs.Armed {
		if err := link.Disarm(ctx); err != nil {
			return fmt.Errorf("disarming: %w", err)
		}
	}

	if err := tel.WaitForDisarmed(ctx, disarmTimeout); err != nil {
		return err
	}

	logger.Info("landed and disarmed")
	return nil
}

// EmergencyHover overrides whatever is in flight with a neutral manual
// input. The dispatch loop resumes normal arbitration on its next tick.
func EmergencyHover(ctx context.Context, link vehicle.Link, logger *slog.Logger) error {
	logger.Warn("emergency hover")
	if err := link.SetManualInput(ctx, vehicle.ControlVector{}); err != nil {
		return fmt.Errorf("emergency hover: %w", err)
	}
	return nil
}
