package telemetry

import (
	"time"
)

// Flight modes reported by the vehicle. Offboard is the only mode in which
// software-generated velocity setpoints are accepted.
const (
	FlightModeUnknown  FlightMode = "UNKNOWN"
	FlightModeManual   FlightMode = "MANUAL"
	FlightModePosition FlightMode = "POSCTL"
	FlightModeOffboard FlightMode = "OFFBOARD"
	FlightModeLand     FlightMode = "LAND"
	FlightModeReturn   FlightMode = "RTL"
)

type FlightMode string

// Position is the latest GPS fix from the vehicle.
type Position struct {
	Latitude    float64   // GPS latitude in degrees
	Longitude   float64   // GPS longitude in degrees
	RelAltitude float64   // Altitude above takeoff point in meters
	Timestamp   time.Time // Timestamp of the measurement
}

// Attitude is the vehicle orientation in degrees.
type Attitude struct {
	Roll      float64
	Pitch     float64
	Yaw       float64
	Timestamp time.Time
}

// Battery is the latest battery report.
type Battery struct {
	RemainingPct float64 // Remaining charge, 0..1
	Voltage      float64 // Pack voltage in volts
	Timestamp    time.Time
}

// FlightState is the combined arming / in-air / mode state.
type FlightState struct {
	Armed     bool
	InAir     bool
	Mode      FlightMode
	Timestamp time.Time
}

// RcChannels holds the normalized values of the remote-control channels as
// last reported by the vehicle. Values are in 0..1 where 0.5 is a centered
// stick or a mid-position switch.
type RcChannels struct {
	Values    []float64
	Timestamp time.Time
}

// Channel returns the normalized value of channel i, or ok=false when the
// snapshot does not carry that many channels.
func (rc RcChannels) Channel(i int) (float64, bool) {
	if i < 0 || i >= len(rc.Values) {
		return 0, false
	}
	return rc.Values[i], true
}
