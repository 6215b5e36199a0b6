package storage

import (
	"database/sql"
	"time"
)

// FlightSession is one run of the control daemon against a vehicle.
type FlightSession struct {
	ID        int64
	StartTime time.Time
	EndTime   *time.Time
	Vehicle   string
	Config    *string
}

// TelemetrySample is a periodic snapshot of the vehicle state. Nil fields
// were not available when the sample was taken.
type TelemetrySample struct {
	Timestamp  time.Time
	Latitude   *float64
	Longitude  *float64
	Altitude   *float64
	Roll       *float64
	Pitch      *float64
	Yaw        *float64
	BatteryPct *float64
	Voltage    *float64
	Armed      *bool
	InAir      *bool
	FlightMode *string
}

// CommandRecord is one dispatched control command.
type CommandRecord struct {
	Timestamp time.Time
	Source    string
	X         float64
	Y         float64
	Z         float64
	R         float64
}

// telemetryRow mirrors the telemetry table for scanning.
type telemetryRow struct {
	SessionID  int64
	Timestamp  time.Time
	Latitude   sql.NullFloat64
	Longitude  sql.NullFloat64
	Altitude   sql.NullFloat64
	Roll       sql.NullFloat64
	Pitch      sql.NullFloat64
	Yaw        sql.NullFloat64
	BatteryPct sql.NullFloat64
	Voltage    sql.NullFloat64
	Armed      sql.NullBool
	InAir      sql.NullBool
	FlightMode sql.NullString
}
