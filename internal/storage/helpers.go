package storage

import (
	"database/sql"
)

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

func rollbackWithError(rb interface{ Rollback() error }, err *error) {
	if cErr := rb.Rollback(); cErr != nil && *err == nil {
		*err = cErr
	}
}

func toTelemetryRow(sessionID int64, s *TelemetrySample) *telemetryRow {
	return &telemetryRow{
		SessionID:  sessionID,
		Timestamp:  s.Timestamp.UTC(),
		Latitude:   toNullFloat(s.Latitude),
		Longitude:  toNullFloat(s.Longitude),
		Altitude:   toNullFloat(s.Altitude),
		Roll:       toNullFloat(s.Roll),
		Pitch:      toNullFloat(s.Pitch),
		Yaw:        toNullFloat(s.Yaw),
		BatteryPct: toNullFloat(s.BatteryPct),
		Voltage:    toNullFloat(s.Voltage),
		Armed:      toNullBool(s.Armed),
		InAir:      toNullBool(s.InAir),
		FlightMode: toNullString(s.FlightMode),
	}
}

func fromTelemetryRow(row *telemetryRow) *TelemetrySample {
	return &TelemetrySample{
		Timestamp:  row.Timestamp,
		Latitude:   fromNullFloat(row.Latitude),
		Longitude:  fromNullFloat(row.Longitude),
		Altitude:   fromNullFloat(row.Altitude),
		Roll:       fromNullFloat(row.Roll),
		Pitch:      fromNullFloat(row.Pitch),
		Yaw:        fromNullFloat(row.Yaw),
		BatteryPct: fromNullFloat(row.BatteryPct),
		Voltage:    fromNullFloat(row.Voltage),
		Armed:      fromNullBool(row.Armed),
		InAir:      fromNullBool(row.InAir),
		FlightMode: fromNullString(row.FlightMode),
	}
}

func toNullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func fromNullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}

func toNullBool(v *bool) sql.NullBool {
	if v == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *v, Valid: true}
}

func fromNullBool(v sql.NullBool) *bool {
	if !v.Valid {
		return nil
	}
	return &v.Bool
}

func toNullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func fromNullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}
