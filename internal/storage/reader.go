package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNoData indicates that no telemetry exists for the given parameters.
var ErrNoData = errors.New("no data available")

// ReaderOption configures a telemetry reader with filtering criteria.
type ReaderOption func(*SqliteTelemetryReader)

// WithStartTime excludes samples recorded before t.
func WithStartTime(t time.Time) ReaderOption {
	return func(r *SqliteTelemetryReader) {
		r.startTime = &t
	}
}

// WithEndTime excludes samples recorded after t.
func WithEndTime(t time.Time) ReaderOption {
	return func(r *SqliteTelemetryReader) {
		r.endTime = &t
	}
}

// WithTimeRange applies both WithStartTime and WithEndTime.
func WithTimeRange(startTime, endTime time.Time) ReaderOption {
	return func(r *SqliteTelemetryReader) {
		r.startTime = &startTime
		r.endTime = &endTime
	}
}

// SqliteTelemetryReader iterates over a session's telemetry samples in
// timestamp order without loading the whole session into memory.
type SqliteTelemetryReader struct {
	db *sql.DB

	sessionID int64
	session   *FlightSession

	startTime *time.Time
	endTime   *time.Time

	current *TelemetrySample
	rows    *sql.Rows
	err     error
}

func newSqliteTelemetryReader(ctx context.Context, db *sql.DB, sessionID int64, opts ...ReaderOption) (*SqliteTelemetryReader, error) {
	r := &SqliteTelemetryReader{
		db:        db,
		sessionID: sessionID,
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.init(ctx); err != nil {
		return nil, fmt.Errorf("initializing reader: %w", err)
	}
	return r, nil
}

func (r *SqliteTelemetryReader) init(ctx context.Context) error {
	if r.db == nil {
		return errors.New("database connection required")
	}
	if r.sessionID <= 0 {
		return errors.New("session ID required")
	}

	steps := []struct {
		msg string
		fn  func(context.Context) error
	}{
		{msg: "loading session", fn: r.loadSession},
		{msg: "initializing filters", fn: r.initFilters},
		{msg: "initializing query", fn: r.initQuery},
	}
	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			return fmt.Errorf("%s: %w", s.msg, err)
		}
	}
	return nil
}

func (r *SqliteTelemetryReader) loadSession(ctx context.Context) (err error) {
	stmt, err := r.db.PrepareContext(ctx, selectSessionSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	var sess FlightSession
	var endTime sql.NullTime
	var config sql.NullString
	if err = stmt.QueryRowContext(ctx, r.sessionID).Scan(&sess.ID, &sess.StartTime, &endTime, &sess.Vehicle, &config); err != nil {
		return fmt.Errorf("querying session: %w", err)
	}
	if endTime.Valid {
		sess.EndTime = &endTime.Time
	}
	if config.Valid {
		sess.Config = &config.String
	}

	r.session = &sess
	return
}

// initFilters fills unset time bounds from the session's recorded extent.
func (r *SqliteTelemetryReader) initFilters(ctx context.Context) (err error) {
	if r.startTime != nil && r.endTime != nil {
		if r.startTime.After(*r.endTime) {
			return fmt.Errorf("start time %s is after end time %s", r.startTime, r.endTime)
		}
		return nil
	}

	stmt, err := r.db.PrepareContext(ctx, selectTelemetryBoundsSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	var minTime, maxTime sql.NullTime
	if err = stmt.QueryRowContext(ctx, r.sessionID).Scan(&minTime, &maxTime); err != nil {
		return fmt.Errorf("scanning time bounds: %w", err)
	}
	if !minTime.Valid || !maxTime.Valid {
		return ErrNoData
	}

	if r.startTime == nil {
		r.startTime = &minTime.Time
	}
	if r.endTime == nil {
		r.endTime = &maxTime.Time
	}

	return nil
}

func (r *SqliteTelemetryReader) initQuery(ctx context.Context) (err error) {
	stmt, err := r.db.PrepareContext(ctx, selectTelemetrySQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	if r.rows, err = stmt.QueryContext(ctx, r.sessionID, r.startTime, r.endTime); err != nil {
		return err
	}
	return nil
}

// Session returns metadata about the flight session this reader is
// accessing.
func (r *SqliteTelemetryReader) Session() *FlightSession {
	return r.session
}

// Next advances the iterator and returns true if there is another sample to
// read, false when the iteration is complete or an error occurred.
func (r *SqliteTelemetryReader) Next(ctx context.Context) bool {
	if r.err != nil || r.rows == nil {
		return false
	}

	select {
	case <-ctx.Done():
		r.err = ctx.Err()
		return false
	default:
	}

	if !r.rows.Next() {
		return false
	}

	var row telemetryRow
	if r.err = r.rows.Scan(
		&row.Timestamp,
		&row.Latitude,
		&row.Longitude,
		&row.Altitude,
		&row.Roll,
		&row.Pitch,
		&row.Yaw,
		&row.BatteryPct,
		&row.Voltage,
		&row.Armed,
		&row.InAir,
		&row.FlightMode,
	); r.err != nil {
		r.err = fmt.Errorf("scanning sample: %w", r.err)
		return false
	}

	r.current = fromTelemetryRow(&row)
	return true
}

// Current returns the current sample in the iteration. If called after
// Next() returns false, the behavior is undefined.
func (r *SqliteTelemetryReader) Current() *TelemetrySample {
	return r.current
}

// Error returns any error that occurred during iteration.
func (r *SqliteTelemetryReader) Error() error {
	if r.err != nil {
		return r.err
	}
	if r.rows != nil {
		return r.rows.Err()
	}
	return nil
}

// Close releases the reader's database resources.
func (r *SqliteTelemetryReader) Close() error {
	if r.rows != nil {
		err := r.rows.Close()
		r.current = nil
		r.rows = nil
		return err
	}
	return nil
}
