// Package storage persists flight sessions: telemetry samples and every
// dispatched control command, keyed by session. The recorder sits between
// the live control loop and the store so writes never block a control tick.
package storage

import (
	"context"

	_ "github.com/mattn/go-sqlite3"
)

// Store provides flight session persistence. All write operations are
// atomic; readers and writers use separate connections.
type Store interface {
	// CreateSession initializes a new flight session and returns its unique
	// identifier. config may be a string, []byte, or any JSON-serializable
	// value and is stored verbatim for later inspection.
	CreateSession(ctx context.Context, vehicle string, config any) (sessionID int64, err error)

	// EndSession stamps the session's end time. A session without an end
	// time was interrupted.
	EndSession(ctx context.Context, sessionID int64) error

	// Session retrieves a single flight session by ID.
	Session(ctx context.Context, id int64) (*FlightSession, error)

	// Sessions returns all flight sessions ordered by start time.
	Sessions(ctx context.Context) ([]*FlightSession, error)

	// StoreTelemetry saves one telemetry sample for the session.
	StoreTelemetry(ctx context.Context, sessionID int64, sample *TelemetrySample) (telemetryID int64, err error)

	// StoreCommands saves a batch of dispatched commands in a single
	// transaction. An empty batch is a no-op.
	StoreCommands(ctx context.Context, sessionID int64, records []CommandRecord) error

	// ReadTelemetry returns an iterator over the session's telemetry
	// samples, optionally filtered by time range. The reader must be closed
	// after use.
	ReadTelemetry(ctx context.Context, sessionID int64, opts ...ReaderOption) (*SqliteTelemetryReader, error)

	// Close releases all database connections. Safe to call multiple times.
	Close() error
}
