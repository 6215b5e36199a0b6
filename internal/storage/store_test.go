package storage

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/uavctl/uavctl/internal/mode"
	"github.com/uavctl/uavctl/internal/telemetry"
	"github.com/uavctl/uavctl/internal/vehicle"
)

func newTestStore(t *testing.T) *SqliteStore {
	t.Helper()

	s := NewSqliteStore(filepath.Join(t.TempDir(), "flight.sqlite"))
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Failed to close store: %v", err)
		}
	})
	return s
}

func ptr[T any](v T) *T { return &v }

func TestSqliteStore_SessionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateSession(ctx, "sim", map[string]any{"takeoffAltitude": 1.5})
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	if id <= 0 {
		t.Fatalf("Expected a positive session ID, got %d", id)
	}

	sess, err := s.Session(ctx, id)
	if err != nil {
		t.Fatalf("Failed to load session: %v", err)
	}
	if sess.Vehicle != "sim" {
		t.Errorf("Expected vehicle sim, got %q", sess.Vehicle)
	}
	if sess.EndTime != nil {
		t.Error("Open session should have no end time")
	}
	if sess.Config == nil || !strings.Contains(*sess.Config, "takeoffAltitude") {
		t.Errorf("Expected serialized config, got %v", sess.Config)
	}

	if err := s.EndSession(ctx, id); err != nil {
		t.Fatalf("Failed to end session: %v", err)
	}

	sess, err = s.Session(ctx, id)
	if err != nil {
		t.Fatalf("Failed to reload session: %v", err)
	}
	if sess.EndTime == nil {
		t.Error("Ended session should have an end time")
	}

	sessions, err := s.Sessions(ctx)
	if err != nil {
		t.Fatalf("Failed to list sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != id {
		t.Errorf("Expected one session with ID %d, got %v", id, sessions)
	}
}

func TestSqliteStore_TelemetryRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateSession(ctx, "sim", nil)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	sample := TelemetrySample{
		Timestamp:  now,
		Altitude:   ptr(12.5),
		Yaw:        ptr(90.0),
		BatteryPct: ptr(87.0),
		Armed:      ptr(true),
		FlightMode: ptr("OFFBOARD"),
	}

	if _, err := s.StoreTelemetry(ctx, id, &sample); err != nil {
		t.Fatalf("Failed to store telemetry: %v", err)
	}

	r, err := s.ReadTelemetry(ctx, id)
	if err != nil {
		t.Fatalf("Failed to create reader: %v", err)
	}
	defer r.Close()

	if r.Session() == nil || r.Session().ID != id {
		t.Error("Reader should carry the session metadata")
	}

	if !r.Next(ctx) {
		t.Fatalf("Expected one sample, got none: %v", r.Error())
	}

	got := r.Current()
	if !got.Timestamp.Equal(now) {
		t.Errorf("Expected timestamp %s, got %s", now, got.Timestamp)
	}
	if got.Altitude == nil || *got.Altitude != 12.5 {
		t.Errorf("Expected altitude 12.5, got %v", got.Altitude)
	}
	if got.Armed == nil || !*got.Armed {
		t.Errorf("Expected armed true, got %v", got.Armed)
	}
	if got.FlightMode == nil || *got.FlightMode != "OFFBOARD" {
		t.Errorf("Expected flight mode OFFBOARD, got %v", got.FlightMode)
	}
	if got.Latitude != nil || got.Roll != nil {
		t.Error("Unset fields should read back as nil")
	}

	if r.Next(ctx) {
		t.Error("Expected a single sample")
	}
	if err := r.Error(); err != nil {
		t.Errorf("Unexpected iteration error: %v", err)
	}
}

func TestSqliteStore_ReaderTimeRange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateSession(ctx, "sim", nil)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	base := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 3; i++ {
		sample := TelemetrySample{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Altitude:  ptr(float64(i)),
		}
		if _, err := s.StoreTelemetry(ctx, id, &sample); err != nil {
			t.Fatalf("Failed to store sample %d: %v", i, err)
		}
	}

	r, err := s.ReadTelemetry(ctx, id, WithStartTime(base.Add(30*time.Second)))
	if err != nil {
		t.Fatalf("Failed to create reader: %v", err)
	}
	defer r.Close()

	var altitudes []float64
	for r.Next(ctx) {
		altitudes = append(altitudes, *r.Current().Altitude)
	}
	if err := r.Error(); err != nil {
		t.Fatalf("Iteration failed: %v", err)
	}

	if len(altitudes) != 2 || altitudes[0] != 1 || altitudes[1] != 2 {
		t.Errorf("Expected samples 1 and 2, got %v", altitudes)
	}
}

func TestSqliteStore_ReaderNoData(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateSession(ctx, "sim", nil)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	if _, err := s.ReadTelemetry(ctx, id); !errors.Is(err, ErrNoData) {
		t.Errorf("Expected ErrNoData for an empty session, got %v", err)
	}
}

func TestSqliteStore_StoreCommandsBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateSession(ctx, "sim", nil)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	// More than two chunks worth of records in one call.
	records := make([]CommandRecord, 250)
	now := time.Now().UTC()
	for i := range records {
		records[i] = CommandRecord{
			Timestamp: now.Add(time.Duration(i) * time.Millisecond),
			Source:    "manual",
			X:         float64(i) / 1000,
		}
	}

	if err := s.StoreCommands(ctx, id, records); err != nil {
		t.Fatalf("Failed to store commands: %v", err)
	}
	if err := s.StoreCommands(ctx, id, nil); err != nil {
		t.Errorf("Empty batch should be a no-op, got %v", err)
	}

	db, err := s.getReadDB()
	if err != nil {
		t.Fatalf("Failed to get read connection: %v", err)
	}

	var count int
	if err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM commands WHERE session_id = ?", id).Scan(&count); err != nil {
		t.Fatalf("Failed to count commands: %v", err)
	}
	if count != len(records) {
		t.Errorf("Expected %d stored commands, got %d", len(records), count)
	}
}

type fakeTelemetrySource struct {
	pos telemetry.Position
	bat telemetry.Battery
	fs  telemetry.FlightState
}

func (f *fakeTelemetrySource) Position() (telemetry.Position, bool)       { return f.pos, true }
func (f *fakeTelemetrySource) Attitude() (telemetry.Attitude, bool)      { return telemetry.Attitude{}, false }
func (f *fakeTelemetrySource) Battery() (telemetry.Battery, bool)         { return f.bat, true }
func (f *fakeTelemetrySource) FlightState() (telemetry.FlightState, bool) { return f.fs, true }

func TestRecorder_RecordsSessionAndCommands(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tel := &fakeTelemetrySource{
		pos: telemetry.Position{RelAltitude: 5},
		bat: telemetry.Battery{RemainingPct: 0.9, Voltage: 15.5},
		fs:  telemetry.FlightState{Armed: true, InAir: true, Mode: telemetry.FlightModeOffboard},
	}

	r := NewRecorder(s, tel,
		WithSampleInterval(10*time.Millisecond),
		WithFlushInterval(10*time.Millisecond))

	if err := r.Start(ctx, "sim", "cfg"); err != nil {
		t.Fatalf("Failed to start recorder: %v", err)
	}
	if err := r.Start(ctx, "sim", nil); !errors.Is(err, ErrRecorderRunning) {
		t.Errorf("Expected ErrRecorderRunning, got %v", err)
	}

	for i := 0; i < 5; i++ {
		r.RecordCommand(mode.SourceAutonomous, vehicle.ControlVector{X: 0.1})
	}

	time.Sleep(100 * time.Millisecond)
	r.Stop()
	r.Stop() // must be safe to repeat

	sess, err := s.Session(ctx, r.SessionID())
	if err != nil {
		t.Fatalf("Failed to load session: %v", err)
	}
	if sess.EndTime == nil {
		t.Error("Recorder should stamp the session end")
	}
	if sess.Config == nil || *sess.Config != "cfg" {
		t.Errorf("Expected verbatim config, got %v", sess.Config)
	}

	reader, err := s.ReadTelemetry(ctx, r.SessionID())
	if err != nil {
		t.Fatalf("Failed to create reader: %v", err)
	}
	defer reader.Close()

	samples := 0
	for reader.Next(ctx) {
		sample := reader.Current()
		if sample.Altitude == nil || *sample.Altitude != 5 {
			t.Errorf("Expected altitude 5, got %v", sample.Altitude)
		}
		if sample.Roll != nil {
			t.Error("Attitude was unavailable and should be nil")
		}
		samples++
	}
	if samples == 0 {
		t.Error("Expected at least one telemetry sample")
	}

	db, err := s.getReadDB()
	if err != nil {
		t.Fatalf("Failed to get read connection: %v", err)
	}

	var count int
	if err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM commands WHERE session_id = ?", r.SessionID()).Scan(&count); err != nil {
		t.Fatalf("Failed to count commands: %v", err)
	}
	if count != 5 {
		t.Errorf("Expected 5 recorded commands, got %d", count)
	}
}
