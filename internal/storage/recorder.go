package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/uavctl/uavctl/internal/mode"
	"github.com/uavctl/uavctl/internal/telemetry"
	"github.com/uavctl/uavctl/internal/vehicle"
)

const (
	// DefaultSampleInterval is how often a telemetry snapshot is persisted.
	DefaultSampleInterval = time.Second

	// DefaultFlushInterval is how often buffered commands are written out.
	DefaultFlushInterval = 2 * time.Second

	commandBufferSize = 1024
)

// ErrRecorderRunning is returned when Start is called on a running Recorder.
var ErrRecorderRunning = errors.New("flight recorder is already running")

// TelemetrySource supplies cached telemetry snapshots for sampling.
type TelemetrySource interface {
	Position() (telemetry.Position, bool)
	Attitude() (telemetry.Attitude, bool)
	Battery() (telemetry.Battery, bool)
	FlightState() (telemetry.FlightState, bool)
}

// WithRecorderLogger sets the logger for the recorder.
func WithRecorderLogger(logger *slog.Logger) func(r *Recorder) {
	return func(r *Recorder) {
		r.logger = logger.With(slog.String("component", "recorder"))
	}
}

// WithSampleInterval sets the telemetry sampling interval.
func WithSampleInterval(d time.Duration) func(r *Recorder) {
	return func(r *Recorder) {
		r.sampleInterval = d
	}
}

// WithFlushInterval sets the command flush interval.
func WithFlushInterval(d time.Duration) func(r *Recorder) {
	return func(r *Recorder) {
		r.flushInterval = d
	}
}

// Recorder owns one flight session in the store. It samples telemetry on its
// own cadence and buffers dispatched commands in a channel, flushing them in
// batches, so the dispatch loop never waits on the database. A full buffer
// drops commands rather than blocking a control tick.
type Recorder struct {
	store Store
	tel   TelemetrySource

	logger         *slog.Logger
	sampleInterval time.Duration
	flushInterval  time.Duration

	sessionID int64
	commands  chan CommandRecord

	samples   atomic.Int64
	recorded  atomic.Int64
	dropped   atomic.Int64
	startedAt time.Time

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRecorder creates a Recorder writing to the given store.
func NewRecorder(store Store, tel TelemetrySource, options ...func(r *Recorder)) *Recorder {
	r := Recorder{
		store:          store,
		tel:            tel,
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
		sampleInterval: DefaultSampleInterval,
		flushInterval:  DefaultFlushInterval,
		commands:       make(chan CommandRecord, commandBufferSize),
	}

	for _, option := range options {
		option(&r)
	}

	return &r
}

// Start creates the session and launches the sampling and flushing
// goroutines.
func (r *Recorder) Start(ctx context.Context, vehicleName string, config any) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrRecorderRunning
	}

	sessionID, err := r.store.CreateSession(ctx, vehicleName, config)
	if err != nil {
		r.running.Store(false)
		return fmt.Errorf("creating session: %w", err)
	}

	r.sessionID = sessionID
	r.startedAt = time.Now()

	ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(2)
	go r.sampleLoop(ctx)
	go r.flushLoop(ctx)

	r.logger.Info("flight recording started", slog.Int64("session", sessionID))
	return nil
}

// Stop flushes the remaining buffered commands, stamps the session end and
// logs a summary. Safe to call multiple times.
func (r *Recorder) Stop() {
	if !r.running.Load() {
		return // already stopped
	}

	r.cancel()
	r.wg.Wait()
	r.running.Store(false)

	// Final flush and session close run on a fresh context; the run context
	// is already cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r.flush(ctx)

	if err := r.store.EndSession(ctx, r.sessionID); err != nil {
		r.logger.Warn("ending session", slog.Any("error", err))
	}

	r.logger.Info("flight recording stopped",
		slog.Int64("session", r.sessionID),
		slog.String("duration", humanize.RelTime(r.startedAt, time.Now(), "", "")),
		slog.String("telemetrySamples", humanize.Comma(r.samples.Load())),
		slog.String("commands", humanize.Comma(r.recorded.Load())),
		slog.Int64("dropped", r.dropped.Load()))
}

// RecordCommand buffers one dispatched command. It never blocks.
func (r *Recorder) RecordCommand(source mode.Source, v vehicle.ControlVector) {
	rec := CommandRecord{
		Timestamp: time.Now(),
		Source:    source.String(),
		X:         v.X,
		Y:         v.Y,
		Z:         v.Z,
		R:         v.R,
	}

	select {
	case r.commands <- rec:
		r.recorded.Add(1)
	default:
		r.dropped.Add(1)
	}
}

// SessionID returns the active session's identifier, 0 before Start.
func (r *Recorder) SessionID() int64 {
	return r.sessionID
}

func (r *Recorder) sampleLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.sampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			sample := r.takeSample(now)
			if sample == nil {
				continue // nothing cached yet
			}
			if _, err := r.store.StoreTelemetry(ctx, r.sessionID, sample); err != nil {
				if ctx.Err() == nil {
					r.logger.Warn("storing telemetry", slog.Any("error", err))
				}
				continue
			}
			r.samples.Add(1)
		}
	}
}

// takeSample assembles one row from whatever telemetry classes have been
// cached so far. Returns nil when nothing has arrived yet.
func (r *Recorder) takeSample(now time.Time) *TelemetrySample {
	sample := TelemetrySample{Timestamp: now}
	any := false

	if p, ok := r.tel.Position(); ok {
		sample.Latitude = &p.Latitude
		sample.Longitude = &p.Longitude
		sample.Altitude = &p.RelAltitude
		any = true
	}
	if a, ok := r.tel.Attitude(); ok {
		sample.Roll = &a.Roll
		sample.Pitch = &a.Pitch
		sample.Yaw = &a.Yaw
		any = true
	}
	if b, ok := r.tel.Battery(); ok {
		pct := b.RemainingPct * 100
		sample.BatteryPct = &pct
		sample.Voltage = &b.Voltage
		any = true
	}
	if fs, ok := r.tel.FlightState(); ok {
		sample.Armed = &fs.Armed
		sample.InAir = &fs.InAir
		modeName := string(fs.Mode)
		sample.FlightMode = &modeName
		any = true
	}

	if !any {
		return nil
	}
	return &sample
}

func (r *Recorder) flushLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.flush(ctx)
		}
	}
}

// flush drains the command buffer and writes it in one batch.
func (r *Recorder) flush(ctx context.Context) {
	var batch []CommandRecord

	for {
		select {
		case rec := <-r.commands:
			batch = append(batch, rec)
			continue
		default:
		}
		break
	}

	if len(batch) == 0 {
		return
	}

	if err := r.store.StoreCommands(ctx, r.sessionID, batch); err != nil && ctx.Err() == nil {
		r.logger.Warn("storing commands", slog.Any("error", err), slog.Int("count", len(batch)))
	}
}
