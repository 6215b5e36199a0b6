// Package api exposes the tracking toggle and a status snapshot over HTTP.
// The surface is deliberately small: it flips the autonomous enable flag and
// reports state, it never commands the vehicle directly.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/uavctl/uavctl/internal/mode"
	"github.com/uavctl/uavctl/internal/telemetry"
)

const shutdownTimeout = 5 * time.Second

// ModeControl is the slice of the mode manager the API needs.
type ModeControl interface {
	Enable() bool
	Disable() bool
	Toggle() bool
	Status() mode.State
}

// TelemetrySource supplies cached telemetry for the status endpoint.
type TelemetrySource interface {
	Position() (telemetry.Position, bool)
	Battery() (telemetry.Battery, bool)
	FlightState() (telemetry.FlightState, bool)
}

// WithLogger sets the logger for the server.
func WithLogger(logger *slog.Logger) func(s *Server) {
	return func(s *Server) {
		s.logger = logger.With(slog.String("component", "api"))
	}
}

// Server is the HTTP control surface.
type Server struct {
	modes  ModeControl
	tel    TelemetrySource
	logger *slog.Logger
	srv    *http.Server
}

// NewServer creates a Server listening on addr once Start is called. tel may
// be nil, in which case the status endpoint omits telemetry.
func NewServer(addr string, modes ModeControl, tel TelemetrySource, options ...func(s *Server)) *Server {
	s := Server{
		modes:  modes,
		tel:    tel,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
	}

	for _, option := range options {
		option(&s)
	}

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return &s
}

// Handler returns the route table. Exposed separately so tests can drive it
// without a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/enable", s.handleSet(func() bool { return s.modes.Enable() }))
	mux.HandleFunc("/disable", s.handleSet(func() bool { return s.modes.Disable() }))
	mux.HandleFunc("/toggle", s.handleToggle)
	return mux
}

// Start begins serving in the background. Listen errors other than a clean
// shutdown are reported through errCh.
func (s *Server) Start(errCh chan<- error) {
	go func() {
		s.logger.Info("api listening", slog.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()
}

// Stop gracefully shuts the server down, waiting up to shutdownTimeout for
// in-flight requests.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("api shutdown: %w", err)
	}

	s.logger.Info("api stopped")
	return nil
}

type actionResponse struct {
	Success         bool `json:"success"`
	Changed         bool `json:"changed"`
	TrackingEnabled bool `json:"tracking_enabled"`
}

type statusTelemetry struct {
	AltitudeM  float64 `json:"altitude_m"`
	Armed      bool    `json:"armed"`
	InAir      bool    `json:"in_air"`
	FlightMode string  `json:"flight_mode"`
	BatteryPct float64 `json:"battery_pct"`
	VoltageV   float64 `json:"voltage_v"`
}

type statusResponse struct {
	Success            bool             `json:"success"`
	TrackingEnabled    bool             `json:"tracking_enabled"`
	ActiveSource       string           `json:"active_source"`
	RcOverride         bool             `json:"rc_override"`
	LastManualActivity string           `json:"last_manual_activity,omitempty"`
	Telemetry          *statusTelemetry `json:"telemetry,omitempty"`
}

// handleSet serves the idempotent enable and disable endpoints. changed is
// false when the flag was already in the requested state.
func (s *Server) handleSet(set func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		changed := set()
		s.writeJSON(w, actionResponse{
			Success:         true,
			Changed:         changed,
			TrackingEnabled: s.modes.Status().AutonomousEnabled,
		})
	}
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	enabled := s.modes.Toggle()
	s.writeJSON(w, actionResponse{
		Success:         true,
		Changed:         true, // a toggle always changes the flag
		TrackingEnabled: enabled,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	state := s.modes.Status()

	resp := statusResponse{
		Success:         true,
		TrackingEnabled: state.AutonomousEnabled,
		ActiveSource:    state.ActiveSource.String(),
		RcOverride:      state.RcSwitch,
	}
	if !state.LastManualActivity.IsZero() {
		resp.LastManualActivity = humanize.Time(state.LastManualActivity)
	}

	if s.tel != nil {
		var t statusTelemetry
		if p, ok := s.tel.Position(); ok {
			t.AltitudeM = p.RelAltitude
		}
		if fs, ok := s.tel.FlightState(); ok {
			t.Armed = fs.Armed
			t.InAir = fs.InAir
			t.FlightMode = string(fs.Mode)
		}
		if b, ok := s.tel.Battery(); ok {
			t.BatteryPct = b.RemainingPct * 100
			t.VoltageV = b.Voltage
		}
		resp.Telemetry = &t
	}

	s.writeJSON(w, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("encoding response", slog.Any("error", err))
	}
}
