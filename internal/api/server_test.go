package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/uavctl/uavctl/internal/mode"
	"github.com/uavctl/uavctl/internal/telemetry"
)

type fakeModes struct {
	state   mode.State
	changed bool
}

func (f *fakeModes) Enable() bool {
	changed := !f.state.AutonomousEnabled
	f.state.AutonomousEnabled = true
	return changed
}

func (f *fakeModes) Disable() bool {
	changed := f.state.AutonomousEnabled
	f.state.AutonomousEnabled = false
	return changed
}

func (f *fakeModes) Toggle() bool {
	f.state.AutonomousEnabled = !f.state.AutonomousEnabled
	return f.state.AutonomousEnabled
}

func (f *fakeModes) Status() mode.State { return f.state }

type fakeTelemetry struct {
	pos   telemetry.Position
	bat   telemetry.Battery
	fs    telemetry.FlightState
	valid bool
}

func (f *fakeTelemetry) Position() (telemetry.Position, bool)       { return f.pos, f.valid }
func (f *fakeTelemetry) Battery() (telemetry.Battery, bool)         { return f.bat, f.valid }
func (f *fakeTelemetry) FlightState() (telemetry.FlightState, bool) { return f.fs, f.valid }

func doRequest(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeAction(t *testing.T, rec *httptest.ResponseRecorder) actionResponse {
	t.Helper()

	var resp actionResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return resp
}

func TestServer_EnableDisable(t *testing.T) {
	modes := &fakeModes{}
	h := NewServer("127.0.0.1:0", modes, nil).Handler()

	resp := decodeAction(t, doRequest(t, h, http.MethodPost, "/enable"))
	if !resp.Success || !resp.Changed || !resp.TrackingEnabled {
		t.Errorf("First enable should change the flag, got %+v", resp)
	}

	resp = decodeAction(t, doRequest(t, h, http.MethodPost, "/enable"))
	if !resp.Success || resp.Changed || !resp.TrackingEnabled {
		t.Errorf("Second enable should be a no-op, got %+v", resp)
	}

	resp = decodeAction(t, doRequest(t, h, http.MethodPost, "/disable"))
	if !resp.Success || !resp.Changed || resp.TrackingEnabled {
		t.Errorf("Disable from enabled should change the flag, got %+v", resp)
	}
}

func TestServer_Toggle(t *testing.T) {
	modes := &fakeModes{}
	h := NewServer("127.0.0.1:0", modes, nil).Handler()

	resp := decodeAction(t, doRequest(t, h, http.MethodPost, "/toggle"))
	if !resp.Changed || !resp.TrackingEnabled {
		t.Errorf("First toggle should enable, got %+v", resp)
	}

	resp = decodeAction(t, doRequest(t, h, http.MethodPost, "/toggle"))
	if !resp.Changed || resp.TrackingEnabled {
		t.Errorf("Second toggle should disable, got %+v", resp)
	}
}

func TestServer_Status(t *testing.T) {
	modes := &fakeModes{state: mode.State{
		AutonomousEnabled:  true,
		ActiveSource:       mode.SourceAutonomous,
		RcSwitch:           false,
		LastManualActivity: time.Now().Add(-time.Minute),
	}}
	tel := &fakeTelemetry{
		pos:   telemetry.Position{RelAltitude: 12.5},
		bat:   telemetry.Battery{RemainingPct: 0.87, Voltage: 15.1},
		fs:    telemetry.FlightState{Armed: true, InAir: true, Mode: telemetry.FlightModeOffboard},
		valid: true,
	}
	h := NewServer("127.0.0.1:0", modes, tel).Handler()

	rec := doRequest(t, h, http.MethodGet, "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var resp statusResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if !resp.Success || !resp.TrackingEnabled {
		t.Errorf("Unexpected flags: %+v", resp)
	}
	if resp.ActiveSource != "autonomous" {
		t.Errorf("Expected autonomous source, got %q", resp.ActiveSource)
	}
	if resp.LastManualActivity == "" {
		t.Error("Expected a humanized manual activity timestamp")
	}
	if resp.Telemetry == nil {
		t.Fatal("Expected telemetry in the status")
	}
	if resp.Telemetry.AltitudeM != 12.5 {
		t.Errorf("Expected altitude 12.5, got %g", resp.Telemetry.AltitudeM)
	}
	if resp.Telemetry.BatteryPct != 87 {
		t.Errorf("Expected battery 87%%, got %g", resp.Telemetry.BatteryPct)
	}
	if resp.Telemetry.FlightMode != string(telemetry.FlightModeOffboard) {
		t.Errorf("Expected offboard flight mode, got %q", resp.Telemetry.FlightMode)
	}
}

func TestServer_StatusWithoutTelemetry(t *testing.T) {
	h := NewServer("127.0.0.1:0", &fakeModes{}, nil).Handler()

	var resp statusResponse
	rec := doRequest(t, h, http.MethodGet, "/status")
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if resp.Telemetry != nil {
		t.Error("Status without a telemetry source should omit the section")
	}
	if resp.LastManualActivity != "" {
		t.Error("Zero manual activity should be omitted")
	}
}

func TestServer_MethodNotAllowed(t *testing.T) {
	h := NewServer("127.0.0.1:0", &fakeModes{}, nil).Handler()

	testCases := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/enable"},
		{http.MethodGet, "/disable"},
		{http.MethodGet, "/toggle"},
		{http.MethodPost, "/status"},
	}

	for _, tc := range testCases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			rec := doRequest(t, h, tc.method, tc.path)
			if rec.Code != http.StatusMethodNotAllowed {
				t.Errorf("Expected 405, got %d", rec.Code)
			}
			if rec.Header().Get("Allow") == "" {
				t.Error("Expected an Allow header")
			}
		})
	}
}
