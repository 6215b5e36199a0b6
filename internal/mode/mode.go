// Package mode arbitrates between the mutually-exclusive control sources.
// Precedence is fixed: a hardware RC override always wins, recent keyboard
// activity beats the autonomous tracker, and the tracker only runs while
// explicitly enabled. Arbitration never fails; missing inputs degrade toward
// software control, not toward ambiguity.
package mode

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/uavctl/uavctl/internal/telemetry"
)

// Source identifies which control source is authoritative.
type Source int

const (
	SourceNone Source = iota
	SourceAutonomous
	SourceManual
	SourceRC
)

func (s Source) String() string {
	switch s {
	case SourceRC:
		return "rc"
	case SourceManual:
		return "manual"
	case SourceAutonomous:
		return "autonomous"
	default:
		return "none"
	}
}

// RcProvider supplies the latest RC channel snapshot, typically the
// telemetry manager.
type RcProvider interface {
	RcChannels() (telemetry.RcChannels, bool)
}

// TrackProvider reports whether the autonomous tracker currently holds a
// valid track.
type TrackProvider interface {
	TrackActive() bool
}

// Config holds the arbitration tuning.
type Config struct {
	// RcChannel is the 0-based auxiliary channel carrying the hardware
	// override switch.
	RcChannel int `yaml:"rcChannel"`

	// RcHighThreshold and RcLowThreshold form the hysteresis band for the
	// switch: asserted above high, released below low, unchanged between.
	RcHighThreshold float64 `yaml:"rcHighThreshold"`
	RcLowThreshold  float64 `yaml:"rcLowThreshold"`

	// ManualTimeout is how long after the last keyboard activity the manual
	// source stays authoritative, in seconds.
	ManualTimeout float64 `yaml:"manualTimeout"`
}

// DefaultConfig returns the stock arbitration tuning: aux channel 7
// (0-based index 6) with a symmetric hysteresis band around mid-travel.
func DefaultConfig() Config {
	return Config{
		RcChannel:       6,
		RcHighThreshold: 0.55,
		RcLowThreshold:  0.45,
		ManualTimeout:   3.0,
	}
}

// Validate rejects configurations that would silently change meaning.
func (c Config) Validate() error {
	if c.RcChannel < 0 {
		return fmt.Errorf("rcChannel must be non-negative, got %d", c.RcChannel)
	}
	if c.RcLowThreshold < 0 || c.RcHighThreshold > 1 || c.RcLowThreshold > c.RcHighThreshold {
		return fmt.Errorf("rc thresholds must satisfy 0 <= low <= high <= 1, got low=%g high=%g",
			c.RcLowThreshold, c.RcHighThreshold)
	}
	if c.ManualTimeout <= 0 {
		return fmt.Errorf("manualTimeout must be positive, got %g", c.ManualTimeout)
	}
	return nil
}

// State is a snapshot of the arbitration state for external inspection.
type State struct {
	ActiveSource       Source
	AutonomousEnabled  bool
	LastManualActivity time.Time
	RcSwitch           bool
	ChangedAt          time.Time // last change of the enable flag
}

// WithLogger sets the logger for the manager.
func WithLogger(logger *slog.Logger) func(m *Manager) {
	return func(m *Manager) {
		m.logger = logger.With(slog.String("component", "mode"))
	}
}

// Manager owns the arbitration state. Every mutation happens here; everyone
// else reads copies. State is volatile by design: a restart always comes up
// with autonomous control disabled.
type Manager struct {
	cfg    Config
	rc     RcProvider
	tracks TrackProvider
	logger *slog.Logger

	now func() time.Time // overridable in tests

	mu    sync.Mutex
	state State
}

// NewManager creates a Manager with a validated configuration. rc and tracks
// may be nil, in which case the corresponding inputs are treated as absent.
func NewManager(cfg Config, rc RcProvider, tracks TrackProvider, options ...func(m *Manager)) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("mode config: %w", err)
	}

	m := Manager{
		cfg:    cfg,
		rc:     rc,
		tracks: tracks,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
		now:    time.Now,
	}

	for _, option := range options {
		option(&m)
	}

	return &m, nil
}

// Evaluate recomputes the active source and returns it. Called once per
// control tick by the dispatcher. The precedence order is strict: RC switch,
// then recent manual activity, then enabled autonomous with a valid track,
// then none.
func (m *Manager) Evaluate() Source {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.state.RcSwitch = m.rcAsserted(m.state.RcSwitch)

	var src Source
	switch {
	case m.state.RcSwitch:
		src = SourceRC
	case !m.state.LastManualActivity.IsZero() &&
		now.Sub(m.state.LastManualActivity) <= m.manualTimeout():
		src = SourceManual
	case m.state.AutonomousEnabled && m.tracks != nil && m.tracks.TrackActive():
		src = SourceAutonomous
	default:
		src = SourceNone
	}

	if src != m.state.ActiveSource {
		m.logger.Info("control source changed",
			slog.String("from", m.state.ActiveSource.String()),
			slog.String("to", src.String()))
	}
	m.state.ActiveSource = src

	return src
}

// rcAsserted applies the hysteresis band to the latest RC snapshot. A
// missing snapshot or missing channel always reads as not asserted.
func (m *Manager) rcAsserted(prev bool) bool {
	if m.rc == nil {
		return false
	}

	snap, ok := m.rc.RcChannels()
	if !ok {
		return false
	}

	value, ok := snap.Channel(m.cfg.RcChannel)
	if !ok {
		return false
	}

	switch {
	case value > m.cfg.RcHighThreshold:
		return true
	case value < m.cfg.RcLowThreshold:
		return false
	default:
		return prev
	}
}

// Enable turns autonomous output on. It returns true when the flag actually
// changed.
func (m *Manager) Enable() bool {
	return m.setEnabled(true)
}

// Disable turns autonomous output off. It returns true when the flag
// actually changed.
func (m *Manager) Disable() bool {
	return m.setEnabled(false)
}

// Toggle flips the autonomous enable flag and returns the new value.
func (m *Manager) Toggle() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.applyEnabled(!m.state.AutonomousEnabled)
	return m.state.AutonomousEnabled
}

func (m *Manager) setEnabled(enabled bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.AutonomousEnabled == enabled {
		return false
	}

	m.applyEnabled(enabled)
	return true
}

// applyEnabled mutates the flag; callers hold the lock.
func (m *Manager) applyEnabled(enabled bool) {
	m.state.AutonomousEnabled = enabled
	m.state.ChangedAt = m.now()

	if enabled {
		m.logger.Info("autonomous control enabled")
	} else {
		m.logger.Info("autonomous control disabled")
	}
}

// NotifyManualActivity stamps the manual-activity clock. The keyboard
// controller calls this for every processed input.
func (m *Manager) NotifyManualActivity() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.LastManualActivity = m.now()
}

// AutonomousEnabled reports the current enable flag.
func (m *Manager) AutonomousEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.AutonomousEnabled
}

// Status returns a copy of the current arbitration state.
func (m *Manager) Status() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) manualTimeout() time.Duration {
	return time.Duration(m.cfg.ManualTimeout * float64(time.Second))
}
