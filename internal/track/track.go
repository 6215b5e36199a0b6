// Package track turns detection observations into bounded, smoothed velocity
// commands that keep the target centered and at the desired apparent size.
// Altitude is never commanded: the vertical axis of every output is zero.
package track

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/uavctl/uavctl/internal/vehicle"
)

// Observation is a single frame-normalized detection of the tracked target.
type Observation struct {
	// CenterX is the horizontal offset of the target from the frame center,
	// -1 (left edge) to 1 (right edge).
	CenterX float64 `json:"cx"`

	// CenterY is the vertical offset, -1 (top) to 1 (bottom). Reported but
	// not acted on.
	CenterY float64 `json:"cy"`

	// BboxHeightRatio is the target bounding-box height as a fraction of the
	// frame height. A larger ratio means a closer target.
	BboxHeightRatio float64 `json:"h"`

	// Confidence is the detector confidence, 0..1.
	Confidence float64 `json:"conf"`

	Timestamp time.Time `json:"-"`
}

// Config holds the controller gains and limits. All values are intentionally
// conservative: the goal is to never out-fly the detector.
type Config struct {
	CenterDeadzone     float64 `yaml:"centerDeadzone"`     // fraction of half-frame with no yaw correction
	MaxYawRate         float64 `yaml:"maxYawRate"`         // deg/s
	MaxForwardVelocity float64 `yaml:"maxForwardVelocity"` // m/s
	PGainYaw           float64 `yaml:"pGainYaw"`           // deg/s per unit of horizontal offset
	PGainForward       float64 `yaml:"pGainForward"`       // m/s per unit of bbox ratio error
	VelocitySmoothing  float64 `yaml:"velocitySmoothing"`  // EMA factor, 0 = no smoothing
	TargetBboxRatio    float64 `yaml:"targetBboxRatio"`    // desired bbox height fraction
	MinConfidence      float64 `yaml:"minConfidence"`      // detections below this are ignored
	TrackLossTimeout   float64 `yaml:"trackLossTimeout"`   // seconds without observation before hover
}

// DefaultConfig returns the stock gentle-follow tuning.
func DefaultConfig() Config {
	return Config{
		CenterDeadzone:     0.10,
		MaxYawRate:         15.0,
		MaxForwardVelocity: 1.5,
		PGainYaw:           8.0,
		PGainForward:       0.05,
		VelocitySmoothing:  0.85,
		TargetBboxRatio:    0.25,
		MinConfidence:      0.5,
		TrackLossTimeout:   2.0,
	}
}

// Validate rejects configurations that would silently change meaning.
func (c Config) Validate() error {
	if c.CenterDeadzone < 0 || c.CenterDeadzone >= 1 {
		return fmt.Errorf("centerDeadzone must be in [0, 1), got %g", c.CenterDeadzone)
	}
	if c.MaxYawRate <= 0 {
		return fmt.Errorf("maxYawRate must be positive, got %g", c.MaxYawRate)
	}
	if c.MaxForwardVelocity <= 0 {
		return fmt.Errorf("maxForwardVelocity must be positive, got %g", c.MaxForwardVelocity)
	}
	if c.PGainYaw <= 0 {
		return fmt.Errorf("pGainYaw must be positive, got %g", c.PGainYaw)
	}
	if c.PGainForward <= 0 {
		return fmt.Errorf("pGainForward must be positive, got %g", c.PGainForward)
	}
	if c.VelocitySmoothing < 0 || c.VelocitySmoothing >= 1 {
		return fmt.Errorf("velocitySmoothing must be in [0, 1), got %g", c.VelocitySmoothing)
	}
	if c.TargetBboxRatio <= 0 || c.TargetBboxRatio >= 1 {
		return fmt.Errorf("targetBboxRatio must be in (0, 1), got %g", c.TargetBboxRatio)
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("minConfidence must be in [0, 1], got %g", c.MinConfidence)
	}
	if c.TrackLossTimeout <= 0 {
		return fmt.Errorf("trackLossTimeout must be positive, got %g", c.TrackLossTimeout)
	}
	return nil
}

// WithLogger sets the logger for the controller.
func WithLogger(logger *slog.Logger) func(c *Controller) {
	return func(c *Controller) {
		c.logger = logger.With(slog.String("component", "track"))
	}
}

// Controller is the tracking state machine. Observe is called by the
// detection feed as observations arrive; Output is called once per control
// tick by the dispatcher. Both sides run concurrently, so the small amount
// of shared state sits behind a mutex.
type Controller struct {
	cfg    Config
	logger *slog.Logger

	mu              sync.Mutex
	obs             Observation
	lastObservation time.Time
	smoothedYaw     float64
	smoothedForward float64
	trackActive     bool
}

// NewController creates a Controller with a validated configuration.
func NewController(cfg Config, options ...func(c *Controller)) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("tracking config: %w", err)
	}

	c := Controller{
		cfg:    cfg,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
	}

	for _, option := range options {
		option(&c)
	}

	return &c, nil
}

// Observe feeds a detection into the controller. Observations below the
// confidence threshold count as absence. Re-acquiring a target after track
// loss restarts smoothing from zero so the vehicle does not lurch toward a
// stale command.
func (c *Controller) Observe(obs Observation, now time.Time) {
	if obs.Confidence < c.cfg.MinConfidence {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// The loss timeout may expire between Output calls, so a stale previous
	// observation counts as a loss here too. Otherwise the smoothing state
	// from before the gap would leak into the re-acquired track.
	if c.trackActive && now.Sub(c.lastObservation) > c.timeout() {
		c.logger.Warn("track lost", slog.Duration("since", now.Sub(c.lastObservation)))
		c.trackActive = false
	}

	if !c.trackActive {
		c.smoothedYaw = 0
		c.smoothedForward = 0
		c.logger.Info("track acquired",
			slog.Float64("cx", obs.CenterX),
			slog.Float64("bboxRatio", obs.BboxHeightRatio))
	}

	c.obs = obs
	c.lastObservation = now
	c.trackActive = true
}

// Output computes the velocity command for the current tick. After the
// track-loss timeout the output is the zero vector and the smoothing state
// is discarded.
func (c *Controller) Output(now time.Time) vehicle.ControlVector {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.trackActive || now.Sub(c.lastObservation) > c.timeout() {
		if c.trackActive {
			c.logger.Warn("track lost", slog.Duration("since", now.Sub(c.lastObservation)))
		}
		c.trackActive = false
		c.smoothedYaw = 0
		c.smoothedForward = 0
		return vehicle.ControlVector{}
	}

	rawYaw := 0.0
	if math.Abs(c.obs.CenterX) > c.cfg.CenterDeadzone {
		rawYaw = clamp(c.cfg.PGainYaw*c.obs.CenterX, -c.cfg.MaxYawRate, c.cfg.MaxYawRate)
	}

	rawForward := clamp(
		c.cfg.PGainForward*(c.cfg.TargetBboxRatio-c.obs.BboxHeightRatio),
		-c.cfg.MaxForwardVelocity, c.cfg.MaxForwardVelocity)

	alpha := c.cfg.VelocitySmoothing
	c.smoothedYaw = alpha*c.smoothedYaw + (1-alpha)*rawYaw
	c.smoothedForward = alpha*c.smoothedForward + (1-alpha)*rawForward

	return vehicle.ControlVector{X: c.smoothedForward, R: c.smoothedYaw}
}

// TrackActive reports whether a valid track currently exists, accounting for
// the loss timeout even before Output has observed it.
func (c *Controller) TrackActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.trackActive && time.Since(c.lastObservation) <= c.timeout()
}

// Reset discards all tracking state.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.obs = Observation{}
	c.lastObservation = time.Time{}
	c.smoothedYaw = 0
	c.smoothedForward = 0
	c.trackActive = false
}

func (c *Controller) timeout() time.Duration {
	return time.Duration(c.cfg.TrackLossTimeout * float64(time.Second))
}

func clamp(value, lo, hi float64) float64 {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}
