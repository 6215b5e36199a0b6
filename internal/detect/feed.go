// Package detect ingests target detections over a newline-delimited JSON
// feed. A vision pipeline connects over TCP and streams one observation per
// line; the feed parses them and hands them to the tracking controller.
package detect

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/uavctl/uavctl/internal/track"
)

const (
	// ParseErrorsThreshold defines the number of consecutive parse errors
	// allowed before the connection is dropped.
	ParseErrorsThreshold = 5
)

var (
	// ErrTooManyParseErrors is returned when the number of consecutive parse
	// errors exceeds the threshold
	ErrTooManyParseErrors = errors.New("too many consecutive parse errors")

	// ErrAlreadyListening is returned when Start is called on a running Feed.
	ErrAlreadyListening = errors.New("detection feed is already listening")
)

// Observer receives parsed observations, typically the tracking controller.
type Observer interface {
	Observe(obs track.Observation, now time.Time)
}

// WithLogger sets the logger for the feed.
func WithLogger(logger *slog.Logger) func(f *Feed) {
	return func(f *Feed) {
		f.logger = logger.With(slog.String("component", "detect"))
	}
}

// WithParseErrorsThreshold sets the threshold for consecutive parse errors.
func WithParseErrorsThreshold(threshold uint8) func(f *Feed) {
	return func(f *Feed) {
		f.parseErrorsThreshold = threshold
	}
}

// Feed is the TCP detection listener. One connection at a time is served;
// the detector reconnects after a drop. A stream of malformed lines drops
// the connection so a misconfigured detector cannot silently feed garbage.
type Feed struct {
	addr     string
	observer Observer

	logger               *slog.Logger
	parseErrorsThreshold uint8

	listener net.Listener
	running  atomic.Bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewFeed creates a Feed listening on addr once Start is called.
func NewFeed(addr string, observer Observer, options ...func(f *Feed)) *Feed {
	f := Feed{
		addr:                 addr,
		observer:             observer,
		logger:               slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
		parseErrorsThreshold: ParseErrorsThreshold,
	}

	for _, option := range options {
		option(&f)
	}

	return &f
}

// Start opens the listener and launches the accept loop.
func (f *Feed) Start(ctx context.Context) error {
	if !f.running.CompareAndSwap(false, true) {
		return ErrAlreadyListening
	}

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", f.addr)
	if err != nil {
		f.running.Store(false)
		return fmt.Errorf("listening on %s: %w", f.addr, err)
	}

	f.listener = listener
	ctx, f.cancel = context.WithCancel(ctx)

	f.wg.Add(1)
	go f.acceptLoop(ctx)

	f.logger.Info("detection feed listening", slog.String("addr", listener.Addr().String()))
	return nil
}

// Stop closes the listener and waits for the serving goroutines to exit.
// It is safe to call Stop multiple times.
func (f *Feed) Stop() {
	if !f.running.Load() {
		return // already stopped
	}

	f.cancel()
	_ = f.listener.Close()
	f.wg.Wait()
	f.running.Store(false)

	f.logger.Info("detection feed stopped")
}

// Addr returns the listener's address, useful when listening on port 0.
func (f *Feed) Addr() net.Addr {
	return f.listener.Addr()
}

func (f *Feed) acceptLoop(ctx context.Context) {
	defer f.wg.Done()

	for {
		conn, err := f.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			f.logger.Warn("accepting connection", slog.Any("error", err))
			continue
		}

		f.logger.Info("detector connected", slog.String("remote", conn.RemoteAddr().String()))

		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			defer conn.Close()

			// Unblock the read when the context goes away.
			stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
			defer stop()

			if err := f.serve(conn); err != nil && ctx.Err() == nil {
				f.logger.Warn("detector connection closed", slog.Any("error", err))
			}
		}()
	}
}

// serve reads one observation per line until the connection drops or the
// parse error threshold trips.
func (f *Feed) serve(conn net.Conn) error {
	var parseErrors uint8

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" {
			continue
		}

		obs, err := parseObservation(line)
		if err != nil {
			parseErrors++
			f.logger.Warn(fmt.Sprintf("error parsing observation: %s", err.Error()), slog.String("line", line))

			if parseErrors >= f.parseErrorsThreshold {
				return ErrTooManyParseErrors
			}
			continue
		}
		parseErrors = 0

		f.observer.Observe(obs, time.Now())
	}

	return scanner.Err()
}

func parseObservation(line string) (track.Observation, error) {
	var obs track.Observation
	if err := json.Unmarshal([]byte(line), &obs); err != nil {
		return track.Observation{}, fmt.Errorf("unmarshaling observation: %w", err)
	}

	if obs.CenterX < -1 || obs.CenterX > 1 {
		return track.Observation{}, fmt.Errorf("cx out of range: %g", obs.CenterX)
	}
	if obs.CenterY < -1 || obs.CenterY > 1 {
		return track.Observation{}, fmt.Errorf("cy out of range: %g", obs.CenterY)
	}
	if obs.BboxHeightRatio < 0 || obs.BboxHeightRatio > 1 {
		return track.Observation{}, fmt.Errorf("h out of range: %g", obs.BboxHeightRatio)
	}
	if obs.Confidence < 0 || obs.Confidence > 1 {
		return track.Observation{}, fmt.Errorf("conf out of range: %g", obs.Confidence)
	}

	return obs, nil
}
