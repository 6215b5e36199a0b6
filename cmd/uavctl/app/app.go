// Package app wires the control daemon together: vehicle link, telemetry
// cache, keyboard input, tracking, arbitration, dispatch, detection feed,
// HTTP surface and flight recorder.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/uavctl/uavctl/internal/api"
	"github.com/uavctl/uavctl/internal/control"
	"github.com/uavctl/uavctl/internal/detect"
	"github.com/uavctl/uavctl/internal/input"
	"github.com/uavctl/uavctl/internal/mode"
	"github.com/uavctl/uavctl/internal/storage"
	"github.com/uavctl/uavctl/internal/telemetry"
	"github.com/uavctl/uavctl/internal/track"
	"github.com/uavctl/uavctl/internal/vehicle"
)

const shutdownGrace = 2 * time.Minute

// Run starts every component and blocks until the context is cancelled, the
// operator quits, or a component fails. A vehicle left in the air is landed
// before Run returns.
//
// Components run on their own context that outlives the quit signal: the
// link and telemetry must stay alive through the shutdown landing.
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	ctx, quit := context.WithCancel(ctx)
	defer quit()

	appCtx, stop := context.WithCancel(context.Background())
	defer stop()

	link := vehicle.NewSimLink(appCtx,
		vehicle.WithStreamRate(config.Vehicle.StreamRateHz),
		vehicle.WithSimLogger(logger))

	tel := telemetry.NewManager(link, telemetry.WithLogger(logger))
	if err := tel.Start(appCtx); err != nil {
		return fmt.Errorf("starting telemetry: %w", err)
	}
	defer tel.Stop()

	tracker, err := track.NewController(config.Tracking, track.WithLogger(logger))
	if err != nil {
		return err
	}

	modes, err := mode.NewManager(config.Mode, tel, tracker, mode.WithLogger(logger))
	if err != nil {
		return err
	}

	var recorder *storage.Recorder
	if config.Storage.Enabled {
		store, err := createStore(&config.Storage)
		if err != nil {
			return fmt.Errorf("creating storage: %w", err)
		}
		defer store.Close()

		recorder = storage.NewRecorder(store, tel,
			storage.WithRecorderLogger(logger),
			storage.WithSampleInterval(time.Duration(float64(time.Second)/config.Storage.SampleRate)))
		if err := recorder.Start(appCtx, config.Vehicle.Name, config); err != nil {
			return fmt.Errorf("starting flight recorder: %w", err)
		}
		defer recorder.Stop()
	}

	if config.Detection.Enabled {
		feed := detect.NewFeed(config.Detection.Listen, tracker, detect.WithLogger(logger))
		if err := feed.Start(appCtx); err != nil {
			return fmt.Errorf("starting detection feed: %w", err)
		}
		defer feed.Stop()
	}

	errCh := make(chan error, 2)

	if config.API.Enabled {
		server := api.NewServer(config.API.Listen, modes, tel, api.WithLogger(logger))
		server.Start(errCh)
		defer func() {
			if err := server.Stop(); err != nil {
				logger.Warn(err.Error())
			}
		}()
	}

	keys, err := createKeyboard(appCtx, config, link, tel, modes, logger, quit)
	if err != nil {
		return err
	}
	defer keys.Stop()

	dispatchOpts := []func(d *control.Dispatcher){control.WithLogger(logger)}
	if recorder != nil {
		dispatchOpts = append(dispatchOpts, control.WithRecorder(recorder))
	}

	dispatcher, err := control.NewDispatcher(config.Dispatch, link, modes, keys, tracker, tel, dispatchOpts...)
	if err != nil {
		return err
	}

	go func() {
		errCh <- dispatcher.Run(appCtx)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	landIfAirborne(link, tel, logger)
	return runErr
}

// createKeyboard builds the input controller with the flight action
// callbacks bound to the rest of the system.
func createKeyboard(ctx context.Context, config *Config, link vehicle.Link, tel *telemetry.Manager,
	modes *mode.Manager, logger *slog.Logger, quit context.CancelFunc) (*input.Controller, error) {

	capture, err := createCapture(&config.Input)
	if err != nil {
		return nil, fmt.Errorf("creating keyboard capture: %w", err)
	}

	keys, err := input.NewController(config.Input.Config, capture,
		input.WithLogger(logger),
		input.OnActivity(modes.NotifyManualActivity),
		input.OnAction(func(action input.Action) {
			// Callbacks run on the capture goroutine; anything that blocks
			// on the vehicle runs in its own goroutine.
			switch action {
			case input.ActionQuit:
				quit()
			case input.ActionEmergencyStop:
				modes.Disable()
				go func() {
					if err := control.EmergencyHover(ctx, link, logger); err != nil {
						logger.Error(err.Error())
					}
				}()
			case input.ActionArmTakeoff:
				go func() {
					if err := control.ArmAndTakeoff(ctx, link, tel, config.Vehicle.TakeoffAltitude, logger); err != nil {
						logger.Error(err.Error())
					}
				}()
			case input.ActionLand:
				go func() {
					if err := control.LandAndDisarm(ctx, link, tel, logger); err != nil {
						logger.Error(err.Error())
					}
				}()
			case input.ActionToggleTracking:
				modes.Toggle()
			}
		}))
	if err != nil {
		return nil, err
	}

	if err := keys.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting keyboard: %w", err)
	}
	return keys, nil
}

func createStore(config *StorageConfig) (*storage.SqliteStore, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current working directory: %w", err)
	}

	dbPath := filepath.Join(wd, config.DataDirectory)

	stat, err := os.Stat(dbPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("storage directory '%s' does not exist: %w", dbPath, err)
		}
		return nil, fmt.Errorf("checking storage directory: %w", err)
	}
	if !stat.IsDir() {
		return nil, fmt.Errorf("invalid storage directory '%s'", dbPath)
	}

	dbPath = filepath.Join(dbPath, fmt.Sprintf("flight_%s.sqlite", time.Now().UTC().Format("20060102_150405")))
	return storage.NewSqliteStore(dbPath), nil
}

// landIfAirborne is the last line of defense on shutdown: whatever ended the
// run, an airborne vehicle is brought down before the process exits.
func landIfAirborne(link vehicle.Link, tel *telemetry.Manager, logger *slog.Logger) {
	fs, ok := tel.FlightState()
	if !ok || !fs.InAir {
		return
	}

	logger.Warn("vehicle airborne at shutdown, landing")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := control.LandAndDisarm(ctx, link, tel, logger); err != nil &&
		!errors.Is(err, context.DeadlineExceeded) {
		logger.Error(fmt.Sprintf("shutdown landing failed: %s", err.Error()))
	}
}
