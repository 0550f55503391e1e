// Package app runs a survey: it consumes the vessel's telemetry
// broadcasts, drives the vehicle command channel and records periodic
// state snapshots to CSV and sqlite.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/open-asv/surveyor/internal/client"
	"github.com/open-asv/surveyor/internal/session"
	"github.com/open-asv/surveyor/internal/vehicle"
)

const storageDir = "data"

// Run wires the clients, the command channel and the recorder together
// and blocks until the context is cancelled.
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	var sources []session.StateSource

	clientOpts := []func(*client.Client){client.WithLogger(logger)}
	if rc := config.Sensors.Reconnect; rc.Base > 0 {
		clientOpts = append(clientOpts, client.WithBackoff(rc.Base.Std(), rc.Max.Std()))
	}

	if addr := config.Sensors.ProbeAddr; addr != "" {
		probe, err := client.Connect(ctx, addr, "probe", clientOpts...)
		if err != nil {
			return fmt.Errorf("connecting to probe: %w", err)
		}
		defer probe.Close()
		sources = append(sources, probe)
	}

	if addr := config.Sensors.CameraAddr; addr != "" {
		camera, err := client.Connect(ctx, addr, "camera", clientOpts...)
		if err != nil {
			return fmt.Errorf("connecting to camera: %w", err)
		}
		defer camera.Close()
		sources = append(sources, camera)
	}

	if addr := config.Sensors.LidarAddr; addr != "" {
		lidar, err := client.Connect(ctx, addr, "lidar", clientOpts...)
		if err != nil {
			return fmt.Errorf("connecting to lidar: %w", err)
		}
		defer lidar.Close()
		sources = append(sources, lidar)
	}

	var channel *vehicle.Channel
	if vc := config.Vehicle; vc != nil {
		opts := []func(*vehicle.Channel){vehicle.WithLogger(logger)}
		if vc.CommandTimeout > 0 {
			opts = append(opts, vehicle.WithCommandTimeout(vc.CommandTimeout.Std()))
		}
		if vc.Correlation != "" {
			opts = append(opts, vehicle.WithCorrelation(vehicle.Correlation(vc.Correlation)))
		}

		var err error
		if channel, err = vehicle.Dial(ctx, vc.Addr, opts...); err != nil {
			return fmt.Errorf("connecting to vehicle: %w", err)
		}
		defer channel.Close()
		sources = append(sources, channel)
	}

	sinks, err := createSinks(ctx, config)
	if err != nil {
		return err
	}

	recorder := session.NewRecorder(sources, sinks,
		session.WithLogger(logger),
		session.WithInterval(config.Record.Interval.Std()),
		session.WithFreshness(config.Record.Freshness.Std()))

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return recorder.Run(ctx)
	})

	if config.Mission != nil {
		g.Go(func() error {
			return runMission(ctx, channel, *config.Mission, logger)
		})
	}

	logger.Info("survey started", slog.String("vessel", config.Settings.VesselID))

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// runMission uploads the waypoint list and engages waypoint mode.
func runMission(ctx context.Context, channel *vehicle.Channel, mission vehicle.Mission, logger *slog.Logger) error {
	if err := channel.UploadMission(ctx, mission); err != nil {
		return fmt.Errorf("uploading mission: %w", err)
	}

	resp, err := channel.Send(ctx, vehicle.WaypointMode())
	if err != nil {
		return fmt.Errorf("engaging waypoint mode: %w", err)
	}

	logger.Info("mission engaged",
		slog.Int("waypoints", len(mission.Waypoints)),
		slog.Any("response", resp.Fields))
	return nil
}

// createSinks opens the session CSV file and sqlite database, both
// timestamped, under the configured data directory.
func createSinks(ctx context.Context, config *Config) ([]session.Sink, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current working directory: %w", err)
	}

	dataPath := filepath.Join(wd, storageDir)
	if config.Record.DataDirectory != "" {
		dataPath = filepath.Join(wd, config.Record.DataDirectory)
	}

	stat, err := os.Stat(dataPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("data directory '%s' does not exist: %w", dataPath, err)
		}
		return nil, fmt.Errorf("inspecting data directory '%s': %w", dataPath, err)
	}
	if !stat.IsDir() {
		return nil, fmt.Errorf("invalid data directory '%s'", dataPath)
	}

	stamp := time.Now().UTC().Format("20060102_150405")

	csvSink, err := session.NewCSVSink(filepath.Join(dataPath, fmt.Sprintf("survey_%s.csv", stamp)))
	if err != nil {
		return nil, fmt.Errorf("creating CSV sink: %w", err)
	}

	store := session.NewStore(filepath.Join(dataPath, fmt.Sprintf("survey_%s.sqlite", stamp)))
	dbSink, err := session.NewSQLiteSink(ctx, store, config.Settings.VesselID, config)
	if err != nil {
		_ = csvSink.Close()
		return nil, fmt.Errorf("creating sqlite sink: %w", err)
	}

	return []session.Sink{csvSink, dbSink}, nil
}
