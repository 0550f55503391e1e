// Package app wires configured sensor devices to their broadcast
// servers and runs them until shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/open-asv/surveyor/internal/broadcast"
	"github.com/open-asv/surveyor/internal/device"
	"github.com/open-asv/surveyor/internal/imaging"
)

// Run starts one broadcast server per enabled device and blocks until
// the context is cancelled or a device is lost for good.
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	servers, err := createServers(config.Devices, logger)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		srv := srv
		if err := srv.Start(ctx); err != nil {
			for _, started := range servers {
				started.Stop()
			}
			return fmt.Errorf("starting server: %w", err)
		}

		g.Go(func() error {
			defer srv.Stop()

			select {
			case <-ctx.Done():
				return nil
			case err := <-srv.Done():
				return err
			}
		})
	}

	logger.Info("broadcasting", slog.Int("devices", len(servers)))
	return g.Wait()
}

func createServers(configs []DeviceConfig, logger *slog.Logger) ([]*broadcast.Server, error) {
	var servers []*broadcast.Server
	for _, dc := range configs {
		if !dc.Enabled {
			continue
		}

		source, err := createSource(dc, logger)
		if err != nil {
			return nil, fmt.Errorf("creating device '%s': %w", dc.Name, err)
		}

		readerOpts := []func(*device.Reader){device.WithLogger(logger)}
		if rc := dc.Reconnect; rc.Base > 0 {
			readerOpts = append(readerOpts, device.WithBackoff(rc.Base.Std(), rc.Max.Std(), rc.MaxAttempts))
		}
		reader := device.NewReader(source, readerOpts...)

		serverOpts := []func(*broadcast.Server){broadcast.WithLogger(logger)}
		if dc.QueueSize > 0 {
			serverOpts = append(serverOpts, broadcast.WithQueueSize(dc.QueueSize))
		}

		servers = append(servers, broadcast.NewServer(reader, dc.Listen, serverOpts...))
	}

	if len(servers) == 0 {
		return nil, fmt.Errorf("no enabled devices in configuration")
	}
	return servers, nil
}

func createSource(dc DeviceConfig, logger *slog.Logger) (device.Source, error) {
	switch dc.Type {
	case DeviceSerial:
		return device.NewSerialSource(*dc.Serial)

	case DeviceCamera:
		opts := []func(*device.CameraSource){device.WithCameraLogger(logger)}
		if dc.Annotate {
			annotator, err := imaging.NewAnnotator()
			if err != nil {
				return nil, fmt.Errorf("creating annotator: %w", err)
			}
			opts = append(opts, device.WithAnnotator(annotator))
		}
		return device.NewCameraSource(*dc.Camera, opts...)

	case DeviceLidar:
		return device.NewLidarSource(*dc.Lidar, device.WithLidarLogger(logger))

	default:
		return nil, fmt.Errorf("unknown type '%s'", dc.Type)
	}
}
