package driverclient

import (
	"context"
	"errors"
	"time"

	"fleet-tracking/internal/general/config"
	"fleet-tracking/internal/general/logger"
	"fleet-tracking/internal/software/trackclient"
)

// Options positions the simulated device.
type Options struct {
	Token    string
	StartLat float64
	StartLng float64
	Every    time.Duration
}

// Run simulates a driver phone: it connects, announces, switches tracking on
// and reports a random walk until ctx is done.
func Run(ctx context.Context, configPath string, opts Options) error {
	log := logger.New("driver-client")

	cfg, err := config.LoadClient(configPath)
	if err != nil {
		log.Error(ctx, "config_load_failed", "Failed to load configuration", err, map[string]any{"path": configPath})
		return err
	}
	if opts.Token == "" {
		opts.Token = cfg.Client.Token
	}
	if opts.Token == "" {
		return errors.New("a bearer token is required (--token or client.token)")
	}

	wsURL, err := trackclient.ChannelURL(cfg.Client.ServerURL)
	if err != nil {
		return err
	}

	ch := trackclient.NewChannel(trackclient.ChannelOptions{
		URL:      wsURL,
		Token:    opts.Token,
		Attempts: cfg.Client.ReconnectAttempts,
		MinDelay: cfg.Client.ReconnectMin,
		MaxDelay: cfg.Client.ReconnectMax,
	}, log)
	ch.OnStateChange(func(s trackclient.State) {
		log.Info(ctx, "channel_state", "Channel "+s.Label(), map[string]any{"state": s.String()})
	})

	var api *trackclient.BackupWriter
	if cfg.Client.BackupWrites {
		api = trackclient.NewBackupWriter(cfg.Client.ServerURL, opts.Token, nil, log)
	}

	src := trackclient.SimulatedSource{
		Start: trackclient.Position{Lat: opts.StartLat, Lng: opts.StartLng},
		Every: opts.Every,
	}
	device := trackclient.NewDriverDevice(ch, src, api, cfg.Client.ReportInterval, log)

	device.Connect(ctx)
	if err := device.StartTracking(ctx); err != nil {
		device.Disconnect()
		return err
	}
	log.Info(ctx, "tracking_started", "Driver simulator reporting", map[string]any{
		"server":   cfg.Client.ServerURL,
		"interval": cfg.Client.ReportInterval.String(),
		"backup":   api != nil,
	})

	<-ctx.Done()

	// ctx is gone; the REST toggle needs its own deadline
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	device.StopTracking(stopCtx)
	device.Disconnect()

	log.Info(stopCtx, "tracking_stopped", "Driver simulator stopped", map[string]any{"sent": device.Producer().Sent()})
	return nil
}
