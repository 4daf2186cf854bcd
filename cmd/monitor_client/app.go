package monitorclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"fleet-tracking/internal/general/config"
	"fleet-tracking/internal/general/logger"
	"fleet-tracking/internal/software/trackclient"
)

// Run connects as a monitor and redraws the fleet table every refresh until ctx is done.
func Run(ctx context.Context, configPath, token string, refresh time.Duration) error {
	log := logger.NewWithWriter("monitor-client", os.Stderr, logger.ParseLevel("warn"))

	cfg, err := config.LoadClient(configPath)
	if err != nil {
		log.Error(ctx, "config_load_failed", "Failed to load configuration", err, map[string]any{"path": configPath})
		return err
	}
	if token == "" {
		token = cfg.Client.Token
	}
	if token == "" {
		return errors.New("a bearer token is required (--token or client.token)")
	}

	wsURL, err := trackclient.ChannelURL(cfg.Client.ServerURL)
	if err != nil {
		return err
	}

	ch := trackclient.NewChannel(trackclient.ChannelOptions{
		URL:      wsURL,
		Token:    token,
		Attempts: cfg.Client.ReconnectAttempts,
		MinDelay: cfg.Client.ReconnectMin,
		MaxDelay: cfg.Client.ReconnectMax,
	}, log)
	monitor := trackclient.NewMonitor(ch, trackclient.NewRoster(), log)

	// the REST roster fills in drivers whose channel is down
	api := trackclient.NewBackupWriter(cfg.Client.ServerURL, token, nil, log)
	if err := monitor.ColdStart(ctx, api); err != nil {
		log.Warn(ctx, "roster_cold_start_failed", "Could not load the REST roster; continuing live only", err, nil)
	}

	monitor.Start(ctx)
	defer monitor.Disconnect()

	t := time.NewTicker(refresh)
	defer t.Stop()

	for {
		render(os.Stdout, monitor, time.Now())
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		if ch.State() == trackclient.StateError {
			// keep the dashboard alive across long outages
			monitor.Retry(ctx)
		}
	}
}

func render(w io.Writer, m *trackclient.Monitor, now time.Time) {
	roster := m.Roster()
	drivers := roster.Drivers()

	fmt.Fprint(w, "\033[H\033[2J")
	fmt.Fprintln(w, trackclient.StatusLine(m.Channel(), roster.ActiveCount()))
	fmt.Fprintln(w, strings.Repeat("-", 72))

	if len(drivers) == 0 {
		fmt.Fprintln(w, "No drivers yet.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DRIVER\tSTATUS\tPOSITION\tSPEED\tUPDATED")
	for _, d := range drivers {
		status := "offline"
		if d.Active {
			status = "online"
		}
		pos, speed := "-", "-"
		if d.LastLocation != nil {
			pos = fmt.Sprintf("%.5f, %.5f", d.LastLocation.Lat, d.LastLocation.Lng)
			if v := d.LastLocation.Velocidad; v != nil {
				speed = fmt.Sprintf("%.1f km/h", *v*3.6)
			}
		}
		fmt.Fprintf(tw, "%s (#%d)\t%s\t%s\t%s\t%s\n",
			d.Username, d.UserID, status, pos, speed, trackclient.TimeSince(d.UpdatedAt, now))
	}
	_ = tw.Flush()
}
