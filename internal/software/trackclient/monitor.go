package trackclient

import (
	"context"

	"fleet-tracking/internal/general/contracts"
	"fleet-tracking/internal/general/logger"

	json "github.com/goccy/go-json"
)

// Monitor is the dashboard side: it announces itself on every connect and
// folds broadcast events into a Roster.
type Monitor struct {
	ch     *Channel
	roster *Roster
	logger *logger.Logger
}

func NewMonitor(ch *Channel, roster *Roster, log *logger.Logger) *Monitor {
	m := &Monitor{ch: ch, roster: roster, logger: log}

	ch.OnConnect(func() {
		if err := ch.Emit(contracts.EventMonitorAnnounce, nil); err != nil {
			log.Warn(context.Background(), "monitor_announce_failed", "Failed to announce monitor", err, nil)
		}
	})

	on(ch, log, contracts.EventActiveDrivers, roster.Seed)
	on(ch, log, contracts.EventDriverNew, roster.DriverNew)
	on(ch, log, contracts.EventLocationUpdated, roster.LocationUpdated)
	on(ch, log, contracts.EventDriverDisconnected, roster.DriverDisconnected)
	on(ch, log, contracts.EventTrackingActivated, roster.TrackingToggled)
	on(ch, log, contracts.EventTrackingDeactivated, roster.TrackingToggled)
	return m
}

func (m *Monitor) Channel() *Channel { return m.ch }
func (m *Monitor) Roster() *Roster   { return m.roster }

func (m *Monitor) Start(ctx context.Context) { m.ch.Connect(ctx) }

func (m *Monitor) Retry(ctx context.Context) { m.ch.Retry(ctx) }

// Disconnect closes the channel and clears the roster. The channel stops
// dispatching before it returns, so no late event repopulates the roster.
func (m *Monitor) Disconnect() {
	m.ch.Disconnect()
	m.roster.Clear()
}

// ColdStart seeds the roster from the REST fallback before the channel connects.
func (m *Monitor) ColdStart(ctx context.Context, api *BackupWriter) error {
	rows, err := api.ActiveDrivers(ctx)
	if err != nil {
		return err
	}
	m.roster.SeedLastKnown(rows)
	m.logger.Info(ctx, "roster_cold_start", "Roster seeded from REST", map[string]any{"drivers": len(rows)})
	return nil
}

// on decodes an event payload into T before handing it to fn.
func on[T any](ch *Channel, log *logger.Logger, event string, fn func(T)) {
	ch.On(event, func(data json.RawMessage) {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			log.Warn(context.Background(), "event_decode_failed", "Dropping undecodable event", err,
				map[string]any{"event": event})
			return
		}
		fn(v)
	})
}
