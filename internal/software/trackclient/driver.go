package trackclient

import (
	"context"
	"time"

	"fleet-tracking/internal/general/contracts"
	"fleet-tracking/internal/general/logger"
)

// DriverDevice is the driver side: announce on every connect, then let the
// producer emit positions while tracking is switched on.
type DriverDevice struct {
	ch       *Channel
	producer *Producer
	api      *BackupWriter
	logger   *logger.Logger
}

// NewDriverDevice wires a producer to ch. api may be nil when REST backup is off.
func NewDriverDevice(ch *Channel, src PositionSource, api *BackupWriter, interval time.Duration, log *logger.Logger) *DriverDevice {
	var rec Recorder
	if api != nil {
		rec = api
	}
	d := &DriverDevice{
		ch:       ch,
		producer: NewProducer(src, ch, rec, interval, log),
		api:      api,
		logger:   log,
	}

	ch.OnConnect(func() {
		if err := ch.Emit(contracts.EventDriverAnnounce, nil); err != nil {
			log.Warn(context.Background(), "driver_announce_failed", "Failed to announce driver", err, nil)
		}
	})
	on(ch, log, contracts.EventLocationRejected, func(r contracts.LocationRejected) {
		log.Warn(context.Background(), "location_rejected", "Server rejected a location report", nil,
			map[string]any{"reason": r.Reason})
	})
	return d
}

func (d *DriverDevice) Channel() *Channel    { return d.ch }
func (d *DriverDevice) Producer() *Producer { return d.producer }

func (d *DriverDevice) Connect(ctx context.Context) { d.ch.Connect(ctx) }

// StartTracking switches tracking on: the server is told, then the device is watched.
func (d *DriverDevice) StartTracking(ctx context.Context) error {
	if d.api != nil {
		if err := d.api.SetTracking(ctx, true); err != nil {
			d.logger.Warn(ctx, "tracking_state_failed", "Could not persist tracking state", err, nil)
		}
	}
	return d.producer.Start(ctx)
}

// StopTracking stops emission; the channel stays connected.
func (d *DriverDevice) StopTracking(ctx context.Context) {
	d.producer.Stop()
	if d.api != nil {
		if err := d.api.SetTracking(ctx, false); err != nil {
			d.logger.Warn(ctx, "tracking_state_failed", "Could not persist tracking state", err, nil)
		}
	}
}

func (d *DriverDevice) Disconnect() {
	d.producer.Stop()
	d.ch.Disconnect()
}
