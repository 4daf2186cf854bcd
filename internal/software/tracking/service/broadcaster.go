package service

import (
	"context"

	"fleet-tracking/internal/domain/tracking"
	"fleet-tracking/internal/general/contracts"
	"fleet-tracking/internal/general/logger"
	"fleet-tracking/internal/general/metrics"
	"fleet-tracking/internal/ports"
)

// Broadcaster relays events to the monitors group. Delivery is at most once
// per connected monitor with no replay for late joiners.
type Broadcaster struct {
	groups *Groups
	logger *logger.Logger
}

func NewBroadcaster(groups *Groups, logger *logger.Logger) *Broadcaster {
	return &Broadcaster{groups: groups, logger: logger}
}

// ToMonitors encodes the event once and hands it to every monitor.
func (b *Broadcaster) ToMonitors(ctx context.Context, event string, payload any) {
	frame, err := contracts.EncodeFrame(event, payload)
	if err != nil {
		b.logger.Error(ctx, "broadcast_encode_failed", "Failed to encode broadcast event", err,
			map[string]any{"event": event})
		return
	}

	delivered, dropped := b.groups.Publish(tracking.GroupMonitors, frame)
	metrics.BroadcastDeliveries.WithLabelValues(event).Add(float64(delivered))
	if dropped > 0 {
		metrics.BroadcastDrops.WithLabelValues(event).Add(float64(dropped))
		b.logger.Warn(ctx, "broadcast_dropped", "Some monitors did not accept the event", nil,
			map[string]any{"event": event, "dropped": dropped, "delivered": delivered})
	}
}

// ToSession sends one event to a single connection.
func (b *Broadcaster) ToSession(ctx context.Context, s ports.Session, event string, payload any) bool {
	frame, err := contracts.EncodeFrame(event, payload)
	if err != nil {
		b.logger.Error(ctx, "session_encode_failed", "Failed to encode event", err,
			map[string]any{"event": event})
		return false
	}

	if !s.Send(frame) {
		metrics.BroadcastDrops.WithLabelValues(event).Inc()
		return false
	}
	metrics.BroadcastDeliveries.WithLabelValues(event).Inc()
	return true
}
