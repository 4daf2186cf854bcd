package service

import (
	"context"

	"fleet-tracking/internal/domain/tracking"
	"fleet-tracking/internal/domain/user"
	"fleet-tracking/internal/general/contracts"
	"fleet-tracking/internal/general/metrics"
)

// RecordLocation is the REST backup write. It persists independently of the
// live channel; monitors are only notified when the driver has no live
// presence entry, so a connected driver's samples are never delivered twice.
func (service *trackingService) RecordLocation(ctx context.Context, ident user.Identity, report tracking.Report) (tracking.StoredLocation, error) {
	if !service.persistenceEnabled() {
		return tracking.StoredLocation{}, ErrPersistenceDisabled
	}

	sample, err := tracking.NewSample(ident, report, service.now(), service.maxSkew)
	if err != nil {
		metrics.LocationReports.WithLabelValues("rest", "rejected").Inc()
		return tracking.StoredLocation{}, err
	}

	var stored tracking.StoredLocation
	err = service.uow.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		stored, err = service.repo.SaveSample(ctx, sample)
		return err
	})
	if err != nil {
		service.logger.Error(ctx, "location_save_failed", "Failed to persist location", err, map[string]any{
			"user_id": ident.ID,
		})
		return tracking.StoredLocation{}, err
	}
	metrics.LocationReports.WithLabelValues("rest", "accepted").Inc()

	live, err := service.presence.Get(ctx, ident.ID)
	if err != nil {
		service.logger.Warn(ctx, "presence_lookup_failed", "Could not check live presence; skipping broadcast", err,
			map[string]any{"user_id": ident.ID})
		return stored, nil
	}
	if live == nil && service.notifier != nil {
		if err := service.notifier.NotifyMonitors(ctx, contracts.EventLocationUpdated, locationUpdated(sample)); err != nil {
			service.logger.Warn(ctx, "location_broadcast_failed", "Failed to notify monitors", err,
				map[string]any{"user_id": ident.ID})
		}
	}

	service.logger.Info(ctx, "location_recorded", "Location persisted", map[string]any{
		"user_id":     ident.ID,
		"location_id": stored.ID,
		"broadcast":   live == nil,
	})
	return stored, nil
}
