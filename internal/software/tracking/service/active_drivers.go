package service

import (
	"context"

	"fleet-tracking/internal/domain/tracking"
)

// ActiveDrivers returns users whose tracking switch is on, with their last
// persisted location. Clients use it as a cold-start roster before the channel connects.
func (service *trackingService) ActiveDrivers(ctx context.Context) ([]tracking.TrackingState, error) {
	if !service.persistenceEnabled() {
		return nil, ErrPersistenceDisabled
	}

	var out []tracking.TrackingState
	err := service.uow.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		out, err = service.repo.ActiveUsers(ctx)
		return err
	})
	if err != nil {
		service.logger.Error(ctx, "active_drivers_failed", "Failed to load active drivers", err, nil)
		return nil, err
	}
	return out, nil
}

// Presence returns the live driver roster.
func (service *trackingService) Presence(ctx context.Context) ([]tracking.PresenceEntry, error) {
	entries, err := service.presence.List(ctx)
	if err != nil {
		service.logger.Error(ctx, "presence_list_failed", "Failed to read presence registry", err, nil)
		return nil, err
	}
	return entries, nil
}
