package service

import (
	"context"

	"fleet-tracking/internal/domain/tracking"
	"fleet-tracking/internal/domain/user"
	"fleet-tracking/internal/general/contracts"
)

// SetTrackingState persists the user's tracking switch and tells monitors.
func (service *trackingService) SetTrackingState(ctx context.Context, ident user.Identity, active bool) (tracking.TrackingState, error) {
	if !service.persistenceEnabled() {
		return tracking.TrackingState{}, ErrPersistenceDisabled
	}
	if err := ident.Validate(); err != nil {
		return tracking.TrackingState{}, err
	}

	now := service.now().UTC()
	var state tracking.TrackingState
	err := service.uow.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		state, err = service.repo.SetTrackingActive(ctx, ident.ID, ident.Username, active, now)
		return err
	})
	if err != nil {
		service.logger.Error(ctx, "tracking_state_failed", "Failed to update tracking state", err, map[string]any{
			"user_id": ident.ID,
			"active":  active,
		})
		return tracking.TrackingState{}, err
	}

	event := contracts.EventTrackingDeactivated
	if active {
		event = contracts.EventTrackingActivated
	}
	if service.notifier != nil {
		payload := contracts.TrackingToggled{
			UserID:    ident.ID,
			Username:  ident.Username,
			Activo:    active,
			Timestamp: now,
		}
		if err := service.notifier.NotifyMonitors(ctx, event, payload); err != nil {
			service.logger.Warn(ctx, "tracking_state_broadcast_failed", "Failed to notify monitors", err,
				map[string]any{"user_id": ident.ID})
		}
	}

	service.logger.Info(ctx, "tracking_state_changed", "Tracking state updated", map[string]any{
		"user_id": ident.ID,
		"active":  active,
	})
	return state, nil
}
