package ports

import (
	"context"

	"fleet-tracking/internal/domain/tracking"
	"fleet-tracking/internal/domain/user"
)

// TrackingService is the REST-facing side of the tracking core.
type TrackingService interface {
	// RecordLocation is the backup write path: validate, persist, and notify
	// monitors when the driver has no live channel.
	RecordLocation(ctx context.Context, ident user.Identity, report tracking.Report) (tracking.StoredLocation, error)
	ActiveDrivers(ctx context.Context) ([]tracking.TrackingState, error)
	SetTrackingState(ctx context.Context, ident user.Identity, active bool) (tracking.TrackingState, error)
	Presence(ctx context.Context) ([]tracking.PresenceEntry, error)
}
