package tracking

import "time"

// StoredLocation is a persisted sample as returned by the backup write path.
type StoredLocation struct {
	ID        int64
	Sample    Sample
	CreatedAt time.Time
}

// TrackingState is the persisted per-user tracking switch plus the last
// known location. It backs the cold-start roster, not the live one.
type TrackingState struct {
	UserID       int64
	Username     string
	Active       bool
	LastLocation *Sample
	UpdatedAt    time.Time
}
