package ports

import (
	"context"
	"errors"
	"time"

	"fleet-tracking/internal/domain/tracking"
)

var ErrStoreUnavailable = errors.New("store unavailable")

// UnitOfWork interface is used to manage transactions across multiple repository operations.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// PresenceRegistry stores the live driver roster, keyed by user id.
type PresenceRegistry interface {
	// Put stores entry, replacing any entry for the same user. The replaced entry is returned.
	Put(ctx context.Context, entry tracking.PresenceEntry) (*tracking.PresenceEntry, error)
	// Remove deletes the user's entry only if it is still owned by sessionID.
	Remove(ctx context.Context, userID int64, sessionID string) (*tracking.PresenceEntry, error)
	// Touch renews the entry's lease, restoring it if it lapsed. It reports false,
	// changing nothing, when another session owns the user.
	Touch(ctx context.Context, entry tracking.PresenceEntry) (bool, error)
	Get(ctx context.Context, userID int64) (*tracking.PresenceEntry, error)
	// List returns all entries ordered by connection time.
	List(ctx context.Context) ([]tracking.PresenceEntry, error)
}

// LocationRepository persists samples and per-user tracking state.
// Calls must run inside UnitOfWork.WithinTx.
type LocationRepository interface {
	SaveSample(ctx context.Context, s tracking.Sample) (tracking.StoredLocation, error)
	SetTrackingActive(ctx context.Context, userID int64, username string, active bool, at time.Time) (tracking.TrackingState, error)
	ActiveUsers(ctx context.Context) ([]tracking.TrackingState, error)
}

// SampleSink receives accepted samples off the live path.
type SampleSink interface {
	Name() string
	Consume(ctx context.Context, s tracking.Sample) error
}

// EventPublisher publishes raw bodies to a broker exchange.
type EventPublisher interface {
	Publish(exchange, routingKey string, body []byte) error
}

// PresenceSink observes roster transitions off the live path.
type PresenceSink interface {
	Name() string
	PresenceChanged(ctx context.Context, entry tracking.PresenceEntry, online bool) error
}
