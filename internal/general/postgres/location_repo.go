package postgres

import (
	"context"
	"time"

	"fleet-tracking/internal/domain/geo"
	"fleet-tracking/internal/domain/tracking"
	"fleet-tracking/internal/ports"
)

// LocationRepo persists tracking samples and per-user tracking state using pgx and plain SQL.
type LocationRepo struct{}

// NewLocationRepo constructs a new LocationRepo.
func NewLocationRepo() ports.LocationRepository {
	return &LocationRepo{}
}

// SaveSample inserts one location row and points the user's tracking state at it.
// Saving a sample implies the user is tracking, so the state is (re)activated.
func (repo *LocationRepo) SaveSample(ctx context.Context, s tracking.Sample) (tracking.StoredLocation, error) {
	tx, err := currentTx(ctx)
	if err != nil {
		return tracking.StoredLocation{}, err
	}

	if err := s.Point.Validate(); err != nil {
		return tracking.StoredLocation{}, err
	}

	out := tracking.StoredLocation{Sample: s}
	err = tx.QueryRow(ctx, `
		INSERT INTO tracking_locations (user_id, latitude, longitude, velocidad, precision_metros, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`,
		s.UserID,
		s.Point.Latitude,
		s.Point.Longitude,
		s.Speed,
		s.Accuracy,
		s.Timestamp,
	).Scan(&out.ID, &out.CreatedAt)
	if err != nil {
		return tracking.StoredLocation{}, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO tracking_state (user_id, username, activo, last_location_id, updated_at)
		VALUES ($1, $2, TRUE, $3, now())
		ON CONFLICT (user_id) DO UPDATE
		SET username = EXCLUDED.username,
		    activo = TRUE,
		    last_location_id = EXCLUDED.last_location_id,
		    updated_at = now()
	`, s.UserID, s.Username, out.ID)
	if err != nil {
		return tracking.StoredLocation{}, err
	}

	return out, nil
}

// SetTrackingActive flips the user's tracking switch, creating the state row on first use.
func (repo *LocationRepo) SetTrackingActive(ctx context.Context, userID int64, username string, active bool, at time.Time) (tracking.TrackingState, error) {
	tx, err := currentTx(ctx)
	if err != nil {
		return tracking.TrackingState{}, err
	}

	st := tracking.TrackingState{UserID: userID}
	err = tx.QueryRow(ctx, `
		INSERT INTO tracking_state (user_id, username, activo, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET username = EXCLUDED.username,
		    activo = EXCLUDED.activo,
		    updated_at = EXCLUDED.updated_at
		RETURNING username, activo, updated_at
	`, userID, username, active, at.UTC()).Scan(&st.Username, &st.Active, &st.UpdatedAt)
	if err != nil {
		return tracking.TrackingState{}, err
	}

	return st, nil
}

// ActiveUsers lists users whose tracking switch is on, with their last known location.
func (repo *LocationRepo) ActiveUsers(ctx context.Context) ([]tracking.TrackingState, error) {
	tx, err := currentTx(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
		SELECT s.user_id, s.username, s.activo, s.updated_at,
		       l.latitude, l.longitude, l.velocidad, l.precision_metros, l.recorded_at
		FROM tracking_state s
		LEFT JOIN tracking_locations l ON l.id = s.last_location_id
		WHERE s.activo
		ORDER BY s.username, s.user_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []tracking.TrackingState
	for rows.Next() {
		var (
			st         tracking.TrackingState
			lat, lng   *float64
			speed, acc *float64
			recordedAt *time.Time
		)
		if err := rows.Scan(&st.UserID, &st.Username, &st.Active, &st.UpdatedAt,
			&lat, &lng, &speed, &acc, &recordedAt); err != nil {
			return nil, err
		}
		if lat != nil && lng != nil && recordedAt != nil {
			st.LastLocation = &tracking.Sample{
				UserID:    st.UserID,
				Username:  st.Username,
				Point:     geo.Point{Latitude: *lat, Longitude: *lng},
				Speed:     speed,
				Accuracy:  acc,
				Timestamp: recordedAt.UTC(),
			}
		}
		out = append(out, st)
	}

	return out, rows.Err()
}
