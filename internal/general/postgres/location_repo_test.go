package postgres

import (
	"context"
	"io/fs"
	"testing"
	"time"

	"fleet-tracking/internal/domain/geo"
	"fleet-tracking/internal/domain/tracking"
	"fleet-tracking/internal/general/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepoRequiresTransaction(t *testing.T) {
	repo := NewLocationRepo()
	ctx := context.Background()

	_, err := repo.SaveSample(ctx, tracking.Sample{UserID: 1, Point: geo.Point{Latitude: 1, Longitude: 1}})
	assert.ErrorIs(t, err, ErrNoTx)

	_, err = repo.SetTrackingActive(ctx, 1, "ana", true, time.Now())
	assert.ErrorIs(t, err, ErrNoTx)

	_, err = repo.ActiveUsers(ctx)
	assert.ErrorIs(t, err, ErrNoTx)
}

func TestDSN(t *testing.T) {
	dsn := DSN(config.DatabaseConfig{Host: "db", Port: 5433, User: "pos", Password: "p@ss", Name: "pos"})
	assert.Equal(t, "postgres://pos:p%40ss@db:5433/pos?sslmode=disable", dsn)
}

func TestMigrationsEmbedded(t *testing.T) {
	files, err := fs.Glob(migrationsFS, "migrations/*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	body, err := fs.ReadFile(migrationsFS, files[0])
	require.NoError(t, err)
	assert.Contains(t, string(body), "-- +goose Up")
	assert.Contains(t, string(body), "tracking_state")
}
