package contracts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeFrameShape(t *testing.T) {
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	b, err := EncodeFrame(EventDriverNew, DriverNew{UserID: 7, Username: "carlos", ConnectedAt: at})
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"type":"driver-new","data":{"userId":7,"username":"carlos","connectedAt":"2025-01-01T00:00:00Z"}}`,
		string(b))

	b, err = EncodeFrame(EventDriverAnnounce, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"driver-announce"}`, string(b))
}

func TestDecodeFrame(t *testing.T) {
	f, err := DecodeFrame([]byte(`{"type":"location-report","data":{"lat":1,"lng":2}}`))
	require.NoError(t, err)
	assert.Equal(t, EventLocationReport, f.Type)
	assert.JSONEq(t, `{"lat":1,"lng":2}`, string(f.Data))

	_, err = DecodeFrame([]byte(`{not json`))
	assert.Error(t, err)
}

func TestLocationUpdatedOmitsAbsentSpeed(t *testing.T) {
	b, err := EncodeFrame(EventLocationUpdated, LocationUpdated{UserID: 1, Username: "a", Lat: 1, Lng: 2})
	require.NoError(t, err)
	assert.NotContains(t, string(b), "velocidad")
}
