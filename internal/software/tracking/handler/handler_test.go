package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fleet-tracking/internal/domain/geo"
	"fleet-tracking/internal/domain/tracking"
	"fleet-tracking/internal/domain/user"
	"fleet-tracking/internal/general/jwt"
	"fleet-tracking/internal/general/logger"
	"fleet-tracking/internal/software/tracking/service"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubService struct {
	recorded []tracking.Report
	who      []user.Identity
	toggles  []bool
	err      error
}

func (s *stubService) RecordLocation(_ context.Context, ident user.Identity, r tracking.Report) (tracking.StoredLocation, error) {
	if s.err != nil {
		return tracking.StoredLocation{}, s.err
	}
	sample, err := tracking.NewSample(ident, r, time.Now(), time.Minute)
	if err != nil {
		return tracking.StoredLocation{}, err
	}
	s.recorded = append(s.recorded, r)
	s.who = append(s.who, ident)
	return tracking.StoredLocation{ID: 41, Sample: sample, CreatedAt: time.Now()}, nil
}

func (s *stubService) ActiveDrivers(context.Context) ([]tracking.TrackingState, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []tracking.TrackingState{
		{UserID: 7, Username: "Carlos", Active: true, LastLocation: &tracking.Sample{Point: geo.Point{Latitude: -25.2637, Longitude: -57.5759}}},
		{UserID: 8, Username: "Ana", Active: true},
	}, nil
}

func (s *stubService) SetTrackingState(_ context.Context, ident user.Identity, active bool) (tracking.TrackingState, error) {
	if s.err != nil {
		return tracking.TrackingState{}, s.err
	}
	s.toggles = append(s.toggles, active)
	return tracking.TrackingState{UserID: ident.ID, Username: ident.Username, Active: active}, nil
}

func (s *stubService) Presence(context.Context) ([]tracking.PresenceEntry, error) {
	return nil, s.err
}

type testEnv struct {
	mux   *http.ServeMux
	svc   *stubService
	token string
}

func newEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	mgr := jwt.NewManager("secret", time.Hour)
	tok, _, err := mgr.IssueUserToken(user.Identity{ID: 7, Username: "Carlos"}, "chofer")
	require.NoError(t, err)

	svc := &stubService{}
	mux := http.NewServeMux()
	NewTrackingHTTPHandler(svc, logger.Nop(), mgr, nil, opts).RegisterRoutes(mux)
	return &testEnv{mux: mux, svc: svc, token: tok}
}

func (e *testEnv) do(method, path, body string, authed bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestRecordLocation(t *testing.T) {
	e := newEnv(t, Options{})

	rec := e.do(http.MethodPost, "/api/tracking/ubicacion", `{"lat":-25.2637,"lng":-57.5759,"velocidad":22.5}`, true)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	env := decodeEnvelope(t, rec)
	assert.True(t, env.Success)
	data := env.Data.(map[string]any)
	assert.EqualValues(t, 41, data["id"])
	assert.EqualValues(t, 7, data["userId"])
	assert.EqualValues(t, 22.5, data["velocidad"])

	require.Len(t, e.svc.who, 1)
	assert.Equal(t, int64(7), e.svc.who[0].ID)
}

func TestRecordLocationValidation(t *testing.T) {
	cases := []struct {
		name, body, message string
		status              int
	}{
		{"missing lat", `{"lng":1}`, "invalid coordinates", http.StatusBadRequest},
		{"non numeric", `{"lat":"x","lng":1}`, "invalid coordinates", http.StatusBadRequest},
		{"lat out of range", `{"lat":-90.5,"lng":1}`, "coordinates out of range", http.StatusBadRequest},
		{"lng out of range", `{"lat":0,"lng":181}`, "coordinates out of range", http.StatusBadRequest},
		{"unknown field", `{"lat":0,"lng":1,"userId":99}`, "invalid coordinates", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv(t, Options{})
			rec := e.do(http.MethodPost, "/api/tracking/ubicacion", tc.body, true)
			assert.Equal(t, tc.status, rec.Code)
			env := decodeEnvelope(t, rec)
			assert.False(t, env.Success)
			assert.Equal(t, tc.message, env.Message)
			assert.Empty(t, e.svc.recorded)
		})
	}
}

func TestRecordLocationRequiresJSON(t *testing.T) {
	e := newEnv(t, Options{})
	req := httptest.NewRequest(http.MethodPost, "/api/tracking/ubicacion", strings.NewReader("lat=1"))
	req.Header.Set("Authorization", "Bearer "+e.token)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	e := newEnv(t, Options{})

	rec := e.do(http.MethodGet, "/api/tracking/activos", "", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, decodeEnvelope(t, rec).Success)
}

func TestActiveDrivers(t *testing.T) {
	e := newEnv(t, Options{})

	rec := e.do(http.MethodGet, "/api/tracking/activos", "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	rows := decodeEnvelope(t, rec).Data.([]any)
	require.Len(t, rows, 2)
	first := rows[0].(map[string]any)
	assert.EqualValues(t, -25.2637, first["lat"])
	second := rows[1].(map[string]any)
	_, hasLat := second["lat"]
	assert.False(t, hasLat)
}

func TestSetTrackingState(t *testing.T) {
	e := newEnv(t, Options{})

	rec := e.do(http.MethodPut, "/api/tracking/estado", `{"activo":false}`, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Tracking deactivated", decodeEnvelope(t, rec).Message)
	assert.Equal(t, []bool{false}, e.svc.toggles)

	rec = e.do(http.MethodPut, "/api/tracking/estado", `{}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPersistenceDisabledIs503(t *testing.T) {
	e := newEnv(t, Options{})
	e.svc.err = service.ErrPersistenceDisabled

	rec := e.do(http.MethodGet, "/api/tracking/activos", "", true)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPresenceReturnsArray(t *testing.T) {
	e := newEnv(t, Options{})

	rec := e.do(http.MethodGet, "/api/tracking/presence", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.True(t, env.Success)
	if env.Data != nil {
		assert.Empty(t, env.Data)
	}
}

func TestDevTokensAreOptIn(t *testing.T) {
	body := `{"user_id":7,"username":"Carlos"}`

	off := newEnv(t, Options{})
	assert.Equal(t, http.StatusNotFound, off.do(http.MethodPost, "/tokens", body, false).Code)

	on := newEnv(t, Options{AllowDevTokens: true})
	rec := on.do(http.MethodPost, "/tokens", body, false)
	require.Equal(t, http.StatusCreated, rec.Code)
	data := decodeEnvelope(t, rec).Data.(map[string]any)
	assert.NotEmpty(t, data["token"])

	rec = on.do(http.MethodPost, "/tokens", `{"username":"x"}`, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimit(t *testing.T) {
	e := newEnv(t, Options{RateLimit: 2})

	codes := make([]int, 0, 3)
	for range 3 {
		codes = append(codes, e.do(http.MethodGet, "/api/tracking/activos", "", true).Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestHealthAndMetrics(t *testing.T) {
	e := newEnv(t, Options{})

	rec := e.do(http.MethodGet, "/health", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = e.do(http.MethodGet, "/metrics", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tracking_")
}
