package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"fleet-tracking/internal/domain/tracking"
	"fleet-tracking/internal/general/jwt"

	"github.com/go-playground/validator/v10"
)

// --- Request/response DTOs (HTTP boundary) ---

type recordLocationRequest struct {
	Lat       *float64            `json:"lat" validate:"required,gte=-90,lte=90"`
	Lng       *float64            `json:"lng" validate:"required,gte=-180,lte=180"`
	Velocidad *float64            `json:"velocidad,omitempty"`
	Precision *float64            `json:"precision,omitempty"`
	Timestamp tracking.ClientTime `json:"timestamp"`
}

type locationResponse struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"userId"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Velocidad *float64  `json:"velocidad,omitempty"`
	Precision *float64  `json:"precision,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"createdAt"`
}

type activeDriverResponse struct {
	UserID    int64      `json:"userId"`
	Username  string     `json:"username"`
	Activo    bool       `json:"activo"`
	Lat       *float64   `json:"lat,omitempty"`
	Lng       *float64   `json:"lng,omitempty"`
	Velocidad *float64   `json:"velocidad,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// ----- Handler: POST /api/tracking/ubicacion -----

func (handler *TrackingHTTPHandler) handleRecordLocation(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)

	ident, ok := jwt.IdentityFromContext(r.Context())
	if !ok {
		handler.httpError(ctx, w, http.StatusUnauthorized, "missing auth claims", errors.New("no identity"))
		return
	}

	var req recordLocationRequest
	if !handler.decodeJSON(ctx, w, r, &req, "invalid coordinates") {
		return
	}
	if err := handler.validate.Struct(req); err != nil {
		handler.httpError(ctx, w, http.StatusBadRequest, coordinateProblem(err), err)
		return
	}

	ctxWithTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	stored, err := handler.svc.RecordLocation(ctxWithTimeout, ident, tracking.Report{
		Lat:       req.Lat,
		Lng:       req.Lng,
		Velocidad: req.Velocidad,
		Precision: req.Precision,
		Timestamp: req.Timestamp,
	})
	if err != nil {
		handler.serviceError(ctxWithTimeout, w, err)
		return
	}

	handler.jsonResponse(ctx, w, http.StatusCreated, "Location recorded", locationResponse{
		ID:        stored.ID,
		UserID:    stored.Sample.UserID,
		Lat:       stored.Sample.Point.Latitude,
		Lng:       stored.Sample.Point.Longitude,
		Velocidad: stored.Sample.Speed,
		Precision: stored.Sample.Accuracy,
		Timestamp: stored.Sample.Timestamp,
		CreatedAt: stored.CreatedAt,
	})
}

// coordinateProblem tells a missing coordinate apart from an out-of-range one.
func coordinateProblem(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			if fe.Tag() == "required" {
				return "invalid coordinates"
			}
		}
		return "coordinates out of range"
	}
	return "invalid coordinates"
}

// ----- Handler: GET /api/tracking/activos -----

func (handler *TrackingHTTPHandler) handleActiveDrivers(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)

	ctxWithTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	states, err := handler.svc.ActiveDrivers(ctxWithTimeout)
	if err != nil {
		handler.serviceError(ctxWithTimeout, w, err)
		return
	}

	out := make([]activeDriverResponse, 0, len(states))
	for _, st := range states {
		row := activeDriverResponse{
			UserID:    st.UserID,
			Username:  st.Username,
			Activo:    st.Active,
			UpdatedAt: st.UpdatedAt,
		}
		if loc := st.LastLocation; loc != nil {
			lat, lng, ts := loc.Point.Latitude, loc.Point.Longitude, loc.Timestamp
			row.Lat, row.Lng, row.Velocidad, row.Timestamp = &lat, &lng, loc.Speed, &ts
		}
		out = append(out, row)
	}

	handler.jsonResponse(ctx, w, http.StatusOK, "", out)
}

// ----- Handler: GET /api/tracking/presence -----

func (handler *TrackingHTTPHandler) handlePresence(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)

	entries, err := handler.svc.Presence(ctx)
	if err != nil {
		handler.serviceError(ctx, w, err)
		return
	}
	if entries == nil {
		entries = []tracking.PresenceEntry{}
	}
	handler.jsonResponse(ctx, w, http.StatusOK, "", entries)
}
