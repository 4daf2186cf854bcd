package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"fleet-tracking/internal/general/jwt"
)

type trackingStateRequest struct {
	Activo *bool `json:"activo" validate:"required"`
}

type trackingStateResponse struct {
	UserID    int64     `json:"userId"`
	Username  string    `json:"username"`
	Activo    bool      `json:"activo"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ----- Handler: PUT /api/tracking/estado -----

func (handler *TrackingHTTPHandler) handleSetTrackingState(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)

	ident, ok := jwt.IdentityFromContext(r.Context())
	if !ok {
		handler.httpError(ctx, w, http.StatusUnauthorized, "missing auth claims", errors.New("no identity"))
		return
	}

	var req trackingStateRequest
	if !handler.decodeJSON(ctx, w, r, &req, "invalid JSON body") {
		return
	}
	if err := handler.validate.Struct(req); err != nil {
		handler.httpError(ctx, w, http.StatusBadRequest, "activo is required", err)
		return
	}

	ctxWithTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	st, err := handler.svc.SetTrackingState(ctxWithTimeout, ident, *req.Activo)
	if err != nil {
		handler.serviceError(ctxWithTimeout, w, err)
		return
	}

	msg := "Tracking deactivated"
	if st.Active {
		msg = "Tracking activated"
	}
	handler.jsonResponse(ctx, w, http.StatusOK, msg, trackingStateResponse{
		UserID:    st.UserID,
		Username:  st.Username,
		Activo:    st.Active,
		UpdatedAt: st.UpdatedAt,
	})
}
