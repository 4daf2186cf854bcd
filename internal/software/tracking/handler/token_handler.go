package handler

import (
	"net/http"
	"time"

	"fleet-tracking/internal/domain/user"
)

type tokenRequest struct {
	UserID   int64  `json:"user_id" validate:"required,gt=0"`
	Username string `json:"username" validate:"required,max=100"`
	Rol      string `json:"rol,omitempty" validate:"omitempty,max=30"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username"`
}

// ----- Handler: POST /tokens (development only) -----

func (handler *TrackingHTTPHandler) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)

	var req tokenRequest
	if !handler.decodeJSON(ctx, w, r, &req, "Invalid request body") {
		return
	}
	if err := handler.validate.Struct(req); err != nil {
		handler.httpError(ctx, w, http.StatusBadRequest, "user_id and username are required", err)
		return
	}

	ident, err := user.NewIdentity(req.UserID, req.Username)
	if err != nil {
		handler.httpError(ctx, w, http.StatusBadRequest, "invalid identity", err)
		return
	}
	tokenString, claims, err := handler.auth.IssueUserToken(ident, req.Rol)
	if err != nil {
		handler.httpError(ctx, w, http.StatusInternalServerError, "Failed to generate token", err)
		return
	}

	handler.logger.Info(ctx, "token_generated", "JWT token generated successfully",
		map[string]any{"user_id": req.UserID, "username": req.Username})

	handler.jsonResponse(ctx, w, http.StatusCreated, "", tokenResponse{
		Token:     tokenString,
		ExpiresAt: claims.ExpiresAt.Time,
		UserID:    req.UserID,
		Username:  req.Username,
	})
}
