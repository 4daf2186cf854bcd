package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"fleet-tracking/internal/domain/geo"
	"fleet-tracking/internal/general/jwt"
	"fleet-tracking/internal/general/logger"
	"fleet-tracking/internal/general/metrics"
	"fleet-tracking/internal/ports"
	"fleet-tracking/internal/software/tracking/service"

	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const maxBodyBytes = 1 << 20 // 1 MiB

// Options switches optional surfaces.
type Options struct {
	RateLimit      int // requests per minute per client IP; 0 disables
	AllowDevTokens bool
}

// TrackingHTTPHandler adapts HTTP requests to the TrackingService and mounts the channel endpoint.
type TrackingHTTPHandler struct {
	svc      ports.TrackingService
	logger   *logger.Logger
	auth     *jwt.Manager
	channel  http.HandlerFunc
	validate *validator.Validate
	opts     Options
}

// NewTrackingHTTPHandler wires the REST surface. channel serves GET /ws/tracking.
func NewTrackingHTTPHandler(
	svc ports.TrackingService,
	logger *logger.Logger,
	auth *jwt.Manager,
	channel http.HandlerFunc,
	opts Options,
) *TrackingHTTPHandler {
	return &TrackingHTTPHandler{
		svc:      svc,
		logger:   logger,
		auth:     auth,
		channel:  channel,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		opts:     opts,
	}
}

// RegisterRoutes mounts tracking endpoints on the provided mux.
func (handler *TrackingHTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	authed := jwt.AuthMiddlewareFunc(handler.auth)

	mux.Handle("POST /api/tracking/ubicacion", handler.limited(authed(handler.handleRecordLocation)))
	mux.Handle("GET /api/tracking/activos", handler.limited(authed(handler.handleActiveDrivers)))
	mux.Handle("PUT /api/tracking/estado", handler.limited(authed(handler.handleSetTrackingState)))
	mux.Handle("GET /api/tracking/presence", handler.limited(authed(handler.handlePresence)))

	// channel authenticates on the handshake itself
	if handler.channel != nil {
		mux.HandleFunc("GET /ws/tracking", handler.channel)
	}

	if handler.opts.AllowDevTokens {
		mux.Handle("POST /tokens", handler.limited(handler.handleCreateToken))
	}

	mux.HandleFunc("GET /health", handler.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
}

func (handler *TrackingHTTPHandler) limited(h http.HandlerFunc) http.Handler {
	if handler.opts.RateLimit <= 0 {
		return h
	}
	return httprate.LimitByIP(handler.opts.RateLimit, time.Minute)(h)
}

// ----- general helpers -----

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// jsonResponse wraps data in the success envelope.
func (handler *TrackingHTTPHandler) jsonResponse(ctx context.Context, w http.ResponseWriter, status int, msg string, data any) {
	handler.writeJSON(ctx, w, status, envelope{Success: true, Message: msg, Data: data})
}

func (handler *TrackingHTTPHandler) writeJSON(ctx context.Context, w http.ResponseWriter, status int, body any) {
	// encode to buffer first so we can control status on failure
	buf, err := json.Marshal(body)
	if err != nil {
		handler.logger.Error(ctx, "response_encode_failed", "Failed to encode response", err, nil)
		http.Error(w, `{"success":false,"message":"failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf)
}

// httpError sends a JSON error envelope.
func (handler *TrackingHTTPHandler) httpError(ctx context.Context, w http.ResponseWriter, status int, msg string, err error) {
	action := "request_failed"
	switch {
	case status >= 500:
		action = "http_internal_error"
	case status == http.StatusBadRequest:
		action = "validation_failed"
	case status == http.StatusUnsupportedMediaType:
		action = "unsupported_media_type"
	}
	if status >= 500 {
		handler.logger.Error(ctx, action, msg, err, nil)
	} else {
		handler.logger.Warn(ctx, action, msg, err, nil)
	}

	body := envelope{Success: false, Message: msg}
	if err != nil {
		body.Error = err.Error()
	}
	handler.writeJSON(ctx, w, status, body)
}

// serviceError maps service failures to HTTP statuses.
func (handler *TrackingHTTPHandler) serviceError(ctx context.Context, w http.ResponseWriter, err error) {
	var pgErr *pgconn.PgError
	switch {
	case errors.Is(err, geo.ErrMissingCoordinate):
		handler.httpError(ctx, w, http.StatusBadRequest, "invalid coordinates", err)
	case geo.IsRangeError(err):
		handler.httpError(ctx, w, http.StatusBadRequest, "coordinates out of range", err)
	case errors.Is(err, service.ErrPersistenceDisabled), errors.Is(err, ports.ErrStoreUnavailable):
		handler.httpError(ctx, w, http.StatusServiceUnavailable, "storage unavailable", err)
	case errors.Is(err, context.DeadlineExceeded):
		handler.httpError(ctx, w, http.StatusGatewayTimeout, "request timed out", err)
	case errors.As(err, &pgErr):
		handler.httpError(ctx, w, http.StatusInternalServerError, "database error", err)
	default:
		handler.httpError(ctx, w, http.StatusInternalServerError, "internal error", err)
	}
}

// decodeJSON enforces content type, body size and strict decoding.
// It reports false after writing the error response.
func (handler *TrackingHTTPHandler) decodeJSON(ctx context.Context, w http.ResponseWriter, r *http.Request, dst any, badBody string) bool {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		handler.httpError(ctx, w, http.StatusUnsupportedMediaType, "Content-Type must be application/json", nil)
		return false
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			handler.httpError(ctx, w, http.StatusRequestEntityTooLarge, "request body too large", err)
			return false
		}
		handler.httpError(ctx, w, http.StatusBadRequest, badBody, err)
		return false
	}
	return true
}

// withReqID extracts or generates a request ID and adds it to the context.
func (handler *TrackingHTTPHandler) withReqID(ctx context.Context, r *http.Request) context.Context {
	reqID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
	if reqID == "" {
		reqID = uuid.NewString()
	}
	return handler.logger.WithRequestID(ctx, reqID)
}
