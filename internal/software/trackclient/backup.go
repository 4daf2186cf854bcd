package trackclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"fleet-tracking/internal/domain/tracking"
	"fleet-tracking/internal/general/logger"

	json "github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
)

// LastKnown is one row of GET /api/tracking/activos.
type LastKnown struct {
	UserID    int64      `json:"userId"`
	Username  string     `json:"username"`
	Activo    bool       `json:"activo"`
	Lat       *float64   `json:"lat,omitempty"`
	Lng       *float64   `json:"lng,omitempty"`
	Velocidad *float64   `json:"velocidad,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// APIError is a non-2xx answer from the REST API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tracking api: %d %s", e.Status, e.Message)
}

type apiEnvelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// BackupWriter talks to the REST persistence endpoints. Calls go through a
// circuit breaker so an unavailable API does not stall the producer loop.
type BackupWriter struct {
	baseURL string
	token   string
	http    *http.Client
	cb      *gobreaker.CircuitBreaker[[]byte]
	logger  *logger.Logger
}

func NewBackupWriter(baseURL, token string, client *http.Client, log *logger.Logger) *BackupWriter {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}

	b := &BackupWriter{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    client,
		logger:  log,
	}
	b.cb = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "tracking-backup",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		IsSuccessful: func(err error) bool {
			// client errors mean the API is up
			var apiErr *APIError
			return err == nil || (errors.As(err, &apiErr) && apiErr.Status < 500)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn(context.Background(), "breaker_state_changed", "Backup circuit breaker changed state", nil,
				map[string]any{"breaker": name, "from": from.String(), "to": to.String()})
		},
	})
	return b
}

// BreakerState is the current breaker state name.
func (b *BackupWriter) BreakerState() string { return b.cb.State().String() }

// RecordLocation posts one sample to POST /api/tracking/ubicacion.
func (b *BackupWriter) RecordLocation(ctx context.Context, r tracking.Report) error {
	body := map[string]any{"lat": r.Lat, "lng": r.Lng}
	if r.Velocidad != nil {
		body["velocidad"] = *r.Velocidad
	}
	if r.Precision != nil {
		body["precision"] = *r.Precision
	}
	if !r.Timestamp.IsZero() {
		body["timestamp"] = r.Timestamp
	}
	_, err := b.call(ctx, http.MethodPost, "/api/tracking/ubicacion", body)
	return err
}

// SetTracking calls PUT /api/tracking/estado.
func (b *BackupWriter) SetTracking(ctx context.Context, active bool) error {
	_, err := b.call(ctx, http.MethodPut, "/api/tracking/estado", map[string]bool{"activo": active})
	return err
}

// ActiveDrivers reads the cold-start roster.
func (b *BackupWriter) ActiveDrivers(ctx context.Context) ([]LastKnown, error) {
	data, err := b.call(ctx, http.MethodGet, "/api/tracking/activos", nil)
	if err != nil {
		return nil, err
	}
	var rows []LastKnown
	if len(data) > 0 {
		if err := json.Unmarshal(data, &rows); err != nil {
			return nil, fmt.Errorf("decode active drivers: %w", err)
		}
	}
	return rows, nil
}

func (b *BackupWriter) call(ctx context.Context, method, path string, payload any) ([]byte, error) {
	return b.cb.Execute(func() ([]byte, error) {
		var body io.Reader
		if payload != nil {
			buf, err := json.Marshal(payload)
			if err != nil {
				return nil, err
			}
			body = bytes.NewReader(buf)
		}

		req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, body)
		if err != nil {
			return nil, err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Authorization", "Bearer "+b.token)

		resp, err := b.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, err
		}

		var env apiEnvelope
		_ = json.Unmarshal(raw, &env)
		if resp.StatusCode >= 300 {
			msg := env.Message
			if msg == "" {
				msg = http.StatusText(resp.StatusCode)
			}
			return nil, &APIError{Status: resp.StatusCode, Message: msg}
		}
		return env.Data, nil
	})
}
