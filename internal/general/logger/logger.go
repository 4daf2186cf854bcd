package logger

import (
	"context"
	"errors"
	"io"
	"os"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Logger writes single-line JSON entries:
//
//	{"level":"INFO","service":"...","hostname":"...","timestamp":"...","action":"...",
//	 "message":"...","request_id":"...","conn_id":"...","details":{...},"error":{"msg":"...","stack":"..."}}
type Logger struct {
	zl zerolog.Logger
}

var levelOnce sync.Once

// New creates a structured logger for the given service that writes to stdout.
func New(service string) *Logger {
	return NewWithWriter(service, os.Stdout, zerolog.DebugLevel)
}

// NewWithWriter creates a logger writing to w at the given minimum level.
func NewWithWriter(service string, w io.Writer, level zerolog.Level) *Logger {
	levelOnce.Do(func() {
		zerolog.LevelFieldMarshalFunc = func(l zerolog.Level) string {
			return strings.ToUpper(l.String())
		}
	})

	hn, err := os.Hostname()
	if err != nil || strings.TrimSpace(hn) == "" {
		hn = "unknown-hostname"
	}
	if strings.TrimSpace(service) == "" {
		service = "unknown-service"
	}

	zl := zerolog.New(w).Level(level).With().
		Str("service", service).
		Str("hostname", hn).
		Logger()

	return &Logger{zl: zl}
}

// ParseLevel maps a config string to a zerolog level, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Debug writes a DEBUG line with optional details.
func (l *Logger) Debug(ctx context.Context, action, msg string, details any) {
	l.write(ctx, l.zl.Debug(), action, msg, nil, details)
}

// Info writes an INFO line with optional details.
func (l *Logger) Info(ctx context.Context, action, msg string, details any) {
	l.write(ctx, l.zl.Info(), action, msg, nil, details)
}

// Warn writes a WARN line; err may be nil.
func (l *Logger) Warn(ctx context.Context, action, msg string, err error, details any) {
	l.write(ctx, l.zl.Warn(), action, msg, err, details)
}

// Error writes an ERROR line and attaches an error stack trace.
func (l *Logger) Error(ctx context.Context, action, msg string, err error, details any) {
	if err == nil {
		err = errors.New("unknown error")
	}
	l.write(ctx, l.zl.Error(), action, msg, err, details)
}

func (l *Logger) write(ctx context.Context, ev *zerolog.Event, action, msg string, err error, details any) {
	if ev == nil {
		return
	}

	ev = ev.Str("timestamp", nowISO()).Str("action", safeAction(action))
	if id := requestID(ctx); id != "" {
		ev = ev.Str("request_id", id)
	}
	if id := connID(ctx); id != "" {
		ev = ev.Str("conn_id", id)
	}
	if details != nil {
		ev = ev.Interface("details", details)
	}
	if err != nil {
		ev = ev.Dict("error", zerolog.Dict().
			Str("msg", strings.TrimSpace(err.Error())).
			Str("stack", string(debug.Stack())))
	}
	ev.Msg(strings.TrimSpace(msg))
}

// ------------ Context helpers -------------

type ctxKey string

const (
	ctxKeyRequestID ctxKey = "fleet_request_id"
	ctxKeyConnID    ctxKey = "fleet_conn_id"
)

// WithRequestID returns a new context carrying request_id.
func (l *Logger) WithRequestID(ctx context.Context, reqID string) context.Context {
	if strings.TrimSpace(reqID) == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKeyRequestID, reqID)
}

// WithConnID returns a new context carrying the transport session handle.
func (l *Logger) WithConnID(ctx context.Context, connID string) context.Context {
	if strings.TrimSpace(connID) == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKeyConnID, connID)
}

func requestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	s, _ := ctx.Value(ctxKeyRequestID).(string)
	return s
}

func connID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	s, _ := ctx.Value(ctxKeyConnID).(string)
	return s
}

// Nop returns a logger that discards everything. Handy in tests.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func safeAction(a string) string {
	a = strings.TrimSpace(a)
	if a == "" {
		return "unspecified"
	}
	return a
}
