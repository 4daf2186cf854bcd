package websocket

import (
	"context"
	"net/http"
	"strings"
	"time"

	"fleet-tracking/internal/general/jwt"
	"fleet-tracking/internal/general/logger"
	"fleet-tracking/internal/general/metrics"
	"fleet-tracking/internal/ports"

	"github.com/gorilla/websocket"
)

// Options tunes the channel transport.
type Options struct {
	SendBuffer     int
	PingInterval   time.Duration
	PongWait       time.Duration
	AllowedOrigins []string // empty allows any origin
}

// WebSocket upgrades authenticated requests into tracking sessions.
type WebSocket struct {
	logger   *logger.Logger
	jwtMgr   *jwt.Manager
	handler  ports.ChannelHandler
	upgrader websocket.Upgrader

	sendBuffer   int
	pingInterval time.Duration
	pongWait     time.Duration
}

// NewWebSocket creates the channel endpoint. Authentication happens on the
// HTTP handshake, so a bad credential never reaches the upgrade.
func NewWebSocket(logger *logger.Logger, jwtMgr *jwt.Manager, handler ports.ChannelHandler, opts Options) *WebSocket {
	if opts.SendBuffer < 1 {
		opts.SendBuffer = 64
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.PongWait <= opts.PingInterval {
		opts.PongWait = 2 * opts.PingInterval
	}

	ws := &WebSocket{
		logger:       logger,
		jwtMgr:       jwtMgr,
		handler:      handler,
		sendBuffer:   opts.SendBuffer,
		pingInterval: opts.PingInterval,
		pongWait:     opts.PongWait,
	}
	ws.upgrader = websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: handshakeTimeout,
		CheckOrigin:      originChecker(opts.AllowedOrigins),
	}
	return ws
}

// ServeTracking handles GET /ws/tracking.
func (ws *WebSocket) ServeTracking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// 1) authenticate before upgrading; no session state exists yet
	ident, _, err := ws.jwtMgr.Authenticate(r)
	if err != nil {
		metrics.HandshakeRejections.WithLabelValues("auth").Inc()
		ws.logger.Warn(ctx, "ws_auth_failed", "Rejected tracking handshake", err,
			map[string]any{"remote_addr": r.RemoteAddr})
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write(handshakeErrorBody("authentication failed", err))
		return
	}

	// 2) upgrade HTTP -> WS
	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		metrics.HandshakeRejections.WithLabelValues("upgrade").Inc()
		ws.logger.Warn(ctx, "websocket_upgrade_failed", "Failed to upgrade to WebSocket", err, nil)
		return
	}

	c := newClient(conn, ident, ws.sendBuffer)
	// server shutdown cancels the request ctx; the session then closes cleanly
	stop := context.AfterFunc(ctx, c.Close)
	defer stop()
	ctx = ws.logger.WithConnID(context.WithoutCancel(ctx), c.id)

	c.trackOpen()
	defer c.trackClosed()

	ws.logger.Info(ctx, "ws_connected", "Tracking connection established",
		map[string]any{"user_id": ident.ID, "username": ident.Username})

	// 3) pumps: writer in background, reader on this goroutine
	go c.writePump(ctx, ws)

	ws.handler.Connected(ctx, c)
	c.readPump(ctx, ws, func(frame []byte) {
		ws.handler.Dispatch(ctx, c, frame)
	})
	ws.handler.Disconnected(ctx, c)

	c.Close()
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(strings.ToLower(o), "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := strings.TrimRight(strings.ToLower(r.Header.Get("Origin")), "/")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
