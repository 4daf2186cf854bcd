package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"fleet-tracking/internal/domain/user"
	"fleet-tracking/internal/general/jwt"
	"fleet-tracking/internal/general/logger"
	"fleet-tracking/internal/ports"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoHandler records lifecycle calls and echoes every frame back.
type echoHandler struct {
	mu           sync.Mutex
	connected    []ports.Session
	disconnected chan ports.Session
}

func newEchoHandler() *echoHandler {
	return &echoHandler{disconnected: make(chan ports.Session, 1)}
}

func (h *echoHandler) Connected(_ context.Context, s ports.Session) {
	h.mu.Lock()
	h.connected = append(h.connected, s)
	h.mu.Unlock()
}

func (h *echoHandler) Dispatch(_ context.Context, s ports.Session, frame []byte) {
	s.Send(frame)
}

func (h *echoHandler) Disconnected(_ context.Context, s ports.Session) {
	h.disconnected <- s
}

func newTestServer(t *testing.T, mgr *jwt.Manager, h ports.ChannelHandler) *httptest.Server {
	t.Helper()
	ws := NewWebSocket(logger.Nop(), mgr, h, Options{SendBuffer: 4})
	srv := httptest.NewServer(http.HandlerFunc(ws.ServeTracking))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server, token string) string {
	u := "ws" + strings.TrimPrefix(srv.URL, "http")
	if token != "" {
		u += "?token=" + token
	}
	return u
}

func TestHandshakeRejectsMissingToken(t *testing.T) {
	mgr := jwt.NewManager("secret", time.Hour)
	srv := newTestServer(t, mgr, newEchoHandler())

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandshakeRejectsExpiredToken(t *testing.T) {
	issuer := jwt.NewManager("secret", -time.Minute)
	tok, _, err := issuer.IssueUserToken(user.Identity{ID: 7, Username: "carlos"}, "DRIVER")
	require.NoError(t, err)

	h := newEchoHandler()
	srv := newTestServer(t, jwt.NewManager("secret", time.Hour), h)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, tok), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Empty(t, h.connected)
}

func TestSessionLifecycle(t *testing.T) {
	mgr := jwt.NewManager("secret", time.Hour)
	tok, _, err := mgr.IssueUserToken(user.Identity{ID: 7, Username: "carlos"}, "DRIVER")
	require.NoError(t, err)

	h := newEchoHandler()
	srv := newTestServer(t, mgr, h)

	header := http.Header{"Authorization": []string{"Bearer " + tok}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), header)
	require.NoError(t, err)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, got, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ping"}`, string(got))

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0x01}))
	_, got, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(got), `"type":"error"`)

	_ = conn.Close()

	select {
	case s := <-h.disconnected:
		assert.Equal(t, int64(7), s.Identity().ID)
		assert.NotEmpty(t, s.ID())
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect not observed")
	}
}

func TestClientSendNeverBlocks(t *testing.T) {
	c := newClient(nil, user.Identity{ID: 1, Username: "a"}, 1)
	assert.True(t, c.Send([]byte("1")))
	assert.False(t, c.Send([]byte("2")))

	c.Close()
	c.Close()
	assert.False(t, c.Send([]byte("3")))
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://pos.example.com/"})

	r := httptest.NewRequest(http.MethodGet, "/ws/tracking", nil)
	assert.True(t, check(r))

	r.Header.Set("Origin", "https://POS.example.com")
	assert.True(t, check(r))

	r.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, check(r))
}
