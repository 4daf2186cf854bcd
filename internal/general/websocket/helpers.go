package websocket

import (
	"time"

	"fleet-tracking/internal/general/contracts"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

const (
	writeWait        = 10 * time.Second
	closeAckWindow   = 2 * time.Second
	maxMessageSize   = 64 * 1024
	handshakeTimeout = 10 * time.Second
)

// writeFrame sets a write deadline and writes one text frame.
func writeFrame(conn *websocket.Conn, frame []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// writeClose sends a close control frame with the given code and reason.
func writeClose(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(closeAckWindow),
	)
}

// errorFrame builds a pre-encoded {"type":"error"} frame.
func errorFrame(msg string) []byte {
	b, err := contracts.EncodeFrame(contracts.EventError, contracts.ErrorMessage{Error: msg})
	if err != nil {
		return []byte(`{"type":"error","data":{"error":"internal error"}}`)
	}
	return b
}

type handshakeError struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

func handshakeErrorBody(msg string, err error) []byte {
	e := handshakeError{Message: msg}
	if err != nil {
		e.Error = err.Error()
	}
	b, _ := json.Marshal(e)
	return b
}
