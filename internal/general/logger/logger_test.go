package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lastLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.NotEmpty(t, lines)
	var m map[string]any
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &m))
	return m
}

func TestInfoCarriesContextIDs(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("tracking-gateway", &buf, zerolog.DebugLevel)

	ctx := log.WithConnID(log.WithRequestID(context.Background(), "req-1"), "conn-9")
	log.Info(ctx, "driver_announced", "  driver joined ", map[string]any{"user_id": 7})

	m := lastLine(t, &buf)
	assert.Equal(t, "INFO", m["level"])
	assert.Equal(t, "tracking-gateway", m["service"])
	assert.Equal(t, "driver_announced", m["action"])
	assert.Equal(t, "driver joined", m["message"])
	assert.Equal(t, "req-1", m["request_id"])
	assert.Equal(t, "conn-9", m["conn_id"])
	assert.NotEmpty(t, m["timestamp"])
	assert.Equal(t, float64(7), m["details"].(map[string]any)["user_id"])
}

func TestErrorAttachesErrorObject(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("svc", &buf, zerolog.DebugLevel)

	log.Error(context.Background(), "", "boom", errors.New("disk full"), nil)

	m := lastLine(t, &buf)
	assert.Equal(t, "ERROR", m["level"])
	assert.Equal(t, "unspecified", m["action"])
	e := m["error"].(map[string]any)
	assert.Equal(t, "disk full", e["msg"])
	assert.NotEmpty(t, e["stack"])

	log.Error(context.Background(), "x", "nil err", nil, nil)
	assert.Equal(t, "unknown error", lastLine(t, &buf)["error"].(map[string]any)["msg"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("svc", &buf, ParseLevel("warn"))

	log.Debug(context.Background(), "a", "hidden", nil)
	log.Info(context.Background(), "b", "hidden", nil)
	assert.Zero(t, buf.Len())

	log.Warn(context.Background(), "c", "shown", nil, nil)
	assert.Equal(t, "WARN", lastLine(t, &buf)["level"])

	assert.Equal(t, zerolog.InfoLevel, ParseLevel("nonsense"))
}
