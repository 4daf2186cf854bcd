package trackclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fleet-tracking/internal/general/contracts"
	"fleet-tracking/internal/general/logger"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor, tick = 2 * time.Second, 5 * time.Millisecond

func newTestChannel(d *scriptedDialer, s *sleepRecorder) *Channel {
	return NewChannel(ChannelOptions{
		URL:      "ws://tracking.test/ws/tracking",
		Token:    "tok",
		Attempts: 5,
		MinDelay: time.Second,
		MaxDelay: 5 * time.Second,
		Dialer:   d,
		Sleep:    s.Sleep,
	}, logger.Nop())
}

func TestBackoffSchedule(t *testing.T) {
	var got []time.Duration
	for n := 1; n <= 6; n++ {
		got = append(got, Backoff(n, time.Second, 5*time.Second))
	}
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second, 5 * time.Second,
	}, got)
}

func TestReconnectAfterFailuresResetsCounter(t *testing.T) {
	d, s := &scriptedDialer{}, &sleepRecorder{}
	first := newFakeConn()
	d.queue(nil, nil, nil, first)

	ch := newTestChannel(d, s)
	t.Cleanup(ch.Disconnect)
	ch.Connect(context.Background())

	require.Eventually(t, ch.Connected, waitFor, tick)
	assert.Equal(t, 0, ch.Attempts())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, s.recorded())
	assert.Equal(t, "Bearer tok", d.headers[0].Get("Authorization"))

	// next failure sequence starts from the first delay again
	second := newFakeConn()
	d.queue(nil, second)
	_ = first.Close()

	require.Eventually(t, func() bool {
		return len(s.recorded()) == 4 && ch.Connected()
	}, waitFor, tick)
	assert.Equal(t, time.Second, s.recorded()[3])
	assert.Equal(t, 0, ch.Attempts())
	assert.NoError(t, ch.LastError())
}

func TestGivesUpAfterMaxAttemptsThenRetry(t *testing.T) {
	d, s := &scriptedDialer{}, &sleepRecorder{}
	ch := newTestChannel(d, s)
	t.Cleanup(ch.Disconnect)

	var states []State
	statesCh := make(chan State, 32)
	ch.OnStateChange(func(st State) { statesCh <- st })

	ch.Connect(context.Background())
	require.Eventually(t, func() bool { return ch.State() == StateError }, waitFor, tick)
	ch.Wait()

	assert.Equal(t, 5, ch.Attempts())
	assert.ErrorIs(t, ch.LastError(), errDial)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second}, s.recorded())
	assert.ErrorIs(t, ch.Emit(contracts.EventLocationReport, nil), ErrNotConnected)

	d.queue(newFakeConn())
	ch.Retry(context.Background())
	require.Eventually(t, ch.Connected, waitFor, tick)
	assert.Equal(t, 0, ch.Attempts())

	require.Eventually(t, func() bool { return len(statesCh) == 4 }, waitFor, tick)
	for len(statesCh) > 0 {
		states = append(states, <-statesCh)
	}
	assert.Equal(t, []State{StateConnecting, StateError, StateConnecting, StateConnected}, states)
}

func TestEmitRequiresConnection(t *testing.T) {
	ch := newTestChannel(&scriptedDialer{}, &sleepRecorder{})
	assert.ErrorIs(t, ch.Emit(contracts.EventDriverAnnounce, nil), ErrNotConnected)
	assert.Equal(t, StateDisconnected, ch.State())
}

func TestDisconnectStopsReconnecting(t *testing.T) {
	d, s := &scriptedDialer{}, &sleepRecorder{}
	conn := newFakeConn()
	d.queue(conn)

	ch := newTestChannel(d, s)
	ch.Connect(context.Background())
	require.Eventually(t, ch.Connected, waitFor, tick)

	ch.Disconnect()
	ch.Wait()

	assert.Equal(t, StateDisconnected, ch.State())
	d.mu.Lock()
	assert.Equal(t, 1, d.dials)
	d.mu.Unlock()
	assert.Empty(t, s.recorded())
}

func TestHandlersReceiveEventsInOrder(t *testing.T) {
	d := &scriptedDialer{}
	conn := newFakeConn()
	d.queue(conn)

	ch := newTestChannel(d, &sleepRecorder{})
	t.Cleanup(ch.Disconnect)

	got := make(chan string, 4)
	ch.On(contracts.EventDriverNew, func(json.RawMessage) { got <- "new" })
	ch.On(contracts.EventDriverDisconnected, func(json.RawMessage) { got <- "gone" })
	ch.Connect(context.Background())
	require.Eventually(t, ch.Connected, waitFor, tick)

	conn.push(contracts.EventDriverNew, contracts.DriverNew{UserID: 7})
	conn.in <- []byte("garbage")
	conn.push(contracts.EventDriverDisconnected, contracts.DriverDisconnected{UserID: 7})

	assert.Equal(t, "new", <-got)
	assert.Equal(t, "gone", <-got)
}

func TestChannelURL(t *testing.T) {
	u, err := ChannelURL("http://localhost:3001/")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:3001/ws/tracking", u)

	u, err = ChannelURL("https://pos.example.com/api")
	require.NoError(t, err)
	assert.Equal(t, "wss://pos.example.com/api/ws/tracking", u)

	_, err = ChannelURL("ftp://x")
	assert.Error(t, err)
}

func TestWSDialerReportsUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	_, err := WSDialer{}.Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	assert.ErrorIs(t, err, ErrUnauthorized)
}
