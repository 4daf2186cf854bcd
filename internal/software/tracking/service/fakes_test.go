package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"fleet-tracking/internal/domain/tracking"
	"fleet-tracking/internal/domain/user"
	"fleet-tracking/internal/general/contracts"
	"fleet-tracking/internal/general/logger"
	"fleet-tracking/internal/ports"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	id    string
	ident user.Identity

	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func newFakeSession(id string, userID int64, username string) *fakeSession {
	return &fakeSession{id: id, ident: user.Identity{ID: userID, Username: username}}
}

func (s *fakeSession) ID() string              { return s.id }
func (s *fakeSession) Identity() user.Identity { return s.ident }

func (s *fakeSession) Send(frame []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.frames = append(s.frames, frame)
	return true
}

func (s *fakeSession) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *fakeSession) received(t *testing.T) []contracts.Frame {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]contracts.Frame, 0, len(s.frames))
	for _, b := range s.frames {
		f, err := contracts.DecodeFrame(b)
		require.NoError(t, err)
		out = append(out, f)
	}
	return out
}

func (s *fakeSession) ofType(t *testing.T, event string) []contracts.Frame {
	t.Helper()
	var out []contracts.Frame
	for _, f := range s.received(t) {
		if f.Type == event {
			out = append(out, f)
		}
	}
	return out
}

func decodeData[T any](t *testing.T, f contracts.Frame) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(f.Data, &v))
	return v
}

type gatewayHarness struct {
	g        *Gateway
	presence *MemoryPresence
}

func newHarness(t *testing.T, opts GatewayOptions, configure func(*Gateway), sinks []sinkPair) *gatewayHarness {
	t.Helper()

	var sampleSinks []ports.SampleSink
	var presenceSinks []ports.PresenceSink
	for _, p := range sinks {
		if p.sample != nil {
			sampleSinks = append(sampleSinks, p.sample)
		}
		if p.presence != nil {
			presenceSinks = append(presenceSinks, p.presence)
		}
	}

	presence := NewMemoryPresence()
	g := NewGateway(logger.Nop(), presence, NewGroups(), opts, sampleSinks, presenceSinks)
	if configure != nil {
		configure(g)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		g.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return &gatewayHarness{g: g, presence: presence}
}

func (h *gatewayHarness) connect(id string, userID int64, username string) *fakeSession {
	s := newFakeSession(id, userID, username)
	h.g.Connected(context.Background(), s)
	return s
}

func (h *gatewayHarness) emit(t *testing.T, s *fakeSession, event string, payload any) {
	t.Helper()
	frame, err := contracts.EncodeFrame(event, payload)
	require.NoError(t, err)
	h.g.Dispatch(context.Background(), s, frame)
}

func (h *gatewayHarness) drop(s *fakeSession) {
	h.g.Disconnected(context.Background(), s)
}

func (h *gatewayHarness) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.g.Flush(ctx))
}

type sinkPair struct {
	sample   ports.SampleSink
	presence ports.PresenceSink
}

// recordingSink captures everything the gateway hands to sinks.
type recordingSink struct {
	samples  chan tracking.Sample
	presence chan presenceChange
}

func newRecordingSink() *recordingSink {
	return &recordingSink{
		samples:  make(chan tracking.Sample, 16),
		presence: make(chan presenceChange, 16),
	}
}

func (r *recordingSink) Name() string { return "recording" }

func (r *recordingSink) Consume(_ context.Context, s tracking.Sample) error {
	r.samples <- s
	return nil
}

func (r *recordingSink) PresenceChanged(_ context.Context, e tracking.PresenceEntry, online bool) error {
	r.presence <- presenceChange{entry: e, online: online}
	return nil
}

func nopLogger() *logger.Logger { return logger.Nop() }
