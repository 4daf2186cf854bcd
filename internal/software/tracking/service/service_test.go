package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fleet-tracking/internal/domain/geo"
	"fleet-tracking/internal/domain/tracking"
	"fleet-tracking/internal/domain/user"
	"fleet-tracking/internal/general/contracts"

	json "github.com/goccy/go-json"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type directUoW struct{ calls int }

func (u *directUoW) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	u.calls++
	return fn(ctx)
}

type memRepo struct {
	mu     sync.Mutex
	saved  []tracking.Sample
	states map[int64]tracking.TrackingState
	err    error
}

func newMemRepo() *memRepo { return &memRepo{states: map[int64]tracking.TrackingState{}} }

func (r *memRepo) SaveSample(_ context.Context, s tracking.Sample) (tracking.StoredLocation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return tracking.StoredLocation{}, r.err
	}
	r.saved = append(r.saved, s)
	last := s
	r.states[s.UserID] = tracking.TrackingState{UserID: s.UserID, Username: s.Username, Active: true, LastLocation: &last}
	return tracking.StoredLocation{ID: int64(len(r.saved)), Sample: s, CreatedAt: time.Now()}, nil
}

func (r *memRepo) SetTrackingActive(_ context.Context, userID int64, username string, active bool, at time.Time) (tracking.TrackingState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return tracking.TrackingState{}, r.err
	}
	st := r.states[userID]
	st.UserID, st.Username, st.Active, st.UpdatedAt = userID, username, active, at
	r.states[userID] = st
	return st, nil
}

func (r *memRepo) ActiveUsers(_ context.Context) ([]tracking.TrackingState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []tracking.TrackingState
	for _, st := range r.states {
		if st.Active {
			out = append(out, st)
		}
	}
	return out, r.err
}

type notification struct {
	event   string
	payload any
}

type recordingNotifier struct{ sent []notification }

func (n *recordingNotifier) NotifyMonitors(_ context.Context, event string, payload any) error {
	n.sent = append(n.sent, notification{event, payload})
	return nil
}

var carlos = user.Identity{ID: 7, Username: "Carlos"}

func ptr(v float64) *float64 { return &v }

func newTestService(repo *memRepo, presence *MemoryPresence, n *recordingNotifier) *trackingService {
	svc := NewTrackingService(nopLogger(), &directUoW{}, repo, presence, n, 5*time.Minute).(*trackingService)
	svc.now = func() time.Time { return fixedNow }
	return svc
}

func TestRecordLocationBroadcastsWhenChannelOffline(t *testing.T) {
	repo, n := newMemRepo(), &recordingNotifier{}
	svc := newTestService(repo, NewMemoryPresence(), n)

	stored, err := svc.RecordLocation(context.Background(), carlos, tracking.Report{
		Lat: ptr(-25.2637), Lng: ptr(-57.5759), Velocidad: ptr(30), Precision: ptr(8),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.ID)
	require.Len(t, repo.saved, 1)
	assert.Equal(t, fixedNow, repo.saved[0].Timestamp)

	require.Len(t, n.sent, 1)
	assert.Equal(t, contracts.EventLocationUpdated, n.sent[0].event)
	upd := n.sent[0].payload.(contracts.LocationUpdated)
	assert.Equal(t, int64(7), upd.UserID)
	assert.Equal(t, 8.0, *upd.Precision)
}

func TestRecordLocationSkipsBroadcastForLiveDriver(t *testing.T) {
	repo, n := newMemRepo(), &recordingNotifier{}
	presence := NewMemoryPresence()
	_, err := presence.Put(context.Background(), tracking.PresenceEntry{UserID: 7, Username: "Carlos", SessionID: "s1"})
	require.NoError(t, err)

	svc := newTestService(repo, presence, n)
	_, err = svc.RecordLocation(context.Background(), carlos, tracking.Report{Lat: ptr(1), Lng: ptr(2)})
	require.NoError(t, err)

	assert.Len(t, repo.saved, 1)
	assert.Empty(t, n.sent)
}

func TestRecordLocationRejectsOutOfRange(t *testing.T) {
	repo, n := newMemRepo(), &recordingNotifier{}
	svc := newTestService(repo, NewMemoryPresence(), n)

	_, err := svc.RecordLocation(context.Background(), carlos, tracking.Report{Lat: ptr(-91), Lng: ptr(0)})
	assert.ErrorIs(t, err, geo.ErrInvalidLatitude)
	_, err = svc.RecordLocation(context.Background(), carlos, tracking.Report{Lat: ptr(0)})
	assert.ErrorIs(t, err, geo.ErrMissingCoordinate)

	assert.Empty(t, repo.saved)
	assert.Empty(t, n.sent)
}

func TestRecordLocationSurfacesStoreErrors(t *testing.T) {
	repo, n := newMemRepo(), &recordingNotifier{}
	repo.err = errors.New("db down")
	svc := newTestService(repo, NewMemoryPresence(), n)

	_, err := svc.RecordLocation(context.Background(), carlos, tracking.Report{Lat: ptr(1), Lng: ptr(2)})
	assert.EqualError(t, err, "db down")
	assert.Empty(t, n.sent)
}

func TestPersistenceDisabled(t *testing.T) {
	svc := NewTrackingService(nopLogger(), nil, nil, NewMemoryPresence(), nil, time.Minute)
	ctx := context.Background()

	_, err := svc.RecordLocation(ctx, carlos, tracking.Report{Lat: ptr(1), Lng: ptr(2)})
	assert.ErrorIs(t, err, ErrPersistenceDisabled)
	_, err = svc.ActiveDrivers(ctx)
	assert.ErrorIs(t, err, ErrPersistenceDisabled)
	_, err = svc.SetTrackingState(ctx, carlos, true)
	assert.ErrorIs(t, err, ErrPersistenceDisabled)

	entries, err := svc.Presence(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSetTrackingStateNotifiesMonitors(t *testing.T) {
	repo, n := newMemRepo(), &recordingNotifier{}
	svc := newTestService(repo, NewMemoryPresence(), n)
	ctx := context.Background()

	st, err := svc.SetTrackingState(ctx, carlos, true)
	require.NoError(t, err)
	assert.True(t, st.Active)

	active, err := svc.ActiveDrivers(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)

	_, err = svc.SetTrackingState(ctx, carlos, false)
	require.NoError(t, err)
	active, err = svc.ActiveDrivers(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	require.Len(t, n.sent, 2)
	assert.Equal(t, contracts.EventTrackingActivated, n.sent[0].event)
	assert.Equal(t, contracts.EventTrackingDeactivated, n.sent[1].event)
	assert.False(t, n.sent[1].payload.(contracts.TrackingToggled).Activo)
}

type capturedPublish struct {
	exchange, routingKey string
	body                 []byte
}

type capturePublisher struct{ got []capturedPublish }

func (p *capturePublisher) Publish(exchange, routingKey string, body []byte) error {
	p.got = append(p.got, capturedPublish{exchange, routingKey, body})
	return nil
}

func TestPublishSampleSink(t *testing.T) {
	pub := &capturePublisher{}
	sink := NewPublishSampleSink(pub)

	err := sink.Consume(context.Background(), tracking.Sample{
		UserID: 7, Username: "Carlos", Point: geo.Point{Latitude: 1, Longitude: 2}, Speed: ptr(4), Timestamp: fixedNow,
	})
	require.NoError(t, err)
	require.Len(t, pub.got, 1)
	assert.Equal(t, contracts.ExchangeLocationFanout, pub.got[0].exchange)
	assert.Empty(t, pub.got[0].routingKey)

	var msg contracts.LocationSampleMessage
	require.NoError(t, json.Unmarshal(pub.got[0].body, &msg))
	assert.Equal(t, int64(7), msg.UserID)
	assert.Equal(t, 4.0, *msg.Velocidad)
	assert.Nil(t, msg.Precision)
}

func TestPresencePublisherRoutingKeys(t *testing.T) {
	pub := &capturePublisher{}
	p := NewPresencePublisher(pub)
	entry := tracking.PresenceEntry{UserID: 7, Username: "Carlos", SessionID: "s1"}

	require.NoError(t, p.PresenceChanged(context.Background(), entry, true))
	require.NoError(t, p.PresenceChanged(context.Background(), entry, false))

	require.Len(t, pub.got, 2)
	assert.Equal(t, contracts.ExchangePresenceTopic, pub.got[0].exchange)
	assert.Equal(t, "presence.connected", pub.got[0].routingKey)
	assert.Equal(t, "presence.disconnected", pub.got[1].routingKey)
}

func TestPersistSampleSink(t *testing.T) {
	repo := newMemRepo()
	uow := &directUoW{}
	sink := NewPersistSampleSink(uow, repo)

	require.NoError(t, sink.Consume(context.Background(), tracking.Sample{UserID: 7, Username: "Carlos"}))
	assert.Equal(t, 1, uow.calls)
	assert.Len(t, repo.saved, 1)
}

func TestAsyncSinkDropsWhenFull(t *testing.T) {
	var consumed int
	sink := newAsyncSink("test", 1, func(context.Context, int) error { consumed++; return nil }, nopLogger())

	assert.True(t, sink.Offer(context.Background(), 1))
	assert.False(t, sink.Offer(context.Background(), 2))
	assert.Equal(t, 0, consumed)
}

func TestArchiveHandler(t *testing.T) {
	repo := newMemRepo()
	h := archiveHandler(&directUoW{}, repo, nopLogger())

	body, err := json.Marshal(contracts.LocationSampleMessage{
		UserID: 7, Username: "Carlos", Lat: -25.2637, Lng: -57.5759, Timestamp: fixedNow,
	})
	require.NoError(t, err)
	require.NoError(t, h(context.Background(), amqp.Delivery{Body: body}))
	require.Len(t, repo.saved, 1)
	assert.Equal(t, -25.2637, repo.saved[0].Point.Latitude)
	assert.True(t, fixedNow.Equal(repo.saved[0].Timestamp))

	assert.Error(t, h(context.Background(), amqp.Delivery{Body: []byte("{")}))

	bad, _ := json.Marshal(contracts.LocationSampleMessage{UserID: 7, Lat: 99, Lng: 0})
	assert.ErrorIs(t, h(context.Background(), amqp.Delivery{Body: bad}), geo.ErrInvalidLatitude)
	assert.Len(t, repo.saved, 1)
}

func TestPresenceAuditHandler(t *testing.T) {
	h := presenceAuditHandler(nopLogger())

	body, _ := json.Marshal(contracts.PresenceMessage{UserID: 7, Online: true})
	assert.NoError(t, h(context.Background(), amqp.Delivery{Body: body, RoutingKey: "presence.connected"}))
	assert.Error(t, h(context.Background(), amqp.Delivery{Body: []byte("nope")}))
}

func TestMemoryPresenceGuardedRemove(t *testing.T) {
	p := NewMemoryPresence()
	ctx := context.Background()

	first := tracking.PresenceEntry{UserID: 7, Username: "Carlos", SessionID: "a", ConnectedAt: fixedNow}
	prev, err := p.Put(ctx, first)
	require.NoError(t, err)
	assert.Nil(t, prev)

	prev, err = p.Put(ctx, tracking.PresenceEntry{UserID: 7, Username: "Carlos", SessionID: "b", ConnectedAt: fixedNow.Add(time.Second)})
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, "a", prev.SessionID)

	removed, err := p.Remove(ctx, 7, "a")
	require.NoError(t, err)
	assert.Nil(t, removed)

	removed, err = p.Remove(ctx, 7, "b")
	require.NoError(t, err)
	require.NotNil(t, removed)

	removed, err = p.Remove(ctx, 7, "b")
	require.NoError(t, err)
	assert.Nil(t, removed)
}

func TestMemoryPresenceListOrder(t *testing.T) {
	p := NewMemoryPresence()
	ctx := context.Background()
	for i, id := range []int64{30, 10, 20} {
		_, err := p.Put(ctx, tracking.PresenceEntry{UserID: id, SessionID: "s", ConnectedAt: fixedNow.Add(time.Duration(i) * time.Second)})
		require.NoError(t, err)
	}

	list, err := p.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []int64{30, 10, 20}, []int64{list[0].UserID, list[1].UserID, list[2].UserID})
}
