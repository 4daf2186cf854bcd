package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"fleet-tracking/internal/domain/tracking"
	"fleet-tracking/internal/domain/user"
	"fleet-tracking/internal/general/contracts"
	"fleet-tracking/internal/general/logger"
	"fleet-tracking/internal/general/metrics"
	"fleet-tracking/internal/ports"

	json "github.com/goccy/go-json"
)

var ErrGatewayStopped = errors.New("tracking gateway stopped")

// GatewayOptions tunes inbound handling.
type GatewayOptions struct {
	NackInvalidReports bool
	MaxClockSkew       time.Duration
	SinkBuffer         int
	InboxSize          int
	// PresenceHeartbeat is how often live driver entries are renewed. Zero disables renewal.
	PresenceHeartbeat  time.Duration
}

// connState is the gateway's view of one session. It is only touched on the loop goroutine.
type connState struct {
	session     ports.Session
	role        user.Role
	connectedAt time.Time
	driver      *tracking.PresenceEntry
}

// Gateway owns every live session. All session events are applied one at a
// time on a single loop goroutine, so presence and group mutations never interleave.
type Gateway struct {
	logger    *logger.Logger
	presence  ports.PresenceRegistry
	groups    *Groups
	broadcast *Broadcaster
	opts      GatewayOptions
	now       func() time.Time

	sampleSinks   []*asyncSink[tracking.Sample]
	presenceSinks []*asyncSink[presenceChange]

	sessions map[string]*connState
	inbox    chan func(context.Context)
	stopped  chan struct{}
	started  sync.Once
}

var _ ports.ChannelHandler = (*Gateway)(nil)

func NewGateway(
	logger *logger.Logger,
	presence ports.PresenceRegistry,
	groups *Groups,
	opts GatewayOptions,
	sampleSinks []ports.SampleSink,
	presenceSinks []ports.PresenceSink,
) *Gateway {
	if opts.InboxSize < 1 {
		opts.InboxSize = 256
	}

	g := &Gateway{
		logger:    logger,
		presence:  presence,
		groups:    groups,
		broadcast: NewBroadcaster(groups, logger),
		opts:      opts,
		now:       time.Now,
		sessions:  make(map[string]*connState),
		inbox:     make(chan func(context.Context), opts.InboxSize),
		stopped:   make(chan struct{}),
	}

	for _, s := range sampleSinks {
		g.sampleSinks = append(g.sampleSinks, newAsyncSink(s.Name(), opts.SinkBuffer, s.Consume, logger))
	}
	for _, s := range presenceSinks {
		g.presenceSinks = append(g.presenceSinks, newAsyncSink(s.Name(), opts.SinkBuffer,
			func(ctx context.Context, c presenceChange) error {
				return s.PresenceChanged(ctx, c.entry, c.online)
			}, logger))
	}
	return g
}

// Broadcaster exposes the monitors fan-out for collaborators such as the REST service.
func (g *Gateway) Broadcaster() *Broadcaster { return g.broadcast }

// Run processes session events until ctx is done. It must be called exactly once.
func (g *Gateway) Run(ctx context.Context) {
	g.started.Do(func() {
		var wg sync.WaitGroup
		for _, s := range g.sampleSinks {
			wg.Add(1)
			go s.run(ctx, &wg)
		}
		for _, s := range g.presenceSinks {
			wg.Add(1)
			go s.run(ctx, &wg)
		}

		g.logger.Info(ctx, "gateway_started", "Tracking gateway loop started", map[string]any{
			"sample_sinks":   len(g.sampleSinks),
			"presence_sinks": len(g.presenceSinks),
		})

		var heartbeat <-chan time.Time
		if g.opts.PresenceHeartbeat > 0 {
			t := time.NewTicker(g.opts.PresenceHeartbeat)
			defer t.Stop()
			heartbeat = t.C
		}

		for {
			select {
			case <-heartbeat:
				g.refreshPresence(ctx)
			case <-ctx.Done():
				close(g.stopped)
				wg.Wait()
				g.logger.Info(context.WithoutCancel(ctx), "gateway_stopped", "Tracking gateway loop stopped", nil)
				return
			case fn := <-g.inbox:
				fn(ctx)
			}
		}
	})
}

// submit queues fn for the loop. It blocks while the inbox is full, which
// applies backpressure to the reading connection only.
func (g *Gateway) submit(ctx context.Context, fn func(context.Context)) error {
	select {
	case <-g.stopped:
		return ErrGatewayStopped
	default:
	}

	select {
	case g.inbox <- fn:
		return nil
	case <-g.stopped:
		return ErrGatewayStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush waits until every event queued before the call has been applied.
func (g *Gateway) Flush(ctx context.Context) error {
	done := make(chan struct{})
	if err := g.submit(ctx, func(context.Context) { close(done) }); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-g.stopped:
		return ErrGatewayStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connected registers a freshly authenticated session with no role.
func (g *Gateway) Connected(ctx context.Context, s ports.Session) {
	g.enqueue(ctx, s, "connected", func(ctx context.Context) {
		g.sessions[s.ID()] = &connState{session: s, role: user.RoleUnassigned, connectedAt: g.now().UTC()}
		g.logger.Debug(ctx, "session_registered", "Session registered", map[string]any{
			"user_id":  s.Identity().ID,
			"username": s.Identity().Username,
		})
	})
}

// Dispatch applies one inbound frame.
func (g *Gateway) Dispatch(ctx context.Context, s ports.Session, frame []byte) {
	g.enqueue(ctx, s, "dispatch", func(ctx context.Context) {
		st, ok := g.sessions[s.ID()]
		if !ok {
			return
		}
		g.handleFrame(ctx, st, frame)
	})
}

// Disconnected removes every trace of the session.
func (g *Gateway) Disconnected(ctx context.Context, s ports.Session) {
	g.enqueue(ctx, s, "disconnected", func(ctx context.Context) {
		st, ok := g.sessions[s.ID()]
		if !ok {
			return
		}
		delete(g.sessions, s.ID())
		g.leaveAll(ctx, st)
	})
}

// NotifyMonitors broadcasts an event from outside the channel, ordered with session events.
func (g *Gateway) NotifyMonitors(ctx context.Context, event string, payload any) error {
	return g.submit(ctx, func(ctx context.Context) {
		g.broadcast.ToMonitors(ctx, event, payload)
	})
}

// IsDriverOnline reports whether userID has a live presence entry.
func (g *Gateway) IsDriverOnline(ctx context.Context, userID int64) (bool, error) {
	e, err := g.presence.Get(ctx, userID)
	if err != nil {
		return false, err
	}
	return e != nil, nil
}

func (g *Gateway) enqueue(ctx context.Context, s ports.Session, stage string, fn func(context.Context)) {
	connCtx := g.logger.WithConnID(ctx, s.ID())
	err := g.submit(ctx, func(loopCtx context.Context) {
		// keep conn_id on loop logs while honouring the loop's lifetime
		fn(g.logger.WithConnID(loopCtx, s.ID()))
	})
	if err != nil {
		g.logger.Debug(connCtx, "gateway_event_dropped", "Session event not applied", map[string]any{
			"stage": stage,
			"error": err.Error(),
		})
	}
}

func (g *Gateway) handleFrame(ctx context.Context, st *connState, raw []byte) {
	f, err := contracts.DecodeFrame(raw)
	if err != nil || f.Type == "" {
		g.logger.Debug(ctx, "ws_bad_frame", "Undecodable frame", map[string]any{"size": len(raw)})
		g.broadcast.ToSession(ctx, st.session, contracts.EventError, contracts.ErrorMessage{Error: "bad json"})
		return
	}

	switch f.Type {
	case contracts.EventDriverAnnounce:
		g.announceDriver(ctx, st)
	case contracts.EventMonitorAnnounce:
		g.announceMonitor(ctx, st)
	case contracts.EventLocationReport:
		g.ingest(ctx, st, f.Data)
	default:
		g.logger.Debug(ctx, "ws_unknown_event", "Unknown event type", map[string]any{"type": f.Type})
		g.broadcast.ToSession(ctx, st.session, contracts.EventError,
			contracts.ErrorMessage{Error: "unknown event type: " + f.Type})
	}
}

// assignRole sets the role once; a later announce of another role is additive and logged.
func (g *Gateway) assignRole(ctx context.Context, st *connState, role user.Role) {
	switch st.role {
	case user.RoleUnassigned:
		st.role = role
	case role:
	default:
		g.logger.Warn(ctx, "role_reassignment", "Connection announced a second role", nil, map[string]any{
			"user_id":  st.session.Identity().ID,
			"role":     st.role.String(),
			"announce": role.String(),
		})
	}
}

func (g *Gateway) announceDriver(ctx context.Context, st *connState) {
	s := st.session
	ident := s.Identity()

	if g.groups.IsMember(tracking.GroupDrivers, s) {
		g.logger.Debug(ctx, "driver_announce_repeated", "Driver already announced on this connection",
			map[string]any{"user_id": ident.ID})
		return
	}

	entry, err := tracking.NewPresenceEntry(ident, s.ID(), g.now())
	if err != nil {
		g.logger.Warn(ctx, "driver_announce_invalid", "Cannot build presence entry", err, map[string]any{"user_id": ident.ID})
		g.broadcast.ToSession(ctx, s, contracts.EventError, contracts.ErrorMessage{Error: err.Error()})
		return
	}

	prev, err := g.presence.Put(ctx, entry)
	if err != nil {
		g.logger.Error(ctx, "presence_put_failed", "Failed to register driver presence", err, map[string]any{"user_id": ident.ID})
		g.broadcast.ToSession(ctx, s, contracts.EventError, contracts.ErrorMessage{Error: "presence unavailable"})
		return
	}
	if prev != nil && prev.SessionID != s.ID() {
		g.logger.Info(ctx, "presence_replaced", "Driver reconnected; previous session superseded", map[string]any{
			"user_id":          ident.ID,
			"previous_session": prev.SessionID,
		})
	}

	st.driver = &entry
	g.groups.Join(tracking.GroupDrivers, s)
	g.assignRole(ctx, st, user.RoleDriver)

	g.broadcast.ToMonitors(ctx, contracts.EventDriverNew, contracts.DriverNew{
		UserID:      entry.UserID,
		Username:    entry.Username,
		ConnectedAt: entry.ConnectedAt,
	})
	g.offerPresence(ctx, entry, true)

	g.logger.Info(ctx, "driver_announced", "Driver joined the live roster", map[string]any{
		"user_id":  ident.ID,
		"username": ident.Username,
	})
}

func (g *Gateway) announceMonitor(ctx context.Context, st *connState) {
	s := st.session

	if g.groups.Join(tracking.GroupMonitors, s) {
		g.assignRole(ctx, st, user.RoleMonitor)
		g.logger.Info(ctx, "monitor_announced", "Monitor joined", map[string]any{"user_id": s.Identity().ID})
	}

	entries, err := g.presence.List(ctx)
	if err != nil {
		g.logger.Error(ctx, "presence_list_failed", "Failed to read driver roster", err, nil)
		g.broadcast.ToSession(ctx, s, contracts.EventError, contracts.ErrorMessage{Error: "presence unavailable"})
		return
	}

	g.broadcast.ToSession(ctx, s, contracts.EventActiveDrivers, activeDrivers(entries))
}

func (g *Gateway) ingest(ctx context.Context, st *connState, data json.RawMessage) {
	s := st.session

	sample, reason := g.decodeSample(s.Identity(), data)
	if reason != "" {
		metrics.LocationReports.WithLabelValues("channel", "rejected").Inc()
		g.logger.Debug(ctx, "location_rejected", "Invalid location report dropped", map[string]any{
			"user_id": s.Identity().ID,
			"reason":  reason,
		})
		if g.opts.NackInvalidReports {
			g.broadcast.ToSession(ctx, s, contracts.EventLocationRejected, contracts.LocationRejected{Reason: reason})
		}
		return
	}

	metrics.LocationReports.WithLabelValues("channel", "accepted").Inc()
	g.broadcast.ToMonitors(ctx, contracts.EventLocationUpdated, locationUpdated(sample))

	for _, sink := range g.sampleSinks {
		sink.Offer(ctx, sample)
	}
}

func (g *Gateway) decodeSample(ident user.Identity, data json.RawMessage) (tracking.Sample, string) {
	if len(data) == 0 {
		return tracking.Sample{}, "missing payload"
	}
	var r tracking.Report
	if err := json.Unmarshal(data, &r); err != nil {
		return tracking.Sample{}, "invalid coordinates"
	}
	sample, err := tracking.NewSample(ident, r, g.now(), g.opts.MaxClockSkew)
	if err != nil {
		return tracking.Sample{}, err.Error()
	}
	return sample, ""
}

func (g *Gateway) leaveAll(ctx context.Context, st *connState) {
	s := st.session
	ident := s.Identity()

	g.groups.Leave(tracking.GroupMonitors, s)
	if !g.groups.Leave(tracking.GroupDrivers, s) {
		g.logger.Debug(ctx, "session_closed", "Session closed", map[string]any{
			"user_id": ident.ID,
			"role":    st.role.String(),
		})
		return
	}

	removed, err := g.presence.Remove(ctx, ident.ID, s.ID())
	if err != nil {
		g.logger.Error(ctx, "presence_remove_failed", "Failed to remove driver presence", err, map[string]any{"user_id": ident.ID})
		return
	}
	if removed == nil {
		// a newer session owns the entry
		g.logger.Debug(ctx, "presence_kept", "Disconnect of a superseded driver session", map[string]any{"user_id": ident.ID})
		return
	}

	g.broadcast.ToMonitors(ctx, contracts.EventDriverDisconnected, contracts.DriverDisconnected{
		UserID:         removed.UserID,
		Username:       removed.Username,
		DisconnectedAt: g.now().UTC(),
	})
	g.offerPresence(ctx, *removed, false)

	g.logger.Info(ctx, "driver_disconnected", "Driver left the live roster", map[string]any{
		"user_id":   ident.ID,
		"connected": time.Since(removed.ConnectedAt).Round(time.Second).String(),
	})
}

// refreshPresence renews the lease of every driver entry held by a live
// session. An entry that lapsed while its session stayed up is restored.
func (g *Gateway) refreshPresence(ctx context.Context) {
	for _, st := range g.sessions {
		if st.driver == nil {
			continue
		}
		owned, err := g.presence.Touch(ctx, *st.driver)
		if err != nil {
			g.logger.Warn(ctx, "presence_touch_failed", "Failed to renew driver presence", err,
				map[string]any{"user_id": st.driver.UserID})
			continue
		}
		if !owned {
			// superseded by a newer session
			st.driver = nil
		}
	}
}

func (g *Gateway) offerPresence(ctx context.Context, entry tracking.PresenceEntry, online bool) {
	for _, sink := range g.presenceSinks {
		sink.Offer(ctx, presenceChange{entry: entry, online: online})
	}
}

func activeDrivers(entries []tracking.PresenceEntry) []contracts.ActiveDriver {
	out := make([]contracts.ActiveDriver, 0, len(entries))
	for _, e := range entries {
		out = append(out, contracts.ActiveDriver{UserID: e.UserID, Username: e.Username, ConnectedAt: e.ConnectedAt})
	}
	return out
}

func locationUpdated(s tracking.Sample) contracts.LocationUpdated {
	return contracts.LocationUpdated{
		UserID:    s.UserID,
		Username:  s.Username,
		Lat:       s.Point.Latitude,
		Lng:       s.Point.Longitude,
		Velocidad: s.Speed,
		Precision: s.Accuracy,
		Timestamp: s.Timestamp,
	}
}
