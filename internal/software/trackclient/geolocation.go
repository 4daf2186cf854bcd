package trackclient

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"fleet-tracking/internal/domain/tracking"
	"fleet-tracking/internal/general/contracts"
	"fleet-tracking/internal/general/logger"
)

var (
	// ErrPermissionDenied is terminal for a tracking session.
	ErrPermissionDenied = errors.New("location permission denied")
	// ErrPositionTimeout means no fix arrived in time; the watch keeps running.
	ErrPositionTimeout = errors.New("location acquisition timed out")
)

// Position is one device reading.
type Position struct {
	Lat      float64
	Lng      float64
	Speed    *float64
	Accuracy *float64
	At       time.Time
}

// Reading is either a position or a watch error.
type Reading struct {
	Position Position
	Err      error
}

// PositionSource streams device readings until ctx is done. The channel is
// closed when the watch ends; ErrPermissionDenied ends it.
type PositionSource interface {
	Watch(ctx context.Context) <-chan Reading
}

// Emitter is where samples go upstream.
type Emitter interface {
	Connected() bool
	Emit(event string, payload any) error
}

// Recorder is the optional REST backup path.
type Recorder interface {
	RecordLocation(ctx context.Context, r tracking.Report) error
}

// ProducerStatus is the user-visible state of the producer.
type ProducerStatus int

const (
	ProducerIdle ProducerStatus = iota
	ProducerTracking
	ProducerDenied
)

// Producer decouples device sampling from network emission: every reading
// replaces the latest one, and the latest is sent upstream once per interval.
type Producer struct {
	src      PositionSource
	emitter  Emitter
	backup   Recorder
	interval time.Duration
	logger   *logger.Logger
	ticker   func(time.Duration) (<-chan time.Time, func())

	mu      sync.Mutex
	status  ProducerStatus
	latest  *Position
	lastErr error
	sent    int
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewProducer(src PositionSource, emitter Emitter, backup Recorder, interval time.Duration, log *logger.Logger) *Producer {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Producer{
		src:      src,
		emitter:  emitter,
		backup:   backup,
		interval: interval,
		logger:   log,
		ticker: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
	}
}

// Start subscribes to the device. It fails once permission has been denied.
func (p *Producer) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.status {
	case ProducerDenied:
		return ErrPermissionDenied
	case ProducerTracking:
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.status = ProducerTracking
	p.lastErr = nil

	go p.run(runCtx, p.done)
	return nil
}

// Stop unsubscribes from the device. The channel connection is left alone.
func (p *Producer) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel = nil
	if p.status == ProducerTracking {
		p.status = ProducerIdle
	}
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (p *Producer) Status() ProducerStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Producer) LastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// Latest is the most recent device reading, if any.
func (p *Producer) Latest() (Position, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.latest == nil {
		return Position{}, false
	}
	return *p.latest, true
}

// Sent counts samples emitted on the channel.
func (p *Producer) Sent() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sent
}

func (p *Producer) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	readings := p.src.Watch(ctx)
	tick, stopTick := p.ticker(p.interval)
	defer stopTick()

	first := true
	for {
		select {
		case <-ctx.Done():
			return

		case r, ok := <-readings:
			if !ok {
				return
			}
			if r.Err != nil {
				if p.watchFailed(ctx, r.Err) {
					return
				}
				continue
			}
			pos := r.Position
			p.mu.Lock()
			p.latest = &pos
			p.mu.Unlock()
			if first {
				first = false
				p.send(ctx)
			}

		case <-tick:
			p.send(ctx)
		}
	}
}

// watchFailed records err and reports whether the session is over.
func (p *Producer) watchFailed(ctx context.Context, err error) bool {
	p.mu.Lock()
	p.lastErr = err
	terminal := errors.Is(err, ErrPermissionDenied)
	if terminal {
		p.status = ProducerDenied
		if p.cancel != nil {
			p.cancel()
			p.cancel = nil
		}
	}
	p.mu.Unlock()

	if terminal {
		p.logger.Error(ctx, "geolocation_denied", "Location permission denied; tracking stopped", err, nil)
		return true
	}
	p.logger.Warn(ctx, "geolocation_error", "Location reading failed; still watching", err, nil)
	return false
}

func (p *Producer) send(ctx context.Context) {
	pos, ok := p.Latest()
	if !ok {
		return
	}

	report := tracking.Report{
		Lat:       &pos.Lat,
		Lng:       &pos.Lng,
		Velocidad: pos.Speed,
		Precision: pos.Accuracy,
		Timestamp: tracking.NewClientTime(pos.At),
	}

	if p.emitter.Connected() {
		if err := p.emitter.Emit(contracts.EventLocationReport, report); err != nil {
			p.logger.Warn(ctx, "location_emit_failed", "Failed to send location on the channel", err, nil)
		} else {
			p.mu.Lock()
			p.sent++
			p.mu.Unlock()
		}
	}

	// the REST copy is independent of the live path
	if p.backup != nil {
		bctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := p.backup.RecordLocation(bctx, report); err != nil {
			p.logger.Warn(ctx, "location_backup_failed", "Backup location write failed", err, nil)
		}
	}
}

// SimulatedSource walks a random route around a start point. It stands in
// for a device GPS in the driver client.
type SimulatedSource struct {
	Start  Position
	Every  time.Duration
	StepKm float64
}

func (s SimulatedSource) Watch(ctx context.Context) <-chan Reading {
	out := make(chan Reading)
	every := s.Every
	if every <= 0 {
		every = 2 * time.Second
	}
	step := s.StepKm
	if step <= 0 {
		step = 0.05
	}

	go func() {
		defer close(out)
		pos := s.Start
		t := time.NewTicker(every)
		defer t.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				heading := rand.Float64() * 2 * math.Pi
				pos.Lat = clamp(pos.Lat+step/111.0*math.Cos(heading), -90, 90)
				pos.Lng = clamp(pos.Lng+step/(111.0*math.Max(math.Cos(pos.Lat*math.Pi/180), 0.01))*math.Sin(heading), -180, 180)
				speed := step * 1000 / every.Seconds() // m/s
				pos.Speed = &speed
				pos.At = now.UTC()

				select {
				case out <- Reading{Position: pos}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
