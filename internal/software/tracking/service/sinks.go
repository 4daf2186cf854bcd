package service

import (
	"context"
	"sync"
	"time"

	"fleet-tracking/internal/domain/tracking"
	"fleet-tracking/internal/general/contracts"
	"fleet-tracking/internal/general/logger"
	"fleet-tracking/internal/general/metrics"
	"fleet-tracking/internal/ports"

	json "github.com/goccy/go-json"
)

const producerName = "tracking-gateway"

// asyncSink runs one consumer on its own goroutine behind a bounded queue,
// so a slow or failing consumer never stalls the gateway loop.
type asyncSink[T any] struct {
	name    string
	queue   chan T
	consume func(context.Context, T) error
	logger  *logger.Logger
}

func newAsyncSink[T any](name string, buffer int, consume func(context.Context, T) error, log *logger.Logger) *asyncSink[T] {
	if buffer < 1 {
		buffer = 1
	}
	return &asyncSink[T]{name: name, queue: make(chan T, buffer), consume: consume, logger: log}
}

// Offer enqueues v, dropping it when the queue is full.
func (a *asyncSink[T]) Offer(ctx context.Context, v T) bool {
	select {
	case a.queue <- v:
		return true
	default:
		metrics.SinkFailures.WithLabelValues(a.name, "queue_full").Inc()
		a.logger.Warn(ctx, "sink_queue_full", "Sink queue full; item dropped", nil,
			map[string]any{"sink": a.name})
		return false
	}
}

func (a *asyncSink[T]) run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case v := <-a.queue:
			start := time.Now()
			err := a.consume(ctx, v)
			metrics.ObserveSink(a.name, start, err)
			if err != nil {
				a.logger.Warn(ctx, "sink_consume_failed", "Sink failed to consume item", err,
					map[string]any{"sink": a.name})
			}
		}
	}
}

// PublishSampleSink forwards accepted samples to the location fanout exchange.
type PublishSampleSink struct {
	pub ports.EventPublisher
}

func NewPublishSampleSink(pub ports.EventPublisher) *PublishSampleSink {
	return &PublishSampleSink{pub: pub}
}

func (s *PublishSampleSink) Name() string { return "mq_location_fanout" }

func (s *PublishSampleSink) Consume(_ context.Context, sample tracking.Sample) error {
	body, err := json.Marshal(sampleMessage(sample))
	if err != nil {
		return err
	}
	// fanout ignores the routing key
	return s.pub.Publish(contracts.ExchangeLocationFanout, "", body)
}

// PersistSampleSink stores live samples directly, for deployments without a broker.
type PersistSampleSink struct {
	uow  ports.UnitOfWork
	repo ports.LocationRepository
}

func NewPersistSampleSink(uow ports.UnitOfWork, repo ports.LocationRepository) *PersistSampleSink {
	return &PersistSampleSink{uow: uow, repo: repo}
}

func (s *PersistSampleSink) Name() string { return "pg_live_samples" }

func (s *PersistSampleSink) Consume(ctx context.Context, sample tracking.Sample) error {
	return s.uow.WithinTx(ctx, func(ctx context.Context) error {
		_, err := s.repo.SaveSample(ctx, sample)
		return err
	})
}

// PresencePublisher announces roster transitions on the presence topic exchange.
type PresencePublisher struct {
	pub ports.EventPublisher
}

func NewPresencePublisher(pub ports.EventPublisher) *PresencePublisher {
	return &PresencePublisher{pub: pub}
}

func (p *PresencePublisher) Name() string { return "mq_presence" }

func (p *PresencePublisher) PresenceChanged(_ context.Context, entry tracking.PresenceEntry, online bool) error {
	state := "disconnected"
	if online {
		state = "connected"
	}
	msg := contracts.PresenceMessage{
		UserID:    entry.UserID,
		Username:  entry.Username,
		SessionID: entry.SessionID,
		Online:    online,
		Timestamp: time.Now().UTC(),
		Envelope: contracts.Envelope{
			Producer: producerName,
			SentAt:   time.Now().UTC(),
		},
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.pub.Publish(contracts.ExchangePresenceTopic, contracts.RoutePresencePrefix+state, body)
}

type presenceChange struct {
	entry  tracking.PresenceEntry
	online bool
}

func sampleMessage(s tracking.Sample) contracts.LocationSampleMessage {
	return contracts.LocationSampleMessage{
		UserID:    s.UserID,
		Username:  s.Username,
		Lat:       s.Point.Latitude,
		Lng:       s.Point.Longitude,
		Velocidad: s.Speed,
		Precision: s.Accuracy,
		Timestamp: s.Timestamp,
		Envelope: contracts.Envelope{
			Producer: producerName,
			SentAt:   time.Now().UTC(),
		},
	}
}
