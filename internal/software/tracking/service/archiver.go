package service

import (
	"context"
	"fmt"

	"fleet-tracking/internal/domain/geo"
	"fleet-tracking/internal/domain/tracking"
	"fleet-tracking/internal/general/contracts"
	"fleet-tracking/internal/general/logger"
	"fleet-tracking/internal/general/rabbitmq"
	"fleet-tracking/internal/ports"

	json "github.com/goccy/go-json"
	amqp "github.com/rabbitmq/amqp091-go"
)

const archivePrefetch = 20

// StartArchiveConsumer persists samples published on the location fanout.
// It is the broker-backed equivalent of PersistSampleSink.
func StartArchiveConsumer(ctx context.Context, mq *rabbitmq.Client, uow ports.UnitOfWork, repo ports.LocationRepository, log *logger.Logger) {
	go mq.ConsumeForever(ctx, contracts.QueueLocationArchive, "tracking-archiver", archivePrefetch, archiveHandler(uow, repo, log))

	log.Info(ctx, "mq_consumer_started", "Location archive consumer started",
		map[string]any{"queue": contracts.QueueLocationArchive})
}

// StartPresenceAudit writes every presence transition from the broker to the log.
func StartPresenceAudit(ctx context.Context, mq *rabbitmq.Client, log *logger.Logger) {
	go mq.ConsumeForever(ctx, contracts.QueuePresenceAudit, "tracking-presence-audit", archivePrefetch, presenceAuditHandler(log))

	log.Info(ctx, "mq_consumer_started", "Presence audit consumer started",
		map[string]any{"queue": contracts.QueuePresenceAudit})
}

func archiveHandler(uow ports.UnitOfWork, repo ports.LocationRepository, log *logger.Logger) rabbitmq.Handler {
	return func(ctx context.Context, d amqp.Delivery) error {
		var msg contracts.LocationSampleMessage
		if err := json.Unmarshal(d.Body, &msg); err != nil {
			log.Error(ctx, "mq_message_parse_failed", "Failed to parse location sample", err, nil)
			return err
		}

		p, err := geo.NewPoint(msg.Lat, msg.Lng)
		if err != nil {
			return fmt.Errorf("archive sample for user %d: %w", msg.UserID, err)
		}
		sample := tracking.Sample{
			UserID:    msg.UserID,
			Username:  msg.Username,
			Point:     p,
			Speed:     msg.Velocidad,
			Accuracy:  msg.Precision,
			Timestamp: msg.Timestamp,
		}

		return uow.WithinTx(ctx, func(ctx context.Context) error {
			_, err := repo.SaveSample(ctx, sample)
			return err
		})
	}
}

func presenceAuditHandler(log *logger.Logger) rabbitmq.Handler {
	return func(ctx context.Context, d amqp.Delivery) error {
		var msg contracts.PresenceMessage
		if err := json.Unmarshal(d.Body, &msg); err != nil {
			log.Error(ctx, "mq_message_parse_failed", "Failed to parse presence message", err, nil)
			return err
		}
		log.Info(ctx, "presence_audit", "Presence transition", map[string]any{
			"routing_key": d.RoutingKey,
			"user_id":     msg.UserID,
			"username":    msg.Username,
			"session_id":  msg.SessionID,
			"online":      msg.Online,
			"at":          msg.Timestamp,
		})
		return nil
	}
}
