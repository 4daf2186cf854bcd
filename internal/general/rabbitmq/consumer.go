package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler processes one delivery. A returned error drops the message (nack without requeue).
type Handler func(context.Context, amqp.Delivery) error

func (client *Client) newConsumerChannel(prefetch int) (*amqp.Channel, error) {
	client.mu.RLock()
	conn := client.conn
	client.mu.RUnlock()

	if conn == nil || conn.IsClosed() {
		return nil, errors.New("rabbitmq: connection is not ready")
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: open channel: %w", err)
	}

	if prefetch < 1 {
		prefetch = 1
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("rabbitmq: set QoS (prefetch=%d): %w", prefetch, err)
	}

	return ch, nil
}

// Consume reads queue with manual acks until ctx is done or the channel closes.
func (client *Client) Consume(ctx context.Context, queue, consumerTag string, prefetch int, handler Handler) error {
	ch, err := client.newConsumerChannel(prefetch)
	if err != nil {
		return err
	}
	defer ch.Close()

	deliveries, err := ch.Consume(queue, consumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("rabbitmq: consume(%s): %w", queue, err)
	}

	chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))

	for {
		select {
		case <-ctx.Done():
			if consumerTag != "" {
				_ = ch.Cancel(consumerTag, false)
			}
			return nil

		case cerr := <-chClosed:
			if cerr != nil {
				return fmt.Errorf("rabbitmq: channel closed while consuming %s: %w", queue, cerr)
			}
			return nil

		case d, ok := <-deliveries:
			if !ok {
				return nil
			}

			hCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			err := handler(hCtx, d)
			cancel()

			if err != nil {
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// ConsumeForever keeps a consumer attached across reconnects until ctx is done.
func (client *Client) ConsumeForever(ctx context.Context, queue, consumerTag string, prefetch int, handler Handler) {
	for {
		reconnected := client.Reconnected()

		err := client.Consume(ctx, queue, consumerTag, prefetch, handler)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			client.logger.Warn(client.logCtx, "rabbitmq_consumer_stopped", "Consumer stopped; waiting for reconnect", err,
				map[string]any{"queue": queue})
		}

		select {
		case <-ctx.Done():
			return
		case <-client.closed:
			return
		case <-reconnected:
		case <-time.After(reconnectMax):
		}
	}
}
