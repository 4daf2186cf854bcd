package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	ErrNotConnected = errors.New("rabbitmq: publish channel is not open")
	ErrNacked       = errors.New("rabbitmq: publish not acknowledged")
)

// MQPublisher is a thin publisher over Client.
type MQPublisher struct {
	Client *Client
}

// NewMQPublisher constructs an MQPublisher using the provided RabbitMQ client.
func NewMQPublisher(client *Client) *MQPublisher {
	return &MQPublisher{Client: client}
}

// Publish sends a message to the specified RabbitMQ exchange and routing key.
func (publisher *MQPublisher) Publish(exchange, routingKey string, body []byte) error {
	return publisher.Client.PublishMessage(exchange, routingKey, body)
}

// PublishJSON encodes v and publishes it.
func (publisher *MQPublisher) PublishJSON(exchange, routingKey string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("rabbitmq: encode message: %w", err)
	}
	return publisher.Publish(exchange, routingKey, body)
}

// PublishMessage publishes a persistent JSON message and waits for the broker confirm.
func (client *Client) PublishMessage(exchange, routingKey string, body []byte) error {
	client.mu.RLock()
	ch := client.pubChan
	conn := client.conn
	client.mu.RUnlock()

	if conn == nil || conn.IsClosed() || ch == nil || ch.IsClosed() {
		return ErrNotConnected
	}

	// confirms arrive in publish order; serialize so each caller reads its own
	client.pubMu.Lock()
	defer client.pubMu.Unlock()
	confirms := client.pubConfirms

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := ch.PublishWithContext(ctx, exchange, routingKey, true, false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	); err != nil {
		return err
	}

	select {
	case c, ok := <-confirms:
		if !ok {
			return ErrNotConnected
		}
		if !c.Ack {
			return ErrNacked
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
