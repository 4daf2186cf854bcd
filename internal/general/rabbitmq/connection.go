package rabbitmq

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"fleet-tracking/internal/general/config"
	"fleet-tracking/internal/general/logger"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	reconnectMin = time.Second
	reconnectMax = 30 * time.Second
)

// Client is a resilient RabbitMQ connector with auto-reconnect and topology setup.
type Client struct {
	url    string
	logger *logger.Logger
	logCtx context.Context // logging only, never cancelled

	mu      sync.RWMutex
	conn    *amqp.Connection
	pubChan *amqp.Channel

	pubMu       sync.Mutex
	pubConfirms chan amqp.Confirmation

	closeOnce sync.Once
	closed    chan struct{}
	reconnect chan struct{}
	// reconnected is closed and replaced after every successful reconnect.
	reconnected chan struct{}
}

// URL builds the AMQP URL for cfg.
func URL(cfg config.RabbitMQConfig) string {
	u := &url.URL{
		Scheme: "amqp",
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		User:   url.UserPassword(cfg.User, cfg.Password),
		Path:   "/",
	}
	return u.String()
}

// ConnectRabbitMQ establishes connection and starts a background watcher that reconnects on failures.
func ConnectRabbitMQ(ctx context.Context, cfg config.RabbitMQConfig, logger *logger.Logger) (*Client, error) {
	client := &Client{
		url:         URL(cfg),
		logger:      logger,
		logCtx:      context.WithoutCancel(ctx),
		closed:      make(chan struct{}),
		reconnect:   make(chan struct{}, 1),
		reconnected: make(chan struct{}),
	}

	// single attempt here; further retries happen in the watcher
	if err := client.connectOnce(); err != nil {
		return nil, err
	}

	go client.watch()

	return client, nil
}

// Close stops the watcher and closes AMQP resources. Safe to call twice.
func (client *Client) Close() {
	client.closeOnce.Do(func() {
		close(client.closed)

		client.mu.Lock()
		if client.pubChan != nil {
			_ = client.pubChan.Close()
			client.pubChan = nil
		}
		if client.conn != nil {
			_ = client.conn.Close()
			client.conn = nil
		}
		client.mu.Unlock()
	})
}

// Ready reports whether a publishing channel is currently open.
func (client *Client) Ready() bool {
	client.mu.RLock()
	defer client.mu.RUnlock()
	return client.conn != nil && !client.conn.IsClosed() && client.pubChan != nil && !client.pubChan.IsClosed()
}

// Reconnected returns a channel that is closed on the next successful reconnect.
func (client *Client) Reconnected() <-chan struct{} {
	client.mu.RLock()
	defer client.mu.RUnlock()
	return client.reconnected
}

func (client *Client) connectOnce() (err error) {
	conn, err := amqp.DialConfig(client.url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(30 * time.Second),
		Properties: amqp.Table{
			"connection_name": "fleet-tracking",
		},
	})
	if err != nil {
		client.logger.Error(client.logCtx, "rabbitmq_dial_failed", "Failed to dial RabbitMQ", err, nil)
		return fmt.Errorf("rabbitmq dial failed: %w", err)
	}
	defer func() {
		if err != nil {
			_ = conn.Close()
		}
	}()

	ch, err := conn.Channel()
	if err != nil {
		client.logger.Error(client.logCtx, "rabbitmq_open_channel_failed", "Failed to open RabbitMQ channel", err, nil)
		return fmt.Errorf("rabbitmq: failed to open channel: %w", err)
	}

	if err = declareTopology(ch); err != nil {
		client.logger.Error(client.logCtx, "rabbitmq_declare_topology_failed", "Failed to declare RabbitMQ topology", err, nil)
		return fmt.Errorf("rabbitmq: failed to declare topology: %w", err)
	}

	if err = ch.Confirm(false); err != nil {
		client.logger.Error(client.logCtx, "rabbitmq_enable_confirms_failed", "Failed to enable publisher confirms", err, nil)
		return fmt.Errorf("rabbitmq: failed to enable confirms: %w", err)
	}

	confirms := ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	returns := ch.NotifyReturn(make(chan amqp.Return, 1))
	go client.logReturns(returns)

	client.pubMu.Lock()
	client.pubConfirms = confirms
	client.pubMu.Unlock()

	client.mu.Lock()
	if client.pubChan != nil && !client.pubChan.IsClosed() {
		_ = client.pubChan.Close()
	}
	client.conn = conn
	client.pubChan = ch
	client.mu.Unlock()

	go client.notifyOnClose(conn, ch)

	client.logger.Info(client.logCtx, "rabbitmq_connected", "RabbitMQ connection established", nil)
	return nil
}

// logReturns drains unroutable publishes (mandatory=true) until the channel closes.
func (client *Client) logReturns(returns <-chan amqp.Return) {
	for r := range returns {
		client.logger.Warn(client.logCtx, "rabbitmq_returned", "Message was returned (unroutable)",
			fmt.Errorf("code=%d text=%s", r.ReplyCode, r.ReplyText),
			map[string]any{
				"exchange":    r.Exchange,
				"routing_key": r.RoutingKey,
				"size":        len(r.Body),
			},
		)
	}
}

// notifyOnClose signals the watcher when either the connection or the publishing channel dies.
func (client *Client) notifyOnClose(conn *amqp.Connection, ch *amqp.Channel) {
	connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
	chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))

	select {
	case <-client.closed:
		return
	case <-connClosed:
	case <-chClosed:
	}

	select {
	case client.reconnect <- struct{}{}:
	default:
	}
}

// watch reconnects with exponential backoff until Close.
func (client *Client) watch() {
	for {
		select {
		case <-client.closed:
			return
		case <-client.reconnect:
		}

		backoff := reconnectMin
		for attempt := 1; ; attempt++ {
			err := client.connectOnce()
			if err == nil {
				client.mu.Lock()
				close(client.reconnected)
				client.reconnected = make(chan struct{})
				client.mu.Unlock()

				client.logger.Info(client.logCtx, "rabbitmq_reconnected", "Reconnected to RabbitMQ and re-ensured topology",
					map[string]any{"attempts": attempt})
				break
			}

			client.logger.Warn(client.logCtx, "retry_attempted", "Failed to reconnect to RabbitMQ", err,
				map[string]any{"attempt": attempt, "backoff_ms": backoff.Milliseconds()})

			timer := time.NewTimer(backoff)
			select {
			case <-client.closed:
				timer.Stop()
				return
			case <-timer.C:
			}
			backoff = NextBackoff(backoff, reconnectMax)
		}
	}
}

// NextBackoff doubles cur, capped at limit.
func NextBackoff(cur, limit time.Duration) time.Duration {
	next := cur * 2
	if next > limit || next <= 0 {
		return limit
	}
	return next
}
