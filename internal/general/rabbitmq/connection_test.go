package rabbitmq

import (
	"testing"
	"time"

	"fleet-tracking/internal/general/config"
	"fleet-tracking/internal/general/contracts"

	"github.com/stretchr/testify/assert"
)

func TestNextBackoffDoublesAndCaps(t *testing.T) {
	d := reconnectMin
	var seen []time.Duration
	for range 7 {
		seen = append(seen, d)
		d = NextBackoff(d, reconnectMax)
	}
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 30 * time.Second, 30 * time.Second,
	}, seen)
}

func TestURLEscapesCredentials(t *testing.T) {
	u := URL(config.RabbitMQConfig{Host: "mq", Port: 5672, User: "guest", Password: "p/w"})
	assert.Equal(t, "amqp://guest:p%2Fw@mq:5672/", u)
}

func TestTopologyBindsEveryQueue(t *testing.T) {
	bound := map[string]bool{}
	for _, b := range topologyBindings {
		bound[b.queue] = true
	}
	for _, q := range topologyQueues {
		assert.True(t, bound[q], q)
	}
	assert.Equal(t, contracts.ExchangeLocationFanout, topologyExchanges[0].name)
}
