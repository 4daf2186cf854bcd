package rabbitmq

import (
	"fmt"

	"fleet-tracking/internal/general/contracts"

	amqp "github.com/rabbitmq/amqp091-go"
)

type exchangeDecl struct {
	name string
	kind string
}

type bindingDecl struct {
	queue      string
	exchange   string
	routingKey string
}

// topology is the broker layout owned by the tracking gateway.
var (
	topologyExchanges = []exchangeDecl{
		{contracts.ExchangeLocationFanout, amqp.ExchangeFanout},
		{contracts.ExchangePresenceTopic, amqp.ExchangeTopic},
	}

	topologyQueues = []string{
		contracts.QueueLocationArchive,
		contracts.QueuePresenceAudit,
	}

	topologyBindings = []bindingDecl{
		{contracts.QueueLocationArchive, contracts.ExchangeLocationFanout, ""},
		{contracts.QueuePresenceAudit, contracts.ExchangePresenceTopic, contracts.RoutePresencePrefix + "*"},
	}
)

func declareTopology(ch *amqp.Channel) error {
	for _, ex := range topologyExchanges {
		if err := ch.ExchangeDeclare(ex.name, ex.kind, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}

	for _, q := range topologyQueues {
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", q, err)
		}
	}

	for _, b := range topologyBindings {
		if err := ch.QueueBind(b.queue, b.routingKey, b.exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}

	return nil
}
