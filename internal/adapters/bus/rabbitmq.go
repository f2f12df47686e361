package bus

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// rabbitmqTransport publishes to a single durable queue bound to the
// default exchange, named by BROKER_TOPIC.
type rabbitmqTransport struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	topic string
}

// RabbitMQConfig carries the RABBITMQ_URL/RABBITMQ_LOGIN/RABBITMQ_PASSCODE
// options from spec §6.
type RabbitMQConfig struct {
	URL      string
	Login    string
	Passcode string
	Topic    string
}

func newRabbitMQTransport(cfg RabbitMQConfig) (*rabbitmqTransport, error) {
	url := cfg.URL
	conn, err := amqp.DialConfig(url, amqp.Config{
		SASL: []amqp.Authentication{&amqp.PlainAuth{Username: cfg.Login, Password: cfg.Passcode}},
	})
	if err != nil {
		return nil, fmt.Errorf("dialing rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening rabbitmq channel: %w", err)
	}
	if _, err := ch.QueueDeclare(cfg.Topic, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declaring rabbitmq queue %s: %w", cfg.Topic, err)
	}
	return &rabbitmqTransport{conn: conn, ch: ch, topic: cfg.Topic}, nil
}

func (t *rabbitmqTransport) publish(ctx context.Context, body []byte) error {
	return t.ch.PublishWithContext(ctx, "", t.topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

func (t *rabbitmqTransport) close() error {
	chErr := t.ch.Close()
	connErr := t.conn.Close()
	if chErr != nil {
		return chErr
	}
	return connErr
}
