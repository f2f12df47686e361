package bus

import (
	"context"
	"crypto/tls"
	"fmt"

	kafka "github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
)

// KafkaConfig carries the KAFKA_* options from spec §6.
type KafkaConfig struct {
	Brokers  []string
	ClientID string
	Topic    string
	SSL      bool
	SASLMech string // "" or "PLAIN"
	Username string
	Password string
}

type kafkaTransport struct {
	writer *kafka.Writer
}

func newKafkaTransport(cfg KafkaConfig) (*kafkaTransport, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no broker addresses configured")
	}

	var transport *kafka.Transport
	if cfg.SSL || cfg.SASLMech != "" {
		transport = &kafka.Transport{ClientID: cfg.ClientID}
		if cfg.SSL {
			transport.TLS = &tls.Config{}
		}
		if cfg.SASLMech == "PLAIN" {
			var mechanism sasl.Mechanism = plain.Mechanism{Username: cfg.Username, Password: cfg.Password}
			transport.SASL = mechanism
		}
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	if transport != nil {
		writer.Transport = transport
	}
	return &kafkaTransport{writer: writer}, nil
}

func (t *kafkaTransport) publish(ctx context.Context, body []byte) error {
	return t.writer.WriteMessages(ctx, kafka.Message{Value: body})
}

func (t *kafkaTransport) close() error {
	return t.writer.Close()
}
