package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	backoff "gopkg.in/cenkalti/backoff.v1"

	"github.com/p2p-org/lido-council-daemon/internal/domain"
	"github.com/p2p-org/lido-council-daemon/internal/ports"
)

// transport is the narrow publish surface both broker implementations
// satisfy.
type transport interface {
	publish(ctx context.Context, body []byte) error
	close() error
}

// Bus implements ports.Bus over whichever broker PUBSUB_SERVICE selects.
// Publish errors are retried with exponential backoff capped by
// publishTimeout, per spec §4.6; a publish that exhausts the backoff
// budget is still surfaced as Transient to the caller, never swallowed.
type Bus struct {
	transport      transport
	publishTimeout time.Duration
}

// NewRabbitMQ constructs a Bus backed by RabbitMQ.
func NewRabbitMQ(cfg RabbitMQConfig, publishTimeout time.Duration) (*Bus, error) {
	t, err := newRabbitMQTransport(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}
	return &Bus{transport: t, publishTimeout: publishTimeout}, nil
}

// NewKafka constructs a Bus backed by Kafka.
func NewKafka(cfg KafkaConfig, publishTimeout time.Duration) (*Bus, error) {
	t, err := newKafkaTransport(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}
	return &Bus{transport: t, publishTimeout: publishTimeout}, nil
}

var _ ports.Bus = (*Bus)(nil)

// PublishAttest implements ports.Bus.
func (b *Bus) PublishAttest(ctx context.Context, msg domain.AttestMessage) error {
	return b.publish(ctx, attestToWire(msg))
}

// PublishPause implements ports.Bus.
func (b *Bus) PublishPause(ctx context.Context, msg domain.PauseMessage) error {
	return b.publish(ctx, pauseToWire(msg))
}

func (b *Bus) publish(ctx context.Context, wire wireMessage) error {
	body, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("%w: encoding bus message: %v", domain.ErrInconsistent, err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = b.publishTimeout

	err = backoff.Retry(func() error {
		return b.transport.publish(ctx, body)
	}, policy)
	if err != nil {
		return fmt.Errorf("%w: publishing %s message after retries: %v", domain.ErrTransient, wire.Type, err)
	}
	return nil
}

// Close releases the underlying broker connection.
func (b *Bus) Close() error {
	return b.transport.close()
}
