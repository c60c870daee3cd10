// Package kafkabridge forwards propagation events to a Kafka topic for
// deployments that feed marketplace changes into stream processing.
package kafkabridge

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"agrimandi/marketplace-backend/internal/propagation"
)

// Publisher writes events to one Kafka topic, keyed by the engine topic
// so per-topic ordering survives partitioning. It implements
// propagation.Transport.
type Publisher struct {
	writer  *kafka.Writer
	healthy atomic.Bool
	logger  *zap.Logger
}

// NewPublisher creates a Kafka publisher for the given brokers and topic.
func NewPublisher(brokers []string, topic string, logger *zap.Logger) *Publisher {
	p := &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 50 * time.Millisecond,
		},
		logger: logger,
	}
	p.healthy.Store(true)
	return p
}

// Publish sends one event to Kafka.
func (p *Publisher) Publish(ctx context.Context, ev propagation.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.Topic),
		Value: payload,
		Time:  ev.OccurredAt,
	})
	if err != nil {
		p.healthy.Store(false)
		return err
	}

	p.healthy.Store(true)
	return nil
}

// Healthy reports whether the last write succeeded.
func (p *Publisher) Healthy() bool { return p.healthy.Load() }

// Close flushes and closes the writer.
func (p *Publisher) Close() error { return p.writer.Close() }
