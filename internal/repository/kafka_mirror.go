package repository

import (
	"context"

	"DeltaSpirit/internal/domain/models"
	"DeltaSpirit/internal/domain/repository"
	"DeltaSpirit/pkg/kafka"
)

// KafkaMirror copies every emitted event onto a Kafka topic for downstream
// consumers outside the realtime tier. Mirroring is best effort; callers
// treat failures as log-and-continue.
type KafkaMirror struct {
	producer *kafka.Producer
	topic    string
}

// NewKafkaMirror creates a mirror writing to topic.
func NewKafkaMirror(producer *kafka.Producer, topic string) repository.Mirror {
	return &KafkaMirror{producer: producer, topic: topic}
}

// Publish mirrors one event, keyed by type so per-type ordering survives
// partitioning.
func (m *KafkaMirror) Publish(ctx context.Context, e *models.SpiritEvent) error {
	return m.producer.Publish(ctx, m.topic, []byte(e.Type), e)
}

func (m *KafkaMirror) Close() error {
	return m.producer.Close()
}

// NopMirror is used when Kafka is disabled in config.
type NopMirror struct{}

func (NopMirror) Publish(ctx context.Context, e *models.SpiritEvent) error { return nil }
func (NopMirror) Close() error                                             { return nil }
