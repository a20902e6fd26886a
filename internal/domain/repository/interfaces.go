package repository

import (
	"context"
	"time"

	"DeltaSpirit/internal/domain/models"
)

// EventStore is the durable, insert-only record of Spirit events. Insert
// assigns the event id and CreatedAt; events are never updated or deleted
// here (retention is an external concern).
type EventStore interface {
	Init(ctx context.Context) error // ensure tables
	Insert(ctx context.Context, e *models.SpiritEvent) error
	Recent(ctx context.Context, limit int) ([]*models.SpiritEvent, error) // most-recent-first
	Query(ctx context.Context, from, to time.Time, limit int) ([]*models.SpiritEvent, error)
	Count(ctx context.Context) (uint64, error)
	Health(ctx context.Context) error
	Close() error
}

// Broadcaster publishes events on the shared pub/sub channel and hands out
// subscriptions to it. Any process may subscribe.
type Broadcaster interface {
	Publish(ctx context.Context, e *models.SpiritEvent) error
	Subscribe(ctx context.Context) (<-chan []byte, error)
	Close() error
}

// Mirror is a best-effort secondary sink for emitted events (e.g. a Kafka
// topic for external consumers). Mirror failures never fail an emit.
type Mirror interface {
	Publish(ctx context.Context, e *models.SpiritEvent) error
	Close() error
}

// Analyzer judges an ambiguous market signal. Slow and unreliable; callers
// must bound the wait with the context.
type Analyzer interface {
	AnalyzeSignal(ctx context.Context, sig *models.MarketSignal) (*models.AnalysisResult, error)
}

// Sampler gates escalation of ambiguous signals to the analyzer.
type Sampler interface {
	Sample() bool
}

// Metrics records pipeline observability signals.
type Metrics interface {
	RecordEventEmitted(eventType, priority string)
	RecordError(kind string)
	RecordJobDuration(queue, job string, seconds float64)
	RecordEscalation(symbol, outcome string)
	SetConnectedClients(n int)
}
