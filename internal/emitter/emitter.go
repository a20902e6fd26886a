package emitter

import (
	"context"
	"fmt"
	"sync"

	"DeltaSpirit/internal/domain/models"
	"DeltaSpirit/internal/domain/repository"
	"DeltaSpirit/pkg/logger"
)

// Emitter is the single write path for spirit events. Ordering is strict:
// the event is made durable in the store first, then broadcast to live
// subscribers, then mirrored. A broadcast or mirror failure never loses the
// event; a store failure means nothing was published anywhere.
type Emitter struct {
	store     repository.EventStore
	broadcast repository.Broadcaster
	mirror    repository.Mirror
	metrics   repository.Metrics
	log       *logger.Logger

	mu     sync.Mutex
	closed bool
}

// New creates an Emitter. mirror may be a NopMirror when Kafka is disabled.
func New(store repository.EventStore, broadcast repository.Broadcaster, mirror repository.Mirror, metrics repository.Metrics, log *logger.Logger) *Emitter {
	return &Emitter{
		store:     store,
		broadcast: broadcast,
		mirror:    mirror,
		metrics:   metrics,
		log:       log,
	}
}

// Emit persists and distributes one event. The store assigns the event id
// and created-at; callers see them filled in on return.
func (e *Emitter) Emit(ctx context.Context, event *models.SpiritEvent) error {
	if event == nil {
		return fmt.Errorf("event is nil")
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return fmt.Errorf("emitter closed")
	}
	e.mu.Unlock()

	if err := e.store.Insert(ctx, event); err != nil {
		e.metrics.RecordError("emit_store")
		return fmt.Errorf("store event: %w", err)
	}

	e.metrics.RecordEventEmitted(string(event.Type), string(event.Priority))

	if err := e.broadcast.Publish(ctx, event); err != nil {
		// Durable already; subscribers will catch up from history.
		e.metrics.RecordError("emit_broadcast")
		e.log.Warn("event broadcast failed",
			logger.Any("event_id", event.ID),
			logger.String("type", string(event.Type)),
			logger.Error(err))
	}

	if err := e.mirror.Publish(ctx, event); err != nil {
		e.metrics.RecordError("emit_mirror")
		e.log.Warn("event mirror failed",
			logger.Any("event_id", event.ID),
			logger.Error(err))
	}

	return nil
}

// Close stops accepting events and releases the mirror.
func (e *Emitter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	if err := e.mirror.Close(); err != nil {
		return fmt.Errorf("close mirror: %w", err)
	}
	return e.broadcast.Close()
}
