package emitter

import (
	"context"
	"errors"
	"testing"

	"DeltaSpirit/internal/domain/models"
	"DeltaSpirit/internal/repository"
	"DeltaSpirit/pkg/logger"
)

type recordingBroadcaster struct {
	published []*models.SpiritEvent
	err       error
}

func (b *recordingBroadcaster) Publish(ctx context.Context, e *models.SpiritEvent) error {
	if b.err != nil {
		return b.err
	}
	b.published = append(b.published, e)
	return nil
}

func (b *recordingBroadcaster) Subscribe(ctx context.Context) (<-chan []byte, error) {
	return nil, errors.New("not implemented")
}

func (b *recordingBroadcaster) Close() error { return nil }

type recordingMirror struct {
	published int
	err       error
	closed    bool
}

func (m *recordingMirror) Publish(ctx context.Context, e *models.SpiritEvent) error {
	if m.err != nil {
		return m.err
	}
	m.published++
	return nil
}

func (m *recordingMirror) Close() error {
	m.closed = true
	return nil
}

type failingStore struct {
	repository.MemoryEventStore
}

func (s *failingStore) Insert(ctx context.Context, e *models.SpiritEvent) error {
	return errors.New("storage down")
}

type nopMetrics struct{}

func (nopMetrics) RecordEventEmitted(eventType, priority string)        {}
func (nopMetrics) RecordError(kind string)                              {}
func (nopMetrics) RecordJobDuration(queue, job string, seconds float64) {}
func (nopMetrics) RecordEscalation(symbol, outcome string)              {}
func (nopMetrics) SetConnectedClients(n int)                            {}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func testEvent() *models.SpiritEvent {
	return &models.SpiritEvent{
		Type:        models.EventHeartbeat,
		Priority:    models.PriorityP4,
		SpiritState: models.StateMonitoring,
		Title:       "heartbeat",
		Content:     "spirit alive",
	}
}

func TestEmitStoresBeforeBroadcast(t *testing.T) {
	store := repository.NewMemoryEventStore()
	bc := &recordingBroadcaster{}
	mirror := &recordingMirror{}

	em := New(store, bc, mirror, nopMetrics{}, testLogger(t))

	ev := testEvent()
	if err := em.Emit(context.Background(), ev); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	if ev.ID == 0 {
		t.Error("event id not assigned by store")
	}
	if len(bc.published) != 1 {
		t.Fatalf("broadcast count = %d, want 1", len(bc.published))
	}
	if bc.published[0].ID != ev.ID {
		t.Error("broadcast event missing store-assigned id")
	}
	if mirror.published != 1 {
		t.Errorf("mirror count = %d, want 1", mirror.published)
	}

	n, _ := store.Count(context.Background())
	if n != 1 {
		t.Errorf("stored count = %d, want 1", n)
	}
}

func TestEmitStoreFailureSuppressesBroadcast(t *testing.T) {
	bc := &recordingBroadcaster{}
	mirror := &recordingMirror{}

	em := New(&failingStore{}, bc, mirror, nopMetrics{}, testLogger(t))

	if err := em.Emit(context.Background(), testEvent()); err == nil {
		t.Fatal("expected error from failing store")
	}
	if len(bc.published) != 0 {
		t.Error("event broadcast despite store failure")
	}
	if mirror.published != 0 {
		t.Error("event mirrored despite store failure")
	}
}

func TestEmitBroadcastFailureKeepsEventDurable(t *testing.T) {
	store := repository.NewMemoryEventStore()
	bc := &recordingBroadcaster{err: errors.New("pubsub down")}
	mirror := &recordingMirror{}

	em := New(store, bc, mirror, nopMetrics{}, testLogger(t))

	if err := em.Emit(context.Background(), testEvent()); err != nil {
		t.Fatalf("Emit should tolerate broadcast failure: %v", err)
	}

	n, _ := store.Count(context.Background())
	if n != 1 {
		t.Errorf("stored count = %d, want 1", n)
	}
	if mirror.published != 1 {
		t.Errorf("mirror count = %d, want 1", mirror.published)
	}
}

func TestEmitAfterCloseFails(t *testing.T) {
	store := repository.NewMemoryEventStore()
	bc := &recordingBroadcaster{}
	mirror := &recordingMirror{}

	em := New(store, bc, mirror, nopMetrics{}, testLogger(t))
	if err := em.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !mirror.closed {
		t.Error("mirror not closed")
	}
	if err := em.Emit(context.Background(), testEvent()); err == nil {
		t.Error("expected error emitting after close")
	}
}
