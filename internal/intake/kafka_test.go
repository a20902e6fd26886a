package intake

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"DeltaSpirit/internal/domain/models"
	"DeltaSpirit/internal/emitter"
	"DeltaSpirit/internal/repository"
	"DeltaSpirit/pkg/logger"
)

type nopBroadcaster struct{}

func (nopBroadcaster) Publish(ctx context.Context, e *models.SpiritEvent) error { return nil }
func (nopBroadcaster) Subscribe(ctx context.Context) (<-chan []byte, error) {
	return nil, errors.New("not implemented")
}
func (nopBroadcaster) Close() error { return nil }

type nopMirror struct{}

func (nopMirror) Publish(ctx context.Context, e *models.SpiritEvent) error { return nil }
func (nopMirror) Close() error                                             { return nil }

type countingMetrics struct {
	mu     sync.Mutex
	errors map[string]int
}

func (m *countingMetrics) RecordEventEmitted(eventType, priority string)        {}
func (m *countingMetrics) RecordJobDuration(queue, job string, seconds float64) {}
func (m *countingMetrics) RecordEscalation(symbol, outcome string)              {}
func (m *countingMetrics) SetConnectedClients(n int)                            {}

func (m *countingMetrics) RecordError(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.errors == nil {
		m.errors = make(map[string]int)
	}
	m.errors[kind]++
}

func testHandler(t *testing.T) (*EventHandler, *repository.MemoryEventStore, *countingMetrics) {
	t.Helper()
	log, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	store := repository.NewMemoryEventStore()
	metrics := &countingMetrics{}
	em := emitter.New(store, nopBroadcaster{}, nopMirror{}, metrics, log)
	return NewEventHandler("spirit.events.in", em, metrics, log), store, metrics
}

func TestHandleEmitsValidEvent(t *testing.T) {
	h, store, _ := testHandler(t)

	payload, _ := json.Marshal(&models.SpiritEvent{
		ID:          999, // must be reassigned by the store
		Timestamp:   time.Now().UnixMilli(),
		Type:        models.EventRiskAlert,
		Priority:    models.PriorityP0,
		SpiritState: models.StateAlerting,
		Title:       "External risk alert",
		Content:     "funding rate dislocation",
	})

	if err := h.Handle(context.Background(), payload); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	events, err := store.Recent(context.Background(), 1)
	if err != nil || len(events) != 1 {
		t.Fatalf("expected one stored event, got %d (err=%v)", len(events), err)
	}
	if events[0].ID == 999 {
		t.Error("external id should not survive intake")
	}
	if events[0].Metadata["source"] != "kafka" {
		t.Errorf("source metadata = %v, want kafka", events[0].Metadata["source"])
	}
}

func TestHandleDropsMalformedPayload(t *testing.T) {
	h, store, metrics := testHandler(t)

	if err := h.Handle(context.Background(), []byte("not json at all")); err != nil {
		t.Fatalf("malformed payload must be dropped, not retried: %v", err)
	}

	n, _ := store.Count(context.Background())
	if n != 0 {
		t.Errorf("stored events = %d, want 0", n)
	}
	if metrics.errors["intake_decode"] != 1 {
		t.Errorf("intake_decode errors = %d, want 1", metrics.errors["intake_decode"])
	}
}

func TestHandleDropsInvalidEvent(t *testing.T) {
	h, store, metrics := testHandler(t)

	cases := []models.SpiritEvent{
		{Type: "mystery", Priority: models.PriorityP4, SpiritState: models.StateMonitoring, Title: "x"},
		{Type: models.EventHeartbeat, Priority: "p9", SpiritState: models.StateMonitoring, Title: "x"},
		{Type: models.EventHeartbeat, Priority: models.PriorityP4, SpiritState: "confused", Title: "x"},
		{Type: models.EventHeartbeat, Priority: models.PriorityP4, SpiritState: models.StateMonitoring},
	}
	for _, ev := range cases {
		payload, _ := json.Marshal(&ev)
		if err := h.Handle(context.Background(), payload); err != nil {
			t.Fatalf("invalid event must be dropped, not retried: %v", err)
		}
	}

	n, _ := store.Count(context.Background())
	if n != 0 {
		t.Errorf("stored events = %d, want 0", n)
	}
	if metrics.errors["intake_invalid"] != len(cases) {
		t.Errorf("intake_invalid errors = %d, want %d", metrics.errors["intake_invalid"], len(cases))
	}
}

func TestHandleDefaultsMissingPriority(t *testing.T) {
	h, store, _ := testHandler(t)

	payload, _ := json.Marshal(&models.SpiritEvent{
		Type:        models.EventSystemStatus,
		SpiritState: models.StateMonitoring,
		Title:       "status from sidecar",
	})
	if err := h.Handle(context.Background(), payload); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	events, _ := store.Recent(context.Background(), 1)
	if len(events) != 1 || events[0].Priority != models.PriorityP4 {
		t.Fatalf("expected stored event with p4 default priority, got %+v", events)
	}
}
