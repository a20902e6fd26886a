package client

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"DeltaSpirit/internal/domain/models"
	"DeltaSpirit/pkg/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func testStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(Config{HistoryCap: 50, StaleAfter: 15 * time.Second}, testLogger(t))
}

func event(id uint64, state models.SpiritState) *models.SpiritEvent {
	return &models.SpiritEvent{
		ID:          id,
		Timestamp:   time.Now().UnixMilli(),
		Type:        models.EventSystemStatus,
		Priority:    models.PriorityP3,
		SpiritState: state,
		Title:       fmt.Sprintf("event %d", id),
	}
}

func frame(t *testing.T, frameType string, data interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(models.StreamFrame{Type: frameType, Data: data})
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	return b
}

func TestApplyTransitionsState(t *testing.T) {
	s := testStore(t)
	if s.State() != models.StateDormant {
		t.Fatalf("initial state = %s, want dormant", s.State())
	}

	s.Apply(event(1, models.StateMonitoring))
	if s.State() != models.StateMonitoring {
		t.Errorf("state = %s, want monitoring", s.State())
	}

	s.Apply(event(2, models.StateAlerting))
	if s.State() != models.StateAlerting {
		t.Errorf("state = %s, want alerting", s.State())
	}
}

func TestHistoryCapAndOrder(t *testing.T) {
	s := NewStore(Config{HistoryCap: 3, StaleAfter: 15 * time.Second}, testLogger(t))

	for i := uint64(1); i <= 5; i++ {
		s.Apply(event(i, models.StateMonitoring))
	}

	h := s.History()
	if len(h) != 3 {
		t.Fatalf("history length = %d, want 3", len(h))
	}
	// Most recent first; oldest evicted.
	for i, wantID := range []uint64{5, 4, 3} {
		if h[i].ID != wantID {
			t.Errorf("history[%d].ID = %d, want %d", i, h[i].ID, wantID)
		}
	}
}

func TestStalenessForcesDormant(t *testing.T) {
	s := testStore(t)
	s.Apply(event(1, models.StateMonitoring))

	past := time.Now().Add(-20 * time.Second)
	s.now = func() time.Time { return past.Add(20 * time.Second) }
	s.mu.Lock()
	s.lastEventAt = past
	s.mu.Unlock()

	s.checkStale()
	if s.State() != models.StateDormant {
		t.Errorf("state = %s, want dormant after silence", s.State())
	}
}

func TestErrorStateStickyUnderStaleness(t *testing.T) {
	s := testStore(t)
	s.Apply(event(1, models.StateError))

	s.mu.Lock()
	s.lastEventAt = time.Now().Add(-60 * time.Second)
	s.mu.Unlock()

	s.checkStale()
	if s.State() != models.StateError {
		t.Errorf("state = %s, error must be sticky until a new event", s.State())
	}

	// A new event clears it.
	s.Apply(event(2, models.StateMonitoring))
	if s.State() != models.StateMonitoring {
		t.Errorf("state = %s, want monitoring after clearing event", s.State())
	}
}

func TestStalenessSkippedBeforeFirstEvent(t *testing.T) {
	s := testStore(t)
	s.checkStale()
	if s.State() != models.StateDormant {
		t.Errorf("state = %s, want dormant", s.State())
	}
}

func TestApplyFrameInitSeedsStoreState(t *testing.T) {
	s := testStore(t)

	init := models.InitPayload{
		Status: models.StatusResponse{Status: "monitoring", ConnectedClients: 2},
		Events: []*models.SpiritEvent{
			event(3, models.StateMonitoring),
			event(2, models.StateMonitoring),
			event(1, models.StateDormant),
		},
	}
	if err := s.ApplyFrame(frame(t, "init", init)); err != nil {
		t.Fatalf("ApplyFrame: %v", err)
	}

	if s.State() != models.StateMonitoring {
		t.Errorf("state = %s, want monitoring from init status", s.State())
	}
	if got := len(s.History()); got != 3 {
		t.Errorf("history length = %d, want 3", got)
	}
}

func TestApplyFrameToleratesGarbage(t *testing.T) {
	s := testStore(t)

	if err := s.ApplyFrame([]byte("{{{")); err != nil {
		t.Errorf("malformed frame must be skipped, got error: %v", err)
	}
	if err := s.ApplyFrame(frame(t, "weird", nil)); err == nil {
		t.Error("unknown frame type should report an error")
	}
	if s.State() != models.StateDormant {
		t.Errorf("state changed by garbage frames: %s", s.State())
	}
}

func TestConnectedTrackedSeparately(t *testing.T) {
	s := testStore(t)

	s.SetConnected(true)
	if !s.IsConnected() {
		t.Error("IsConnected = false, want true")
	}

	// Losing the transport does not touch spirit state on its own.
	s.Apply(event(1, models.StateAnalyzing))
	s.SetConnected(false)
	if s.IsConnected() {
		t.Error("IsConnected = true, want false")
	}
	if s.State() != models.StateAnalyzing {
		t.Errorf("state = %s, want analyzing", s.State())
	}
}
