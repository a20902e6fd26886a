package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"DeltaSpirit/internal/domain/models"
	"DeltaSpirit/internal/repository"
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

func seededStore(t *testing.T, n int) *repository.MemoryEventStore {
	t.Helper()
	store := repository.NewMemoryEventStore()
	for i := 0; i < n; i++ {
		ev := &models.SpiritEvent{
			Timestamp:   time.Now().UnixMilli(),
			Type:        models.EventSystemStatus,
			Priority:    models.PriorityP3,
			SpiritState: models.StateMonitoring,
			Title:       fmt.Sprintf("event %d", i+1),
		}
		if err := store.Insert(context.Background(), ev); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	return store
}

// callHistory runs the history handler against a raw query string and decodes
// the response envelope.
func callHistory(t *testing.T, h *SpiritHandler, query string) (int, models.HistoryResponse) {
	t.Helper()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/spirit/history"+query, nil)
	rec := httptest.NewRecorder()

	if err := h.History(e.NewContext(req, rec)); err != nil {
		t.Fatalf("History: %v", err)
	}

	var resp struct {
		Status int             `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	// Error envelopes carry a validation-error list in data, not a
	// HistoryResponse; only decode the payload for successful responses.
	var data models.HistoryResponse
	if resp.Status == http.StatusOK {
		if err := json.Unmarshal(resp.Data, &data); err != nil {
			t.Fatalf("decode history payload: %v", err)
		}
	}
	return resp.Status, data
}

func TestHistoryClampsLimitToCap(t *testing.T) {
	store := seededStore(t, 30)
	h := NewSpiritHandler(testLogger(t), nil, store, nil, 10)

	status, data := callHistory(t, h, "?limit=200")
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if len(data.Events) != 10 {
		t.Errorf("events = %d, want the cap of 10", len(data.Events))
	}
	if data.Total != 30 {
		t.Errorf("total = %d, want 30", data.Total)
	}
}

func TestHistoryOversizedLimitClampsInsteadOfRejecting(t *testing.T) {
	store := seededStore(t, 30)
	h := NewSpiritHandler(testLogger(t), nil, store, nil, 100)

	status, data := callHistory(t, h, "?limit=501")
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200 for an oversized limit", status)
	}
	if len(data.Events) != 30 {
		t.Errorf("events = %d, want all 30 stored events", len(data.Events))
	}
}

func TestHistoryNegativeLimitRejected(t *testing.T) {
	store := seededStore(t, 3)
	h := NewSpiritHandler(testLogger(t), nil, store, nil, 100)

	status, _ := callHistory(t, h, "?limit=-1")
	if status != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for a negative limit", status)
	}
}

func TestHistoryDefaultLimit(t *testing.T) {
	store := seededStore(t, 60)
	h := NewSpiritHandler(testLogger(t), nil, store, nil, 100)

	status, data := callHistory(t, h, "")
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if len(data.Events) != 50 {
		t.Errorf("events = %d, want the default limit of 50", len(data.Events))
	}
}
