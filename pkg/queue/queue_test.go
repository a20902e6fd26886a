package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"DeltaSpirit/pkg/logger"
)

type tickPayload struct {
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	l, err := logger.New(&logger.Config{Level: "error", Format: "console", Output: "stdout"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return l
}

func TestParsePayloadFromMap(t *testing.T) {
	payload := map[string]interface{}{"name": "scan-fast", "symbol": "BTC/USDT"}

	got, err := ParsePayload[tickPayload](payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Name != "scan-fast" || got.Symbol != "BTC/USDT" {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestParsePayloadFromRawMessage(t *testing.T) {
	raw := json.RawMessage(`{"name":"scan-slow","symbol":"ETH/USDT"}`)

	got, err := ParsePayload[tickPayload](raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Symbol != "ETH/USDT" {
		t.Fatalf("unexpected symbol %q", got.Symbol)
	}
}

func TestParsePayloadPassthrough(t *testing.T) {
	in := &tickPayload{Name: "scan-fast", Symbol: "BTC/USDT"}

	got, err := ParsePayload[tickPayload](in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != in {
		t.Fatalf("expected same pointer back")
	}

	byValue, err := ParsePayload[tickPayload](*in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if byValue.Name != in.Name {
		t.Fatalf("unexpected payload: %+v", byValue)
	}
}

func TestParsePayloadNilGivesZeroValue(t *testing.T) {
	got, err := ParsePayload[tickPayload](nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Name != "" || got.Symbol != "" {
		t.Fatalf("expected zero value, got %+v", got)
	}
}

func TestParsePayloadRejectsUnknownType(t *testing.T) {
	if _, err := ParsePayload[tickPayload](42); err == nil {
		t.Fatalf("expected error for int payload")
	}
}

func TestConvertPayloadMapBecomesRawMessage(t *testing.T) {
	q := NewRedisQueue(testLogger(t), nil, nil)

	out := q.convertPayload(map[string]interface{}{"symbol": "SOL/USDT"})
	raw, ok := out.(json.RawMessage)
	if !ok {
		t.Fatalf("expected json.RawMessage, got %T", out)
	}

	var p tickPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.Symbol != "SOL/USDT" {
		t.Fatalf("unexpected symbol %q", p.Symbol)
	}
}

func TestConvertPayloadNonMapUnchanged(t *testing.T) {
	q := NewRedisQueue(testLogger(t), nil, nil)

	in := "opaque"
	if out := q.convertPayload(in); out != in {
		t.Fatalf("expected payload unchanged, got %v", out)
	}
}

func TestQueueKeysCarryQueueName(t *testing.T) {
	q := NewRedisQueue(testLogger(t), nil, nil)

	cases := map[string]string{
		q.readyKey("spirit-core"):       "spirit:queue:spirit-core:ready",
		q.delayedKey("spirit-core"):     "spirit:queue:spirit-core:delayed",
		q.retryKey("spirit-core"):       "spirit:queue:spirit-core:retry",
		q.dlqKey("spirit-core"):         "spirit:queue:spirit-core:dlq",
		q.repeatKey("spirit-llm"):       "spirit:queue:spirit-llm:repeat",
		q.repeatSchedKey("spirit-llm"):  "spirit:queue:spirit-llm:repeat:sched",
		q.tickLockKey("spirit-core", "heartbeat"): "spirit:queue:spirit-core:tick:heartbeat",
	}
	for got, want := range cases {
		if got != want {
			t.Errorf("key mismatch: got %q want %q", got, want)
		}
	}
}

func TestWithKeyPrefix(t *testing.T) {
	q := NewRedisQueue(testLogger(t), nil, nil, WithKeyPrefix("custom"))

	if got := q.readyKey("spirit-core"); got != "custom:spirit-core:ready" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestRegisterJobDeduplicates(t *testing.T) {
	q := NewRedisQueue(testLogger(t), nil, nil)

	first := JobFunc{JobName: "heartbeat", Fn: func(ctx context.Context, payload interface{}) error { return nil }}
	second := JobFunc{JobName: "heartbeat", Fn: func(ctx context.Context, payload interface{}) error { return nil }}

	q.RegisterJob("spirit-core", first)
	q.RegisterJob("spirit-core", second)

	q.mu.RLock()
	defer q.mu.RUnlock()
	if len(q.jobs["spirit-core"]) != 1 {
		t.Fatalf("expected 1 registered job, got %d", len(q.jobs["spirit-core"]))
	}
}

func TestConfigDefaults(t *testing.T) {
	q := NewRedisQueue(testLogger(t), &Config{}, nil)

	if q.config.Workers != 1 {
		t.Fatalf("expected 1 worker default, got %d", q.config.Workers)
	}
	if q.config.RetryDelay != 10*time.Second {
		t.Fatalf("expected 10s retry delay default, got %v", q.config.RetryDelay)
	}
}

func TestRegisterRepeatableRejectsNonPositiveInterval(t *testing.T) {
	q := NewRedisQueue(testLogger(t), nil, nil)

	if err := q.RegisterRepeatable(context.Background(), "spirit-core", "heartbeat", nil, 0); err == nil {
		t.Fatalf("expected error for zero interval")
	}
}

func TestCloseWithoutStart(t *testing.T) {
	q := NewRedisQueue(testLogger(t), nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := q.Close(ctx); err != nil {
		t.Fatalf("close without start: %v", err)
	}
}

func TestJobFuncDispatch(t *testing.T) {
	called := false
	job := JobFunc{JobName: "llm-call", Fn: func(ctx context.Context, payload interface{}) error {
		called = true
		return nil
	}}

	if job.Name() != "llm-call" {
		t.Fatalf("unexpected name %q", job.Name())
	}
	if err := job.Handle(context.Background(), nil); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !called {
		t.Fatalf("expected handler to run")
	}
}
