package daemon

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"DeltaSpirit/internal/domain/models"
	"DeltaSpirit/internal/emitter"
	"DeltaSpirit/internal/engine"
	"DeltaSpirit/internal/repository"
	"DeltaSpirit/internal/service/ratelimit"
	"DeltaSpirit/pkg/logger"
	"DeltaSpirit/pkg/queue"
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

type captureMetrics struct {
	mu          sync.Mutex
	escalations map[string]int
}

func newCaptureMetrics() *captureMetrics {
	return &captureMetrics{escalations: make(map[string]int)}
}

func (m *captureMetrics) RecordEventEmitted(eventType, priority string)        {}
func (m *captureMetrics) RecordError(kind string)                              {}
func (m *captureMetrics) RecordJobDuration(queue, job string, seconds float64) {}
func (m *captureMetrics) SetConnectedClients(n int)                            {}

func (m *captureMetrics) RecordEscalation(symbol, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.escalations[outcome]++
}

func (m *captureMetrics) escalationCount(outcome string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.escalations[outcome]
}

type stubQueue struct {
	mu          sync.Mutex
	registered  []string
	repeatables []string
	enqueued    []string
	started     int
}

func (q *stubQueue) RegisterJob(queueName string, job queue.Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.registered = append(q.registered, queueName+"/"+job.Name())
}

func (q *stubQueue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.started++
	return nil
}

func (q *stubQueue) Close(ctx context.Context) error { return nil }

func (q *stubQueue) Enqueue(ctx context.Context, queueName, jobName string, payload interface{}) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.enqueued = append(q.enqueued, queueName+"/"+jobName)
	return nil
}

func (q *stubQueue) RegisterRepeatable(ctx context.Context, queueName, jobName string, payload interface{}, every time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.repeatables = append(q.repeatables, queueName+"/"+jobName)
	return nil
}

func (q *stubQueue) ClearRepeatables(ctx context.Context, queueName string) error { return nil }

type stubSource struct {
	sig *models.MarketSignal
}

func (s *stubSource) Next(symbol string) *models.MarketSignal { return s.sig }

type stubAnalyzer struct {
	res *models.AnalysisResult
	err error
}

func (a *stubAnalyzer) AnalyzeSignal(ctx context.Context, sig *models.MarketSignal) (*models.AnalysisResult, error) {
	return a.res, a.err
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func signalWith(rsi, change float64) *models.MarketSignal {
	return &models.MarketSignal{
		Symbol: "BTC/USDT",
		Price:  65000,
		Indicators: models.Indicators{
			RSI:       &rsi,
			Change24h: &change,
		},
		Timestamp: time.Now().UnixMilli(),
	}
}

func testEngine() *engine.Engine {
	return engine.New(engine.Config{
		CrashChangePct: 10,
		OversoldRSI:    30,
		OverboughtRSI:  70,
		AmbiguityLow:   45,
		AmbiguityHigh:  55,
	})
}

// testDaemon wires a daemon over in-memory storage with no queue. Tests
// exercising the queue path use a scan through the handlers directly.
func testDaemon(t *testing.T, an *stubAnalyzer, src *stubSource, sampler FixedSampler, metrics *captureMetrics) (*Daemon, *repository.MemoryEventStore) {
	t.Helper()

	store := repository.NewMemoryEventStore()
	em := emitter.New(store, nopBroadcaster{}, nopMirror{}, metrics, testLogger(t))

	d := New(
		Config{
			HeartbeatEvery: 5 * time.Second,
			Scans: []Scan{
				{Name: "scan-fast", Symbol: "BTC/USDT", Every: 10 * time.Second},
			},
			AnalyzerTimeout:     time.Second,
			EscalationBurst:     3,
			EscalationPerMinute: 60,
		},
		&stubQueue{},
		em,
		testEngine(),
		an,
		sampler,
		ratelimit.New(),
		src,
		metrics,
		testLogger(t),
	)
	return d, store
}

func lastEvent(t *testing.T, store *repository.MemoryEventStore) *models.SpiritEvent {
	t.Helper()
	events, err := store.Recent(context.Background(), 1)
	if err != nil || len(events) == 0 {
		t.Fatalf("no events stored (err=%v)", err)
	}
	return events[0]
}

func TestHandleScanCrashEmitsRiskAlert(t *testing.T) {
	metrics := newCaptureMetrics()
	src := &stubSource{sig: signalWith(60, -12.5)}
	d, store := testDaemon(t, &stubAnalyzer{}, src, FixedSampler(false), metrics)

	if err := d.handleScan(context.Background(), map[string]interface{}{"symbol": "BTC/USDT"}); err != nil {
		t.Fatalf("handleScan: %v", err)
	}

	ev := lastEvent(t, store)
	if ev.Type != models.EventRiskAlert {
		t.Errorf("event type = %s, want risk_alert", ev.Type)
	}
	if ev.Priority != models.PriorityP0 {
		t.Errorf("priority = %s, want p0", ev.Priority)
	}
	if d.State() != models.StateAlerting {
		t.Errorf("daemon state = %s, want alerting", d.State())
	}
}

func TestHandleScanOversoldEmitsSignal(t *testing.T) {
	metrics := newCaptureMetrics()
	src := &stubSource{sig: signalWith(25, 2.0)}
	d, store := testDaemon(t, &stubAnalyzer{}, src, FixedSampler(false), metrics)

	if err := d.handleScan(context.Background(), map[string]interface{}{"symbol": "BTC/USDT"}); err != nil {
		t.Fatalf("handleScan: %v", err)
	}

	ev := lastEvent(t, store)
	if ev.Type != models.EventSignalDetected {
		t.Errorf("event type = %s, want signal_detected", ev.Type)
	}
	if ev.Metadata["decision"] != "signal" {
		t.Errorf("decision metadata = %v, want signal", ev.Metadata["decision"])
	}
}

func TestHandleScanNeutralEmitsNothing(t *testing.T) {
	metrics := newCaptureMetrics()
	src := &stubSource{sig: signalWith(60, 1.0)}
	d, store := testDaemon(t, &stubAnalyzer{}, src, FixedSampler(false), metrics)

	if err := d.handleScan(context.Background(), map[string]interface{}{"symbol": "BTC/USDT"}); err != nil {
		t.Fatalf("handleScan: %v", err)
	}

	n, _ := store.Count(context.Background())
	if n != 0 {
		t.Errorf("stored events = %d, want 0 for neutral scan", n)
	}
}

func TestHandleScanAlertDoesNotEscalate(t *testing.T) {
	metrics := newCaptureMetrics()
	// Crash-level drop and an RSI inside the ambiguity band: the alert must
	// win outright, with no analyzer call queued on the side.
	src := &stubSource{sig: signalWith(50, -12.5)}
	d, store := testDaemon(t, &stubAnalyzer{}, src, FixedSampler(true), metrics)
	q := d.queue.(*stubQueue)

	if err := d.handleScan(context.Background(), map[string]interface{}{"symbol": "BTC/USDT"}); err != nil {
		t.Fatalf("handleScan: %v", err)
	}

	ev := lastEvent(t, store)
	if ev.Type != models.EventRiskAlert {
		t.Errorf("event type = %s, want risk_alert", ev.Type)
	}
	if len(q.enqueued) != 0 {
		t.Errorf("enqueued = %v, want nothing queued on a decided scan", q.enqueued)
	}
	if got := metrics.escalationCount("enqueued"); got != 0 {
		t.Errorf("enqueued count = %d, want 0", got)
	}
}

func TestAmbiguousSignalSampledOut(t *testing.T) {
	metrics := newCaptureMetrics()
	src := &stubSource{sig: signalWith(50, 1.0)}
	d, _ := testDaemon(t, &stubAnalyzer{}, src, FixedSampler(false), metrics)

	if err := d.handleScan(context.Background(), map[string]interface{}{"symbol": "BTC/USDT"}); err != nil {
		t.Fatalf("handleScan: %v", err)
	}

	if got := metrics.escalationCount("sampled_out"); got != 1 {
		t.Errorf("sampled_out count = %d, want 1", got)
	}
}

func TestHandleLLMCallEmitsStrategyDecision(t *testing.T) {
	metrics := newCaptureMetrics()
	an := &stubAnalyzer{res: &models.AnalysisResult{
		Sentiment:       models.SentimentBullish,
		Confidence:      0.7,
		Reasoning:       "order flow turning up",
		SuggestedAction: models.SuggestBuy,
	}}
	d, store := testDaemon(t, an, &stubSource{}, FixedSampler(true), metrics)

	payload := map[string]interface{}{
		"signal": signalWith(50, 1.0),
		"reason": "ambiguous oscillator reading",
	}
	if err := d.handleLLMCall(context.Background(), payload); err != nil {
		t.Fatalf("handleLLMCall: %v", err)
	}

	ev := lastEvent(t, store)
	if ev.Type != models.EventStrategyDecision {
		t.Errorf("event type = %s, want strategy_decision", ev.Type)
	}
	if ev.SpiritState != models.StateExecuting {
		t.Errorf("spirit state = %s, want executing for a buy call", ev.SpiritState)
	}
	if ev.Priority != models.PriorityP1 {
		t.Errorf("priority = %s, want p1", ev.Priority)
	}
	if ev.Metadata["sentiment"] != "bullish" {
		t.Errorf("sentiment metadata = %v, want bullish", ev.Metadata["sentiment"])
	}
	if n, _ := store.Count(context.Background()); n != 2 {
		t.Errorf("stored events = %d, want analyzing status plus decision", n)
	}
	if got := metrics.escalationCount("completed"); got != 1 {
		t.Errorf("completed count = %d, want 1", got)
	}
	if d.State() != models.StateMonitoring {
		t.Errorf("daemon state = %s, want monitoring after analysis", d.State())
	}
}

func TestHandleLLMCallHoldKeepsMonitoring(t *testing.T) {
	metrics := newCaptureMetrics()
	an := &stubAnalyzer{res: &models.AnalysisResult{
		Sentiment:       models.SentimentNeutral,
		Confidence:      0.5,
		Reasoning:       "no edge either way",
		SuggestedAction: models.SuggestHold,
	}}
	d, store := testDaemon(t, an, &stubSource{}, FixedSampler(true), metrics)

	payload := map[string]interface{}{"signal": signalWith(50, 1.0)}
	if err := d.handleLLMCall(context.Background(), payload); err != nil {
		t.Fatalf("handleLLMCall: %v", err)
	}

	ev := lastEvent(t, store)
	if ev.SpiritState != models.StateMonitoring {
		t.Errorf("spirit state = %s, want monitoring for a hold call", ev.SpiritState)
	}
}

func TestHandleLLMCallFailureEmitsDegradedStatus(t *testing.T) {
	metrics := newCaptureMetrics()
	an := &stubAnalyzer{err: errors.New("model overloaded")}
	d, store := testDaemon(t, an, &stubSource{}, FixedSampler(true), metrics)

	payload := map[string]interface{}{"signal": signalWith(50, 1.0)}
	if err := d.handleLLMCall(context.Background(), payload); err != nil {
		t.Fatalf("handleLLMCall should swallow analyzer errors, got: %v", err)
	}

	ev := lastEvent(t, store)
	if ev.Type != models.EventSystemStatus {
		t.Errorf("event type = %s, want system_status", ev.Type)
	}
	if ev.Metadata["reason"] != "analyzer_error" {
		t.Errorf("reason metadata = %v, want analyzer_error", ev.Metadata["reason"])
	}
	if got := metrics.escalationCount("failed"); got != 1 {
		t.Errorf("failed count = %d, want 1", got)
	}
}

func TestHeartbeatCarriesCurrentState(t *testing.T) {
	metrics := newCaptureMetrics()
	d, store := testDaemon(t, &stubAnalyzer{}, &stubSource{}, FixedSampler(false), metrics)

	d.setState(models.StateAlerting)
	if err := d.handleHeartbeat(context.Background(), nil); err != nil {
		t.Fatalf("handleHeartbeat: %v", err)
	}

	ev := lastEvent(t, store)
	if ev.Type != models.EventHeartbeat {
		t.Errorf("event type = %s, want heartbeat", ev.Type)
	}
	if ev.SpiritState != models.StateAlerting {
		t.Errorf("spirit state = %s, want alerting", ev.SpiritState)
	}
}

func TestEscalationRateBudget(t *testing.T) {
	metrics := newCaptureMetrics()
	src := &stubSource{sig: signalWith(50, 1.0)}
	d, _ := testDaemon(t, &stubAnalyzer{}, src, FixedSampler(true), metrics)
	d.cfg.EscalationBurst = 1
	d.cfg.EscalationPerMinute = 0.0001 // effectively no refill within the test

	d.maybeEscalate(context.Background(), src.sig)
	d.maybeEscalate(context.Background(), src.sig)

	if got := metrics.escalationCount("enqueued"); got != 1 {
		t.Errorf("enqueued count = %d, want 1", got)
	}
	if got := metrics.escalationCount("rate_limited"); got != 1 {
		t.Errorf("rate_limited count = %d, want 1", got)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	metrics := newCaptureMetrics()
	d, store := testDaemon(t, &stubAnalyzer{}, &stubSource{}, FixedSampler(false), metrics)
	q := d.queue.(*stubQueue)

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}

	if q.started != 1 {
		t.Errorf("queue started %d times, want 1", q.started)
	}
	// heartbeat plus one scan schedule, registered exactly once
	if len(q.repeatables) != 2 {
		t.Errorf("repeatables = %v, want 2 registrations", q.repeatables)
	}
	if d.State() != models.StateMonitoring {
		t.Errorf("state = %s, want monitoring after start", d.State())
	}

	ev := lastEvent(t, store)
	if ev.Type != models.EventSystemStatus {
		t.Errorf("startup event type = %s, want system_status", ev.Type)
	}
}

func TestShutdownClosesEmitterAndResets(t *testing.T) {
	metrics := newCaptureMetrics()
	d, _ := testDaemon(t, &stubAnalyzer{}, &stubSource{}, FixedSampler(false), metrics)
	q := d.queue.(*stubQueue)

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	if d.State() != models.StateDormant {
		t.Errorf("state = %s, want dormant after shutdown", d.State())
	}
	if err := d.emitter.Emit(context.Background(), &models.SpiritEvent{Type: models.EventSystemStatus}); err == nil {
		t.Error("emitter still accepts events after shutdown")
	}

	// A stopped daemon is startable again; the flag must not stay latched.
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if q.started != 2 {
		t.Errorf("queue started %d times, want 2 after restart", q.started)
	}
}
