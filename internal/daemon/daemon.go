package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"DeltaSpirit/internal/domain/models"
	"DeltaSpirit/internal/domain/repository"
	"DeltaSpirit/internal/emitter"
	"DeltaSpirit/internal/engine"
	"DeltaSpirit/internal/service/ratelimit"
	"DeltaSpirit/pkg/logger"
	"DeltaSpirit/pkg/queue"
)

const (
	coreQueue = "spirit-core"
	llmQueue  = "spirit-llm"

	heartbeatJob = "heartbeat"
	llmCallJob   = "llm-call"

	analyzerLimitKey = "analyzer"
)

// Scan is one repeating market-scan registration.
type Scan struct {
	Name   string
	Symbol string
	Every  time.Duration
}

// Config holds the daemon's schedules and escalation budget.
type Config struct {
	HeartbeatEvery      time.Duration
	Scans               []Scan
	AnalyzerTimeout     time.Duration
	EscalationBurst     float64 // token bucket capacity
	EscalationPerMinute float64 // token refill per minute
}

type scanPayload struct {
	Symbol string `json:"symbol"`
}

type llmPayload struct {
	Signal *models.MarketSignal `json:"signal"`
	Reason string               `json:"reason"`
}

// JobQueue is the queue surface the daemon drives. Satisfied by
// queue.RedisQueue.
type JobQueue interface {
	RegisterJob(queueName string, job queue.Job)
	Start() error
	Close(ctx context.Context) error
	Enqueue(ctx context.Context, queueName, jobName string, payload interface{}) error
	RegisterRepeatable(ctx context.Context, queueName, jobName string, payload interface{}, every time.Duration) error
	ClearRepeatables(ctx context.Context, queueName string) error
}

// Daemon is the orchestrator: it drives the repeating heartbeat and market
// scans through the queue, folds engine decisions into emitted events, and
// escalates ambiguous signals to the analyzer under a sampling gate and a
// rate budget.
type Daemon struct {
	cfg      Config
	queue    JobQueue
	emitter  *emitter.Emitter
	engine   *engine.Engine
	analyzer repository.Analyzer
	sampler  repository.Sampler
	limiter  *ratelimit.Limiter
	source   SignalSource
	metrics  repository.Metrics
	log      *logger.Logger

	started atomic.Bool
	state   atomic.Value // models.SpiritState
}

// New creates a daemon. Start must be called to register and launch jobs.
func New(
	cfg Config,
	q JobQueue,
	em *emitter.Emitter,
	eng *engine.Engine,
	an repository.Analyzer,
	sampler repository.Sampler,
	limiter *ratelimit.Limiter,
	source SignalSource,
	metrics repository.Metrics,
	log *logger.Logger,
) *Daemon {
	d := &Daemon{
		cfg:      cfg,
		queue:    q,
		emitter:  em,
		engine:   eng,
		analyzer: an,
		sampler:  sampler,
		limiter:  limiter,
		source:   source,
		metrics:  metrics,
		log:      log,
	}
	d.state.Store(models.StateDormant)
	return d
}

// State returns the daemon's current activity phase.
func (d *Daemon) State() models.SpiritState {
	return d.state.Load().(models.SpiritState)
}

func (d *Daemon) setState(s models.SpiritState) {
	d.state.Store(s)
}

// Start registers jobs, resets repeating schedules, and launches the queue.
// Calling Start on a running daemon is a no-op; restarts never stack
// duplicate schedules because registrations are cleared first.
func (d *Daemon) Start(ctx context.Context) error {
	if !d.started.CompareAndSwap(false, true) {
		d.log.Warn("daemon already started")
		return nil
	}

	d.queue.RegisterJob(coreQueue, queue.JobFunc{JobName: heartbeatJob, Fn: d.handleHeartbeat})
	for _, scan := range d.cfg.Scans {
		d.queue.RegisterJob(coreQueue, queue.JobFunc{JobName: scan.Name, Fn: d.handleScan})
	}
	d.queue.RegisterJob(llmQueue, queue.JobFunc{JobName: llmCallJob, Fn: d.handleLLMCall})

	for _, q := range []string{coreQueue, llmQueue} {
		if err := d.queue.ClearRepeatables(ctx, q); err != nil {
			return fmt.Errorf("clear repeatables on %s: %w", q, err)
		}
	}

	if err := d.queue.RegisterRepeatable(ctx, coreQueue, heartbeatJob, nil, d.cfg.HeartbeatEvery); err != nil {
		return fmt.Errorf("register heartbeat: %w", err)
	}
	for _, scan := range d.cfg.Scans {
		payload := scanPayload{Symbol: scan.Symbol}
		if err := d.queue.RegisterRepeatable(ctx, coreQueue, scan.Name, payload, scan.Every); err != nil {
			return fmt.Errorf("register scan %s: %w", scan.Name, err)
		}
	}

	if err := d.queue.Start(); err != nil {
		d.started.Store(false)
		return fmt.Errorf("start queue: %w", err)
	}

	d.setState(models.StateMonitoring)

	if err := d.emitter.Emit(ctx, &models.SpiritEvent{
		Timestamp:   time.Now().UnixMilli(),
		Type:        models.EventSystemStatus,
		Priority:    models.PriorityP3,
		SpiritState: models.StateMonitoring,
		Title:       "Spirit daemon started",
		Content:     fmt.Sprintf("heartbeat every %s, %d scan schedules", d.cfg.HeartbeatEvery, len(d.cfg.Scans)),
		Metadata:    map[string]interface{}{"source": "daemon"},
	}); err != nil {
		d.log.Error("startup event emit failed", logger.Error(err))
	}

	d.log.Info("spirit daemon started",
		logger.Duration("heartbeat_every", d.cfg.HeartbeatEvery),
		logger.Int("scans", len(d.cfg.Scans)))
	return nil
}

// Shutdown announces the stop, drains the queue workers, and closes the
// emitter. After Shutdown the daemon can be started again.
func (d *Daemon) Shutdown(ctx context.Context) error {
	if !d.started.CompareAndSwap(true, false) {
		return nil
	}

	d.setState(models.StateDormant)
	if err := d.emitter.Emit(ctx, &models.SpiritEvent{
		Timestamp:   time.Now().UnixMilli(),
		Type:        models.EventSystemStatus,
		Priority:    models.PriorityP3,
		SpiritState: models.StateDormant,
		Title:       "Spirit daemon stopping",
		Content:     "graceful shutdown requested",
		Metadata:    map[string]interface{}{"source": "daemon"},
	}); err != nil {
		d.log.Warn("shutdown event emit failed", logger.Error(err))
	}

	qErr := d.queue.Close(ctx)
	if err := d.emitter.Close(); err != nil {
		d.log.Warn("emitter close failed", logger.Error(err))
	}
	return qErr
}

func (d *Daemon) handleHeartbeat(ctx context.Context, _ interface{}) error {
	state := d.State()
	return d.emitter.Emit(ctx, &models.SpiritEvent{
		Timestamp:   time.Now().UnixMilli(),
		Type:        models.EventHeartbeat,
		Priority:    models.PriorityP4,
		SpiritState: state,
		Title:       "Heartbeat",
		Content:     fmt.Sprintf("spirit %s", state),
	})
}

func (d *Daemon) handleScan(ctx context.Context, payload interface{}) error {
	p, err := queue.ParsePayload[scanPayload](payload)
	if err != nil {
		return fmt.Errorf("parse scan payload: %w", err)
	}
	if p.Symbol == "" {
		return fmt.Errorf("scan payload missing symbol")
	}

	sig := d.source.Next(p.Symbol)
	dec := d.engine.Evaluate(sig)

	switch dec.Action {
	case models.ActionAlert:
		d.setState(dec.SuggestedState)
		if err := d.emitter.Emit(ctx, d.decisionEvent(models.EventRiskAlert, sig, dec)); err != nil {
			return err
		}
	case models.ActionSignal:
		d.setState(dec.SuggestedState)
		if err := d.emitter.Emit(ctx, d.decisionEvent(models.EventSignalDetected, sig, dec)); err != nil {
			return err
		}
	case models.ActionIgnore:
		// Only an ignored signal is a candidate for analyzer escalation;
		// alerts and signals already produced an event.
		d.setState(models.StateMonitoring)
		d.maybeEscalate(ctx, sig)
	}

	return nil
}

// maybeEscalate queues an analyzer call for an ambiguous signal when both
// the sampling gate and the rate budget agree. Escalation is advisory; any
// failure here is logged, never propagated into the scan result.
func (d *Daemon) maybeEscalate(ctx context.Context, sig *models.MarketSignal) {
	if !d.engine.Ambiguous(sig) {
		return
	}
	if !d.sampler.Sample() {
		d.metrics.RecordEscalation(sig.Symbol, "sampled_out")
		return
	}
	if !d.limiter.Allow(analyzerLimitKey, d.cfg.EscalationBurst, d.cfg.EscalationPerMinute/60) {
		d.metrics.RecordEscalation(sig.Symbol, "rate_limited")
		d.log.Debug("escalation rate limited", logger.String("symbol", sig.Symbol))
		return
	}

	payload := llmPayload{Signal: sig, Reason: "ambiguous oscillator reading"}
	if err := d.queue.Enqueue(ctx, llmQueue, llmCallJob, payload); err != nil {
		d.metrics.RecordEscalation(sig.Symbol, "enqueue_failed")
		d.log.Error("escalation enqueue failed", logger.String("symbol", sig.Symbol), logger.Error(err))
		return
	}
	d.metrics.RecordEscalation(sig.Symbol, "enqueued")
}

// handleLLMCall runs one analyzer escalation under the configured timeout.
// Failures degrade to a system_status event instead of retrying: by the time
// a retry would land the signal is stale.
func (d *Daemon) handleLLMCall(ctx context.Context, payload interface{}) error {
	p, err := queue.ParsePayload[llmPayload](payload)
	if err != nil {
		return fmt.Errorf("parse llm payload: %w", err)
	}
	if p.Signal == nil {
		return fmt.Errorf("llm payload missing signal")
	}

	d.setState(models.StateAnalyzing)
	defer d.setState(models.StateMonitoring)

	if err := d.emitter.Emit(ctx, &models.SpiritEvent{
		Timestamp:   time.Now().UnixMilli(),
		Type:        models.EventSystemStatus,
		Priority:    models.PriorityP3,
		SpiritState: models.StateAnalyzing,
		Title:       fmt.Sprintf("Analyzing %s", p.Signal.Symbol),
		Content:     p.Reason,
		Metadata:    map[string]interface{}{"symbol": p.Signal.Symbol, "source": "daemon"},
	}); err != nil {
		d.log.Warn("analyzing event emit failed", logger.Error(err))
	}

	callCtx, cancel := context.WithTimeout(ctx, d.cfg.AnalyzerTimeout)
	defer cancel()

	res, err := d.analyzer.AnalyzeSignal(callCtx, p.Signal)
	if err != nil {
		d.metrics.RecordEscalation(p.Signal.Symbol, "failed")
		d.log.Error("analyzer call failed",
			logger.String("symbol", p.Signal.Symbol),
			logger.Error(err))

		if emitErr := d.emitter.Emit(ctx, &models.SpiritEvent{
			Timestamp:   time.Now().UnixMilli(),
			Type:        models.EventSystemStatus,
			Priority:    models.PriorityP2,
			SpiritState: models.StateMonitoring,
			Title:       "Analyzer degraded",
			Content:     fmt.Sprintf("analysis of %s failed: %v", p.Signal.Symbol, err),
			Metadata:    map[string]interface{}{"reason": "analyzer_error", "source": "daemon"},
		}); emitErr != nil {
			d.log.Error("degraded event emit failed", logger.Error(emitErr))
		}
		return nil
	}

	// Hold keeps the spirit watching; any directional call asserts execution.
	decidedState := models.StateMonitoring
	if res.SuggestedAction != models.SuggestHold {
		decidedState = models.StateExecuting
	}

	d.metrics.RecordEscalation(p.Signal.Symbol, "completed")
	return d.emitter.Emit(ctx, &models.SpiritEvent{
		Timestamp:   time.Now().UnixMilli(),
		Type:        models.EventStrategyDecision,
		Priority:    models.PriorityP1,
		SpiritState: decidedState,
		Title:       fmt.Sprintf("Strategy read for %s", p.Signal.Symbol),
		Content:     res.Reasoning,
		Metadata: map[string]interface{}{
			"symbol":     p.Signal.Symbol,
			"sentiment":  string(res.Sentiment),
			"confidence": res.Confidence,
			"action":     string(res.SuggestedAction),
		},
	})
}

// decisionEvent folds a signal and its decision into an event record.
func (d *Daemon) decisionEvent(t models.EventType, sig *models.MarketSignal, dec models.Decision) *models.SpiritEvent {
	sigJSON, _ := json.Marshal(sig)
	return &models.SpiritEvent{
		Timestamp:   time.Now().UnixMilli(),
		Type:        t,
		Priority:    dec.Priority,
		SpiritState: dec.SuggestedState,
		Title:       fmt.Sprintf("%s: %s", sig.Symbol, dec.Action),
		Content:     dec.Reason,
		Metadata: map[string]interface{}{
			"symbol":   sig.Symbol,
			"signal":   json.RawMessage(sigJSON),
			"decision": string(dec.Action),
		},
	}
}
