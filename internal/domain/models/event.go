package models

import "time"

// SpiritState describes the pipeline's current high-level activity phase.
type SpiritState string

const (
	StateDormant    SpiritState = "dormant"
	StateMonitoring SpiritState = "monitoring"
	StateAnalyzing  SpiritState = "analyzing"
	StateExecuting  SpiritState = "executing"
	StateAlerting   SpiritState = "alerting"
	StateError      SpiritState = "error"
)

// Valid reports whether s is a known state.
func (s SpiritState) Valid() bool {
	switch s {
	case StateDormant, StateMonitoring, StateAnalyzing, StateExecuting, StateAlerting, StateError:
		return true
	}
	return false
}

// EventType classifies a SpiritEvent.
type EventType string

const (
	EventHeartbeat        EventType = "heartbeat"
	EventSystemStatus     EventType = "system_status"
	EventSignalDetected   EventType = "signal_detected"
	EventRiskAlert        EventType = "risk_alert"
	EventStrategyDecision EventType = "strategy_decision"
)

// Priority ranks events, p0 highest through p4 lowest.
type Priority string

const (
	PriorityP0 Priority = "p0"
	PriorityP1 Priority = "p1"
	PriorityP2 Priority = "p2"
	PriorityP3 Priority = "p3"
	PriorityP4 Priority = "p4"
)

// SpiritEvent is the durable unit of record for the pipeline. The id and
// CreatedAt are assigned at persistence time; events are immutable once
// written.
//
// Known metadata keys by type:
//   - signal_detected / risk_alert: "symbol", "signal", "decision"
//   - strategy_decision: "symbol", "sentiment", "confidence", "reasoning", "action"
//   - system_status: "reason" (optional), "source" (optional)
type SpiritEvent struct {
	ID          uint64                 `json:"id,omitempty"`
	Timestamp   int64                  `json:"timestamp"`
	Type        EventType              `json:"type"`
	Priority    Priority               `json:"priority"`
	SpiritState SpiritState            `json:"spiritState"`
	Title       string                 `json:"title"`
	Content     string                 `json:"content"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt   time.Time              `json:"createdAt,omitempty"`
}
