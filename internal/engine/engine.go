package engine

import (
	"fmt"

	"DeltaSpirit/internal/domain/models"
)

// Config holds the classification thresholds. Values come from pkg/config so
// operators can tune them without a rebuild.
type Config struct {
	CrashChangePct float64 // |change24h| at or above this is a crash/spike
	OversoldRSI    float64
	OverboughtRSI  float64
	AmbiguityLow   float64
	AmbiguityHigh  float64
}

// Engine classifies market signals into decisions. Pure and stateless: no
// I/O, no failure mode beyond neutral defaults for missing indicators.
type Engine struct {
	cfg Config
}

// New creates a decision engine with the given thresholds.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

const neutralRSI = 50

// Evaluate maps one market signal to a decision. Missing RSI reads as
// neutral (50), missing change24h as flat. Ties break toward the more
// conservative classification: the crash/spike check wins over oscillator
// extremes.
func (e *Engine) Evaluate(sig *models.MarketSignal) models.Decision {
	rsi := float64(neutralRSI)
	if sig != nil && sig.Indicators.RSI != nil {
		rsi = *sig.Indicators.RSI
	}
	change := 0.0
	if sig != nil && sig.Indicators.Change24h != nil {
		change = *sig.Indicators.Change24h
	}

	switch {
	case abs(change) >= e.cfg.CrashChangePct:
		direction := "spike"
		if change < 0 {
			direction = "crash"
		}
		return models.Decision{
			Action:         models.ActionAlert,
			Reason:         fmt.Sprintf("24h %s of %.1f%% exceeds %.1f%% threshold", direction, abs(change), e.cfg.CrashChangePct),
			SuggestedState: models.StateAlerting,
			Priority:       models.PriorityP0,
		}
	case rsi <= e.cfg.OversoldRSI:
		// Mean-reversion entry: oversold RSI alone triggers the buy lean,
		// without trend confirmation from change24h.
		return models.Decision{
			Action:         models.ActionSignal,
			Reason:         fmt.Sprintf("RSI %.1f oversold (<= %.1f), buy opportunity", rsi, e.cfg.OversoldRSI),
			SuggestedState: models.StateMonitoring,
			Priority:       models.PriorityP1,
		}
	case rsi >= e.cfg.OverboughtRSI:
		return models.Decision{
			Action:         models.ActionSignal,
			Reason:         fmt.Sprintf("RSI %.1f overbought (>= %.1f), sell pressure likely", rsi, e.cfg.OverboughtRSI),
			SuggestedState: models.StateMonitoring,
			Priority:       models.PriorityP1,
		}
	default:
		return models.Decision{
			Action:         models.ActionIgnore,
			Reason:         "no actionable condition",
			SuggestedState: models.StateMonitoring,
			Priority:       models.PriorityP4,
		}
	}
}

// Ambiguous reports whether the signal's oscillator sits in the narrow
// neutral band that makes it eligible for analyzer escalation. The engine
// only identifies ambiguity; the daemon decides whether to escalate.
func (e *Engine) Ambiguous(sig *models.MarketSignal) bool {
	if sig == nil || sig.Indicators.RSI == nil {
		return false
	}
	rsi := *sig.Indicators.RSI
	return rsi >= e.cfg.AmbiguityLow && rsi <= e.cfg.AmbiguityHigh
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
