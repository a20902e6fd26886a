package analyzer

import (
	"context"
	"fmt"
	"time"

	"DeltaSpirit/internal/domain/models"
)

// MockAnalyzer is a deterministic stand-in for the LLM analyzer. It mimics
// the real thing's latency but derives its verdict from the signal itself, so
// tests and local runs are reproducible.
type MockAnalyzer struct {
	latency time.Duration
}

// NewMockAnalyzer creates a mock analyzer with the given simulated latency.
func NewMockAnalyzer(latency time.Duration) *MockAnalyzer {
	return &MockAnalyzer{latency: latency}
}

// AnalyzeSignal returns a rule-based judgment. Honors ctx cancellation while
// simulating latency.
func (a *MockAnalyzer) AnalyzeSignal(ctx context.Context, sig *models.MarketSignal) (*models.AnalysisResult, error) {
	if a.latency > 0 {
		timer := time.NewTimer(a.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	rsi := 50.0
	if sig != nil && sig.Indicators.RSI != nil {
		rsi = *sig.Indicators.RSI
	}

	res := &models.AnalysisResult{
		Sentiment:       models.SentimentNeutral,
		Confidence:      0.5,
		Reasoning:       fmt.Sprintf("RSI %.1f offers no directional edge; staying flat", rsi),
		SuggestedAction: models.SuggestHold,
	}
	switch {
	case rsi < 45:
		res.Sentiment = models.SentimentBullish
		res.Confidence = 0.55 + (45-rsi)/100
		res.Reasoning = fmt.Sprintf("RSI %.1f leaning oversold; momentum favors accumulation", rsi)
		res.SuggestedAction = models.SuggestBuy
	case rsi > 55:
		res.Sentiment = models.SentimentBearish
		res.Confidence = 0.55 + (rsi-55)/100
		res.Reasoning = fmt.Sprintf("RSI %.1f leaning overbought; momentum favors distribution", rsi)
		res.SuggestedAction = models.SuggestSell
	}
	if res.Confidence > 1 {
		res.Confidence = 1
	}
	return res, nil
}
