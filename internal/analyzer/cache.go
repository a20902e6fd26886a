package analyzer

import (
	"context"
	"time"

	"DeltaSpirit/internal/domain/models"
	"DeltaSpirit/internal/domain/repository"
	"DeltaSpirit/pkg/cache"
)

// CachedAnalyzer memoizes verdicts per symbol for a short TTL, bounding
// repeat escalations for the same instrument.
type CachedAnalyzer struct {
	inner repository.Analyzer
	cache cache.Service
	ttl   time.Duration
}

// NewCachedAnalyzer wraps an analyzer with a per-symbol result cache.
func NewCachedAnalyzer(inner repository.Analyzer, c cache.Service, ttl time.Duration) *CachedAnalyzer {
	return &CachedAnalyzer{inner: inner, cache: c, ttl: ttl}
}

func (a *CachedAnalyzer) AnalyzeSignal(ctx context.Context, sig *models.MarketSignal) (*models.AnalysisResult, error) {
	if sig == nil || sig.Symbol == "" {
		return a.inner.AnalyzeSignal(ctx, sig)
	}

	key := cache.GenerateKey("analysis", sig.Symbol)

	// Cache trouble must not block analysis; any Get error means a fresh call.
	var cached models.AnalysisResult
	if err := a.cache.Get(ctx, key, &cached); err == nil {
		return &cached, nil
	}

	res, err := a.inner.AnalyzeSignal(ctx, sig)
	if err != nil {
		return nil, err
	}

	_ = a.cache.Set(ctx, key, res, a.ttl)
	return res, nil
}
