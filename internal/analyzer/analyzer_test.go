package analyzer

import (
	"context"
	"testing"
	"time"

	"DeltaSpirit/internal/domain/models"
)

func rsiSig(rsi float64) *models.MarketSignal {
	return &models.MarketSignal{
		Symbol:     "BTC/USDT",
		Price:      65000,
		Indicators: models.Indicators{RSI: &rsi},
	}
}

func TestMockAnalyzerDeterministicVerdicts(t *testing.T) {
	a := NewMockAnalyzer(0)

	cases := []struct {
		rsi       float64
		sentiment models.Sentiment
		action    models.SuggestedAction
	}{
		{40, models.SentimentBullish, models.SuggestBuy},
		{50, models.SentimentNeutral, models.SuggestHold},
		{60, models.SentimentBearish, models.SuggestSell},
	}

	for _, c := range cases {
		res, err := a.AnalyzeSignal(context.Background(), rsiSig(c.rsi))
		if err != nil {
			t.Fatalf("rsi=%v: %v", c.rsi, err)
		}
		if res.Sentiment != c.sentiment {
			t.Errorf("rsi=%v: sentiment %s, want %s", c.rsi, res.Sentiment, c.sentiment)
		}
		if res.SuggestedAction != c.action {
			t.Errorf("rsi=%v: action %s, want %s", c.rsi, res.SuggestedAction, c.action)
		}
		if res.Confidence < 0 || res.Confidence > 1 {
			t.Errorf("rsi=%v: confidence %v out of range", c.rsi, res.Confidence)
		}
	}
}

func TestMockAnalyzerHonorsContext(t *testing.T) {
	a := NewMockAnalyzer(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := a.AnalyzeSignal(ctx, rsiSig(50)); err == nil {
		t.Fatal("expected context error while waiting out mock latency")
	}
}

func TestParseVerdict(t *testing.T) {
	res, err := parseVerdict("Here you go:\n```json\n" +
		`{"sentiment":"bullish","confidence":0.8,"reasoning":"flows","suggestedAction":"buy"}` +
		"\n```")
	if err != nil {
		t.Fatalf("parseVerdict: %v", err)
	}
	if res.Sentiment != models.SentimentBullish || res.SuggestedAction != models.SuggestBuy {
		t.Errorf("unexpected verdict: %+v", res)
	}
}

func TestParseVerdictRejectsGarbage(t *testing.T) {
	cases := []string{
		"no json here",
		`{"sentiment":"sideways","confidence":0.8,"reasoning":"","suggestedAction":"buy"}`,
		`{"sentiment":"bullish","confidence":1.8,"reasoning":"","suggestedAction":"buy"}`,
		`{"sentiment":"bullish","confidence":0.8,"reasoning":"","suggestedAction":"yolo"}`,
	}
	for _, c := range cases {
		if _, err := parseVerdict(c); err == nil {
			t.Errorf("expected error for %q", c)
		}
	}
}
