package engine

import (
	"strings"
	"testing"

	"DeltaSpirit/internal/domain/models"
)

func testConfig() Config {
	return Config{
		CrashChangePct: 10,
		OversoldRSI:    30,
		OverboughtRSI:  70,
		AmbiguityLow:   45,
		AmbiguityHigh:  55,
	}
}

func sig(rsi, change float64) *models.MarketSignal {
	return &models.MarketSignal{
		Symbol:     "BTC/USDT",
		Price:      65000,
		Indicators: models.Indicators{RSI: &rsi, Change24h: &change},
	}
}

func TestEvaluateCrashAlwaysAlerts(t *testing.T) {
	e := New(testConfig())

	// A crash-sized move dominates any oscillator reading.
	for _, rsi := range []float64{5, 25, 50, 75, 95} {
		d := e.Evaluate(sig(rsi, -12.5))
		if d.Action != models.ActionAlert {
			t.Fatalf("rsi=%v: expected alert, got %s", rsi, d.Action)
		}
		if d.Priority != models.PriorityP0 {
			t.Errorf("rsi=%v: expected p0, got %s", rsi, d.Priority)
		}
		if d.SuggestedState != models.StateAlerting {
			t.Errorf("rsi=%v: expected alerting state, got %s", rsi, d.SuggestedState)
		}
		if !strings.Contains(d.Reason, "crash") {
			t.Errorf("reason should name the move direction, got %q", d.Reason)
		}
	}

	d := e.Evaluate(sig(50, 11))
	if !strings.Contains(d.Reason, "spike") {
		t.Errorf("positive move should read as spike, got %q", d.Reason)
	}
}

func TestEvaluateOversoldBuySignal(t *testing.T) {
	e := New(testConfig())

	for _, rsi := range []float64{10, 25, 30} {
		d := e.Evaluate(sig(rsi, 2.5))
		if d.Action != models.ActionSignal {
			t.Fatalf("rsi=%v: expected signal, got %s", rsi, d.Action)
		}
		if d.Priority != models.PriorityP1 {
			t.Errorf("rsi=%v: expected p1, got %s", rsi, d.Priority)
		}
		if !strings.Contains(d.Reason, "buy") {
			t.Errorf("rsi=%v: expected buy-leaning reason, got %q", rsi, d.Reason)
		}
	}
}

func TestEvaluateOverboughtSellSignal(t *testing.T) {
	e := New(testConfig())

	d := e.Evaluate(sig(78, -3))
	if d.Action != models.ActionSignal {
		t.Fatalf("expected signal, got %s", d.Action)
	}
	if !strings.Contains(d.Reason, "sell") {
		t.Errorf("expected sell-leaning reason, got %q", d.Reason)
	}
}

func TestEvaluateNeutralBandIgnores(t *testing.T) {
	e := New(testConfig())

	for _, rsi := range []float64{31, 45, 50, 55, 69} {
		d := e.Evaluate(sig(rsi, 4))
		if d.Action != models.ActionIgnore {
			t.Errorf("rsi=%v: expected ignore, got %s", rsi, d.Action)
		}
	}
}

func TestEvaluateMissingIndicatorsDefaultNeutral(t *testing.T) {
	e := New(testConfig())

	d := e.Evaluate(&models.MarketSignal{Symbol: "BTC/USDT"})
	if d.Action != models.ActionIgnore {
		t.Fatalf("missing indicators should read neutral, got %s", d.Action)
	}

	if d := e.Evaluate(nil); d.Action != models.ActionIgnore {
		t.Fatalf("nil signal should read neutral, got %s", d.Action)
	}
}

func TestScenarioOversoldBTC(t *testing.T) {
	e := New(testConfig())

	d := e.Evaluate(sig(25, 2.5))
	if d.Action != models.ActionSignal {
		t.Fatalf("expected signal, got %s", d.Action)
	}
	if d.Priority != models.PriorityP1 {
		t.Errorf("expected p1, got %s", d.Priority)
	}
}

func TestScenarioCrashETH(t *testing.T) {
	e := New(testConfig())

	d := e.Evaluate(&models.MarketSignal{
		Symbol:     "ETH/USDT",
		Indicators: models.Indicators{RSI: f(50), Change24h: f(-12.5)},
	})
	if d.Action != models.ActionAlert {
		t.Fatalf("expected alert, got %s", d.Action)
	}
	if d.Priority != models.PriorityP0 {
		t.Errorf("expected p0, got %s", d.Priority)
	}
}

func TestAmbiguous(t *testing.T) {
	e := New(testConfig())

	cases := []struct {
		rsi  float64
		want bool
	}{
		{44.9, false},
		{45, true},
		{50, true},
		{55, true},
		{55.1, false},
	}
	for _, c := range cases {
		if got := e.Ambiguous(sig(c.rsi, 0)); got != c.want {
			t.Errorf("rsi=%v: ambiguous=%v, want %v", c.rsi, got, c.want)
		}
	}

	if e.Ambiguous(&models.MarketSignal{}) {
		t.Error("missing RSI must not be ambiguous")
	}
}

func f(v float64) *float64 { return &v }
