package daemon

import (
	"math/rand"
	"sync"
	"time"

	"DeltaSpirit/internal/domain/models"
)

// SignalSource produces market samples for scan ticks.
type SignalSource interface {
	Next(symbol string) *models.MarketSignal
}

// Simulator is a seedable random-walk signal source, used when no live feed
// is wired in. Each symbol keeps its own walk so consecutive samples are
// plausibly correlated.
type Simulator struct {
	mu    sync.Mutex
	rng   *rand.Rand
	state map[string]*walkState
}

type walkState struct {
	price float64
	rsi   float64
}

// NewSimulator creates a simulator with the given seed.
func NewSimulator(seed int64) *Simulator {
	return &Simulator{
		rng:   rand.New(rand.NewSource(seed)),
		state: make(map[string]*walkState),
	}
}

var basePrices = map[string]float64{
	"BTC/USDT": 65000,
	"ETH/USDT": 3200,
	"SOL/USDT": 150,
}

// Next advances the walk for symbol and returns a fresh sample.
func (s *Simulator) Next(symbol string) *models.MarketSignal {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.state[symbol]
	if !ok {
		base := basePrices[symbol]
		if base == 0 {
			base = 100
		}
		w = &walkState{price: base, rsi: 50}
		s.state[symbol] = w
	}

	// Price drifts within roughly 2% per step, RSI within 8 points.
	w.price *= 1 + (s.rng.Float64()-0.5)*0.04
	w.rsi += (s.rng.Float64() - 0.5) * 16
	if w.rsi < 5 {
		w.rsi = 5
	}
	if w.rsi > 95 {
		w.rsi = 95
	}

	rsi := w.rsi
	macd := (s.rng.Float64() - 0.5) * 40
	change := (s.rng.Float64() - 0.5) * 24 // occasionally beyond the 10% alert line
	volume := s.rng.Float64() * 1e6

	return &models.MarketSignal{
		Symbol: symbol,
		Price:  w.price,
		Indicators: models.Indicators{
			RSI:       &rsi,
			MACD:      &macd,
			Change24h: &change,
			Volume:    &volume,
		},
		Timestamp: time.Now().UnixMilli(),
	}
}
