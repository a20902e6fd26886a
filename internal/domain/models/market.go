package models

// Indicators carries the technical indicators attached to a market sample.
// Pointers distinguish "absent" from zero; the engine substitutes neutral
// defaults for absent values.
type Indicators struct {
	RSI       *float64 `json:"rsi,omitempty"`
	MACD      *float64 `json:"macd,omitempty"`
	Change24h *float64 `json:"change24h,omitempty"`
	Volume    *float64 `json:"volume,omitempty"`
}

// MarketSignal is one market-data sample produced by a scan tick. Ephemeral:
// consumed once by the decision engine, never persisted on its own.
type MarketSignal struct {
	Symbol     string     `json:"symbol"`
	Price      float64    `json:"price"`
	Indicators Indicators `json:"indicators"`
	Timestamp  int64      `json:"timestamp"`
}

// DecisionAction is the engine's classification of a signal.
type DecisionAction string

const (
	ActionIgnore DecisionAction = "ignore"
	ActionAlert  DecisionAction = "alert"
	ActionSignal DecisionAction = "signal"
)

// Decision is the stateless output of the decision engine for one signal.
// Never persisted directly; folded into a SpiritEvent by the daemon.
type Decision struct {
	Action         DecisionAction `json:"action"`
	Reason         string         `json:"reason"`
	SuggestedState SpiritState    `json:"suggestedState"`
	Priority       Priority       `json:"priority"`
}

// Sentiment is the analyzer's market read.
type Sentiment string

const (
	SentimentBullish Sentiment = "bullish"
	SentimentBearish Sentiment = "bearish"
	SentimentNeutral Sentiment = "neutral"
)

// SuggestedAction is the analyzer's recommended action.
type SuggestedAction string

const (
	SuggestBuy  SuggestedAction = "buy"
	SuggestSell SuggestedAction = "sell"
	SuggestHold SuggestedAction = "hold"
)

// AnalysisResult is the analyzer's judgment for one ambiguous signal.
type AnalysisResult struct {
	Sentiment       Sentiment       `json:"sentiment"`
	Confidence      float64         `json:"confidence"`
	Reasoning       string          `json:"reasoning"`
	SuggestedAction SuggestedAction `json:"suggestedAction"`
}
