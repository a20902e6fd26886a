package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"DeltaSpirit/internal/domain/models"
	xhttp "DeltaSpirit/pkg/http"
)

const systemPrompt = "You are a market analyst for a crypto monitoring pipeline. " +
	"Given one market signal, respond with a single JSON object and nothing else: " +
	`{"sentiment":"bullish|bearish|neutral","confidence":0.0,"reasoning":"...","suggestedAction":"buy|sell|hold"}`

// HTTPAnalyzer calls an OpenAI-compatible chat-completions endpoint and
// parses a strict JSON verdict. Timeouts are the caller's responsibility via
// ctx; the underlying client carries none of its own.
type HTTPAnalyzer struct {
	endpoint string
	apiKey   string
	model    string
	client   *xhttp.Client
}

// NewHTTPAnalyzer creates an HTTP-backed analyzer.
func NewHTTPAnalyzer(endpoint, apiKey, model string) *HTTPAnalyzer {
	return &HTTPAnalyzer{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		apiKey:   apiKey,
		model:    model,
		client:   xhttp.NewClient(xhttp.WithTimeout(0)),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// AnalyzeSignal asks the model for a verdict on one ambiguous signal.
func (a *HTTPAnalyzer) AnalyzeSignal(ctx context.Context, sig *models.MarketSignal) (*models.AnalysisResult, error) {
	sigJSON, err := json.Marshal(sig)
	if err != nil {
		return nil, fmt.Errorf("marshal signal: %w", err)
	}

	reqBody := &chatRequest{
		Model: a.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: string(sigJSON)},
		},
		Temperature: 0.2,
		MaxTokens:   300,
	}

	var chatResp chatResponse
	err = a.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodPost,
		URL:    a.endpoint + "/chat/completions",
		Headers: map[string]string{
			"Content-Type":  "application/json",
			"Authorization": "Bearer " + a.apiKey,
		},
		Body: reqBody,
	}, &chatResp)
	if err != nil {
		return nil, fmt.Errorf("analyzer request: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("no response choices returned")
	}

	return parseVerdict(chatResp.Choices[0].Message.Content)
}

// parseVerdict extracts the JSON verdict from the model output, tolerating
// surrounding prose or code fences.
func parseVerdict(content string) (*models.AnalysisResult, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in analyzer output")
	}

	var res models.AnalysisResult
	if err := json.Unmarshal([]byte(content[start:end+1]), &res); err != nil {
		return nil, fmt.Errorf("parse verdict: %w", err)
	}

	switch res.Sentiment {
	case models.SentimentBullish, models.SentimentBearish, models.SentimentNeutral:
	default:
		return nil, fmt.Errorf("unknown sentiment %q", res.Sentiment)
	}
	switch res.SuggestedAction {
	case models.SuggestBuy, models.SuggestSell, models.SuggestHold:
	default:
		return nil, fmt.Errorf("unknown action %q", res.SuggestedAction)
	}
	if res.Confidence < 0 || res.Confidence > 1 {
		return nil, fmt.Errorf("confidence %v out of range", res.Confidence)
	}
	return &res, nil
}
