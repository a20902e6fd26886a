package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Enqueuer is the producer-side surface of the queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, queue, job string, payload interface{}) error
	EnqueueIn(ctx context.Context, queue, job string, payload interface{}, delay time.Duration) error
}

// Config contains worker and retry settings shared by all queues.
type Config struct {
	Workers    int           // workers per queue
	RetryLimit int           // max retries for one-shot jobs
	RetryDelay time.Duration // delay between retries
}

// Message represents a job instance travelling through a queue. Repeat > 0
// marks the message as one tick of a repeating job; repeating ticks are never
// retried (the next scheduled tick proceeds independently).
type Message struct {
	ID        string        `json:"id"`
	Queue     string        `json:"queue"`
	Job       string        `json:"job"`
	Payload   interface{}   `json:"payload"`
	Attempts  int           `json:"attempts"`
	Repeat    time.Duration `json:"repeat,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// ParsePayload converts a decoded message payload into a typed struct.
func ParsePayload[T any](payload interface{}) (*T, error) {
	var result T

	switch p := payload.(type) {
	case *T:
		return p, nil
	case T:
		return &p, nil
	case map[string]interface{}:
		jsonData, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal map to json: %w", err)
		}
		if err := json.Unmarshal(jsonData, &result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal json to struct: %w", err)
		}
		return &result, nil
	case json.RawMessage:
		if err := json.Unmarshal(p, &result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
		return &result, nil
	case nil:
		return &result, nil
	default:
		return nil, fmt.Errorf("invalid payload type: %T", payload)
	}
}
