package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"DeltaSpirit/internal/domain/models"
	"DeltaSpirit/internal/domain/repository"
	"DeltaSpirit/internal/emitter"
	"DeltaSpirit/pkg/kafka"
	"DeltaSpirit/pkg/logger"
)

// EventHandler consumes externally produced spirit events from a Kafka topic
// and feeds them through the emitter, so out-of-process producers get the
// same durability-before-broadcast ordering as the daemon.
type EventHandler struct {
	topic   string
	emitter *emitter.Emitter
	metrics repository.Metrics
	log     *logger.Logger
}

// NewEventHandler creates a handler for the intake topic.
func NewEventHandler(topic string, em *emitter.Emitter, metrics repository.Metrics, log *logger.Logger) *EventHandler {
	return &EventHandler{topic: topic, emitter: em, metrics: metrics, log: log}
}

func (h *EventHandler) Topic() string { return h.topic }

// Handle decodes and emits one inbound event. Malformed payloads are dropped
// permanently: retrying them cannot make them parse.
func (h *EventHandler) Handle(ctx context.Context, data []byte) error {
	var ev models.SpiritEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		h.metrics.RecordError("intake_decode")
		h.log.Warn("dropping malformed intake payload", logger.Error(err))
		return nil
	}
	if err := validate(&ev); err != nil {
		h.metrics.RecordError("intake_invalid")
		h.log.Warn("dropping invalid intake event",
			logger.String("type", string(ev.Type)),
			logger.Error(err))
		return nil
	}

	// The store reassigns id and created-at; external ids are not trusted.
	ev.ID = 0
	ev.CreatedAt = time.Time{}
	if ev.Metadata == nil {
		ev.Metadata = map[string]interface{}{}
	}
	if _, ok := ev.Metadata["source"]; !ok {
		ev.Metadata["source"] = "kafka"
	}

	return h.emitter.Emit(ctx, &ev)
}

func validate(ev *models.SpiritEvent) error {
	switch ev.Type {
	case models.EventHeartbeat, models.EventSystemStatus, models.EventSignalDetected,
		models.EventRiskAlert, models.EventStrategyDecision:
	default:
		return fmt.Errorf("unknown event type %q", ev.Type)
	}
	switch ev.Priority {
	case models.PriorityP0, models.PriorityP1, models.PriorityP2, models.PriorityP3, models.PriorityP4:
	case "":
		ev.Priority = models.PriorityP4
	default:
		return fmt.Errorf("unknown priority %q", ev.Priority)
	}
	if !ev.SpiritState.Valid() {
		return fmt.Errorf("unknown spirit state %q", ev.SpiritState)
	}
	if ev.Title == "" {
		return fmt.Errorf("title is required")
	}
	return nil
}

// TimingHook records per-message handling time into the error counter on
// failures; chained ahead of the handler on the consumer.
func TimingHook(log *logger.Logger) kafka.ConsumerHook {
	return kafka.HookFuncs{
		Before: func(ctx context.Context, topic string, km kafkago.Message, data []byte) (context.Context, kafkago.Message, []byte, error) {
			return kafka.WithStartTime(kafka.WithTraceID(ctx, kafka.ExtractTraceID(km)), time.Now()), km, data, nil
		},
		Err: func(ctx context.Context, topic string, km kafkago.Message, data []byte, err error) {
			log.Error("intake message failed",
				logger.String("topic", topic),
				logger.Int64("offset", km.Offset),
				logger.Error(err))
		},
	}
}
