// Package audit publishes MergeEvents to an external sink as they are
// appended to the Lineage Store, for governance systems that want a push
// feed rather than polling merge_event. Governance itself (retention,
// consent, access policy) is a spec Non-goal — this package only ships
// the event, it does not interpret it.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	"github.com/ns-3e/OpenMatch/internal/platform/tracing"
	"github.com/ns-3e/OpenMatch/pkg/models"
)

// Sink publishes a MergeEvent. Implementations must not block the caller
// on slow downstream consumers for longer than their own configured
// timeout — a stalled audit sink must never stall the orchestrator.
type Sink interface {
	Publish(ctx context.Context, event models.MergeEvent) error
}

// NoopSink discards every event, for tests and offline/dry-run modes.
type NoopSink struct{}

// Publish implements Sink.
func (NoopSink) Publish(context.Context, models.MergeEvent) error { return nil }

// KafkaConfig configures a KafkaSink.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
}

// KafkaSink publishes MergeEvents as JSON to a Kafka topic, keyed by the
// first affected golden id so a consumer's partitioning keeps one golden
// record's events in order.
type KafkaSink struct {
	writer *kafka.Writer
	logger ectologger.Logger
}

// NewKafkaSink builds a KafkaSink.
func NewKafkaSink(cfg KafkaConfig, logger ectologger.Logger) *KafkaSink {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = time.Second
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.LeastBytes{},
		BatchSize:              batchSize,
		BatchTimeout:           batchTimeout,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}

	return &KafkaSink{writer: writer, logger: logger}
}

// Close closes the underlying writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

// wireEvent is the on-the-wire shape published to Kafka — MergeEvent
// plus a schema_version so consumers can evolve independently.
type wireEvent struct {
	SchemaVersion string `json:"schema_version"`
	models.MergeEvent
}

const schemaVersion = "1.0"

// Publish implements Sink.
func (s *KafkaSink) Publish(ctx context.Context, event models.MergeEvent) error {
	ctx, span := tracing.StartSpan(ctx, "audit.KafkaSink.Publish")
	defer span.End()

	body, err := json.Marshal(wireEvent{SchemaVersion: schemaVersion, MergeEvent: event})
	if err != nil {
		return err
	}

	key := event.EventID
	if len(event.AffectedGoldenIDs) > 0 {
		key = event.AffectedGoldenIDs[0]
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: body,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	}

	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("failed to publish merge event")
		return err
	}
	return nil
}
