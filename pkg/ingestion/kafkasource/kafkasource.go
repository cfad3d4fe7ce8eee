// Package kafkasource adapts a Kafka topic of JSON-encoded records into an
// ingestion.Source, batching messages the way ivy's consumer batches
// commits.
package kafkasource

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ns-3e/OpenMatch/pkg/models"
)

// Config configures the underlying kafka.Reader.
type Config struct {
	Brokers       []string
	Topic         string
	ConsumerGroup string
	// BatchSize is the max records NextBatch returns per call.
	BatchSize int
	// BatchTimeout bounds how long NextBatch waits to fill BatchSize
	// before returning a partial batch.
	BatchTimeout time.Duration
}

// Source reads records from a Kafka topic, one JSON-encoded record per
// message. It never signals end=true; callers stop it via ctx cancellation,
// matching a live topic's unbounded nature.
type Source struct {
	reader *kafka.Reader
	cfg    Config
}

// New builds a Source from Config.
func New(cfg Config) *Source {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 500 * time.Millisecond
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.ConsumerGroup,
		MinBytes:       10e3,
		MaxBytes:       10e6,
		MaxWait:        cfg.BatchTimeout,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: time.Second,
	})

	return &Source{reader: reader, cfg: cfg}
}

// NextBatch fetches up to cfg.BatchSize messages, decoding each as a
// models.Record. A message that fails to decode is skipped rather than
// failing the whole batch; schema validation further downstream catches
// any resulting gaps.
func (s *Source) NextBatch(ctx context.Context) ([]*models.Record, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.BatchTimeout)
	defer cancel()

	var batch []*models.Record
	for len(batch) < s.cfg.BatchSize {
		msg, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) {
				break
			}
			return batch, false, err
		}

		var record models.Record
		if err := json.Unmarshal(msg.Value, &record); err == nil {
			batch = append(batch, &record)
		}

		if err := s.reader.CommitMessages(context.Background(), msg); err != nil {
			return batch, false, err
		}
	}

	return batch, false, nil
}

// Close releases the underlying kafka.Reader.
func (s *Source) Close() error {
	return s.reader.Close()
}
