// Package ingestion pulls batches of records from a Source, validates them
// against a configured field schema, deduplicates by content fingerprint,
// and routes failures to a dead-letter sink, per spec §6's ingestion
// iterator contract.
package ingestion

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"

	"github.com/ns-3e/OpenMatch/pkg/fingerprint"
	"github.com/ns-3e/OpenMatch/pkg/models"
)

// DeadLetterReason enumerates why a record was routed to the dead-letter
// sink instead of the pipeline.
type DeadLetterReason string

const (
	ReasonValidationError DeadLetterReason = "VALIDATION_ERROR"
	ReasonDuplicate       DeadLetterReason = "DUPLICATE"
)

// Source yields successive batches of records. It returns end=true once
// exhausted; a Source with no natural end (a live topic) never returns
// end=true and relies on ctx cancellation to stop Pull.
type Source interface {
	NextBatch(ctx context.Context) (records []*models.Record, end bool, err error)
}

// DeadLetterSink receives records that failed validation or were rejected
// as duplicates, along with the reason and a human-readable detail.
type DeadLetterSink interface {
	Send(ctx context.Context, record *models.Record, reason DeadLetterReason, detail string) error
}

// DiscardDeadLetterSink drops everything; useful for tests and callers that
// don't care about rejected records.
type DiscardDeadLetterSink struct{}

func (DiscardDeadLetterSink) Send(context.Context, *models.Record, DeadLetterReason, string) error {
	return nil
}

// FieldSchema validates one attribute of an ingested record.
type FieldSchema struct {
	Field    string
	Required bool
	// Tag is a github.com/go-playground/validator tag (e.g. "email",
	// "len=10,numeric"), applied to the field's raw value when present.
	Tag string
}

// Schema is the ordered set of field rules a batch of records is validated
// against.
type Schema []FieldSchema

// Config configures one Ingestor.
type Config struct {
	Schema Schema
	// MaxBatches bounds how many NextBatch calls Pull issues; 0 means
	// unbounded (pull until the source signals end or ctx is cancelled).
	MaxBatches int
	// FingerprintExclusions are field paths fingerprint.GenerateWithExclusions
	// ignores when computing a record's dedup key.
	FingerprintExclusions map[string]bool
}

// Ingestor drives one Source through validation and dedup.
type Ingestor struct {
	cfg        Config
	deadLetter DeadLetterSink
	validate   *validator.Validate
	logger     ectologger.Logger

	seen map[string]struct{}
}

// New builds an Ingestor. deadLetter may be DiscardDeadLetterSink{}.
func New(cfg Config, deadLetter DeadLetterSink, logger ectologger.Logger) *Ingestor {
	return &Ingestor{
		cfg:        cfg,
		deadLetter: deadLetter,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		logger:     logger,
		seen:       make(map[string]struct{}),
	}
}

// Pull drains Source until it signals end, MaxBatches is reached, or ctx is
// cancelled, returning every record that passed validation and dedup.
func (in *Ingestor) Pull(ctx context.Context, source Source) ([]*models.Record, error) {
	var accepted []*models.Record

	for batchCount := 0; ; batchCount++ {
		if in.cfg.MaxBatches > 0 && batchCount >= in.cfg.MaxBatches {
			return accepted, nil
		}

		select {
		case <-ctx.Done():
			return accepted, ctx.Err()
		default:
		}

		batch, end, err := source.NextBatch(ctx)
		if err != nil {
			return accepted, fmt.Errorf("ingestion: fetching batch: %w", err)
		}

		for _, record := range batch {
			if ok := in.admit(ctx, record); ok {
				accepted = append(accepted, record)
			}
		}

		if end {
			return accepted, nil
		}
	}
}

// admit validates and deduplicates one record, routing it to the
// dead-letter sink on rejection.
func (in *Ingestor) admit(ctx context.Context, record *models.Record) bool {
	if reason, detail := in.validateRecord(record); reason != "" {
		in.deadLetterf(ctx, record, reason, detail)
		return false
	}

	key := fingerprint.GenerateWithExclusions(record.Attributes, in.cfg.FingerprintExclusions)
	if _, dup := in.seen[key]; dup {
		in.deadLetterf(ctx, record, ReasonDuplicate, "duplicate fingerprint "+key)
		return false
	}
	in.seen[key] = struct{}{}

	return true
}

func (in *Ingestor) validateRecord(record *models.Record) (DeadLetterReason, string) {
	for _, field := range in.cfg.Schema {
		v, ok := record.Attr(field.Field)
		if !ok || v == nil {
			if field.Required {
				return ReasonValidationError, fmt.Sprintf("missing required field %q", field.Field)
			}
			continue
		}

		if field.Tag == "" {
			continue
		}
		if err := in.validate.Var(v, field.Tag); err != nil {
			return ReasonValidationError, fmt.Sprintf("field %q failed validation %q: %v", field.Field, field.Tag, err)
		}
	}
	return "", ""
}

func (in *Ingestor) deadLetterf(ctx context.Context, record *models.Record, reason DeadLetterReason, detail string) {
	if err := in.deadLetter.Send(ctx, record, reason, detail); err != nil && in.logger != nil {
		in.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"record_id": record.RecordID,
			"reason":    reason,
		}).Warn("ingestion: failed to write to dead-letter sink")
	}
}
