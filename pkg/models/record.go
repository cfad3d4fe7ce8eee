// Package models holds the entity-resolution core's data model: Record,
// NormalizedRecord, BlockKey, CandidatePair, MatchDecision, Cluster,
// TrustScore, GoldenRecord, Xref, and MergeEvent.
package models

import "time"

// Record is an immutable source record as it entered the pipeline.
type Record struct {
	RecordID        string         `json:"record_id"`
	SourceID        string         `json:"source_id"`
	Attributes      map[string]any `json:"attributes"`
	IngestTime      time.Time      `json:"ingest_time"`
	SourceTimestamp time.Time      `json:"source_timestamp"`
}

// Attr fetches an attribute, returning (nil, false) when absent.
func (r *Record) Attr(field string) (any, bool) {
	v, ok := r.Attributes[field]
	return v, ok
}

// NormalizedRecord is a Record plus normalized values, per-field embeddings,
// and a trust score, all computed once and never mutated afterward.
type NormalizedRecord struct {
	Record

	// Normalized holds the preprocessed value per configured field.
	Normalized map[string]any `json:"normalized"`

	// Embeddings holds an optional embedding vector per configured field.
	Embeddings map[string][]float32 `json:"embeddings,omitempty"`

	// Trust is attached by the Trust Scorer before matching.
	Trust *TrustScore `json:"trust,omitempty"`
}

// NormalizedValue returns the normalized value for a field, falling back to
// the raw attribute when no normalization was configured for it.
func (n *NormalizedRecord) NormalizedValue(field string) (any, bool) {
	if v, ok := n.Normalized[field]; ok {
		return v, true
	}
	return n.Attr(field)
}
