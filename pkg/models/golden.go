package models

import "time"

// FieldProvenance names the source record and strategy that produced one
// attribute value in a GoldenRecord.
type FieldProvenance struct {
	RecordID string `json:"record_id"`
	SourceID string `json:"source_id"`
	Strategy string `json:"strategy"`
}

// GoldenRecord is the merged representative for a cluster.
type GoldenRecord struct {
	GoldenID   string                     `json:"golden_id"`
	Attributes map[string]any             `json:"attributes"`
	Provenance map[string]FieldProvenance `json:"provenance"`
	ClusterID  string                     `json:"cluster_id"`
	CreatedAt  time.Time                  `json:"created_at"`
	UpdatedAt  time.Time                  `json:"updated_at"`
	Version    int                        `json:"version"`
}

// Xref is a directed mapping between a source record and a golden record,
// valid over an interval. ValidTo of nil means the xref is currently open.
type Xref struct {
	SourceRecordID string     `json:"source_record_id"`
	SourceSystem   string     `json:"source_system"`
	GoldenID       string     `json:"golden_id"`
	ValidFrom      time.Time  `json:"valid_from"`
	ValidTo        *time.Time `json:"valid_to,omitempty"`
	Confidence     float64    `json:"confidence"`
}

// Current reports whether the xref has no close time yet.
func (x Xref) Current() bool {
	return x.ValidTo == nil
}

// EventType enumerates MergeEvent state transitions.
type EventType string

const (
	EventCreate EventType = "CREATE"
	EventUpdate EventType = "UPDATE"
	EventMerge  EventType = "MERGE"
	EventSplit  EventType = "SPLIT"
	EventLink   EventType = "LINK"
	EventUnlink EventType = "UNLINK"
)

// MergeEvent is an append-only record of a state transition, carrying enough
// of the prior state to be reversed.
type MergeEvent struct {
	EventID           string         `json:"event_id"`
	EventType         EventType      `json:"event_type"`
	Timestamp         time.Time      `json:"timestamp"`
	Actor             string         `json:"actor"`
	AffectedGoldenIDs []string       `json:"affected_golden_ids"`
	AffectedRecordIDs []string       `json:"affected_record_ids"`
	BeforeState       map[string]any `json:"before_state"`
	AfterState        map[string]any `json:"after_state"`
}

// FieldHistory is one observed value contributing to a golden record's
// attribute over time, used for audit and for re-deriving provenance.
type FieldHistory struct {
	GoldenID       string    `json:"golden_id"`
	Field          string    `json:"field"`
	Value          any       `json:"value"`
	SourceRecordID string    `json:"source_record_id"`
	SourceSystem   string    `json:"source_system"`
	ObservedAt     time.Time `json:"observed_at"`
}
