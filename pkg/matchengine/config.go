// Package matchengine scores candidate pairs of normalized records field by
// field, aggregates field scores into an overall score, and applies the
// review/no-match/match threshold policy to reach a verdict.
package matchengine

import (
	"github.com/ns-3e/OpenMatch/pkg/comparators"
	"github.com/ns-3e/OpenMatch/pkg/models"
)

// NullPolicy controls how a comparator is scored when one or both sides of
// a field comparison are absent.
type NullPolicy string

const (
	// NullTreatAsMismatch scores a missing side as a hard mismatch (0).
	NullTreatAsMismatch NullPolicy = "treat_as_mismatch"
	// NullSkip excludes the field from aggregation entirely.
	NullSkip NullPolicy = "skip"
	// NullTreatNullsEqual scores both-null as a full match (1) but
	// one-null-one-present still as a mismatch.
	NullTreatNullsEqual NullPolicy = "treat_nulls_equal"
)

// ComparatorType selects which comparator family a FieldRule uses.
type ComparatorType string

const (
	ComparatorExact    ComparatorType = "exact"
	ComparatorFuzzy    ComparatorType = "fuzzy"
	ComparatorPhonetic ComparatorType = "phonetic"
	ComparatorNumeric  ComparatorType = "numeric"
	ComparatorDate     ComparatorType = "date"
	ComparatorAddress  ComparatorType = "address"
	ComparatorVector   ComparatorType = "vector"
)

// Aggregation selects how per-field scores combine into the overall score.
type Aggregation string

const (
	AggregationWeightedAverage Aggregation = "weighted_average"
	AggregationMin             Aggregation = "min"
	AggregationProduct         Aggregation = "product"
	AggregationMax             Aggregation = "max"
)

// FieldRule configures comparison of one field across a candidate pair.
type FieldRule struct {
	Field          string
	Comparator     ComparatorType
	Weight         float64
	NullPolicy     NullPolicy
	FuzzyParams    comparators.FuzzyParams
	Phonetic       comparators.PhoneticAlgorithm
	NumericTol     float64
	DateWindowDays int
	CaseSensitive  bool
	// Condition, if non-nil, gates this field: the rule only contributes
	// when Condition(record) is true. Grounded in pkg/criteria.
	Condition func(left, right *models.NormalizedRecord) bool
}

// Thresholds draws the MATCH/REVIEW/NO_MATCH boundaries over the overall
// score.
type Thresholds struct {
	Match  float64 // score >= Match => VerdictMatch
	Review float64 // Review <= score < Match => VerdictReview, else VerdictNoMatch
}

// Config is the full configuration for one Engine instance: an ordered set
// of field rules, an aggregation mode, verdict thresholds, and cache sizing.
type Config struct {
	RuleID          string
	Fields          []FieldRule
	Aggregation     Aggregation
	Thresholds      Thresholds
	CacheCapacity   int
	CacheShards     int
	EnableCaching   bool
}
