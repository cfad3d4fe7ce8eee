// Package survivorship produces one GoldenRecord attribute-by-attribute
// from a cluster of NormalizedRecords, applying a per-field strategy and a
// deterministic tiebreak, and retains per-field provenance.
package survivorship

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ns-3e/OpenMatch/pkg/models"
)

// Strategy selects how one field's winning value is chosen across a
// cluster's member records.
type Strategy string

const (
	StrategyMostTrusted           Strategy = "most_trusted"
	StrategyMostRecent            Strategy = "most_recent"
	StrategyTrustedSourcePriority Strategy = "trusted_source_priority"
	StrategyMostFrequent          Strategy = "most_frequent"
	StrategyLongest               Strategy = "longest"
	StrategyShortest              Strategy = "shortest"
	StrategyWeightedAverage       Strategy = "weighted_average"
	StrategyCustom                Strategy = "custom"
)

// CustomFunc is a registered pure function backing StrategyCustom.
type CustomFunc func(values []FieldValue) (any, bool)

// FieldRule configures survivorship for one attribute.
type FieldRule struct {
	Field string
	Strategy Strategy
	// SourcePriority orders source_ids for StrategyTrustedSourcePriority,
	// first entry wins.
	SourcePriority []string
	// CustomName looks up a registered CustomFunc for StrategyCustom.
	CustomName string
}

// FieldValue is one record's contribution to a field's survivorship vote.
type FieldValue struct {
	Value      any
	Trust      float64
	Timestamp  time.Time
	SourceID   string
	RecordID   string
}

// Survivor runs a full survivorship pass over a cluster.
type Survivor struct {
	customFuncs map[string]CustomFunc
}

// New builds a Survivor. Register custom strategies with RegisterCustom
// before calling Build.
func New() *Survivor {
	return &Survivor{customFuncs: make(map[string]CustomFunc)}
}

// RegisterCustom adds a named CustomFunc for StrategyCustom rules.
func (s *Survivor) RegisterCustom(name string, fn CustomFunc) {
	s.customFuncs[name] = fn
}

// Build produces a GoldenRecord for a cluster of NormalizedRecords, one
// field at a time per the configured FieldRules. prior is the cluster's
// existing GoldenRecord, if any: when non-nil, Build reuses its GoldenID
// and CreatedAt and increments Version, rather than minting a fresh id,
// per spec S4's "one UPDATE on G1 … no new golden id" and S5's
// merge-survivor rule.
func (s *Survivor) Build(clusterID string, records []*models.NormalizedRecord, rules []FieldRule, now time.Time, prior *models.GoldenRecord) models.GoldenRecord {
	golden := models.GoldenRecord{
		GoldenID:   uuid.NewString(),
		Attributes: make(map[string]any),
		Provenance: make(map[string]models.FieldProvenance),
		ClusterID:  clusterID,
		CreatedAt:  now,
		UpdatedAt:  now,
		Version:    1,
	}
	if prior != nil {
		golden.GoldenID = prior.GoldenID
		golden.CreatedAt = prior.CreatedAt
		golden.Version = prior.Version + 1
	}

	for _, rule := range rules {
		values := collectValues(records, rule.Field)
		if len(values) == 0 {
			continue
		}

		winner, ok := s.resolve(rule, values)
		if !ok {
			continue
		}

		golden.Attributes[rule.Field] = winner.Value
		golden.Provenance[rule.Field] = models.FieldProvenance{
			RecordID: winner.RecordID,
			SourceID: winner.SourceID,
			Strategy: string(rule.Strategy),
		}
	}

	return golden
}

func collectValues(records []*models.NormalizedRecord, field string) []FieldValue {
	var values []FieldValue
	for _, r := range records {
		v, ok := r.NormalizedValue(field)
		if !ok || isNullish(v) {
			continue
		}
		trust := 0.0
		if r.Trust != nil {
			trust = r.Trust.Overall
		}
		values = append(values, FieldValue{
			Value:     v,
			Trust:     trust,
			Timestamp: r.SourceTimestamp,
			SourceID:  r.SourceID,
			RecordID:  r.RecordID,
		})
	}
	return values
}

func isNullish(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	default:
		return false
	}
}

// resolve dispatches to the configured strategy, falling back to the
// deterministic tiebreak winner whenever a strategy doesn't itself produce
// a unique pick (most_trusted, longest, shortest, and the fallback for any
// tie within most_frequent).
func (s *Survivor) resolve(rule FieldRule, values []FieldValue) (FieldValue, bool) {
	switch rule.Strategy {
	case StrategyMostRecent:
		return mostRecent(values), true
	case StrategyTrustedSourcePriority:
		if v, ok := trustedSourcePriority(values, rule.SourcePriority); ok {
			return v, true
		}
		return tiebreakWinner(values), true
	case StrategyMostFrequent:
		return mostFrequent(values), true
	case StrategyLongest:
		return extremeLength(values, true), true
	case StrategyShortest:
		return extremeLength(values, false), true
	case StrategyWeightedAverage:
		return weightedAverage(values), true
	case StrategyCustom:
		fn, ok := s.customFuncs[rule.CustomName]
		if !ok {
			return tiebreakWinner(values), true
		}
		v, ok := fn(values)
		if !ok {
			return tiebreakWinner(values), true
		}
		winner := tiebreakWinner(values)
		winner.Value = v
		return winner, true
	default: // StrategyMostTrusted
		return tiebreakWinner(values), true
	}
}

// tiebreakWinner applies the spec's deterministic tiebreak: higher trust,
// then later timestamp, then lexicographically smaller source_id, then
// lexicographically smaller record_id.
func tiebreakWinner(values []FieldValue) FieldValue {
	best := values[0]
	for _, v := range values[1:] {
		if better(v, best) {
			best = v
		}
	}
	return best
}

func better(a, b FieldValue) bool {
	if a.Trust != b.Trust {
		return a.Trust > b.Trust
	}
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	if a.SourceID != b.SourceID {
		return a.SourceID < b.SourceID
	}
	return a.RecordID < b.RecordID
}

func mostRecent(values []FieldValue) FieldValue {
	best := values[0]
	for _, v := range values[1:] {
		if v.Timestamp.After(best.Timestamp) {
			best = v
		} else if v.Timestamp.Equal(best.Timestamp) && better(v, best) {
			best = v
		}
	}
	return best
}

func trustedSourcePriority(values []FieldValue, priority []string) (FieldValue, bool) {
	bySource := make(map[string]FieldValue, len(values))
	for _, v := range values {
		if _, ok := bySource[v.SourceID]; !ok {
			bySource[v.SourceID] = v
		}
	}
	for _, source := range priority {
		if v, ok := bySource[source]; ok {
			return v, true
		}
	}
	return FieldValue{}, false
}

// mostFrequent picks the majority value across non-null values, ties
// broken by the standard tiebreak.
func mostFrequent(values []FieldValue) FieldValue {
	counts := make(map[string]int)
	firstOf := make(map[string]FieldValue)
	for _, v := range values {
		key := fmt.Sprintf("%v", v.Value)
		counts[key]++
		if _, ok := firstOf[key]; !ok {
			firstOf[key] = v
		}
	}

	maxCount := 0
	for _, c := range counts {
		if c > maxCount {
			maxCount = c
		}
	}

	var tied []FieldValue
	for _, v := range values {
		key := fmt.Sprintf("%v", v.Value)
		if counts[key] == maxCount {
			tied = append(tied, v)
		}
	}

	return tiebreakWinner(tied)
}

func extremeLength(values []FieldValue, longest bool) FieldValue {
	best := values[0]
	bestLen := stringLen(best.Value)
	for _, v := range values[1:] {
		l := stringLen(v.Value)
		if (longest && l > bestLen) || (!longest && l < bestLen) {
			best, bestLen = v, l
		} else if l == bestLen && better(v, best) {
			best = v
		}
	}
	return best
}

func stringLen(v any) int {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	return len([]rune(s))
}

// weightedAverage computes the trust-weighted mean of numeric values; the
// returned FieldValue's provenance reflects the tiebreak winner since an
// averaged value has no single contributing record.
func weightedAverage(values []FieldValue) FieldValue {
	var weightedSum, totalWeight float64
	for _, v := range values {
		n, ok := toFloat64(v.Value)
		if !ok {
			continue
		}
		weight := v.Trust
		if weight <= 0 {
			weight = 0.01
		}
		weightedSum += n * weight
		totalWeight += weight
	}

	winner := tiebreakWinner(values)
	if totalWeight == 0 {
		return winner
	}
	winner.Value = weightedSum / totalWeight
	return winner
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// ResolveMergeSurvivor decides the surviving golden_id when two existing
// golden records are merged: the one with earlier CreatedAt wins, ties
// broken lexicographically by GoldenID. Returns (survivingID, closedID).
func ResolveMergeSurvivor(a, b models.GoldenRecord) (survivingID, closedID string) {
	switch {
	case a.CreatedAt.Before(b.CreatedAt):
		return a.GoldenID, b.GoldenID
	case b.CreatedAt.Before(a.CreatedAt):
		return b.GoldenID, a.GoldenID
	case a.GoldenID < b.GoldenID:
		return a.GoldenID, b.GoldenID
	default:
		return b.GoldenID, a.GoldenID
	}
}
