// Package trust computes a four-component TrustScore for a NormalizedRecord:
// source reliability, completeness, timeliness, and validity, combined into
// a configured weighted sum.
package trust

import (
	"math"
	"time"

	"github.com/ns-3e/OpenMatch/pkg/criteria"
	"github.com/ns-3e/OpenMatch/pkg/models"
)

// ComponentWeights are the weights the overall score combines components
// with. Overall is a weighted mean only when they sum to 1; neither this
// package nor config.LoadDomain checks the sum.
type ComponentWeights struct {
	SourceReliability float64
	Completeness      float64
	Timeliness        float64
	Validity          float64
}

// ValidationRule gates one field's contribution to the Validity component:
// the field passes when Condition evaluates true against the record's raw
// attributes, expressed with pkg/criteria's operator conditions.
type ValidationRule struct {
	Field     string
	Condition criteria.Condition
}

// Config configures one Scorer.
type Config struct {
	Weights ComponentWeights

	// SourceReliability maps a source_id to its configured reliability
	// in [0,1]; sources absent from the map default to DefaultReliability.
	SourceReliability map[string]float64
	DefaultReliability float64

	// RequiredFields drives the Completeness component: the fraction of
	// these fields that are non-null in the record's normalized values.
	RequiredFields []string
	// FieldImportance optionally weights RequiredFields unevenly;
	// fields absent from the map default to weight 1.
	FieldImportance map[string]float64

	// HalfLifeDays configures the Timeliness exponential decay.
	HalfLifeDays float64

	// ValidationRules drives the Validity component: the fraction of
	// these rules that pass.
	ValidationRules []ValidationRule
}

// Scorer computes TrustScores under one Config.
type Scorer struct {
	cfg Config
}

// New builds a Scorer.
func New(cfg Config) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score computes the TrustScore for one record as of "now", attaching it
// to nothing itself — the caller attaches the result to the
// NormalizedRecord before matching, per spec §4.6.
func (s *Scorer) Score(r *models.NormalizedRecord, now time.Time) models.TrustScore {
	reliability := s.sourceReliability(r.SourceID)
	completeness := s.completeness(r)
	timeliness := s.timeliness(r, now)
	validity := s.validity(r)

	overall := s.cfg.Weights.SourceReliability*reliability +
		s.cfg.Weights.Completeness*completeness +
		s.cfg.Weights.Timeliness*timeliness +
		s.cfg.Weights.Validity*validity

	return models.TrustScore{
		RecordID:          r.RecordID,
		SourceReliability: reliability,
		Completeness:      completeness,
		Timeliness:        timeliness,
		Validity:          validity,
		Overall:           overall,
	}
}

func (s *Scorer) sourceReliability(sourceID string) float64 {
	if v, ok := s.cfg.SourceReliability[sourceID]; ok {
		return v
	}
	return s.cfg.DefaultReliability
}

// completeness is the importance-weighted fraction of RequiredFields that
// are non-null in the record's normalized values (falling back to raw
// attributes).
func (s *Scorer) completeness(r *models.NormalizedRecord) float64 {
	if len(s.cfg.RequiredFields) == 0 {
		return 1.0
	}

	var satisfied, total float64
	for _, field := range s.cfg.RequiredFields {
		weight := 1.0
		if w, ok := s.cfg.FieldImportance[field]; ok {
			weight = w
		}
		total += weight

		if v, ok := r.NormalizedValue(field); ok && !isNullish(v) {
			satisfied += weight
		}
	}
	if total == 0 {
		return 1.0
	}
	return satisfied / total
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

// timeliness applies exp(-age_days / half_life_days) against the record's
// source_timestamp relative to now.
func (s *Scorer) timeliness(r *models.NormalizedRecord, now time.Time) float64 {
	if s.cfg.HalfLifeDays <= 0 || r.SourceTimestamp.IsZero() {
		return 0
	}
	ageDays := now.Sub(r.SourceTimestamp).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Exp(-ageDays / s.cfg.HalfLifeDays)
}

// validity is the fraction of ValidationRules whose Condition passes
// against the record's raw attributes.
func (s *Scorer) validity(r *models.NormalizedRecord) float64 {
	if len(s.cfg.ValidationRules) == 0 {
		return 1.0
	}

	data, err := marshalAttributes(r.Attributes)
	if err != nil {
		return 0
	}

	var passed int
	for _, rule := range s.cfg.ValidationRules {
		if criteria.MatchesEntityData(data, []criteria.Condition{rule.Condition}) {
			passed++
		}
	}
	return float64(passed) / float64(len(s.cfg.ValidationRules))
}
