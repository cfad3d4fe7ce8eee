package trust

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ns-3e/OpenMatch/pkg/criteria"
	"github.com/ns-3e/OpenMatch/pkg/models"
)

func TestScorer_Score(t *testing.T) {
	cfg := Config{
		Weights:            ComponentWeights{SourceReliability: 0.25, Completeness: 0.25, Timeliness: 0.25, Validity: 0.25},
		SourceReliability:  map[string]float64{"CRM": 0.9},
		DefaultReliability: 0.5,
		RequiredFields:     []string{"name", "phone"},
		HalfLifeDays:       30,
		ValidationRules: []ValidationRule{
			{Field: "phone", Condition: criteria.Condition{Field: "phone", Operator: criteria.OpExists, Value: true}},
		},
	}
	s := New(cfg)

	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	r := &models.NormalizedRecord{
		Record: models.Record{
			RecordID:        "a",
			SourceID:        "CRM",
			Attributes:      map[string]any{"name": "Acme", "phone": "555-0101"},
			SourceTimestamp: now,
		},
		Normalized: map[string]any{"name": "acme", "phone": "5550101"},
	}

	score := s.Score(r, now)
	assert.Equal(t, 0.9, score.SourceReliability)
	assert.Equal(t, 1.0, score.Completeness)
	assert.Equal(t, 1.0, score.Timeliness)
	assert.Equal(t, 1.0, score.Validity)
	assert.InDelta(t, 0.975, score.Overall, 0.0001)
}

func TestScorer_TimelinessDecay(t *testing.T) {
	cfg := Config{Weights: ComponentWeights{Timeliness: 1}, HalfLifeDays: 10}
	s := New(cfg)

	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	r := &models.NormalizedRecord{Record: models.Record{SourceTimestamp: now.AddDate(0, 0, -10)}}

	score := s.Score(r, now)
	assert.InDelta(t, 0.3679, score.Timeliness, 0.001)
}

func TestScorer_CompletenessMissingField(t *testing.T) {
	cfg := Config{Weights: ComponentWeights{Completeness: 1}, RequiredFields: []string{"name", "phone"}}
	s := New(cfg)

	r := &models.NormalizedRecord{Record: models.Record{Attributes: map[string]any{"name": "Acme"}}, Normalized: map[string]any{"name": "acme"}}
	score := s.Score(r, time.Now())
	assert.Equal(t, 0.5, score.Completeness)
}
