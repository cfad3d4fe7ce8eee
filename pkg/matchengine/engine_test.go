package matchengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ns-3e/OpenMatch/pkg/comparators"
	"github.com/ns-3e/OpenMatch/pkg/models"
)

func newRecord(id string, attrs map[string]any) *models.NormalizedRecord {
	return &models.NormalizedRecord{
		Record:     models.Record{RecordID: id, Attributes: attrs},
		Normalized: attrs,
	}
}

func TestEngine_Score_WeightedAverageMatch(t *testing.T) {
	cfg := Config{
		RuleID: "rule-1",
		Fields: []FieldRule{
			{Field: "name", Comparator: ComparatorFuzzy, Weight: 0.6, FuzzyParams: comparators.DefaultFuzzyParams()},
			{Field: "email", Comparator: ComparatorExact, Weight: 0.4},
		},
		Aggregation: AggregationWeightedAverage,
		Thresholds:  Thresholds{Match: 0.9, Review: 0.6},
	}
	e := New(cfg, nil)

	left := newRecord("a", map[string]any{"name": "Acme Corp", "email": "a@acme.com"})
	right := newRecord("b", map[string]any{"name": "Acme Corp", "email": "a@acme.com"})

	decision := e.Score(left, right)
	assert.Equal(t, models.VerdictMatch, decision.Verdict)
	assert.Equal(t, 1.0, decision.OverallScore)
	assert.Equal(t, models.NewCandidatePair("a", "b"), decision.Pair)
}

func TestEngine_Score_NullPolicies(t *testing.T) {
	left := newRecord("a", map[string]any{"name": "Acme"})
	right := newRecord("b", map[string]any{})

	t.Run("treat_as_mismatch", func(t *testing.T) {
		cfg := Config{
			Fields: []FieldRule{{Field: "name", Comparator: ComparatorExact, Weight: 1, NullPolicy: NullTreatAsMismatch}},
			Thresholds: Thresholds{Match: 0.9, Review: 0.5},
		}
		e := New(cfg, nil)
		decision := e.Score(left, right)
		assert.Equal(t, 0.0, decision.OverallScore)
	})

	t.Run("skip excludes field", func(t *testing.T) {
		cfg := Config{
			Fields: []FieldRule{
				{Field: "name", Comparator: ComparatorExact, Weight: 1, NullPolicy: NullSkip},
				{Field: "other", Comparator: ComparatorExact, Weight: 1, NullPolicy: NullTreatNullsEqual},
			},
			Thresholds: Thresholds{Match: 0.9, Review: 0.5},
		}
		e := New(cfg, nil)
		decision := e.Score(left, right)
		_, ok := decision.FieldScores["name"]
		assert.False(t, ok)
		assert.Equal(t, 1.0, decision.FieldScores["other"])
	})

	t.Run("treat_nulls_equal both missing", func(t *testing.T) {
		bothEmpty := newRecord("c", map[string]any{})
		cfg := Config{
			Fields:     []FieldRule{{Field: "name", Comparator: ComparatorExact, Weight: 1, NullPolicy: NullTreatNullsEqual}},
			Thresholds: Thresholds{Match: 0.9, Review: 0.5},
		}
		e := New(cfg, nil)
		decision := e.Score(right, bothEmpty)
		assert.Equal(t, 1.0, decision.OverallScore)
	})
}

func TestEngine_Score_MinAndProductAggregation(t *testing.T) {
	left := newRecord("a", map[string]any{"x": "same", "y": "same"})
	right := newRecord("b", map[string]any{"x": "same", "y": "different"})

	fields := []FieldRule{
		{Field: "x", Comparator: ComparatorExact, Weight: 1},
		{Field: "y", Comparator: ComparatorExact, Weight: 1},
	}

	min := New(Config{Fields: fields, Aggregation: AggregationMin, Thresholds: Thresholds{Match: 0.9, Review: 0.5}}, nil)
	decision := min.Score(left, right)
	assert.Equal(t, 0.0, decision.OverallScore)

	product := New(Config{Fields: fields, Aggregation: AggregationProduct, Thresholds: Thresholds{Match: 0.9, Review: 0.5}}, nil)
	decision = product.Score(left, right)
	assert.Equal(t, 0.0, decision.OverallScore)
}

func TestEngine_Score_ComparatorErrorDegradesToMismatch(t *testing.T) {
	cfg := Config{
		Fields:     []FieldRule{{Field: "age", Comparator: ComparatorNumeric, Weight: 1, NumericTol: 1}},
		Thresholds: Thresholds{Match: 0.9, Review: 0.5},
	}
	e := New(cfg, nil)

	left := newRecord("a", map[string]any{"age": "not-a-number"})
	right := newRecord("b", map[string]any{"age": 42})

	decision := e.Score(left, right)
	assert.Equal(t, 0.0, decision.OverallScore)
	assert.Equal(t, models.VerdictNoMatch, decision.Verdict)
}

func TestEngine_Score_ConditionGate(t *testing.T) {
	calls := 0
	cfg := Config{
		Fields: []FieldRule{
			{
				Field:      "name",
				Comparator: ComparatorExact,
				Weight:     1,
				Condition: func(left, right *models.NormalizedRecord) bool {
					calls++
					return false
				},
			},
		},
		Thresholds: Thresholds{Match: 0.9, Review: 0.5},
	}
	e := New(cfg, nil)
	left := newRecord("a", map[string]any{"name": "Acme"})
	right := newRecord("b", map[string]any{"name": "Acme"})

	decision := e.Score(left, right)
	require.Equal(t, 1, calls)
	assert.Empty(t, decision.FieldScores)
	assert.Equal(t, models.VerdictNoMatch, decision.Verdict)
}

func TestEngine_ComparatorCache(t *testing.T) {
	c := NewComparatorCache(100, 4)
	c.Put("exact:name", "a", "b", 0.5)
	v, ok := c.Get("exact:name", "a", "b")
	require.True(t, ok)
	assert.Equal(t, 0.5, v)

	_, ok = c.Get("exact:name", "a", "c")
	assert.False(t, ok)
}
