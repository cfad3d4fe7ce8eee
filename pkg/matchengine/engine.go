package matchengine

import (
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/ns-3e/OpenMatch/pkg/comparators"
	"github.com/ns-3e/OpenMatch/pkg/models"
)

// Engine scores candidate pairs against a Config and reaches a verdict. It
// is safe for concurrent use by multiple worker goroutines once built.
type Engine struct {
	cfg    Config
	cache  *ComparatorCache
	logger ectologger.Logger
}

// New builds an Engine. logger may be nil, in which case comparator errors
// are silently treated as mismatches per the warning policy.
func New(cfg Config, logger ectologger.Logger) *Engine {
	e := &Engine{cfg: cfg, logger: logger}
	if cfg.EnableCaching {
		capacity := cfg.CacheCapacity
		if capacity <= 0 {
			capacity = 10000
		}
		shards := cfg.CacheShards
		if shards <= 0 {
			shards = 16
		}
		e.cache = NewComparatorCache(capacity, shards)
	}
	return e
}

// Score evaluates every configured field rule for the pair (left, right)
// and returns the decision. A comparator panic or coercion failure is
// logged as a warning and the field is scored as a mismatch (0), per the
// "comparator errors degrade to mismatch, never abort the pair" policy.
func (e *Engine) Score(left, right *models.NormalizedRecord) models.MatchDecision {
	pair := models.NewCandidatePair(left.RecordID, right.RecordID)
	fieldScores := make(map[string]float64, len(e.cfg.Fields))
	weights := make(map[string]float64, len(e.cfg.Fields))

	for _, rule := range e.cfg.Fields {
		if rule.Condition != nil && !rule.Condition(left, right) {
			continue
		}

		score, included := e.scoreField(left, right, rule)
		if !included {
			continue
		}
		fieldScores[rule.Field] = score
		weights[rule.Field] = rule.Weight
	}

	overall := aggregate(e.cfg.Aggregation, fieldScores, weights)
	verdict := e.verdict(overall)

	return models.MatchDecision{
		Pair:         pair,
		OverallScore: overall,
		FieldScores:  fieldScores,
		Verdict:      verdict,
		RuleID:       e.cfg.RuleID,
	}
}

// scoreField evaluates a single field rule, handling the null policy and
// dispatching to the configured comparator. The second return value is
// false when the field should be excluded from aggregation entirely (the
// "skip" null policy on a missing side).
func (e *Engine) scoreField(left, right *models.NormalizedRecord, rule FieldRule) (score float64, included bool) {
	lv, lok := left.NormalizedValue(rule.Field)
	rv, rok := right.NormalizedValue(rule.Field)

	if !lok || !rok {
		switch rule.NullPolicy {
		case NullSkip:
			return 0, false
		case NullTreatNullsEqual:
			if !lok && !rok {
				return 1, true
			}
			return 0, true
		default: // NullTreatAsMismatch
			return 0, true
		}
	}

	score, err := e.compare(rule, lv, rv)
	if err != nil {
		if e.logger != nil {
			e.logger.WithError(err).WithFields(map[string]any{
				"comparator": rule.Comparator,
				"field":      rule.Field,
			}).Warn("comparator failed, scoring field as mismatch")
		}
		return 0, true
	}
	return score, true
}

func (e *Engine) compare(rule FieldRule, lv, rv any) (float64, error) {
	cacheKey := func() (string, string, bool) {
		ls, lok := lv.(string)
		rs, rok := rv.(string)
		return ls, rs, lok && rok
	}

	if e.cache != nil {
		if ls, rs, ok := cacheKey(); ok {
			comparatorID := string(rule.Comparator) + ":" + rule.Field
			if cached, found := e.cache.Get(comparatorID, ls, rs); found {
				return cached, nil
			}
			score, err := e.runComparator(rule, lv, rv)
			if err == nil {
				e.cache.Put(comparatorID, ls, rs, score)
			}
			return score, err
		}
	}

	return e.runComparator(rule, lv, rv)
}

func (e *Engine) runComparator(rule FieldRule, lv, rv any) (score float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("comparator panic: %v", r)
		}
	}()

	switch rule.Comparator {
	case ComparatorExact:
		ls, lok := lv.(string)
		rs, rok := rv.(string)
		if !lok || !rok {
			return 0, fmt.Errorf("exact comparator requires string values, got %T/%T", lv, rv)
		}
		return comparators.Exact(ls, rs, rule.CaseSensitive), nil

	case ComparatorFuzzy:
		ls, lok := lv.(string)
		rs, rok := rv.(string)
		if !lok || !rok {
			return 0, fmt.Errorf("fuzzy comparator requires string values, got %T/%T", lv, rv)
		}
		return comparators.Fuzzy(ls, rs, rule.FuzzyParams), nil

	case ComparatorPhonetic:
		ls, lok := lv.(string)
		rs, rok := rv.(string)
		if !lok || !rok {
			return 0, fmt.Errorf("phonetic comparator requires string values, got %T/%T", lv, rv)
		}
		return comparators.Phonetic(ls, rs, rule.Phonetic), nil

	case ComparatorNumeric:
		ln, lok := comparators.CoerceNumeric(lv)
		rn, rok := comparators.CoerceNumeric(rv)
		if !lok || !rok {
			return 0, fmt.Errorf("numeric comparator requires numeric values, got %T/%T", lv, rv)
		}
		return comparators.Numeric(ln, rn, rule.NumericTol), nil

	case ComparatorDate:
		lt, lok := lv.(time.Time)
		rt, rok := rv.(time.Time)
		if !lok || !rok {
			return 0, fmt.Errorf("date comparator requires time.Time values, got %T/%T", lv, rv)
		}
		return comparators.Date(lt, rt, rule.DateWindowDays), nil

	case ComparatorAddress:
		la, lok := lv.(comparators.AddressComponents)
		ra, rok := rv.(comparators.AddressComponents)
		if !lok || !rok {
			return 0, fmt.Errorf("address comparator requires AddressComponents values, got %T/%T", lv, rv)
		}
		return comparators.Address(la, ra, rule.FuzzyParams), nil

	case ComparatorVector:
		lvec, lok := lv.([]float32)
		rvec, rok := rv.([]float32)
		if !lok || !rok {
			return 0, fmt.Errorf("vector comparator requires []float32 values, got %T/%T", lv, rv)
		}
		score, ok := comparators.Vector(lvec, rvec)
		if !ok {
			return 0, fmt.Errorf("vector comparator: empty or mismatched-length vectors")
		}
		return score, nil

	default:
		return 0, fmt.Errorf("unknown comparator type %q", rule.Comparator)
	}
}

func (e *Engine) verdict(score float64) models.Verdict {
	switch {
	case score >= e.cfg.Thresholds.Match:
		return models.VerdictMatch
	case score >= e.cfg.Thresholds.Review:
		return models.VerdictReview
	default:
		return models.VerdictNoMatch
	}
}

// aggregate combines per-field scores into one overall score per the
// configured Aggregation mode. An empty fieldScores set (every field
// skipped) aggregates to 0.
func aggregate(mode Aggregation, fieldScores, weights map[string]float64) float64 {
	if len(fieldScores) == 0 {
		return 0
	}

	switch mode {
	case AggregationMin:
		min := 1.0
		for _, s := range fieldScores {
			if s < min {
				min = s
			}
		}
		return min

	case AggregationMax:
		max := 0.0
		for _, s := range fieldScores {
			if s > max {
				max = s
			}
		}
		return max

	case AggregationProduct:
		product := 1.0
		for _, s := range fieldScores {
			product *= s
		}
		return product

	default: // AggregationWeightedAverage
		var weightedSum, totalWeight float64
		for field, s := range fieldScores {
			w := weights[field]
			if w == 0 {
				w = 1
			}
			weightedSum += s * w
			totalWeight += w
		}
		if totalWeight == 0 {
			return 0
		}
		return weightedSum / totalWeight
	}
}
