package models

import "fmt"

// Verdict is the Match Engine's three-way outcome for a CandidatePair.
type Verdict string

const (
	VerdictMatch    Verdict = "MATCH"
	VerdictReview   Verdict = "REVIEW"
	VerdictNoMatch  Verdict = "NO_MATCH"
)

// BlockKey is a canonical string used to group records likely to match.
type BlockKey string

// CandidatePair is an unordered pair of record ids with A < B lexicographically.
type CandidatePair struct {
	A string `json:"record_id_a"`
	B string `json:"record_id_b"`
}

// NewCandidatePair orders the two ids lexicographically.
func NewCandidatePair(id1, id2 string) CandidatePair {
	if id1 < id2 {
		return CandidatePair{A: id1, B: id2}
	}
	return CandidatePair{A: id2, B: id1}
}

func (p CandidatePair) String() string {
	return fmt.Sprintf("%s/%s", p.A, p.B)
}

// MatchDecision is the Match Engine's output for a single CandidatePair.
type MatchDecision struct {
	Pair         CandidatePair      `json:"pair"`
	OverallScore float64            `json:"overall_score"`
	FieldScores  map[string]float64 `json:"per_field_scores"`
	Verdict      Verdict            `json:"verdict"`
	RuleID       string             `json:"rule_id"`
}
