package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ns-3e/OpenMatch/pkg/blocking"
	"github.com/ns-3e/OpenMatch/pkg/clustering"
	"github.com/ns-3e/OpenMatch/pkg/matchengine"
	"github.com/ns-3e/OpenMatch/pkg/metrics"
	"github.com/ns-3e/OpenMatch/pkg/models"
	"github.com/ns-3e/OpenMatch/pkg/survivorship"
	"github.com/ns-3e/OpenMatch/pkg/trust"
)

func testRecord(id, source, name, email string, ts time.Time) *models.Record {
	return &models.Record{
		RecordID:        id,
		SourceID:        source,
		SourceTimestamp: ts,
		IngestTime:      ts,
		Attributes: map[string]any{
			"name":  name,
			"email": email,
		},
	}
}

func testConfig() Config {
	return Config{
		Mode:    ModeFullRebuild,
		Workers: 4,
		BlockerConfig: blocking.Config{
			Strategy:     blocking.StrategyStandard,
			Keys:         []string{"email"},
			MaxBlockSize: 100,
		},
		MatchConfig: matchengine.Config{
			RuleID: "person",
			Fields: []matchengine.FieldRule{
				{Field: "name", Comparator: matchengine.ComparatorFuzzy, Weight: 0.5, NullPolicy: matchengine.NullTreatAsMismatch},
				{Field: "email", Comparator: matchengine.ComparatorExact, Weight: 0.5, NullPolicy: matchengine.NullTreatAsMismatch},
			},
			Aggregation: matchengine.AggregationWeightedAverage,
			Thresholds:  matchengine.Thresholds{Match: 0.85, Review: 0.6},
		},
		ClusteringConfig: clustering.Config{TransitivityGuard: false},
		TrustConfig: trust.Config{
			Weights:            trust.ComponentWeights{SourceReliability: 0.25, Completeness: 0.25, Timeliness: 0.25, Validity: 0.25},
			DefaultReliability: 0.5,
			HalfLifeDays:       365,
		},
		SurvivorshipRules: []survivorship.FieldRule{
			{Field: "name", Strategy: survivorship.StrategyMostTrusted},
			{Field: "email", Strategy: survivorship.StrategyMostTrusted},
		},
	}
}

func TestOrchestrator_Run_MatchesAndClusters(t *testing.T) {
	now := time.Now()
	records := []*models.Record{
		testRecord("r1", "CRM", "Jane Doe", "jane@example.com", now),
		testRecord("r2", "ERP", "Jane Doe", "jane@example.com", now),
		testRecord("r3", "WEB", "John Smith", "john@example.com", now),
	}

	o := New(testConfig(), nil, metrics.NoopSink{}, nil)
	result, err := o.Run(context.Background(), records, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, result.PairsGenerated)
	assert.Equal(t, 1, result.PairsEvaluated)
	assert.Equal(t, 1, result.MatchCount)
	assert.Len(t, result.Clusters, 2)
	assert.Len(t, result.GoldenRecords, 2)
}

func TestOrchestrator_Run_Incremental_SeedsFromPriorClusters(t *testing.T) {
	now := time.Now()
	prior := []models.Cluster{{ClusterID: "existing-cluster", Members: []string{"r1"}}}
	records := []*models.Record{
		testRecord("r1", "CRM", "Jane Doe", "jane@example.com", now),
		testRecord("r2", "ERP", "Jane Doe", "jane@example.com", now),
	}

	cfg := testConfig()
	cfg.Mode = ModeIncremental

	o := New(cfg, nil, metrics.NoopSink{}, nil)
	result, err := o.Run(context.Background(), records, prior, nil)
	require.NoError(t, err)

	require.Len(t, result.Clusters, 1)
	assert.Equal(t, "existing-cluster", result.Clusters[0].ClusterID)
	assert.ElementsMatch(t, []string{"r1", "r2"}, result.Clusters[0].Members)
}

func TestOrchestrator_Run_Incremental_ReusesGoldenID(t *testing.T) {
	created := time.Now().AddDate(0, 0, -10)
	now := time.Now()
	prior := []models.Cluster{{ClusterID: "existing-cluster", Members: []string{"r1"}}}
	priorGolden := map[string]models.GoldenRecord{
		"existing-cluster": {GoldenID: "g-existing", ClusterID: "existing-cluster", CreatedAt: created, Version: 3},
	}
	records := []*models.Record{
		testRecord("r1", "CRM", "Jane Doe", "jane@example.com", now),
		testRecord("r2", "ERP", "Jane Doe", "jane@example.com", now),
	}

	cfg := testConfig()
	cfg.Mode = ModeIncremental

	o := New(cfg, nil, metrics.NoopSink{}, nil)
	result, err := o.Run(context.Background(), records, prior, priorGolden)
	require.NoError(t, err)

	require.Len(t, result.GoldenRecords, 1)
	golden := result.GoldenRecords[0]
	assert.Equal(t, "g-existing", golden.GoldenID)
	assert.Equal(t, created, golden.CreatedAt)
	assert.Equal(t, 4, golden.Version)
	assert.Empty(t, result.ClosedGoldenIDs)
}

func TestOrchestrator_Summarize_SurfacesDemotedPairs(t *testing.T) {
	o := New(testConfig(), nil, metrics.NoopSink{}, nil)

	decisions := []models.MatchDecision{
		{Pair: models.NewCandidatePair("a", "b"), Verdict: models.VerdictMatch, OverallScore: 0.9},
		{Pair: models.NewCandidatePair("d", "e"), Verdict: models.VerdictReview, OverallScore: 0.7},
	}
	demoted := []models.CandidatePair{models.NewCandidatePair("b", "c")}

	result := o.summarize(nil, decisions, nil, nil, nil, demoted, nil)

	assert.Equal(t, []models.CandidatePair{models.NewCandidatePair("b", "c")}, result.DemotedPairs)
	// one REVIEW verdict plus one transitivity-guard demotion
	assert.Equal(t, 2, result.ReviewCount)
	assert.Equal(t, 1, result.MatchCount)
}

func TestOrchestrator_BuildGoldenRecords_MergeResolvesSurvivorAndCloses(t *testing.T) {
	earlier := time.Now().AddDate(0, 0, -5)
	later := time.Now()
	now := time.Now()

	priorGolden := map[string]models.GoldenRecord{
		"cluster-a": {GoldenID: "g-a", ClusterID: "cluster-a", CreatedAt: earlier},
		"cluster-b": {GoldenID: "g-b", ClusterID: "cluster-b", CreatedAt: later},
	}
	byID := map[string]*models.NormalizedRecord{
		"r1": normRecForOrchestrator("r1", "CRM", now, map[string]any{"name": "Jane Doe", "email": "jane@example.com"}),
		"r2": normRecForOrchestrator("r2", "ERP", now, map[string]any{"name": "Jane Doe", "email": "jane@example.com"}),
	}
	events := []clustering.ClusterEvent{
		{Kind: clustering.EventMerge, ClusterID: "merged-cluster", Members: []string{"r1", "r2"}, MergedFrom: []string{"cluster-a", "cluster-b"}},
	}

	o := New(testConfig(), nil, metrics.NoopSink{}, nil)
	golden, closed := o.buildGoldenRecords(events, byID, priorGolden, survivorship.New(), now)

	require.Len(t, golden, 1)
	assert.Equal(t, "g-a", golden[0].GoldenID)
	assert.Equal(t, []string{"g-b"}, closed["merged-cluster"])
}

func normRecForOrchestrator(id, source string, ts time.Time, attrs map[string]any) *models.NormalizedRecord {
	return &models.NormalizedRecord{
		Record:     models.Record{RecordID: id, SourceID: source, SourceTimestamp: ts, Attributes: attrs},
		Normalized: attrs,
		Trust:      &models.TrustScore{RecordID: id, Overall: 0.5},
	}
}
