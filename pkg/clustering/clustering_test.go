package clustering

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ns-3e/OpenMatch/pkg/models"
)

func decision(a, b string, verdict models.Verdict) models.MatchDecision {
	return models.MatchDecision{Pair: models.NewCandidatePair(a, b), Verdict: verdict}
}

func TestBuilder_TransitiveClosure(t *testing.T) {
	b := New(Config{})
	b.Apply([]models.MatchDecision{
		decision("a", "b", models.VerdictMatch),
		decision("b", "c", models.VerdictMatch),
	})

	clusters := b.Clusters()
	require.Len(t, clusters, 1)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, clusters[0].Members)
}

func TestBuilder_ReviewNeverUnions(t *testing.T) {
	b := New(Config{})
	b.Apply([]models.MatchDecision{
		decision("a", "b", models.VerdictReview),
	})
	clusters := b.Clusters()
	require.Len(t, clusters, 2)
}

func TestBuilder_TransitivityGuardDemotesConflict(t *testing.T) {
	b := New(Config{TransitivityGuard: true})
	b.Apply([]models.MatchDecision{
		decision("a", "b", models.VerdictNoMatch),
	})
	b.Apply([]models.MatchDecision{
		decision("a", "c", models.VerdictMatch),
		decision("c", "b", models.VerdictMatch),
	})

	demoted := b.Demoted()
	require.Len(t, demoted, 1)

	clusters := b.Clusters()
	assert.Len(t, clusters, 2)
}

func TestBuilder_IncrementalEvents(t *testing.T) {
	prior := []models.Cluster{
		{ClusterID: "cluster-1", Members: []string{"a", "b"}},
		{ClusterID: "cluster-2", Members: []string{"c"}},
	}

	b := New(Config{})
	b.Seed(prior)
	b.Apply([]models.MatchDecision{
		decision("b", "c", models.VerdictMatch),
		decision("d", "e", models.VerdictMatch),
	})

	events := b.Events(prior)

	var kinds []EventKind
	for _, e := range events {
		kinds = append(kinds, e.Kind)
	}
	assert.Contains(t, kinds, EventMerge)
	assert.Contains(t, kinds, EventCreate)
}
