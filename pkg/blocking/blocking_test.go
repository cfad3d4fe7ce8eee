package blocking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ns-3e/OpenMatch/pkg/models"
)

func rec(id string, normalized map[string]any) *models.NormalizedRecord {
	return &models.NormalizedRecord{Record: models.Record{RecordID: id}, Normalized: normalized}
}

func TestBlocker_Standard(t *testing.T) {
	records := []*models.NormalizedRecord{
		rec("a", map[string]any{"zip": "62704"}),
		rec("b", map[string]any{"zip": "62704"}),
		rec("c", map[string]any{"zip": "90210"}),
	}

	b := New(Config{Strategy: StrategyStandard, Keys: []string{"zip"}})
	pairs, err := b.Run(records)
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, models.NewCandidatePair("a", "b"), pairs[0])
}

func TestBlocker_Standard_BlockExplosion(t *testing.T) {
	records := []*models.NormalizedRecord{
		rec("a", map[string]any{"zip": "1"}),
		rec("b", map[string]any{"zip": "1"}),
		rec("c", map[string]any{"zip": "1"}),
	}
	b := New(Config{Strategy: StrategyStandard, Keys: []string{"zip"}, MaxBlockSize: 2})
	_, err := b.Run(records)
	require.Error(t, err)
	var explosion *ErrBlockExplosion
	require.ErrorAs(t, err, &explosion)
}

func TestBlocker_SortedNeighborhood(t *testing.T) {
	records := []*models.NormalizedRecord{
		rec("a", map[string]any{"name": "alice"}),
		rec("b", map[string]any{"name": "alicia"}),
		rec("c", map[string]any{"name": "zach"}),
	}
	b := New(Config{Strategy: StrategySortedNeighborhood, SortKey: "name", WindowSize: 1})
	pairs, err := b.Run(records)
	require.NoError(t, err)
	require.Len(t, pairs, 2)
	assert.Equal(t, models.NewCandidatePair("a", "b"), pairs[0])
	assert.Equal(t, models.NewCandidatePair("b", "c"), pairs[1])
}

func TestBlocker_LSH(t *testing.T) {
	r1 := rec("a", nil)
	r1.Embeddings = map[string][]float32{"emb": {1, 0}}
	r2 := rec("b", nil)
	r2.Embeddings = map[string][]float32{"emb": {1, 0}}
	r3 := rec("c", nil)
	r3.Embeddings = map[string][]float32{"emb": {0, 1}}

	b := New(Config{Strategy: StrategyLSH, VectorField: "emb", TopK: 1})
	pairs, err := b.Run([]*models.NormalizedRecord{r1, r2, r3})
	require.NoError(t, err)
	assert.Contains(t, pairs, models.NewCandidatePair("a", "b"))
}

func TestBlocker_Standard_NoDuplicatePairs(t *testing.T) {
	records := []*models.NormalizedRecord{
		rec("a", map[string]any{"zip": "1"}),
		rec("b", map[string]any{"zip": "1"}),
	}
	b := New(Config{Strategy: StrategyStandard, Keys: []string{"zip"}})
	pairs, err := b.Run(records)
	require.NoError(t, err)
	assert.Len(t, pairs, 1)
}
