package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDomain = `{
  "fields": [
    {"name": "name", "required": true, "match": {"comparator": "fuzzy", "weight": 0.6, "null_policy": "treat_as_mismatch"}, "survive": "most_trusted"},
    {"name": "phone", "required": false, "match": {"comparator": "exact", "weight": 0.4}, "survive": "most_recent"}
  ],
  "aggregation": "weighted_average",
  "thresholds": {"match": 0.85, "review": 0.6},
  "blocking": {"strategy": "standard", "keys": ["name"], "max_block_size": 1000},
  "trust": {
    "weights": {"source_reliability": 0.25, "completeness": 0.25, "timeliness": 0.25, "validity": 0.25},
    "default_reliability": 0.5,
    "half_life_days": 365
  }
}`

func writeTempDomain(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "domain.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDomain_ValidConfig(t *testing.T) {
	path := writeTempDomain(t, sampleDomain)

	d, err := LoadDomain(path)
	require.NoError(t, err)
	assert.Len(t, d.Fields, 2)
	assert.Equal(t, "weighted_average", d.Aggregation)
}

func TestLoadDomain_RejectsMissingRequiredField(t *testing.T) {
	path := writeTempDomain(t, `{"fields":[{"name":"x"}],"blocking":{"strategy":"standard","max_block_size":10},"trust":{"half_life_days":1}}`)

	_, err := LoadDomain(path)
	assert.Error(t, err)
}

func TestDomain_MatchEngineConfig(t *testing.T) {
	path := writeTempDomain(t, sampleDomain)
	d, err := LoadDomain(path)
	require.NoError(t, err)

	cfg := d.MatchEngineConfig()
	assert.Len(t, cfg.Fields, 2)
	assert.Equal(t, 0.85, cfg.Thresholds.Match)
}

func TestDomain_BlockingAndTrustAndSurvivorship(t *testing.T) {
	path := writeTempDomain(t, sampleDomain)
	d, err := LoadDomain(path)
	require.NoError(t, err)

	bc := d.BlockingConfig()
	assert.Equal(t, []string{"name"}, bc.Keys)

	tc := d.TrustConfig()
	assert.Equal(t, 365.0, tc.HalfLifeDays)

	rules := d.SurvivorshipRules()
	assert.Len(t, rules, 2)
}
