package survivorship

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ns-3e/OpenMatch/pkg/models"
)

func normRec(id, source string, trust float64, ts time.Time, attrs map[string]any) *models.NormalizedRecord {
	return &models.NormalizedRecord{
		Record: models.Record{RecordID: id, SourceID: source, SourceTimestamp: ts, Attributes: attrs},
		Normalized: attrs,
		Trust:      &models.TrustScore{RecordID: id, Overall: trust},
	}
}

func TestSurvivor_MostTrusted(t *testing.T) {
	now := time.Now()
	records := []*models.NormalizedRecord{
		normRec("a", "CRM", 0.6, now, map[string]any{"name": "Acme Co"}),
		normRec("b", "ERP", 0.9, now, map[string]any{"name": "ACME Corp"}),
	}
	s := New()
	golden := s.Build("cluster-1", records, []FieldRule{{Field: "name", Strategy: StrategyMostTrusted}}, now, nil)

	assert.Equal(t, "ACME Corp", golden.Attributes["name"])
	assert.Equal(t, "b", golden.Provenance["name"].RecordID)
}

func TestSurvivor_MostRecent(t *testing.T) {
	older := time.Now().AddDate(0, 0, -5)
	newer := time.Now()
	records := []*models.NormalizedRecord{
		normRec("a", "CRM", 0.9, older, map[string]any{"phone": "555-0100"}),
		normRec("b", "ERP", 0.5, newer, map[string]any{"phone": "555-0101"}),
	}
	s := New()
	golden := s.Build("cluster-1", records, []FieldRule{{Field: "phone", Strategy: StrategyMostRecent}}, newer, nil)
	assert.Equal(t, "555-0101", golden.Attributes["phone"])
}

func TestSurvivor_TrustedSourcePriority(t *testing.T) {
	now := time.Now()
	records := []*models.NormalizedRecord{
		normRec("a", "ERP", 0.9, now, map[string]any{"name": "ERP Name"}),
		normRec("b", "CRM", 0.5, now, map[string]any{"name": "CRM Name"}),
	}
	s := New()
	golden := s.Build("cluster-1", records, []FieldRule{
		{Field: "name", Strategy: StrategyTrustedSourcePriority, SourcePriority: []string{"CRM", "ERP"}},
	}, now, nil)
	assert.Equal(t, "CRM Name", golden.Attributes["name"])
}

func TestSurvivor_MostFrequent(t *testing.T) {
	now := time.Now()
	records := []*models.NormalizedRecord{
		normRec("a", "CRM", 0.5, now, map[string]any{"status": "active"}),
		normRec("b", "ERP", 0.5, now, map[string]any{"status": "active"}),
		normRec("c", "WEB", 0.9, now, map[string]any{"status": "inactive"}),
	}
	s := New()
	golden := s.Build("cluster-1", records, []FieldRule{{Field: "status", Strategy: StrategyMostFrequent}}, now, nil)
	assert.Equal(t, "active", golden.Attributes["status"])
}

func TestSurvivor_LongestShortest(t *testing.T) {
	now := time.Now()
	records := []*models.NormalizedRecord{
		normRec("a", "CRM", 0.5, now, map[string]any{"bio": "short"}),
		normRec("b", "ERP", 0.5, now, map[string]any{"bio": "a much longer biography"}),
	}
	s := New()
	longest := s.Build("c", records, []FieldRule{{Field: "bio", Strategy: StrategyLongest}}, now, nil)
	assert.Equal(t, "a much longer biography", longest.Attributes["bio"])

	shortest := s.Build("c", records, []FieldRule{{Field: "bio", Strategy: StrategyShortest}}, now, nil)
	assert.Equal(t, "short", shortest.Attributes["bio"])
}

func TestSurvivor_WeightedAverage(t *testing.T) {
	now := time.Now()
	records := []*models.NormalizedRecord{
		normRec("a", "CRM", 1.0, now, map[string]any{"revenue": 100.0}),
		normRec("b", "ERP", 0.0, now, map[string]any{"revenue": 200.0}),
	}
	s := New()
	golden := s.Build("c", records, []FieldRule{{Field: "revenue", Strategy: StrategyWeightedAverage}}, now, nil)
	assert.InDelta(t, 100.0, golden.Attributes["revenue"].(float64), 1.0)
}

func TestSurvivor_Custom(t *testing.T) {
	now := time.Now()
	records := []*models.NormalizedRecord{
		normRec("a", "CRM", 0.5, now, map[string]any{"code": "abc"}),
	}
	s := New()
	s.RegisterCustom("upper", func(values []FieldValue) (any, bool) {
		return "ABC", true
	})
	golden := s.Build("c", records, []FieldRule{{Field: "code", Strategy: StrategyCustom, CustomName: "upper"}}, now, nil)
	assert.Equal(t, "ABC", golden.Attributes["code"])
}

func TestResolveMergeSurvivor(t *testing.T) {
	earlier := time.Now().AddDate(0, 0, -1)
	later := time.Now()
	a := models.GoldenRecord{GoldenID: "g1", CreatedAt: earlier}
	b := models.GoldenRecord{GoldenID: "g2", CreatedAt: later}

	surviving, closed := ResolveMergeSurvivor(a, b)
	require.Equal(t, "g1", surviving)
	assert.Equal(t, "g2", closed)
}

func TestSurvivor_Build_ReusesPriorGoldenID(t *testing.T) {
	created := time.Now().AddDate(0, 0, -3)
	now := time.Now()
	records := []*models.NormalizedRecord{
		normRec("a", "CRM", 0.9, now, map[string]any{"name": "Acme Co"}),
	}
	prior := &models.GoldenRecord{GoldenID: "g-existing", CreatedAt: created, Version: 2}

	s := New()
	golden := s.Build("cluster-1", records, []FieldRule{{Field: "name", Strategy: StrategyMostTrusted}}, now, prior)

	assert.Equal(t, "g-existing", golden.GoldenID)
	assert.Equal(t, created, golden.CreatedAt)
	assert.Equal(t, 3, golden.Version)
}
