package lineage

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ns-3e/OpenMatch/pkg/models"
)

func TestGoldenRowRoundTrip(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	golden := models.GoldenRecord{
		GoldenID:   "g1",
		Attributes: map[string]any{"name": "Acme"},
		ClusterID:  "c1",
		Version:    2,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	row := toGoldenRow(golden)
	back := row.toModel()

	assert.Equal(t, golden.GoldenID, back.GoldenID)
	assert.Equal(t, golden.Attributes, back.Attributes)
	assert.Equal(t, golden.ClusterID, back.ClusterID)
	assert.Equal(t, golden.Version, back.Version)
	assert.True(t, golden.CreatedAt.Equal(back.CreatedAt))
}

func TestXrefRowRoundTrip_OpenXref(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	x := models.Xref{SourceRecordID: "r1", SourceSystem: "CRM", GoldenID: "g1", ValidFrom: now, Confidence: 0.9}

	row := toXrefRow(x)
	back := row.toModel()

	assert.Equal(t, x.SourceRecordID, back.SourceRecordID)
	assert.Nil(t, back.ValidTo)
	assert.True(t, back.Current())
}

func TestXrefRowRoundTrip_ClosedXref(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	closedAt := now.Add(time.Hour)
	x := models.Xref{SourceRecordID: "r1", SourceSystem: "CRM", GoldenID: "g1", ValidFrom: now, ValidTo: &closedAt}

	row := toXrefRow(x)
	back := row.toModel()

	assert.NotNil(t, back.ValidTo)
	assert.False(t, back.Current())
	assert.True(t, closedAt.Equal(*back.ValidTo))
}

func TestEventRowRoundTrip(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	e := models.MergeEvent{
		EventID:           "e1",
		EventType:         models.EventMerge,
		Timestamp:         now,
		Actor:             "pipeline",
		AffectedGoldenIDs: []string{"g1", "g2"},
		AffectedRecordIDs: []string{"r1", "r2"},
		BeforeState:       map[string]any{"golden_record": map[string]any{"golden_id": "g1"}},
		AfterState:        map[string]any{"golden_record": map[string]any{"golden_id": "g1"}},
	}

	row := toEventRow(e)
	back := row.toModel()

	assert.Equal(t, e.EventID, back.EventID)
	assert.Equal(t, e.EventType, back.EventType)
	assert.ElementsMatch(t, e.AffectedGoldenIDs, back.AffectedGoldenIDs)
}

// jsonRoundTrip mirrors what a before_state value actually goes through on
// the way to and from Postgres JSONB: json.Marshal on write, then
// json.Unmarshal into a plain map[string]any on read, which is why a
// created golden id's CreatedAt comes back as an RFC3339Nano string rather
// than a time.Time.
func jsonRoundTrip(t *testing.T, v map[string]any) map[string]any {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestBuildBeforeState_CreateHasNilGoldenAndNilXref(t *testing.T) {
	before := BuildBeforeState(
		map[string]*models.GoldenRecord{"g1": nil},
		map[string]*models.Xref{"r1": nil},
	)
	before = jsonRoundTrip(t, before)

	golden, ok := before["golden"].(map[string]any)
	require.True(t, ok)
	assert.Nil(t, golden["g1"])
	assert.Contains(t, golden, "g1")

	xrefs, ok := before["xrefs"].(map[string]any)
	require.True(t, ok)
	assert.Nil(t, xrefs["r1"])
	assert.Contains(t, xrefs, "r1")
}

func TestBuildBeforeState_UpdateCapturesPriorSnapshot(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	prior := &models.GoldenRecord{
		GoldenID:   "g1",
		Attributes: map[string]any{"name": "Acme"},
		ClusterID:  "c1",
		Version:    2,
		CreatedAt:  created,
		UpdatedAt:  created,
	}
	openXref := &models.Xref{SourceRecordID: "r1", SourceSystem: "CRM", GoldenID: "g1", ValidFrom: created, Confidence: 0.8}

	before := BuildBeforeState(
		map[string]*models.GoldenRecord{"g1": prior},
		map[string]*models.Xref{"r1": openXref},
	)
	before = jsonRoundTrip(t, before)

	golden := before["golden"].(map[string]any)["g1"].(map[string]any)
	assert.Equal(t, "g1", golden["golden_id"])
	assert.Equal(t, float64(2), golden["version"])
	assert.Equal(t, created, parseSnapshotTime(golden["created_at"]))

	xref := before["xrefs"].(map[string]any)["r1"].(map[string]any)
	assert.Equal(t, "g1", xref["golden_id"])
	assert.Equal(t, created, parseSnapshotTime(xref["valid_from"]))
}

func TestParseSnapshotTime_InvalidReturnsZero(t *testing.T) {
	assert.True(t, parseSnapshotTime(nil).IsZero())
	assert.True(t, parseSnapshotTime(123).IsZero())
	assert.True(t, parseSnapshotTime("not-a-time").IsZero())
}
