package ingestion

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ns-3e/OpenMatch/pkg/models"
)

type fakeSource struct {
	batches [][]*models.Record
	idx     int
}

func (f *fakeSource) NextBatch(context.Context) ([]*models.Record, bool, error) {
	if f.idx >= len(f.batches) {
		return nil, true, nil
	}
	batch := f.batches[f.idx]
	f.idx++
	return batch, f.idx >= len(f.batches), nil
}

type recordingDeadLetter struct {
	mu   sync.Mutex
	sent []DeadLetterReason
}

func (r *recordingDeadLetter) Send(_ context.Context, _ *models.Record, reason DeadLetterReason, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, reason)
	return nil
}

func rec(id string, attrs map[string]any) *models.Record {
	return &models.Record{RecordID: id, SourceID: "CRM", Attributes: attrs}
}

func TestIngestor_Pull_AcceptsValidRecords(t *testing.T) {
	source := &fakeSource{batches: [][]*models.Record{
		{rec("r1", map[string]any{"email": "a@example.com"})},
	}}
	dl := &recordingDeadLetter{}
	in := New(Config{Schema: Schema{{Field: "email", Required: true, Tag: "email"}}}, dl, nil)

	accepted, err := in.Pull(context.Background(), source)
	require.NoError(t, err)
	assert.Len(t, accepted, 1)
	assert.Empty(t, dl.sent)
}

func TestIngestor_Pull_MissingRequiredFieldGoesToDeadLetter(t *testing.T) {
	source := &fakeSource{batches: [][]*models.Record{
		{rec("r1", map[string]any{})},
	}}
	dl := &recordingDeadLetter{}
	in := New(Config{Schema: Schema{{Field: "email", Required: true}}}, dl, nil)

	accepted, err := in.Pull(context.Background(), source)
	require.NoError(t, err)
	assert.Empty(t, accepted)
	require.Len(t, dl.sent, 1)
	assert.Equal(t, ReasonValidationError, dl.sent[0])
}

func TestIngestor_Pull_InvalidTagGoesToDeadLetter(t *testing.T) {
	source := &fakeSource{batches: [][]*models.Record{
		{rec("r1", map[string]any{"email": "not-an-email"})},
	}}
	dl := &recordingDeadLetter{}
	in := New(Config{Schema: Schema{{Field: "email", Required: true, Tag: "email"}}}, dl, nil)

	accepted, err := in.Pull(context.Background(), source)
	require.NoError(t, err)
	assert.Empty(t, accepted)
	require.Len(t, dl.sent, 1)
	assert.Equal(t, ReasonValidationError, dl.sent[0])
}

func TestIngestor_Pull_DuplicateFingerprintGoesToDeadLetter(t *testing.T) {
	source := &fakeSource{batches: [][]*models.Record{
		{
			rec("r1", map[string]any{"name": "Acme"}),
			rec("r2", map[string]any{"name": "Acme"}),
		},
	}}
	dl := &recordingDeadLetter{}
	in := New(Config{}, dl, nil)

	accepted, err := in.Pull(context.Background(), source)
	require.NoError(t, err)
	assert.Len(t, accepted, 1)
	require.Len(t, dl.sent, 1)
	assert.Equal(t, ReasonDuplicate, dl.sent[0])
}

func TestIngestor_Pull_RespectsMaxBatches(t *testing.T) {
	source := &fakeSource{batches: [][]*models.Record{
		{rec("r1", map[string]any{})},
		{rec("r2", map[string]any{})},
		{rec("r3", map[string]any{})},
	}}
	dl := &recordingDeadLetter{}
	in := New(Config{MaxBatches: 1}, dl, nil)

	accepted, err := in.Pull(context.Background(), source)
	require.NoError(t, err)
	assert.Len(t, accepted, 1)
}
