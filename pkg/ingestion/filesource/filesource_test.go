package filesource

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSource_NextBatch_ReadsAllRecordsThenEnds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "records.jsonl")
	content := `{"record_id":"r1","source_id":"CRM","attributes":{"name":"A"}}
{"record_id":"r2","source_id":"CRM","attributes":{"name":"B"}}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	src, err := Open(path, 10)
	require.NoError(t, err)
	defer src.Close()

	batch, end, err := src.NextBatch(context.Background())
	require.NoError(t, err)
	require.True(t, end)
	require.Len(t, batch, 2)
	require.Equal(t, "r1", batch[0].RecordID)
	require.Equal(t, "r2", batch[1].RecordID)
}

func TestSource_NextBatch_RespectsBatchSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "records.jsonl")
	content := `{"record_id":"r1","source_id":"CRM","attributes":{}}
{"record_id":"r2","source_id":"CRM","attributes":{}}
{"record_id":"r3","source_id":"CRM","attributes":{}}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	src, err := Open(path, 2)
	require.NoError(t, err)
	defer src.Close()

	batch, end, err := src.NextBatch(context.Background())
	require.NoError(t, err)
	require.False(t, end)
	require.Len(t, batch, 2)

	batch, end, err = src.NextBatch(context.Background())
	require.NoError(t, err)
	require.True(t, end)
	require.Len(t, batch, 1)
}
