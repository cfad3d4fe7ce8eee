// Package filesource adapts a newline-delimited JSON file of records into
// an ingestion.Source, for full-rebuild runs and local testing.
package filesource

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/ns-3e/OpenMatch/pkg/models"
)

// Source reads one models.Record per line of a newline-delimited JSON file.
type Source struct {
	file      *os.File
	scanner   *bufio.Scanner
	batchSize int
}

// Open opens path for reading and returns a Source that yields up to
// batchSize records per NextBatch call.
func Open(path string, batchSize int) (*Source, error) {
	if batchSize <= 0 {
		batchSize = 500
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("filesource: opening %q: %w", path, err)
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	return &Source{file: f, scanner: scanner, batchSize: batchSize}, nil
}

// NextBatch reads up to batchSize lines, decoding each as a models.Record.
// end is true once the file is exhausted.
func (s *Source) NextBatch(ctx context.Context) ([]*models.Record, bool, error) {
	var batch []*models.Record

	select {
	case <-ctx.Done():
		return batch, false, ctx.Err()
	default:
	}

	for len(batch) < s.batchSize {
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil && err != io.EOF {
				return batch, true, fmt.Errorf("filesource: scanning: %w", err)
			}
			return batch, true, nil
		}

		line := s.scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var record models.Record
		if err := json.Unmarshal(line, &record); err != nil {
			return batch, false, fmt.Errorf("filesource: decoding record: %w", err)
		}
		batch = append(batch, &record)
	}

	return batch, false, nil
}

// Close releases the underlying file handle.
func (s *Source) Close() error {
	return s.file.Close()
}
