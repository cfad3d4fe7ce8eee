// Package blocking produces candidate record pairs from a record set using
// standard, sorted-neighborhood, or LSH-over-vectors strategies, bounding
// per-record fan-out and refusing configurations whose estimated block
// size exceeds a safety bound.
package blocking

import (
	"fmt"
	"math"
	"sort"

	"github.com/ns-3e/OpenMatch/pkg/models"
)

// Strategy selects a blocking algorithm.
type Strategy string

const (
	StrategyStandard           Strategy = "standard"
	StrategySortedNeighborhood Strategy = "sorted_neighborhood"
	StrategyLSH                Strategy = "lsh"
)

// ErrBlockExplosion is returned when a block's estimated size exceeds
// Config.MaxBlockSize.
type ErrBlockExplosion struct {
	Key  models.BlockKey
	Size int
	Max  int
}

func (e *ErrBlockExplosion) Error() string {
	return fmt.Sprintf("blocking: BLOCK_EXPLOSION key=%q size=%d exceeds max=%d", e.Key, e.Size, e.Max)
}

// Config configures one Blocker run.
type Config struct {
	Strategy Strategy

	// Keys are the fields standard blocking derives keys from.
	Keys []string

	// WindowSize is the sliding window for sorted-neighborhood.
	WindowSize int

	// SortKey is the field sorted-neighborhood sorts records by.
	SortKey string

	// TopK is the number of nearest neighbors LSH returns per record.
	TopK int

	// VectorField is the embedding field LSH searches over.
	VectorField string

	// MaxBlockSize is the safety bound; a block with more members than
	// this fails the run with ErrBlockExplosion.
	MaxBlockSize int
}

// Blocker yields CandidatePairs for a batch of normalized records.
type Blocker struct {
	cfg Config
}

// New builds a Blocker from Config.
func New(cfg Config) *Blocker {
	return &Blocker{cfg: cfg}
}

// Run dispatches to the configured strategy and returns deduplicated
// CandidatePairs, or ErrBlockExplosion if any block's size exceeds
// cfg.MaxBlockSize.
func (b *Blocker) Run(records []*models.NormalizedRecord) ([]models.CandidatePair, error) {
	switch b.cfg.Strategy {
	case StrategySortedNeighborhood:
		return b.sortedNeighborhood(records)
	case StrategyLSH:
		return b.lsh(records)
	default:
		return b.standard(records)
	}
}

// standard groups records by concatenated blocking-key values and emits
// all pairs within each group.
func (b *Blocker) standard(records []*models.NormalizedRecord) ([]models.CandidatePair, error) {
	blocks := make(map[models.BlockKey][]*models.NormalizedRecord)

	for _, r := range records {
		key := b.standardKey(r)
		if key == "" {
			continue
		}
		blocks[key] = append(blocks[key], r)
	}

	seen := make(map[models.CandidatePair]struct{})
	var pairs []models.CandidatePair

	for key, members := range blocks {
		if b.cfg.MaxBlockSize > 0 && len(members) > b.cfg.MaxBlockSize {
			return nil, &ErrBlockExplosion{Key: key, Size: len(members), Max: b.cfg.MaxBlockSize}
		}
		for i := 0; i < len(members); i++ {
			for j := i + 1; j < len(members); j++ {
				pair := models.NewCandidatePair(members[i].RecordID, members[j].RecordID)
				if _, dup := seen[pair]; dup {
					continue
				}
				seen[pair] = struct{}{}
				pairs = append(pairs, pair)
			}
		}
	}

	return pairs, nil
}

// standardKey concatenates the normalized values of every configured
// blocking field; a record missing any configured field is excluded from
// standard blocking (it must match via another strategy or not at all).
func (b *Blocker) standardKey(r *models.NormalizedRecord) models.BlockKey {
	key := ""
	for i, field := range b.cfg.Keys {
		v, ok := r.NormalizedValue(field)
		if !ok {
			return ""
		}
		if i > 0 {
			key += "|"
		}
		key += fmt.Sprintf("%v", v)
	}
	return models.BlockKey(key)
}

// sortedNeighborhood sorts records by SortKey and generates pairs within a
// sliding window of size WindowSize.
func (b *Blocker) sortedNeighborhood(records []*models.NormalizedRecord) ([]models.CandidatePair, error) {
	window := b.cfg.WindowSize
	if window <= 0 {
		window = 1
	}

	sorted := make([]*models.NormalizedRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool {
		vi, _ := sorted[i].NormalizedValue(b.cfg.SortKey)
		vj, _ := sorted[j].NormalizedValue(b.cfg.SortKey)
		return fmt.Sprintf("%v", vi) < fmt.Sprintf("%v", vj)
	})

	if b.cfg.MaxBlockSize > 0 && len(sorted) > b.cfg.MaxBlockSize {
		return nil, &ErrBlockExplosion{Key: models.BlockKey(b.cfg.SortKey), Size: len(sorted), Max: b.cfg.MaxBlockSize}
	}

	seen := make(map[models.CandidatePair]struct{})
	var pairs []models.CandidatePair

	for i := range sorted {
		for j := i + 1; j < len(sorted) && j-i <= window; j++ {
			pair := models.NewCandidatePair(sorted[i].RecordID, sorted[j].RecordID)
			if _, dup := seen[pair]; dup {
				continue
			}
			seen[pair] = struct{}{}
			pairs = append(pairs, pair)
		}
	}

	return pairs, nil
}

// lsh performs brute-force top-K cosine-similarity search per record over
// VectorField's embeddings. For the in-process record counts this module
// targets, exact top-K search is exact-on-small-N and introduces no
// nondeterminism (see SPEC_FULL.md §9's ANN determinism decision); a real
// approximate index is a deployment-time swap behind this same contract.
func (b *Blocker) lsh(records []*models.NormalizedRecord) ([]models.CandidatePair, error) {
	topK := b.cfg.TopK
	if topK <= 0 {
		topK = 5
	}

	type vectorRecord struct {
		id  string
		vec []float32
	}

	var withVectors []vectorRecord
	for _, r := range records {
		vec, ok := r.Embeddings[b.cfg.VectorField]
		if !ok || len(vec) == 0 {
			continue
		}
		withVectors = append(withVectors, vectorRecord{id: r.RecordID, vec: vec})
	}

	if b.cfg.MaxBlockSize > 0 && len(withVectors) > b.cfg.MaxBlockSize {
		return nil, &ErrBlockExplosion{Key: models.BlockKey(b.cfg.VectorField), Size: len(withVectors), Max: b.cfg.MaxBlockSize}
	}

	seen := make(map[models.CandidatePair]struct{})
	var pairs []models.CandidatePair

	for i, r := range withVectors {
		type scored struct {
			id    string
			score float64
		}
		var neighbors []scored
		for j, other := range withVectors {
			if i == j {
				continue
			}
			score := cosineSimilarity(r.vec, other.vec)
			neighbors = append(neighbors, scored{id: other.id, score: score})
		}
		sort.SliceStable(neighbors, func(a, c int) bool {
			if neighbors[a].score != neighbors[c].score {
				return neighbors[a].score > neighbors[c].score
			}
			return neighbors[a].id < neighbors[c].id
		})

		limit := topK
		if limit > len(neighbors) {
			limit = len(neighbors)
		}
		for _, n := range neighbors[:limit] {
			pair := models.NewCandidatePair(r.id, n.id)
			if _, dup := seen[pair]; dup {
				continue
			}
			seen[pair] = struct{}{}
			pairs = append(pairs, pair)
		}
	}

	return pairs, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
