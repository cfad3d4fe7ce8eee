// Package local is a deterministic, dependency-free embedding provider: it
// derives a fixed-length vector from a value's shingled character
// n-grams, hashed into buckets, then L2-normalized. It is explicitly not a
// semantic embedding model — no Go ML embedding library exists anywhere in
// the example pack — but it gives pkg/embedding.Provider a real
// implementation to exercise the Match Engine's vector comparator and
// pkg/blocking's LSH strategy end to end, and it is cached the way the
// original's lru_cache-decorated compute_embedding was.
package local

import (
	"container/list"
	"context"
	"math"
	"sync"
)

// Config configures the local Provider.
type Config struct {
	// Dimensions is the output vector length.
	Dimensions int
	// ShingleSize is the character n-gram length hashed into buckets.
	ShingleSize int
	// CacheCapacity bounds the LRU cache of computed embeddings; 0 or
	// less defaults to 10000 entries.
	CacheCapacity int
}

// Provider implements embedding.Provider with a cached, hash-bucketed
// character-shingle vector.
type Provider struct {
	cfg   Config
	mu    sync.Mutex
	items map[string]*list.Element
	order *list.List
}

type cacheEntry struct {
	key   string
	value []float32
}

// New builds a Provider. Zero-value Config fields default to 64
// dimensions, 3-character shingles, and a 10000-entry cache.
func New(cfg Config) *Provider {
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = 64
	}
	if cfg.ShingleSize <= 0 {
		cfg.ShingleSize = 3
	}
	if cfg.CacheCapacity <= 0 {
		cfg.CacheCapacity = 10000
	}
	return &Provider{
		cfg:   cfg,
		items: make(map[string]*list.Element),
		order: list.New(),
	}
}

// Embed computes a hash-bucketed shingle vector for value. It never
// reports absent for non-empty input; empty values report absent so
// callers fall back to textual comparators rather than comparing
// meaningless zero vectors.
func (p *Provider) Embed(_ context.Context, field, value string) ([]float32, bool) {
	if value == "" {
		return nil, false
	}

	key := field + "\x00" + value
	if cached, ok := p.get(key); ok {
		return cached, true
	}

	vec := p.computeEmbedding(value)
	p.put(key, vec)
	return vec, true
}

func (p *Provider) computeEmbedding(text string) []float32 {
	vec := make([]float32, p.cfg.Dimensions)

	runes := []rune(text)
	n := p.cfg.ShingleSize
	if len(runes) < n {
		n = len(runes)
	}
	if n == 0 {
		return vec
	}

	for i := 0; i+n <= len(runes); i++ {
		shingle := string(runes[i : i+n])
		bucket := hashString(shingle) % uint64(p.cfg.Dimensions)
		vec[bucket]++
	}

	normalize(vec)
	return vec
}

func hashString(s string) uint64 {
	var h uint64 = 14695981039346656037 // FNV-1a offset basis
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211 // FNV-1a prime
	}
	return h
}

func normalize(vec []float32) {
	var sumSquares float64
	for _, v := range vec {
		sumSquares += float64(v) * float64(v)
	}
	if sumSquares == 0 {
		return
	}
	norm := float32(math.Sqrt(sumSquares))
	for i := range vec {
		vec[i] /= norm
	}
}

func (p *Provider) get(key string) ([]float32, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	el, ok := p.items[key]
	if !ok {
		return nil, false
	}
	p.order.MoveToFront(el)
	return el.Value.(*cacheEntry).value, true
}

func (p *Provider) put(key string, value []float32) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if el, ok := p.items[key]; ok {
		el.Value.(*cacheEntry).value = value
		p.order.MoveToFront(el)
		return
	}

	el := p.order.PushFront(&cacheEntry{key: key, value: value})
	p.items[key] = el

	if p.order.Len() > p.cfg.CacheCapacity {
		oldest := p.order.Back()
		if oldest != nil {
			p.order.Remove(oldest)
			delete(p.items, oldest.Value.(*cacheEntry).key)
		}
	}
}
