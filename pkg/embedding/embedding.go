// Package embedding is the abstract embedding provider boundary: embed a
// field's value into a vector, or report it absent, per spec §6's
// "embed(field, value) -> vector or absent" contract. A failed or absent
// embedding is never an error the caller must handle specially — the
// Match Engine simply falls back to its configured textual comparators
// for that field.
package embedding

import "context"

// Provider computes an embedding vector for one field's value. Embed
// returns ok=false (never an error) when no vector could be produced —
// model unavailable, empty input, field not configured for embedding —
// so callers have exactly one fallback path to reason about.
type Provider interface {
	Embed(ctx context.Context, field, value string) (vector []float32, ok bool)
}

// Multi wraps several Providers keyed by field, so different fields (e.g.
// "name" vs "address") can use different embedding strategies.
type Multi struct {
	byField  map[string]Provider
	fallback Provider
}

// NewMulti builds a Multi provider. fallback, if non-nil, handles any
// field absent from byField.
func NewMulti(byField map[string]Provider, fallback Provider) *Multi {
	return &Multi{byField: byField, fallback: fallback}
}

// Embed dispatches to the field-specific Provider, falling back to the
// configured default provider, or reporting absent if neither exists.
func (m *Multi) Embed(ctx context.Context, field, value string) ([]float32, bool) {
	if p, ok := m.byField[field]; ok {
		return p.Embed(ctx, field, value)
	}
	if m.fallback != nil {
		return m.fallback.Embed(ctx, field, value)
	}
	return nil, false
}
