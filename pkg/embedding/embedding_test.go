package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubProvider struct {
	vector []float32
	ok     bool
}

func (s stubProvider) Embed(context.Context, string, string) ([]float32, bool) {
	return s.vector, s.ok
}

func TestMulti_Embed_DispatchesByField(t *testing.T) {
	m := NewMulti(map[string]Provider{
		"name": stubProvider{vector: []float32{1, 0}, ok: true},
	}, stubProvider{vector: []float32{0, 1}, ok: true})

	v, ok := m.Embed(context.Background(), "name", "x")
	assert.True(t, ok)
	assert.Equal(t, []float32{1, 0}, v)

	v, ok = m.Embed(context.Background(), "address", "y")
	assert.True(t, ok)
	assert.Equal(t, []float32{0, 1}, v)
}

func TestMulti_Embed_NoFallbackReportsAbsent(t *testing.T) {
	m := NewMulti(map[string]Provider{}, nil)
	_, ok := m.Embed(context.Background(), "name", "x")
	assert.False(t, ok)
}
