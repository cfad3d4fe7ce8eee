package local

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvider_Embed_EmptyValueAbsent(t *testing.T) {
	p := New(Config{})
	_, ok := p.Embed(context.Background(), "name", "")
	assert.False(t, ok)
}

func TestProvider_Embed_DeterministicAndNormalized(t *testing.T) {
	p := New(Config{Dimensions: 32, ShingleSize: 3})

	v1, ok := p.Embed(context.Background(), "name", "Jane Doe")
	require.True(t, ok)
	v2, ok := p.Embed(context.Background(), "name", "Jane Doe")
	require.True(t, ok)

	assert.Equal(t, v1, v2)

	var sumSquares float64
	for _, x := range v1 {
		sumSquares += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sumSquares), 1e-4)
}

func TestProvider_Embed_SimilarStringsAreCloser(t *testing.T) {
	p := New(Config{Dimensions: 64, ShingleSize: 3})

	a, _ := p.Embed(context.Background(), "name", "Jane Doe")
	b, _ := p.Embed(context.Background(), "name", "Jane Doh")
	c, _ := p.Embed(context.Background(), "name", "Completely Different Text")

	assert.Greater(t, dot(a, b), dot(a, c))
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
