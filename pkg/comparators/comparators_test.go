package comparators

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExact(t *testing.T) {
	tests := []struct {
		name          string
		a, b          string
		caseSensitive bool
		want          float64
	}{
		{"equal", "Acme", "Acme", true, 1.0},
		{"case differs, insensitive", "Acme", "ACME", false, 1.0},
		{"case differs, sensitive", "Acme", "ACME", true, 0.0},
		{"different", "Acme", "Other", false, 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Exact(tt.a, tt.b, tt.caseSensitive))
		})
	}
}

func TestFuzzy_JaroWinkler(t *testing.T) {
	params := DefaultFuzzyParams()
	score := Fuzzy("Acme Corp", "Acme Corp", params)
	assert.Equal(t, 1.0, score)

	score = Fuzzy("MARTHA", "MARHTA", params)
	require.Greater(t, score, 0.9)
}

func TestFuzzy_PrefixWeightCapped(t *testing.T) {
	params := FuzzyParams{Method: FuzzyJaroWinkler, PrefixWeight: 10, MaxPrefix: 4}
	score := Fuzzy("ABCDEF", "ABCDZZ", params)
	assert.LessOrEqual(t, score, 1.0)
}

func TestLevenshteinDistance(t *testing.T) {
	assert.Equal(t, 0, LevenshteinDistance("same", "same"))
	assert.Equal(t, 3, LevenshteinDistance("kitten", "sitting"))
}

func TestPhonetic(t *testing.T) {
	assert.Equal(t, 1.0, Phonetic("Robert", "Rupert", PhoneticSoundex))
	assert.Equal(t, 0.0, Phonetic("Robert", "Zachary", PhoneticSoundex))
}

func TestNumeric(t *testing.T) {
	assert.Equal(t, 1.0, Numeric(10, 10, 5))
	assert.Equal(t, 0.0, Numeric(10, 20, 5))
	assert.InDelta(t, 0.5, Numeric(10, 12.5, 5), 0.0001)
	assert.Equal(t, 0.0, Numeric(10, 11, 0))
}

func TestDate(t *testing.T) {
	a := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := a.AddDate(0, 0, 5)
	assert.InDelta(t, 0.5, Date(a, b, 10), 0.0001)
	assert.Equal(t, 0.0, Date(a, a.AddDate(0, 0, 20), 10))
	assert.Equal(t, 0.0, Date(time.Time{}, b, 10))
}

func TestAddress(t *testing.T) {
	a := AddressComponents{Number: "123", Street: "Main", Type: "St", City: "Springfield", Region: "IL", Postal: "62704"}
	b := AddressComponents{Number: "123", Street: "Main", Type: "St", City: "Springfield", Region: "IL", Postal: "62704"}
	assert.Equal(t, 1.0, Address(a, b, DefaultFuzzyParams()))

	c := AddressComponents{}
	d := AddressComponents{}
	assert.Equal(t, 0.0, Address(c, d, DefaultFuzzyParams()))
}

func TestVector(t *testing.T) {
	score, ok := Vector([]float32{1, 0}, []float32{1, 0})
	require.True(t, ok)
	assert.Equal(t, float64(1), score)

	_, ok = Vector(nil, []float32{1, 0})
	assert.False(t, ok)
}
