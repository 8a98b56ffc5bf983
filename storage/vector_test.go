package storage

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeVector(t *testing.T) {
	tests := []struct {
		name     string
		input    []float32
		expected []float32
	}{
		{
			name:     "unit vector remains unchanged",
			input:    []float32{1.0, 0.0, 0.0},
			expected: []float32{1.0, 0.0, 0.0},
		},
		{
			name:     "scale non-unit vector",
			input:    []float32{3.0, 4.0},
			expected: []float32{0.6, 0.8},
		},
		{
			name:     "negative values",
			input:    []float32{-1.0, 1.0},
			expected: []float32{-1.0 / float32(math.Sqrt(2)), 1.0 / float32(math.Sqrt(2))},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NormalizeVector(tt.input)
			require.Len(t, result, len(tt.expected))
			for i := range result {
				assert.InDelta(t, tt.expected[i], result[i], 1e-6, "element %d", i)
			}
		})
	}
}

func TestNormalizeVector_ZeroAndEmpty(t *testing.T) {
	assert.Equal(t, []float32{0, 0, 0}, NormalizeVector([]float32{0, 0, 0}))
	assert.Empty(t, NormalizeVector([]float32{}))
}

func TestNormalizeVector_DoesNotMutateInput(t *testing.T) {
	input := []float32{3, 4}
	NormalizeVector(input)
	assert.Equal(t, []float32{3, 4}, input)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 2}, []float32{2, 4}), 1e-6)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.InDelta(t, math.Sqrt2/2, CosineSimilarity([]float32{1, 0}, []float32{1, 1}), 1e-6)

	// opposite vectors are clamped, not negative
	assert.Equal(t, float32(0), CosineSimilarity([]float32{1, 0}, []float32{-1, 0}))
	assert.Equal(t, float32(0), CosineSimilarity([]float32{1, 0}, []float32{1, 0, 0}))
	assert.Equal(t, float32(0), CosineSimilarity([]float32{0, 0}, []float32{1, 0}))
	assert.Equal(t, float32(0), CosineSimilarity(nil, nil))
}

func TestClampScore(t *testing.T) {
	assert.Equal(t, float32(0), ClampScore(-0.5))
	assert.Equal(t, float32(1), ClampScore(1.00001))
	assert.Equal(t, float32(0.25), ClampScore(0.25))
	assert.Equal(t, float32(0), ClampScore(float32(math.NaN())))
}
