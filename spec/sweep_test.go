package spec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheAustinator/dataforest/types"
)

func TestNewSweep_List(t *testing.T) {
	sw, err := NewSweep("_SUBSET_", "sample_id", []any{"sample_1", "sample_2"})
	require.NoError(t, err)
	assert.Equal(t, []any{"sample_1", "sample_2"}, sw.Values)
}

func TestNewSweep_Linear(t *testing.T) {
	tests := []struct {
		name     string
		obj      map[string]any
		expected []any
	}{
		{
			name:     "step divides range",
			obj:      map[string]any{"min": 2000, "max": 8000, "step": 1000},
			expected: []any{2000, 3000, 4000, 5000, 6000, 7000, 8000},
		},
		{
			name: "step does not divide range",
			// arange semantics: values advance until max+step, so the last
			// value may exceed max.
			obj:      map[string]any{"min": 0, "max": 5, "step": 2},
			expected: []any{0, 2, 4, 6},
		},
		{
			name:     "single value",
			obj:      map[string]any{"min": 3, "max": 3, "step": 1},
			expected: []any{3},
		},
		{
			name:     "float step",
			obj:      map[string]any{"min": 0.0, "max": 1.0, "step": 0.5},
			expected: []any{0.0, 0.5, 1.0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sw, err := NewSweep("_PARAMS_", "k", tt.obj)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, sw.Values)
		})
	}
}

func TestNewSweep_Log(t *testing.T) {
	sw, err := NewSweep("_PARAMS_", "nfeatures", map[string]any{"min": 2, "max": 8, "base": 2})
	require.NoError(t, err)
	// num defaults to max-min+1 = 7 points from 2^2 to 2^8.
	assert.Equal(t, []any{4, 8, 16, 32, 64, 128, 256}, sw.Values)
}

func TestNewSweep_LogWithNum(t *testing.T) {
	sw, err := NewSweep("_PARAMS_", "alpha", map[string]any{"min": 0, "max": 2, "base": 10, "num": 3})
	require.NoError(t, err)
	assert.Equal(t, []any{1, 10, 100}, sw.Values)
}

func TestNewSweep_FloatValues(t *testing.T) {
	sw, err := NewSweep("_PARAMS_", "alpha", map[string]any{"min": 0, "max": 1, "base": 2, "num": 3})
	require.NoError(t, err)
	// 2^0, 2^0.5, 2^1: not all integral, so values stay floats.
	require.Len(t, sw.Values, 3)
	assert.Equal(t, 1.0, sw.Values[0])
	assert.InDelta(t, 1.41421356, sw.Values[1].(float64), 1e-8)
	assert.Equal(t, 2.0, sw.Values[2])
}

func TestNewSweep_Errors(t *testing.T) {
	tests := []struct {
		name string
		obj  any
	}{
		{
			name: "range without base or step",
			obj:  map[string]any{"min": 1, "max": 10},
		},
		{
			name: "scalar",
			obj:  42,
		},
		{
			name: "missing min",
			obj:  map[string]any{"max": 10, "step": 1},
		},
		{
			name: "zero step",
			obj:  map[string]any{"min": 0, "max": 10, "step": 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSweep("_PARAMS_", "k", tt.obj)
			require.Error(t, err)
			assert.Equal(t, types.ErrSweepInvalid, types.GetErrorCode(err))
		})
	}
}
