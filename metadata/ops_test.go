package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheAustinator/dataforest/types"
)

func TestOps_Subset(t *testing.T) {
	ops := NewOps(nil, nil)

	tests := []struct {
		name    string
		key     string
		value   any
		samples []string
	}{
		{"string equality", "tissue", "blood", []string{"S1", "S3"}},
		{"list membership", "donor", []any{"D2", "D3"}, []string{"S3", "S4"}},
		{"string list membership", "donor", []string{"D2", "D3"}, []string{"S3", "S4"}},
		{"numeric equality", "doublet_score", 0.5, []string{"S2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := ops.Subset(sampleFrame(t), tt.key, tt.value)
			require.NoError(t, err)
			col, ok := out.Column("sample")
			require.True(t, ok)
			assert.Equal(t, tt.samples, col)
		})
	}
}

func TestOps_Subset_RemovesAllRows(t *testing.T) {
	ops := NewOps(nil, nil)

	_, err := ops.Subset(sampleFrame(t), "tissue", "brain")
	require.Error(t, err)
	assert.Equal(t, types.ErrBadSubset, types.GetErrorCode(err))
}

func TestOps_Subset_MissingColumn(t *testing.T) {
	ops := NewOps(nil, nil)

	_, err := ops.Subset(sampleFrame(t), "species", "human")
	require.Error(t, err)
	assert.Equal(t, types.ErrColumnMissing, types.GetErrorCode(err))
}

func TestOps_Filter(t *testing.T) {
	ops := NewOps(nil, nil)

	out, err := ops.Filter(sampleFrame(t), "donor", "D1")
	require.NoError(t, err)
	col, ok := out.Column("sample")
	require.True(t, ok)
	assert.Equal(t, []string{"S3", "S4"}, col)
}

func TestOps_Filter_RemovesAllRows(t *testing.T) {
	ops := NewOps(nil, nil)

	_, err := ops.Filter(sampleFrame(t), "donor", []any{"D1", "D2", "D3"})
	require.Error(t, err)
	assert.Equal(t, types.ErrBadFilter, types.GetErrorCode(err))
}

func TestOps_Proxies(t *testing.T) {
	proxies := map[string]Proxy{
		"max_doublet_score": {Column: "doublet_score", Op: CompareLE},
		"min_doublet_score": {Column: "doublet_score", Op: CompareGE},
	}
	ops := NewOps(nil, proxies)

	out, err := ops.Subset(sampleFrame(t), "max_doublet_score", 0.4)
	require.NoError(t, err)
	col, _ := out.Column("sample")
	assert.Equal(t, []string{"S1", "S3"}, col)

	out, err = ops.Subset(sampleFrame(t), "min_doublet_score", 0.5)
	require.NoError(t, err)
	col, _ = out.Column("sample")
	assert.Equal(t, []string{"S2", "S4"}, col)
}

func TestOps_Proxies_NonNumericValue(t *testing.T) {
	ops := NewOps(nil, map[string]Proxy{"max_score": {Column: "doublet_score", Op: CompareLE}})

	_, err := ops.Subset(sampleFrame(t), "max_score", "high")
	assert.Error(t, err)
}

func TestOps_ApplyOps(t *testing.T) {
	ops := NewOps(nil, nil)

	subsets := []map[string]any{{"tissue": "blood"}}
	filters := []map[string]any{{"donor": "D2"}}
	out, err := ops.ApplyOps(sampleFrame(t), subsets, filters)
	require.NoError(t, err)
	col, _ := out.Column("sample")
	assert.Equal(t, []string{"S1"}, col)
}

func TestOps_ApplyOps_StopsOnError(t *testing.T) {
	ops := NewOps(nil, nil)

	subsets := []map[string]any{{"tissue": "brain"}, {"donor": "D1"}}
	_, err := ops.ApplyOps(sampleFrame(t), subsets, nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrBadSubset, types.GetErrorCode(err))
}

func TestOps_Partition(t *testing.T) {
	ops := NewOps(nil, nil)

	out, err := ops.Partition(sampleFrame(t), []string{"tissue", "donor"})
	require.NoError(t, err)
	require.True(t, out.HasColumn(PartitionColumn))

	col, _ := out.Column(PartitionColumn)
	assert.Equal(t, []string{"D1|blood", "D1|marrow", "D2|blood", "D3|marrow"}, col)

	assert.Equal(t, []string{"D1|blood", "D1|marrow", "D2|blood", "D3|marrow"}, PartitionValues(out))

	blood, err := SelectPartition(out, "D1|blood")
	require.NoError(t, err)
	assert.Equal(t, 1, blood.Len())
}

func TestOps_Partition_MissingColumn(t *testing.T) {
	ops := NewOps(nil, nil)

	_, err := ops.Partition(sampleFrame(t), []string{"cluster"})
	require.Error(t, err)
	assert.Equal(t, types.ErrColumnMissing, types.GetErrorCode(err))
}

func TestOps_Partition_Empty(t *testing.T) {
	ops := NewOps(nil, nil)
	f := sampleFrame(t)

	out, err := ops.Partition(f, nil)
	require.NoError(t, err)
	assert.Same(t, f, out)
}

func TestSelectPartition_NoColumn(t *testing.T) {
	_, err := SelectPartition(sampleFrame(t), "D1|blood")
	require.Error(t, err)
	assert.Equal(t, types.ErrColumnMissing, types.GetErrorCode(err))
}
