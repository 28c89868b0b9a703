package process

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheAustinator/dataforest/metadata"
	"github.com/TheAustinator/dataforest/types"
)

const schemaYAML = `
file_map:
  normalize:
    matrix: matrix.tsv.gz
    genes: genes.tsv
  cluster:
    assignments: clusters.tsv
hierarchy:
  cluster: normalize
layers:
  qc:
    qc_report: qc_report.json
process_layers:
  cluster: [qc]
plot_map:
  cluster:
    umap: umap.png
    silhouette: silhouette.png
subset_proxies:
  max_doublet_score:
    column: doublet_score
    op: le
`

func TestSchemaFromYAML(t *testing.T) {
	s, err := SchemaFromYAML([]byte(schemaYAML))
	require.NoError(t, err)

	assert.Equal(t, "normalize", s.Precursor("cluster"))
	assert.Equal(t, "", s.Precursor("normalize"))
	assert.Equal(t, []string{"normalize", "cluster"}, s.Lineage("cluster"))
	assert.Equal(t, []string{"cluster", "normalize"}, s.Processes())
	assert.Equal(t, []string{"genes", "matrix"}, s.Files("normalize"))

	name, ok := s.FileName("normalize", "matrix")
	require.True(t, ok)
	assert.Equal(t, "matrix.tsv.gz", name)

	// Layer files merge into the process's own map.
	assert.Equal(t, []string{"assignments", "qc_report"}, s.Files("cluster"))
	name, ok = s.FileName("cluster", "qc_report")
	require.True(t, ok)
	assert.Equal(t, "qc_report.json", name)

	_, ok = s.FileName("cluster", "matrix")
	assert.False(t, ok)

	assert.Equal(t, map[string]string{"umap": "umap.png", "silhouette": "silhouette.png"}, s.PlotMapFor("cluster"))
	assert.Empty(t, s.PlotMapFor("normalize"))

	assert.Equal(t, metadata.Proxy{Column: "doublet_score", Op: metadata.CompareLE}, s.Proxies()["max_doublet_score"])
}

func TestSchema_Validate(t *testing.T) {
	tests := []struct {
		name   string
		schema Schema
	}{
		{
			"unknown precursor",
			Schema{Hierarchy: map[string]string{"cluster": "normalize"}},
		},
		{
			"hierarchy cycle",
			Schema{Hierarchy: map[string]string{"a": "b", "b": "a"}},
		},
		{
			"unknown layer",
			Schema{ProcessLayers: map[string][]string{"cluster": {"qc"}}},
		},
		{
			"alias collision with process file",
			Schema{
				FileMap:       map[string]map[string]string{"cluster": {"report": "a.tsv"}},
				Layers:        map[string]map[string]string{"qc": {"report": "b.tsv"}},
				ProcessLayers: map[string][]string{"cluster": {"qc"}},
			},
		},
		{
			"alias collision between layers",
			Schema{
				Layers: map[string]map[string]string{
					"qc":    {"report": "a.tsv"},
					"stats": {"report": "b.tsv"},
				},
				ProcessLayers: map[string][]string{"cluster": {"qc", "stats"}},
			},
		},
		{
			"bad proxy op",
			Schema{SubsetProxies: map[string]metadata.Proxy{"k": {Column: "c", Op: "between"}}},
		},
		{
			"proxy without column",
			Schema{SubsetProxies: map[string]metadata.Proxy{"k": {Op: metadata.CompareLE}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.schema.Validate()
			require.Error(t, err)
			assert.Equal(t, types.ErrSpecInvalid, types.GetErrorCode(err))
		})
	}
}

func TestSchema_Validate_Empty(t *testing.T) {
	assert.NoError(t, (&Schema{}).Validate())
}

func TestSchema_ValidateRegistry(t *testing.T) {
	noop := func(ctx context.Context, run Run) error { return nil }

	s, err := SchemaFromYAML([]byte(schemaYAML))
	require.NoError(t, err)

	reg := NewRegistry()
	require.NoError(t, reg.Register(&Definition{Name: "normalize", Func: noop}))
	require.NoError(t, reg.Register(&Definition{Name: "cluster", Requires: "normalize", Func: noop}))
	require.NoError(t, reg.Register(&Definition{Name: "annotate", Requires: "anything", Func: noop}))

	// Matching definitions pass, and "annotate" is outside the schema so its
	// Requires goes unchecked.
	assert.NoError(t, s.ValidateRegistry(reg))
	assert.NoError(t, (&Schema{}).ValidateRegistry(reg))
	assert.NoError(t, s.ValidateRegistry(nil))

	flat := NewRegistry()
	require.NoError(t, flat.Register(&Definition{Name: "cluster", Func: noop}))
	err = s.ValidateRegistry(flat)
	require.Error(t, err)
	assert.Equal(t, types.ErrSpecInvalid, types.GetErrorCode(err))

	skewed := NewRegistry()
	require.NoError(t, skewed.Register(&Definition{Name: "normalize", Requires: "cluster", Func: noop}))
	err = s.ValidateRegistry(skewed)
	require.Error(t, err)
	assert.Equal(t, types.ErrSpecInvalid, types.GetErrorCode(err))
}
