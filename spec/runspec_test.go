package spec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheAustinator/dataforest/types"
)

func TestRunSpec_Name(t *testing.T) {
	tests := []struct {
		name     string
		spec     *RunSpec
		expected string
	}{
		{
			name:     "process name when no alias",
			spec:     &RunSpec{Process: "normalize"},
			expected: "normalize",
		},
		{
			name:     "alias wins over process",
			spec:     &RunSpec{Process: "reduce", Alias: "linear_dim_reduce"},
			expected: "linear_dim_reduce",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.spec.Name())
		})
	}
}

func TestRunSpec_Validate(t *testing.T) {
	err := (&RunSpec{}).Validate()
	require.Error(t, err)
	assert.Equal(t, types.ErrSpecInvalid, types.GetErrorCode(err))

	assert.NoError(t, (&RunSpec{Process: "normalize"}).Validate())
}

func TestRunSpec_String_Canonical(t *testing.T) {
	spec := &RunSpec{
		Process: "normalize",
		Params: map[string]any{
			"min_genes": 5,
			"max_genes": 5000,
			"method":    "seurat_default",
		},
		Subset: map[string]any{
			"indication":        []any{"disease_3", "disease_1"},
			"collection_center": "mass_general",
		},
		Filter: map[string]any{
			"donor": "D115",
		},
	}

	got := spec.String()
	want := `{"_FILTER_":{"donor":"D115"},` +
		`"_PARAMS_":{"max_genes":5000,"method":"seurat_default","min_genes":5},` +
		`"_PROCESS_":"normalize",` +
		`"_SUBSET_":{"collection_center":"mass_general","indication":["disease_1","disease_3"]}}`
	assert.Equal(t, want, got)
}

func TestRunSpec_String_IntegralFloats(t *testing.T) {
	// JSON decoding yields float64 where YAML yields int; both must produce
	// the same canonical string.
	fromYAML := &RunSpec{Process: "reduce", Params: map[string]any{"n_pcs": 30}}
	fromJSON := &RunSpec{Process: "reduce", Params: map[string]any{"n_pcs": float64(30)}}
	assert.Equal(t, fromYAML.String(), fromJSON.String())
}

func TestRunSpec_String_OmitsAbsentOperations(t *testing.T) {
	spec := &RunSpec{Process: "normalize"}
	assert.Equal(t, `{"_PROCESS_":"normalize"}`, spec.String())

	withEmpty := &RunSpec{Process: "normalize", Params: map[string]any{}}
	assert.Equal(t, `{"_PARAMS_":{},"_PROCESS_":"normalize"}`, withEmpty.String())
}

func TestRunSpec_String_SortsPartition(t *testing.T) {
	spec := &RunSpec{Process: "diff_exp", Partition: []string{"treatment", "batch"}}
	assert.Equal(t, `{"_PARTITION_":["batch","treatment"],"_PROCESS_":"diff_exp"}`, spec.String())
}

func TestRunSpec_Copy(t *testing.T) {
	spec := &RunSpec{
		Process:   "normalize",
		Params:    map[string]any{"nested": map[string]any{"k": 1}},
		Partition: []string{"treatment"},
	}
	cp := spec.Copy()
	require.True(t, spec.Equal(cp))

	cp.Params["nested"].(map[string]any)["k"] = 2
	assert.Equal(t, 1, spec.Params["nested"].(map[string]any)["k"])
}

func TestRunSpec_YAMLRoundTrip(t *testing.T) {
	spec := &RunSpec{
		Process: "reduce",
		Alias:   "nonlinear_dim_reduce",
		Params: map[string]any{
			"algorithm": "umap",
			"min_dist":  0.1,
		},
		Partition: []string{"treatment"},
	}

	data, err := EncodeRunSpecYAML(spec)
	require.NoError(t, err)

	decoded, err := DecodeRunSpecYAML(data)
	require.NoError(t, err)
	assert.Equal(t, spec.String(), decoded.String())
}

func TestParseRunSpecMap(t *testing.T) {
	tests := []struct {
		name    string
		input   map[string]any
		wantErr types.ErrorCode
	}{
		{
			name:  "minimal",
			input: map[string]any{KeyProcess: "normalize"},
		},
		{
			name: "all keys",
			input: map[string]any{
				KeyProcess:   "reduce",
				KeyAlias:     "pca",
				KeyParams:    map[string]any{"n_pcs": 30},
				KeySubset:    map[string]any{"sample": "s1"},
				KeyFilter:    map[string]any{"donor": "D1"},
				KeyPartition: []any{"treatment"},
			},
		},
		{
			name:    "missing process",
			input:   map[string]any{KeyParams: map[string]any{}},
			wantErr: types.ErrSpecInvalid,
		},
		{
			name:    "unknown key",
			input:   map[string]any{KeyProcess: "x", "_BOGUS_": 1},
			wantErr: types.ErrSpecInvalid,
		},
		{
			name:    "params not a mapping",
			input:   map[string]any{KeyProcess: "x", KeyParams: "nope"},
			wantErr: types.ErrSpecInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := ParseRunSpecMap(tt.input)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantErr, types.GetErrorCode(err))
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, spec)
		})
	}
}

func TestParseRunSpecMap_PartitionString(t *testing.T) {
	spec, err := ParseRunSpecMap(map[string]any{
		KeyProcess:   "diff_exp",
		KeyPartition: "treatment",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"treatment"}, spec.Partition)
}
