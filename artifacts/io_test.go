package artifacts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheAustinator/dataforest/metadata"
	"github.com/TheAustinator/dataforest/types"
)

func sampleFrame(t *testing.T) *metadata.Frame {
	t.Helper()
	f := metadata.NewFrame([]string{"sample", "donor"})
	require.NoError(t, f.AppendRow([]string{"S1", "D1"}))
	require.NoError(t, f.AppendRow([]string{"S2", "D2"}))
	return f
}

func TestExtChains(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		want     []string
	}{
		{"single", "meta.tsv", []string{"tsv"}},
		{"chain", "matrix.tsv.gz", []string{"tsv_gz", "gz"}},
		{"dotted stem", "my.file.tsv", []string{"file_tsv", "tsv"}},
		{"no extension", "README", nil},
		{"path", "/data/run/meta.tsv", []string{"tsv"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extChains(tt.filename))
		})
	}
}

func TestRegistry_ForFile(t *testing.T) {
	r := NewRegistry()

	impl, err := r.ForFile("meta.tsv")
	require.NoError(t, err)
	assert.Equal(t, "tsv", impl.Ext())

	impl, err = r.ForFile("matrix.tsv.gz")
	require.NoError(t, err)
	assert.Equal(t, "tsv_gz", impl.Ext())

	impl, err = r.ForFile("qc.report.json")
	require.NoError(t, err)
	assert.Equal(t, "json", impl.Ext())

	_, err = r.ForFile("model.bin")
	require.Error(t, err)
	assert.Equal(t, types.ErrStorage, types.GetErrorCode(err))
}

func TestRegistry_AliasOverride(t *testing.T) {
	r := NewRegistry()
	r.RegisterAlias("log_table", TSV{})

	// The alias wins over the filename extension.
	impl, err := r.ForAlias("log_table", "events.txt")
	require.NoError(t, err)
	assert.Equal(t, "tsv", impl.Ext())

	// Unknown aliases fall back to the extension chain.
	impl, err = r.ForAlias("other", "events.txt")
	require.NoError(t, err)
	assert.Equal(t, "txt", impl.Ext())
}

func TestTSVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.tsv")
	frame := sampleFrame(t)

	require.NoError(t, TSV{}.Write(path, frame))
	v, err := TSV{}.Read(path)
	require.NoError(t, err)

	got, ok := v.(*metadata.Frame)
	require.True(t, ok)
	assert.True(t, frame.Equal(got))
}

func TestTSVGzRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.tsv.gz")
	frame := sampleFrame(t)

	require.NoError(t, TSVGz{}.Write(path, frame))

	// The file on disk is gzip, not plain text.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Greater(t, len(raw), 2)
	assert.Equal(t, byte(0x1f), raw[0])
	assert.Equal(t, byte(0x8b), raw[1])

	v, err := TSVGz{}.Read(path)
	require.NoError(t, err)
	got, ok := v.(*metadata.Frame)
	require.True(t, ok)
	assert.True(t, frame.Equal(got))
}

func TestCSVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.csv")
	frame := sampleFrame(t)

	require.NoError(t, CSV{}.Write(path, frame))
	v, err := CSV{}.Read(path)
	require.NoError(t, err)

	got, ok := v.(*metadata.Frame)
	require.True(t, ok)
	assert.True(t, frame.Equal(got))
}

func TestJSONRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.json")
	params := map[string]any{"resolution": 0.5, "method": "leiden"}

	require.NoError(t, JSON{}.Write(path, params))
	v, err := JSON{}.Read(path)
	require.NoError(t, err)

	got, ok := v.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "leiden", got["method"])
	assert.Equal(t, 0.5, got["resolution"])
}

func TestYAMLRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.yaml")
	doc := map[string]any{"layers": map[string]any{"qc_report": "qc.tsv"}}

	require.NoError(t, YAML{}.Write(path, doc))
	v, err := YAML{}.Read(path)
	require.NoError(t, err)

	got, ok := v.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, got, "layers")
}

func TestTextRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")

	require.NoError(t, Text{}.Write(path, "hello forest"))
	v, err := Text{}.Read(path)
	require.NoError(t, err)
	assert.Equal(t, "hello forest", v)

	require.NoError(t, Text{}.Write(path, []byte("bytes too")))
	v, err = Text{}.Read(path)
	require.NoError(t, err)
	assert.Equal(t, "bytes too", v)
}

func TestWrite_TypeMismatch(t *testing.T) {
	dir := t.TempDir()

	err := TSV{}.Write(filepath.Join(dir, "x.tsv"), "not a frame")
	require.Error(t, err)
	assert.Equal(t, types.ErrInternalError, types.GetErrorCode(err))

	err = Text{}.Write(filepath.Join(dir, "x.txt"), 42)
	require.Error(t, err)
	assert.Equal(t, types.ErrInternalError, types.GetErrorCode(err))
}

func TestRegistry_ReadFrame(t *testing.T) {
	r := NewRegistry()
	dir := t.TempDir()
	path := filepath.Join(dir, "meta.tsv")
	require.NoError(t, TSV{}.Write(path, sampleFrame(t)))

	frame, err := r.ReadFrame("meta", path)
	require.NoError(t, err)
	assert.Equal(t, 2, frame.Len())

	jsonPath := filepath.Join(dir, "params.json")
	require.NoError(t, JSON{}.Write(jsonPath, map[string]any{"k": 1}))
	_, err = r.ReadFrame("params", jsonPath)
	require.Error(t, err)
}
