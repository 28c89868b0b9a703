// Package artifacts handles the file formats run outputs use and
// checksum-verified copies between forest roots.
package artifacts

import (
	"compress/gzip"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/TheAustinator/dataforest/metadata"
	"github.com/TheAustinator/dataforest/types"
)

// IO reads and writes one artifact file format. Read returns the format's
// natural Go type: *metadata.Frame for tables, decoded any for json and
// yaml, string for text.
type IO interface {
	// Ext names the extension chain this IO handles, dots joined with
	// underscores ("tsv", "tsv_gz").
	Ext() string
	Read(path string) (any, error)
	Write(path string, v any) error
}

// Registry resolves IO implementations by extension chain, with per-alias
// overrides for schema file aliases whose extension lies.
type Registry struct {
	mu      sync.RWMutex
	byExt   map[string]IO
	byAlias map[string]IO
}

// NewRegistry returns a registry with the built-in formats registered.
func NewRegistry() *Registry {
	r := &Registry{
		byExt:   make(map[string]IO),
		byAlias: make(map[string]IO),
	}
	for _, impl := range []IO{TSV{}, TSVGz{}, CSV{}, JSON{}, YAML{}, Text{}} {
		r.Register(impl)
	}
	return r
}

// Register adds or replaces the IO for its extension chain.
func (r *Registry) Register(impl IO) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byExt[impl.Ext()] = impl
}

// RegisterAlias overrides format resolution for one file alias.
func (r *Registry) RegisterAlias(alias string, impl IO) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byAlias[alias] = impl
}

// ForFile resolves the IO for filename by its longest matching extension
// chain.
func (r *Registry) ForFile(filename string) (IO, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, chain := range extChains(filename) {
		if impl, ok := r.byExt[chain]; ok {
			return impl, nil
		}
	}
	return nil, types.NewErrorf(types.ErrStorage, "no IO registered for %s", filename)
}

// ForAlias resolves the IO for a schema file alias, falling back to the
// filename's extension chain.
func (r *Registry) ForAlias(alias, filename string) (IO, error) {
	r.mu.RLock()
	impl, ok := r.byAlias[alias]
	r.mu.RUnlock()
	if ok {
		return impl, nil
	}
	return r.ForFile(filename)
}

// ReadFrame reads a tabular artifact into a metadata frame.
func (r *Registry) ReadFrame(alias, path string) (*metadata.Frame, error) {
	impl, err := r.ForAlias(alias, path)
	if err != nil {
		return nil, err
	}
	v, err := impl.Read(path)
	if err != nil {
		return nil, err
	}
	frame, ok := v.(*metadata.Frame)
	if !ok {
		return nil, types.NewErrorf(types.ErrStorage, "%s is not a tabular artifact", path)
	}
	return frame, nil
}

// extChains returns the candidate extension names of filename, longest
// first: "sample.tsv.gz" yields ["tsv_gz", "gz"].
func extChains(filename string) []string {
	base := filepath.Base(filename)
	parts := strings.Split(base, ".")
	if len(parts) < 2 {
		return nil
	}
	exts := parts[1:]
	chains := make([]string, 0, len(exts))
	for i := range exts {
		chains = append(chains, strings.Join(exts[i:], "_"))
	}
	return chains
}

// TSV reads and writes metadata frames as tab-separated tables.
type TSV struct{}

// Ext names the extension chain.
func (TSV) Ext() string { return "tsv" }

// Read decodes a TSV file into a frame.
func (TSV) Read(path string) (any, error) {
	return metadata.ReadTSVFile(path)
}

// Write encodes a *metadata.Frame as TSV.
func (TSV) Write(path string, v any) error {
	frame, ok := v.(*metadata.Frame)
	if !ok {
		return types.NewErrorf(types.ErrInternalError, "tsv write expects *metadata.Frame, got %T", v)
	}
	return frame.WriteTSVFile(path)
}

// TSVGz reads and writes gzip-compressed TSV tables.
type TSVGz struct{}

// Ext names the extension chain.
func (TSVGz) Ext() string { return "tsv_gz" }

// Read decompresses and decodes a gzipped TSV file into a frame.
func (TSVGz) Read(path string) (any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, types.NewError(types.ErrStorage, "failed to open artifact").WithCause(err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, types.NewError(types.ErrStorage, "failed to open gzip stream").WithCause(err)
	}
	defer gz.Close()
	return metadata.ReadTSV(gz)
}

// Write encodes a *metadata.Frame as gzipped TSV.
func (TSVGz) Write(path string, v any) error {
	frame, ok := v.(*metadata.Frame)
	if !ok {
		return types.NewErrorf(types.ErrInternalError, "tsv.gz write expects *metadata.Frame, got %T", v)
	}
	f, err := os.Create(path)
	if err != nil {
		return types.NewError(types.ErrStorage, "failed to create artifact").WithCause(err)
	}
	gz := gzip.NewWriter(f)
	if err := frame.WriteTSV(gz); err != nil {
		gz.Close()
		f.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		f.Close()
		return types.NewError(types.ErrStorage, "failed to flush gzip stream").WithCause(err)
	}
	return f.Close()
}

// CSV reads and writes metadata frames as comma-separated tables.
type CSV struct{}

// Ext names the extension chain.
func (CSV) Ext() string { return "csv" }

// Read decodes a CSV file into a frame.
func (CSV) Read(path string) (any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, types.NewError(types.ErrStorage, "failed to open artifact").WithCause(err)
	}
	defer f.Close()
	return metadata.ReadDelim(f, ',')
}

// Write encodes a *metadata.Frame as CSV.
func (CSV) Write(path string, v any) error {
	frame, ok := v.(*metadata.Frame)
	if !ok {
		return types.NewErrorf(types.ErrInternalError, "csv write expects *metadata.Frame, got %T", v)
	}
	f, err := os.Create(path)
	if err != nil {
		return types.NewError(types.ErrStorage, "failed to create artifact").WithCause(err)
	}
	defer f.Close()
	return frame.WriteDelim(f, ',')
}

// JSON reads and writes JSON documents.
type JSON struct{}

// Ext names the extension chain.
func (JSON) Ext() string { return "json" }

// Read decodes a JSON file.
func (JSON) Read(path string) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, types.NewError(types.ErrStorage, "failed to read artifact").WithCause(err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, types.NewError(types.ErrStorage, "failed to decode json artifact").WithCause(err)
	}
	return v, nil
}

// Write encodes v as indented JSON.
func (JSON) Write(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return types.NewError(types.ErrInternalError, "failed to encode json artifact").WithCause(err)
	}
	return os.WriteFile(path, data, 0o644)
}

// YAML reads and writes YAML documents.
type YAML struct{}

// Ext names the extension chain.
func (YAML) Ext() string { return "yaml" }

// Read decodes a YAML file.
func (YAML) Read(path string) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, types.NewError(types.ErrStorage, "failed to read artifact").WithCause(err)
	}
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, types.NewError(types.ErrStorage, "failed to decode yaml artifact").WithCause(err)
	}
	return v, nil
}

// Write encodes v as YAML.
func (YAML) Write(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return types.NewError(types.ErrInternalError, "failed to encode yaml artifact").WithCause(err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Text reads and writes plain text files.
type Text struct{}

// Ext names the extension chain.
func (Text) Ext() string { return "txt" }

// Read returns the file contents as a string.
func (Text) Read(path string) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, types.NewError(types.ErrStorage, "failed to read artifact").WithCause(err)
	}
	return string(data), nil
}

// Write accepts a string or []byte.
func (Text) Write(path string, v any) error {
	var data []byte
	switch val := v.(type) {
	case string:
		data = []byte(val)
	case []byte:
		data = val
	default:
		return types.NewErrorf(types.ErrInternalError, "txt write expects string or []byte, got %T", v)
	}
	return os.WriteFile(path, data, 0o644)
}
