package spec

import (
	"sort"
	"strings"

	"github.com/TheAustinator/dataforest/types"
)

// Reserved keys of a run spec mapping.
const (
	KeyProcess   = "_PROCESS_"
	KeyAlias     = "_ALIAS_"
	KeyParams    = "_PARAMS_"
	KeySubset    = "_SUBSET_"
	KeyFilter    = "_FILTER_"
	KeyPartition = "_PARTITION_"
)

var runSpecKeys = map[string]bool{
	KeyProcess:   true,
	KeyAlias:     true,
	KeyParams:    true,
	KeySubset:    true,
	KeyFilter:    true,
	KeyPartition: true,
}

// RunSpec describes a single run of a data process: which process to execute,
// its parameters, and the data operations applied to the metadata before it
// runs. Subset keeps matching rows, Filter drops matching rows, and Partition
// names the columns used to split rows for comparative analyses.
type RunSpec struct {
	Process   string         `yaml:"_PROCESS_" json:"_PROCESS_"`
	Alias     string         `yaml:"_ALIAS_,omitempty" json:"_ALIAS_,omitempty"`
	Params    map[string]any `yaml:"_PARAMS_,omitempty" json:"_PARAMS_,omitempty"`
	Subset    map[string]any `yaml:"_SUBSET_,omitempty" json:"_SUBSET_,omitempty"`
	Filter    map[string]any `yaml:"_FILTER_,omitempty" json:"_FILTER_,omitempty"`
	Partition []string       `yaml:"_PARTITION_,omitempty" json:"_PARTITION_,omitempty"`
}

// Name returns the alias when set, the process name otherwise. Names identify
// runs inside a branch, so two runs of the same process need distinct aliases.
func (r *RunSpec) Name() string {
	if r.Alias != "" {
		return r.Alias
	}
	return r.Process
}

// Validate checks that the spec names a process.
func (r *RunSpec) Validate() error {
	if r.Process == "" {
		return types.NewError(types.ErrSpecInvalid, "run spec missing "+KeyProcess)
	}
	return nil
}

// String returns the canonical form: compact JSON with keys sorted at every
// level, absent operations omitted, and set-valued lists sorted. This string
// is the run's identity in the run catalogue.
func (r *RunSpec) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	first := true
	writeKey := func(key string) {
		if !first {
			sb.WriteByte(',')
		}
		first = false
		sb.WriteByte('"')
		sb.WriteString(key)
		sb.WriteString(`":`)
	}
	if r.Alias != "" {
		writeKey(KeyAlias)
		canonicalValue(&sb, r.Alias, false)
	}
	if r.Filter != nil {
		writeKey(KeyFilter)
		canonicalMap(&sb, r.Filter, true)
	}
	if r.Params != nil {
		writeKey(KeyParams)
		canonicalMap(&sb, r.Params, false)
	}
	if len(r.Partition) > 0 {
		writeKey(KeyPartition)
		sorted := append([]string(nil), r.Partition...)
		sort.Strings(sorted)
		canonicalValue(&sb, sorted, false)
	}
	writeKey(KeyProcess)
	canonicalValue(&sb, r.Process, false)
	if r.Subset != nil {
		writeKey(KeySubset)
		canonicalMap(&sb, r.Subset, true)
	}
	sb.WriteByte('}')
	return sb.String()
}

// Copy returns a deep copy.
func (r *RunSpec) Copy() *RunSpec {
	cp := &RunSpec{
		Process:   r.Process,
		Alias:     r.Alias,
		Params:    copyValueMap(r.Params),
		Subset:    copyValueMap(r.Subset),
		Filter:    copyValueMap(r.Filter),
		Partition: append([]string(nil), r.Partition...),
	}
	if len(cp.Partition) == 0 {
		cp.Partition = nil
	}
	return cp
}

// Equal reports whether two specs have the same canonical form.
func (r *RunSpec) Equal(other *RunSpec) bool {
	if other == nil {
		return false
	}
	return r.String() == other.String()
}

// toMap converts the spec back to its mapping form.
func (r *RunSpec) toMap() map[string]any {
	m := map[string]any{KeyProcess: r.Process}
	if r.Alias != "" {
		m[KeyAlias] = r.Alias
	}
	if r.Params != nil {
		m[KeyParams] = copyValueMap(r.Params)
	}
	if r.Subset != nil {
		m[KeySubset] = copyValueMap(r.Subset)
	}
	if r.Filter != nil {
		m[KeyFilter] = copyValueMap(r.Filter)
	}
	if len(r.Partition) > 0 {
		part := make([]any, len(r.Partition))
		for i, p := range r.Partition {
			part[i] = p
		}
		m[KeyPartition] = part
	}
	return m
}

func copyValueMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = copyValue(v)
	}
	return cp
}

func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return copyValueMap(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = copyValue(item)
		}
		return cp
	case []string:
		return append([]string(nil), val...)
	default:
		return v
	}
}
