package spec

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/TheAustinator/dataforest/types"
)

// ParseRunSpecMap converts a decoded mapping into a RunSpec, rejecting
// unknown reserved keys.
func ParseRunSpecMap(m map[string]any) (*RunSpec, error) {
	r := &RunSpec{}
	for key, val := range m {
		switch key {
		case KeyProcess:
			s, ok := val.(string)
			if !ok {
				return nil, types.NewErrorf(types.ErrSpecInvalid, "%s must be a string, got %T", KeyProcess, val)
			}
			r.Process = s
		case KeyAlias:
			s, ok := val.(string)
			if !ok {
				return nil, types.NewErrorf(types.ErrSpecInvalid, "%s must be a string, got %T", KeyAlias, val)
			}
			r.Alias = s
		case KeyParams:
			mv, err := asValueMap(val, KeyParams)
			if err != nil {
				return nil, err
			}
			r.Params = mv
		case KeySubset:
			mv, err := asValueMap(val, KeySubset)
			if err != nil {
				return nil, err
			}
			r.Subset = mv
		case KeyFilter:
			mv, err := asValueMap(val, KeyFilter)
			if err != nil {
				return nil, err
			}
			r.Filter = mv
		case KeyPartition:
			cols, err := asStringList(val)
			if err != nil {
				return nil, types.NewErrorf(types.ErrSpecInvalid, "%s must be a column name or list of column names", KeyPartition).WithCause(err)
			}
			r.Partition = cols
		default:
			return nil, types.NewErrorf(types.ErrSpecInvalid, "unknown run spec key %q", key)
		}
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// FromYAML parses a branch spec from a YAML sequence of run spec mappings.
func FromYAML(data []byte) (*BranchSpec, error) {
	var raw []map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, types.NewError(types.ErrSpecInvalid, "failed to unmarshal branch spec from YAML").WithCause(err)
	}
	return branchSpecFromMaps(raw)
}

// FromJSON parses a branch spec from a JSON array, the canonical string form
// included.
func FromJSON(data []byte) (*BranchSpec, error) {
	var raw []map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, types.NewError(types.ErrSpecInvalid, "failed to unmarshal branch spec from JSON").WithCause(err)
	}
	return branchSpecFromMaps(raw)
}

// LoadFromFile loads a branch spec from a YAML file.
func LoadFromFile(filename string) (*BranchSpec, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read spec file: %w", err)
	}
	return FromYAML(data)
}

func branchSpecFromMaps(raw []map[string]any) (*BranchSpec, error) {
	runs := make([]*RunSpec, 0, len(raw))
	for i, m := range raw {
		r, err := ParseRunSpecMap(m)
		if err != nil {
			return nil, fmt.Errorf("run spec %d: %w", i, err)
		}
		runs = append(runs, r)
	}
	return NewBranchSpec(runs)
}

// DecodeRunSpecYAML decodes a single stored run spec, as written to
// run_spec.yaml in a run directory. Unknown keys are rejected.
func DecodeRunSpecYAML(data []byte) (*RunSpec, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, types.NewError(types.ErrSpecInvalid, "failed to unmarshal run spec").WithCause(err)
	}
	return ParseRunSpecMap(raw)
}

// EncodeRunSpecYAML renders a run spec for storage in its run directory.
func EncodeRunSpecYAML(r *RunSpec) ([]byte, error) {
	data, err := yaml.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal run spec: %w", err)
	}
	return data, nil
}

func asValueMap(val any, key string) (map[string]any, error) {
	switch mv := val.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return mv, nil
	default:
		return nil, types.NewErrorf(types.ErrSpecInvalid, "%s must be a mapping, got %T", key, val)
	}
}

func asStringList(val any) ([]string, error) {
	switch v := val.(type) {
	case string:
		return []string{v}, nil
	case []string:
		return append([]string(nil), v...), nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected string element, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected string or list of strings, got %T", val)
	}
}
