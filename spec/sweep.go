package spec

import (
	"fmt"
	"math"
	"sort"

	"github.com/TheAustinator/dataforest/types"
)

// KeySweep marks a swept value inside a tree spec operation mapping.
const KeySweep = "_SWEEP_"

// Sweep is one axis of a parameter sweep: the operation and key it applies
// to, and the expanded values.
type Sweep struct {
	Operation string
	Key       string
	Values    []any
}

// NewSweep expands a sweep declaration into its values. Three forms are
// accepted:
//
//   - a list of literal values
//   - {min, max, step}: linear range from min in increments of step, stopping
//     before max+step
//   - {min, max, base}: num points spaced logarithmically from base^min to
//     base^max, where num defaults to max-min+1
//
// When every produced value is integral the values are ints, floats
// otherwise.
func NewSweep(operation, key string, obj any) (*Sweep, error) {
	values, err := sweepValues(obj)
	if err != nil {
		return nil, err
	}
	return &Sweep{Operation: operation, Key: key, Values: values}, nil
}

func (s *Sweep) String() string {
	return fmt.Sprintf("Sweep<%s.%s: %v>", s.Operation, s.Key, s.Values)
}

func sweepValues(obj any) ([]any, error) {
	switch v := obj.(type) {
	case []any:
		return append([]any(nil), v...), nil
	case map[string]any:
		return sweepRangeValues(v)
	default:
		return nil, types.NewErrorf(types.ErrSweepInvalid, "sweep must be a list or a range mapping, got %T", obj)
	}
}

func sweepRangeValues(m map[string]any) ([]any, error) {
	min, okMin := numericValue(m["min"])
	max, okMax := numericValue(m["max"])
	if !okMin || !okMax {
		return nil, types.NewError(types.ErrSweepInvalid, `sweep range requires numeric "min" and "max"`)
	}
	var raw []float64
	if baseVal, hasBase := m["base"]; hasBase {
		base, ok := numericValue(baseVal)
		if !ok {
			return nil, types.NewError(types.ErrSweepInvalid, `sweep "base" must be numeric`)
		}
		num := int(max - min + 1)
		if numVal, hasNum := m["num"]; hasNum {
			n, ok := numericValue(numVal)
			if !ok {
				return nil, types.NewError(types.ErrSweepInvalid, `sweep "num" must be numeric`)
			}
			num = int(n)
		}
		if num < 1 {
			return nil, types.NewError(types.ErrSweepInvalid, "sweep must produce at least one value")
		}
		raw = logspace(min, max, num, base)
	} else if stepVal, hasStep := m["step"]; hasStep {
		step, ok := numericValue(stepVal)
		if !ok || step == 0 {
			return nil, types.NewError(types.ErrSweepInvalid, `sweep "step" must be a non-zero number`)
		}
		raw = arange(min, max+step, step)
	} else {
		return nil, types.NewError(types.ErrSweepInvalid, `sweep range must contain either "base" for log or "step" for linear`)
	}
	return normalizeSweepValues(raw), nil
}

// arange mirrors numpy.arange: values start at start and advance by step,
// stopping before stop.
func arange(start, stop, step float64) []float64 {
	count := int(math.Ceil((stop-start)/step - 1e-9))
	if count < 0 {
		count = 0
	}
	values := make([]float64, count)
	for i := range values {
		values[i] = start + float64(i)*step
	}
	return values
}

// logspace mirrors numpy.logspace: num points from base^start to base^stop
// inclusive.
func logspace(start, stop float64, num int, base float64) []float64 {
	values := make([]float64, num)
	if num == 1 {
		values[0] = math.Pow(base, start)
		return values
	}
	step := (stop - start) / float64(num-1)
	for i := range values {
		values[i] = math.Pow(base, start+float64(i)*step)
	}
	return values
}

func normalizeSweepValues(raw []float64) []any {
	allInts := true
	for _, v := range raw {
		if v != math.Trunc(v) {
			allInts = false
			break
		}
	}
	values := make([]any, len(raw))
	for i, v := range raw {
		if allInts {
			values[i] = int(math.Round(v))
		} else {
			values[i] = v
		}
	}
	return values
}

func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}

// isSweepMarker reports whether a value is a {_SWEEP_: ...} mapping.
func isSweepMarker(v any) (any, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	obj, has := m[KeySweep]
	return obj, has
}

// sortedKeys returns map keys in sorted order for deterministic expansion.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
