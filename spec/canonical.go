package spec

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// canonicalValue renders v as compact JSON with map keys sorted at every
// nesting level. Integral floats render without a decimal point so that YAML
// and JSON sources produce identical strings. When sortList is true, list
// values are sorted by their rendered form (set semantics for subset, filter,
// and partition values).
func canonicalValue(sb *strings.Builder, v any, sortList bool) {
	switch val := v.(type) {
	case nil:
		sb.WriteString("null")
	case bool:
		sb.WriteString(strconv.FormatBool(val))
	case string:
		sb.WriteString(strconv.Quote(val))
	case int:
		sb.WriteString(strconv.Itoa(val))
	case int64:
		sb.WriteString(strconv.FormatInt(val, 10))
	case uint64:
		sb.WriteString(strconv.FormatUint(val, 10))
	case float64:
		sb.WriteString(canonicalFloat(val))
	case float32:
		sb.WriteString(canonicalFloat(float64(val)))
	case []string:
		items := make([]string, len(val))
		for i, s := range val {
			items[i] = strconv.Quote(s)
		}
		if sortList {
			sort.Strings(items)
		}
		sb.WriteByte('[')
		sb.WriteString(strings.Join(items, ","))
		sb.WriteByte(']')
	case []any:
		items := make([]string, len(val))
		for i, item := range val {
			var inner strings.Builder
			canonicalValue(&inner, item, sortList)
			items[i] = inner.String()
		}
		if sortList {
			sort.Strings(items)
		}
		sb.WriteByte('[')
		sb.WriteString(strings.Join(items, ","))
		sb.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(strconv.Quote(k))
			sb.WriteByte(':')
			canonicalValue(sb, val[k], sortList)
		}
		sb.WriteByte('}')
	default:
		sb.WriteString(strconv.Quote(fmt.Sprintf("%v", val)))
	}
}

func canonicalFloat(f float64) string {
	if f == math.Trunc(f) && !math.IsInf(f, 0) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// canonicalMap renders a string-keyed map in canonical form.
func canonicalMap(sb *strings.Builder, m map[string]any, sortList bool) {
	canonicalValue(sb, m, sortList)
}
