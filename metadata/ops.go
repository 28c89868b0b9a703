package metadata

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/TheAustinator/dataforest/types"
)

// PartitionColumn is the column added by Partition to label row groups.
const PartitionColumn = "partition"

// CompareOp is the comparison a proxy key applies against its target column.
type CompareOp string

const (
	CompareLE CompareOp = "le"
	CompareGE CompareOp = "ge"
	CompareLT CompareOp = "lt"
	CompareGT CompareOp = "gt"
	CompareEQ CompareOp = "eq"
)

// Proxy maps a spec key to a comparison on an underlying metadata column, so
// specs can say `max_doublet_score: 0.4` instead of spelling the column and
// operator out.
type Proxy struct {
	Column string    `yaml:"column" json:"column"`
	Op     CompareOp `yaml:"op" json:"op"`
}

// Ops applies subset, filter, and partition operations to frames. Proxies
// translate spec keys into column comparisons before matching.
type Ops struct {
	logger  *zap.Logger
	proxies map[string]Proxy
}

// NewOps creates an operation applier. proxies may be nil.
func NewOps(logger *zap.Logger, proxies map[string]Proxy) *Ops {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ops{logger: logger, proxies: proxies}
}

// Subset keeps the rows matching the key/value criterion. It returns
// ErrBadSubset when the criterion removes every row, and logs a warning when
// it removes none.
func (o *Ops) Subset(f *Frame, key string, value any) (*Frame, error) {
	out, err := o.apply(f, key, value, false)
	if err != nil {
		return nil, err
	}
	if out.Len() == f.Len() {
		o.logger.Warn("subset removed no rows",
			zap.String("key", key),
			zap.Any("value", value))
	} else if out.Len() == 0 {
		return nil, types.NewErrorf(types.ErrBadSubset, "subset %s=%v removed all %d rows", key, value, f.Len())
	}
	return out, nil
}

// Filter drops the rows matching the key/value criterion. It returns
// ErrBadFilter when the criterion removes every row, and logs a warning when
// it removes none.
func (o *Ops) Filter(f *Frame, key string, value any) (*Frame, error) {
	out, err := o.apply(f, key, value, true)
	if err != nil {
		return nil, err
	}
	if out.Len() == f.Len() {
		o.logger.Warn("filter removed no rows",
			zap.String("key", key),
			zap.Any("value", value))
	} else if out.Len() == 0 {
		return nil, types.NewErrorf(types.ErrBadFilter, "filter %s=%v removed all %d rows", key, value, f.Len())
	}
	return out, nil
}

// ApplyOps applies each subset map then each filter map in order, the way a
// branch applies its accumulated operation lists before a run.
func (o *Ops) ApplyOps(f *Frame, subsets, filters []map[string]any) (*Frame, error) {
	var err error
	for _, subset := range subsets {
		for _, key := range sortedOpKeys(subset) {
			if f, err = o.Subset(f, key, subset[key]); err != nil {
				return nil, err
			}
		}
	}
	for _, filter := range filters {
		for _, key := range sortedOpKeys(filter) {
			if f, err = o.Filter(f, key, filter[key]); err != nil {
				return nil, err
			}
		}
	}
	return f, nil
}

// Partition appends the partition label column, valued per row as the
// "|"-joined cells of the partition columns in sorted order.
func (o *Ops) Partition(f *Frame, columns []string) (*Frame, error) {
	if len(columns) == 0 {
		return f, nil
	}
	cols := append([]string(nil), columns...)
	sort.Strings(cols)
	idx := make([]int, len(cols))
	for i, c := range cols {
		j, ok := f.index[c]
		if !ok {
			return nil, types.NewErrorf(types.ErrColumnMissing, "partition column %q not in metadata", c)
		}
		idx[i] = j
	}
	return f.withColumn(PartitionColumn, func(row int) string {
		parts := make([]string, len(idx))
		for i, j := range idx {
			parts[i] = f.rows[row][j]
		}
		return strings.Join(parts, "|")
	}), nil
}

// PartitionValues returns the distinct partition labels in sorted order.
func PartitionValues(f *Frame) []string {
	col, ok := f.Column(PartitionColumn)
	if !ok {
		return nil
	}
	seen := make(map[string]struct{}, len(col))
	var out []string
	for _, v := range col {
		if _, dup := seen[v]; !dup {
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

// SelectPartition keeps only the rows carrying the given partition label.
func SelectPartition(f *Frame, label string) (*Frame, error) {
	idx, ok := f.index[PartitionColumn]
	if !ok {
		return nil, types.NewErrorf(types.ErrColumnMissing, "frame has no %q column", PartitionColumn)
	}
	return f.selectRows(func(i int) bool { return f.rows[i][idx] == label }), nil
}

// apply resolves proxies and keeps (or, when invert, drops) matching rows.
func (o *Ops) apply(f *Frame, key string, value any, invert bool) (*Frame, error) {
	column, op := key, CompareEQ
	if proxy, ok := o.proxies[key]; ok {
		column, op = proxy.Column, proxy.Op
	}
	idx, ok := f.index[column]
	if !ok {
		return nil, types.NewErrorf(types.ErrColumnMissing, "column %q not in metadata", column)
	}
	match, err := matcher(op, value)
	if err != nil {
		return nil, err
	}
	return f.selectRows(func(i int) bool {
		return match(f.rows[i][idx]) != invert
	}), nil
}

// matcher builds the per-cell predicate for one criterion. Equality accepts a
// scalar or a list of scalars; ordered comparisons require a numeric value
// and skip cells that do not parse.
func matcher(op CompareOp, value any) (func(cell string) bool, error) {
	if op == CompareEQ {
		var values []any
		switch v := value.(type) {
		case []any:
			values = v
		case []string:
			values = make([]any, len(v))
			for i, s := range v {
				values[i] = s
			}
		default:
			values = []any{value}
		}
		return func(cell string) bool {
			for _, v := range values {
				if cellEqual(cell, v) {
					return true
				}
			}
			return false
		}, nil
	}
	threshold, ok := numeric(value)
	if !ok {
		return nil, fmt.Errorf("comparison %s requires a numeric value, got %T", op, value)
	}
	return func(cell string) bool {
		n, ok := parseNumber(cell)
		if !ok {
			return false
		}
		switch op {
		case CompareLE:
			return n <= threshold
		case CompareGE:
			return n >= threshold
		case CompareLT:
			return n < threshold
		case CompareGT:
			return n > threshold
		}
		return false
	}, nil
}

// cellEqual compares a string cell against a spec value, numerically when
// both sides parse as numbers.
func cellEqual(cell string, value any) bool {
	if n, ok := numeric(value); ok {
		if c, ok := parseNumber(cell); ok {
			return c == n
		}
		return false
	}
	if s, ok := value.(string); ok {
		return cell == s
	}
	if b, ok := value.(bool); ok {
		return cell == fmt.Sprintf("%t", b)
	}
	return cell == fmt.Sprintf("%v", value)
}

func numeric(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

func sortedOpKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
