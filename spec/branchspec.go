package spec

import (
	"strings"

	"github.com/TheAustinator/dataforest/types"
)

// RootName is the virtual process name for the forest root. The root is not a
// run spec entry; it stands for the unprocessed input data.
const RootName = "root"

// BranchSpec is an ordered chain of run specs. Each run's input is the output
// of the previous run, with the root metadata as the first input. Run names
// must be unique within a branch, so repeated processes need aliases.
type BranchSpec struct {
	runs   []*RunSpec
	byName map[string]*RunSpec
	order  []string
}

// NewBranchSpec builds a branch spec from an ordered run list. It fails when
// two runs share a name.
func NewBranchSpec(runs []*RunSpec) (*BranchSpec, error) {
	bs := &BranchSpec{
		runs:   runs,
		byName: map[string]*RunSpec{RootName: {}},
		order:  make([]string, 0, len(runs)),
	}
	for _, r := range runs {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		name := r.Name()
		if _, exists := bs.byName[name]; exists {
			return nil, types.NewErrorf(types.ErrDuplicateProcess, "duplicate process name %q in branch spec", name)
		}
		bs.byName[name] = r
		bs.order = append(bs.order, name)
	}
	return bs, nil
}

// Runs returns the ordered run specs.
func (b *BranchSpec) Runs() []*RunSpec {
	return b.runs
}

// ProcessOrder returns run names in chain order.
func (b *BranchSpec) ProcessOrder() []string {
	return append([]string(nil), b.order...)
}

// Len returns the number of runs in the chain.
func (b *BranchSpec) Len() int {
	return len(b.runs)
}

// Get returns the run spec for a name. The root name resolves to an empty
// spec.
func (b *BranchSpec) Get(name string) (*RunSpec, bool) {
	r, ok := b.byName[name]
	return r, ok
}

// Contains reports whether the branch has a run with the given name.
func (b *BranchSpec) Contains(name string) bool {
	_, ok := b.byName[name]
	return ok
}

// At returns the run spec at a chain position.
func (b *BranchSpec) At(i int) *RunSpec {
	return b.runs[i]
}

// Precursors returns the ordered names of the processes before name in the
// chain. includeRoot prepends the root entry; includeCurrent appends name
// itself. The root's precursor list is empty unless both flags are set, in
// which case it is the root alone.
func (b *BranchSpec) Precursors(name string, includeRoot, includeCurrent bool) ([]string, bool) {
	if !b.Contains(name) {
		return nil, false
	}
	var current []string
	if includeRoot && includeCurrent {
		current = append(current, RootName)
	}
	if name == RootName {
		return current, true
	}
	if includeRoot && !includeCurrent {
		current = append(current, RootName)
	}
	for _, runName := range b.order {
		if includeCurrent {
			current = append(current, runName)
		}
		if runName == name {
			return current, true
		}
		if !includeCurrent {
			current = append(current, runName)
		}
	}
	return nil, false
}

// SubsetList returns the subset operations for each process up to and
// including name, in chain order. Entries for processes without a subset are
// empty maps, keeping the list aligned with FilterList.
func (b *BranchSpec) SubsetList(name string) []map[string]any {
	return b.operationList(name, func(r *RunSpec) map[string]any { return r.Subset })
}

// FilterList returns the filter operations for each process up to and
// including name, in chain order.
func (b *BranchSpec) FilterList(name string) []map[string]any {
	return b.operationList(name, func(r *RunSpec) map[string]any { return r.Filter })
}

// PartitionList returns the partition columns for each process up to and
// including name, in chain order.
func (b *BranchSpec) PartitionList(name string) [][]string {
	names, ok := b.Precursors(name, false, true)
	if !ok {
		return nil
	}
	out := make([][]string, 0, len(names))
	for _, n := range names {
		r := b.byName[n]
		out = append(out, append([]string(nil), r.Partition...))
	}
	return out
}

func (b *BranchSpec) operationList(name string, get func(*RunSpec) map[string]any) []map[string]any {
	names, ok := b.Precursors(name, false, true)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(names))
	for _, n := range names {
		op := get(b.byName[n])
		if op == nil {
			op = map[string]any{}
		}
		out = append(out, op)
	}
	return out
}

// String returns the canonical form: a JSON array of canonical run specs.
func (b *BranchSpec) String() string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, r := range b.runs {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(r.String())
	}
	sb.WriteByte(']')
	return sb.String()
}

// Copy returns a deep copy.
func (b *BranchSpec) Copy() *BranchSpec {
	runs := make([]*RunSpec, len(b.runs))
	for i, r := range b.runs {
		runs[i] = r.Copy()
	}
	cp, _ := NewBranchSpec(runs)
	return cp
}

// MarshalYAML serializes the branch spec as a sequence of run spec mappings.
func (b *BranchSpec) MarshalYAML() (any, error) {
	return b.runs, nil
}
