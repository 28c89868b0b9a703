package spec

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/TheAustinator/dataforest/types"
)

// RunGroupSpec is one tree spec entry: a run spec whose operation values may
// be variant lists or carry sweep markers. It expands into the combinatorial
// product of all variants.
type RunGroupSpec struct {
	raw      map[string]any
	rawSpecs []map[string]any
	specs    []*RunSpec
	sweeps   []*Sweep
}

// NewRunGroupSpec expands a group mapping. Top-level list values are variant
// axes (one run spec per element); {_SWEEP_: ...} values inside operation
// mappings expand per NewSweep. The expansion is the product of all axes, in
// deterministic sorted-key order.
func NewRunGroupSpec(raw map[string]any) (*RunGroupSpec, error) {
	for key := range raw {
		if !runSpecKeys[key] {
			return nil, types.NewErrorf(types.ErrSpecInvalid, "unknown run group key %q", key)
		}
	}
	g := &RunGroupSpec{raw: raw}
	collected := map[string]*Sweep{}
	rawSpecs, err := expandGroupMaps(raw, collected)
	if err != nil {
		return nil, err
	}
	g.rawSpecs = rawSpecs
	g.specs = make([]*RunSpec, 0, len(rawSpecs))
	for _, m := range rawSpecs {
		r, err := ParseRunSpecMap(m)
		if err != nil {
			return nil, err
		}
		g.specs = append(g.specs, r)
	}
	for _, key := range sortedKeys(asAnyMap(collected)) {
		g.sweeps = append(g.sweeps, collected[key])
	}
	return g, nil
}

// Name returns the group's run name (alias or process).
func (g *RunGroupSpec) Name() string {
	if alias, ok := g.raw[KeyAlias].(string); ok && alias != "" {
		return alias
	}
	process, _ := g.raw[KeyProcess].(string)
	return process
}

// RunSpecs returns the expanded run specs.
func (g *RunGroupSpec) RunSpecs() []*RunSpec {
	return g.specs
}

// Sweeps returns the sweeps declared in the group, deduplicated by operation
// and key.
func (g *RunGroupSpec) Sweeps() []*Sweep {
	return g.sweeps
}

func expandGroupMaps(raw map[string]any, sweeps map[string]*Sweep) ([]map[string]any, error) {
	// Top-level list values are variant axes. Each combination recurses so
	// that sweeps inside chosen variant mappings expand too.
	var axisKeys []string
	for _, k := range sortedKeys(raw) {
		if _, ok := raw[k].([]any); ok && k != KeyPartition {
			axisKeys = append(axisKeys, k)
		}
	}
	if len(axisKeys) > 0 {
		axes := make([][]any, len(axisKeys))
		for i, k := range axisKeys {
			axes[i] = raw[k].([]any)
		}
		var out []map[string]any
		for _, combo := range cartesian(axes) {
			m := copyValueMap(raw)
			for i, k := range axisKeys {
				m[k] = combo[i]
			}
			sub, err := expandGroupMaps(m, sweeps)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
		}
		return out, nil
	}

	// No variant lists left: expand sweep markers inside operation mappings.
	type sweepAxis struct {
		op, key string
		values  []any
	}
	var axes []sweepAxis
	for _, op := range sortedKeys(raw) {
		opMap, ok := raw[op].(map[string]any)
		if !ok {
			continue
		}
		if obj, has := isSweepMarker(raw[op]); has {
			// The whole operation value is swept, e.g. a partition sweep.
			sw, err := NewSweep(op, "", obj)
			if err != nil {
				return nil, fmt.Errorf("sweep %s: %w", op, err)
			}
			axes = append(axes, sweepAxis{op: op, values: sw.Values})
			sweeps[op] = sw
			continue
		}
		for _, k := range sortedKeys(opMap) {
			obj, has := isSweepMarker(opMap[k])
			if !has {
				continue
			}
			sw, err := NewSweep(op, k, obj)
			if err != nil {
				return nil, fmt.Errorf("sweep %s.%s: %w", op, k, err)
			}
			axes = append(axes, sweepAxis{op: op, key: k, values: sw.Values})
			sweeps[op+"."+k] = sw
		}
	}
	if len(axes) == 0 {
		return []map[string]any{raw}, nil
	}
	values := make([][]any, len(axes))
	for i, ax := range axes {
		values[i] = ax.values
	}
	out := make([]map[string]any, 0)
	for _, combo := range cartesian(values) {
		m := copyValueMap(raw)
		for i, ax := range axes {
			if ax.key == "" {
				m[ax.op] = combo[i]
			} else {
				m[ax.op].(map[string]any)[ax.key] = combo[i]
			}
		}
		out = append(out, m)
	}
	return out, nil
}

func cartesian(axes [][]any) [][]any {
	combos := [][]any{{}}
	for _, axis := range axes {
		next := make([][]any, 0, len(combos)*len(axis))
		for _, combo := range combos {
			for _, v := range axis {
				c := make([]any, len(combo)+1)
				copy(c, combo)
				c[len(combo)] = v
				next = append(next, c)
			}
		}
		combos = next
	}
	return combos
}

func asAnyMap(m map[string]*Sweep) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// TwigMod is one modification a twig applies to a produced branch spec: set
// Value at Path inside the run spec named Process.
type TwigMod struct {
	Process string   `yaml:"process" json:"process"`
	Path    []string `yaml:"path" json:"path"`
	Value   any      `yaml:"value" json:"value"`
}

// Twig is a set of modifications applied together. Each twig adds one patched
// variant of every base branch spec to the tree.
type Twig []TwigMod

// TreeSpec is an ordered list of run group specs plus optional twigs. It
// expands into one branch spec per combination of group variants, with twig
// variants appended after the base set.
type TreeSpec struct {
	groups      []*RunGroupSpec
	twigs       []Twig
	branchSpecs []*BranchSpec
	sweeps      map[string][]*Sweep
}

// NewTreeSpec expands groups and twigs into the full branch spec set.
func NewTreeSpec(groups []map[string]any, twigs []Twig) (*TreeSpec, error) {
	t := &TreeSpec{sweeps: map[string][]*Sweep{RootName: {}}}
	for i, raw := range groups {
		g, err := NewRunGroupSpec(raw)
		if err != nil {
			return nil, fmt.Errorf("group %d: %w", i, err)
		}
		t.groups = append(t.groups, g)
		t.sweeps[g.Name()] = g.Sweeps()
	}
	t.twigs = twigs
	if err := t.buildBranchSpecs(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *TreeSpec) buildBranchSpecs() error {
	axes := make([][]any, len(t.groups))
	for i, g := range t.groups {
		axis := make([]any, len(g.rawSpecs))
		for j, m := range g.rawSpecs {
			axis[j] = m
		}
		axes[i] = axis
	}
	var baseRaw [][]map[string]any
	for _, combo := range cartesian(axes) {
		branch := make([]map[string]any, len(combo))
		for i, v := range combo {
			branch[i] = v.(map[string]any)
		}
		baseRaw = append(baseRaw, branch)
	}
	allRaw := append([][]map[string]any(nil), baseRaw...)
	for _, branch := range baseRaw {
		for _, twig := range t.twigs {
			patched, err := applyTwig(branch, twig)
			if err != nil {
				return err
			}
			allRaw = append(allRaw, patched)
		}
	}
	for _, branch := range allRaw {
		runs := make([]*RunSpec, 0, len(branch))
		for _, m := range branch {
			r, err := ParseRunSpecMap(m)
			if err != nil {
				return err
			}
			runs = append(runs, r)
		}
		bs, err := NewBranchSpec(runs)
		if err != nil {
			return err
		}
		t.branchSpecs = append(t.branchSpecs, bs)
	}
	return nil
}

func applyTwig(branch []map[string]any, twig Twig) ([]map[string]any, error) {
	patched := make([]map[string]any, len(branch))
	for i, m := range branch {
		patched[i] = copyValueMap(m)
	}
	for _, mod := range twig {
		if len(mod.Path) == 0 {
			return nil, types.NewError(types.ErrSpecInvalid, "twig modification requires a non-empty path")
		}
		target := findGroupMap(patched, mod.Process)
		if target == nil {
			return nil, types.NewErrorf(types.ErrSpecInvalid, "twig references unknown process %q", mod.Process)
		}
		scope := target
		for _, key := range mod.Path[:len(mod.Path)-1] {
			next, ok := scope[key].(map[string]any)
			if !ok {
				next = map[string]any{}
				scope[key] = next
			}
			scope = next
		}
		scope[mod.Path[len(mod.Path)-1]] = mod.Value
	}
	return patched, nil
}

func findGroupMap(branch []map[string]any, name string) map[string]any {
	for _, m := range branch {
		if alias, ok := m[KeyAlias].(string); ok && alias == name {
			return m
		}
		if process, ok := m[KeyProcess].(string); ok && process == name {
			if _, aliased := m[KeyAlias]; !aliased {
				return m
			}
		}
	}
	return nil
}

// BranchSpecs returns every branch spec the tree expands to, base specs
// first, twig variants after.
func (t *TreeSpec) BranchSpecs() []*BranchSpec {
	return t.branchSpecs
}

// Groups returns the run group specs in chain order.
func (t *TreeSpec) Groups() []*RunGroupSpec {
	return t.groups
}

// ProcessOrder returns group names in chain order.
func (t *TreeSpec) ProcessOrder() []string {
	names := make([]string, len(t.groups))
	for i, g := range t.groups {
		names[i] = g.Name()
	}
	return names
}

// SweepDict maps each process name to its sweeps. The root entry is always
// present and empty.
func (t *TreeSpec) SweepDict() map[string][]*Sweep {
	return t.sweeps
}

// treeSpecFile is the YAML document form for a tree spec with twigs.
type treeSpecFile struct {
	Spec  []map[string]any `yaml:"spec"`
	Twigs []Twig           `yaml:"twigs"`
}

// TreeFromYAML parses a tree spec. The document is either a sequence of
// group mappings, or a mapping with "spec" and optional "twigs" keys.
func TreeFromYAML(data []byte) (*TreeSpec, error) {
	var groups []map[string]any
	if err := yaml.Unmarshal(data, &groups); err == nil {
		return NewTreeSpec(groups, nil)
	}
	var file treeSpecFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, types.NewError(types.ErrSpecInvalid, "failed to unmarshal tree spec from YAML").WithCause(err)
	}
	if file.Spec == nil {
		return nil, types.NewError(types.ErrSpecInvalid, `tree spec document requires a "spec" sequence`)
	}
	return NewTreeSpec(file.Spec, file.Twigs)
}

// LoadTreeFromFile loads a tree spec from a YAML file.
func LoadTreeFromFile(filename string) (*TreeSpec, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read tree spec file: %w", err)
	}
	return TreeFromYAML(data)
}
