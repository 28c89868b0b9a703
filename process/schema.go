package process

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/TheAustinator/dataforest/metadata"
	"github.com/TheAustinator/dataforest/types"
)

// Schema describes the static shape of a process hierarchy: which files each
// process produces, which precursor it requires, which named file layers are
// merged into which process, and which spec keys proxy metadata column
// comparisons.
type Schema struct {
	// FileMap maps process name to file alias to output filename.
	FileMap map[string]map[string]string `yaml:"file_map" json:"file_map"`
	// Hierarchy maps process name to its required precursor. A missing or
	// empty entry means the process runs on root data.
	Hierarchy map[string]string `yaml:"hierarchy" json:"hierarchy"`
	// Layers maps layer name to file alias to filename.
	Layers map[string]map[string]string `yaml:"layers" json:"layers"`
	// ProcessLayers maps process name to the layer names merged into its
	// file map.
	ProcessLayers map[string][]string `yaml:"process_layers" json:"process_layers"`
	// PlotMap maps process name to plot alias to plot filename.
	PlotMap map[string]map[string]string `yaml:"plot_map" json:"plot_map"`
	// SubsetProxies maps spec keys to metadata column comparisons.
	SubsetProxies map[string]metadata.Proxy `yaml:"subset_proxies" json:"subset_proxies"`
}

// SchemaFromYAML parses a schema document.
func SchemaFromYAML(data []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse schema YAML: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadSchemaFromFile reads and parses a schema file.
func LoadSchemaFromFile(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}
	return SchemaFromYAML(data)
}

// Validate checks hierarchy references and proxy operators.
func (s *Schema) Validate() error {
	known := s.knownSet()
	for name, precursor := range s.Hierarchy {
		if precursor == "" {
			continue
		}
		if _, ok := known[precursor]; !ok {
			return types.NewErrorf(types.ErrSpecInvalid, "process %s requires unknown precursor %s", name, precursor)
		}
	}
	for name := range s.Hierarchy {
		if err := s.checkAcyclic(name); err != nil {
			return err
		}
	}
	for process, layerNames := range s.ProcessLayers {
		seen := make(map[string]string)
		for alias := range s.FileMap[process] {
			seen[alias] = process
		}
		for _, layerName := range layerNames {
			layer, ok := s.Layers[layerName]
			if !ok {
				return types.NewErrorf(types.ErrSpecInvalid, "process %s references unknown layer %s", process, layerName)
			}
			for alias := range layer {
				if owner, dup := seen[alias]; dup {
					return types.NewErrorf(types.ErrSpecInvalid,
						"file alias %s in layer %s collides with %s for process %s", alias, layerName, owner, process)
				}
				seen[alias] = "layer " + layerName
			}
		}
	}
	for key, proxy := range s.SubsetProxies {
		switch proxy.Op {
		case metadata.CompareLE, metadata.CompareGE, metadata.CompareLT, metadata.CompareGT, metadata.CompareEQ:
		default:
			return types.NewErrorf(types.ErrSpecInvalid, "proxy %s has unknown comparison %q", key, proxy.Op)
		}
		if proxy.Column == "" {
			return types.NewErrorf(types.ErrSpecInvalid, "proxy %s has no target column", key)
		}
	}
	return nil
}

func (s *Schema) checkAcyclic(start string) error {
	seen := map[string]struct{}{}
	for name := start; name != ""; name = s.Hierarchy[name] {
		if _, dup := seen[name]; dup {
			return types.NewErrorf(types.ErrSpecInvalid, "process hierarchy cycle through %s", name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

// ValidateRegistry checks registered definitions against the hierarchy: a
// definition the schema names must require exactly its hierarchy parent.
// Definitions the schema does not mention pass unchecked.
func (s *Schema) ValidateRegistry(reg *Registry) error {
	if reg == nil {
		return nil
	}
	known := s.knownSet()
	for _, name := range reg.Names() {
		if _, ok := known[name]; !ok {
			continue
		}
		def, err := reg.Get(name)
		if err != nil {
			return err
		}
		if want := s.Hierarchy[name]; def.Requires != want {
			return types.NewErrorf(types.ErrSpecInvalid,
				"process %s requires %q but its hierarchy parent is %q", name, def.Requires, want)
		}
	}
	return nil
}

func (s *Schema) knownSet() map[string]struct{} {
	known := make(map[string]struct{}, len(s.FileMap)+len(s.Hierarchy))
	for name := range s.FileMap {
		known[name] = struct{}{}
	}
	for name := range s.Hierarchy {
		known[name] = struct{}{}
	}
	return known
}

// Precursor returns the precursor process required by name, empty for
// root-tier processes.
func (s *Schema) Precursor(name string) string {
	return s.Hierarchy[name]
}

// Lineage returns the chain of precursors from the root tier down to name
// inclusive.
func (s *Schema) Lineage(name string) []string {
	var chain []string
	for p := name; p != ""; p = s.Hierarchy[p] {
		chain = append(chain, p)
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// FileMapFor returns the file alias to filename map for process, with its
// layers merged in. Validate rejects alias collisions, so merge order does
// not matter.
func (s *Schema) FileMapFor(process string) map[string]string {
	merged := make(map[string]string, len(s.FileMap[process]))
	for alias, name := range s.FileMap[process] {
		merged[alias] = name
	}
	for _, layerName := range s.ProcessLayers[process] {
		for alias, name := range s.Layers[layerName] {
			merged[alias] = name
		}
	}
	return merged
}

// FileName resolves a file alias for a process, including layer files.
func (s *Schema) FileName(process, alias string) (string, bool) {
	name, ok := s.FileMapFor(process)[alias]
	return name, ok
}

// Files returns the file aliases a process produces, layers included, in
// sorted order.
func (s *Schema) Files(process string) []string {
	merged := s.FileMapFor(process)
	aliases := make([]string, 0, len(merged))
	for alias := range merged {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	return aliases
}

// PlotMapFor returns the plot alias to filename map for process.
func (s *Schema) PlotMapFor(process string) map[string]string {
	plots := make(map[string]string, len(s.PlotMap[process]))
	for alias, name := range s.PlotMap[process] {
		plots[alias] = name
	}
	return plots
}

// Processes returns every process named by the file map or hierarchy, in
// sorted order.
func (s *Schema) Processes() []string {
	known := s.knownSet()
	names := make([]string, 0, len(known))
	for name := range known {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Proxies returns the subset proxy table, never nil.
func (s *Schema) Proxies() map[string]metadata.Proxy {
	if s.SubsetProxies == nil {
		return map[string]metadata.Proxy{}
	}
	return s.SubsetProxies
}
