// Package process defines the units of work a branch can run: named process
// definitions, the registry that resolves spec names to implementations, and
// the schema describing each process's files and place in the hierarchy.
package process

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/TheAustinator/dataforest/metadata"
	"github.com/TheAustinator/dataforest/types"
)

// Run is the environment a process implementation executes in. The caller
// wires directories, metadata, and params before invoking the process func.
type Run interface {
	// Process returns the process name being run.
	Process() string
	// Params returns the parameter map from the run spec.
	Params() map[string]any
	// Meta returns the sample metadata after the run's subset, filter, and
	// partition operations have been applied.
	Meta() *metadata.Frame
	// InputDir returns the precursor run's directory, or the root directory
	// for first-tier processes.
	InputDir() string
	// OutputDir returns this run's directory, where outputs belong.
	OutputDir() string
	// LogsDir returns this run's log directory.
	LogsDir() string
	// PlotsDir returns this run's plot directory.
	PlotsDir() string
	// Logger returns a logger scoped to this run.
	Logger() *zap.Logger
}

// Func is a process implementation. It reads inputs from run.InputDir and
// writes outputs into run.OutputDir, returning an error on failure.
type Func func(ctx context.Context, run Run) error

// Definition describes a registered process.
type Definition struct {
	// Name is the process name run specs refer to.
	Name string
	// Requires names the precursor process whose outputs this process reads.
	// Empty means the process runs directly on root data.
	Requires string
	// Comparative marks a process that compares sample groups, so its run
	// spec must carry a partition.
	Comparative bool
	// Plots marks a process that writes into a _plots dir, created before
	// the process runs.
	Plots bool
	// TempMeta marks a process whose metadata changes do not persist to
	// downstream processes.
	TempMeta bool
	// Func executes the process.
	Func Func
}

// Validate checks that the definition is runnable.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return types.NewError(types.ErrSpecInvalid, "process definition requires a name")
	}
	if d.Func == nil {
		return types.NewErrorf(types.ErrSpecInvalid, "process %s has no implementation", d.Name)
	}
	return nil
}

// Registry resolves process names to definitions. It is safe for concurrent
// use.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*Definition)}
}

// Register adds a definition. Registering a name twice is an error.
func (r *Registry) Register(def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.Name]; exists {
		return types.NewErrorf(types.ErrDuplicateProcess, "process %s already registered", def.Name)
	}
	r.defs[def.Name] = def
	return nil
}

// MustRegister adds a definition and panics on error. Intended for package
// init blocks that declare a fixed process set.
func (r *Registry) MustRegister(def *Definition) {
	if err := r.Register(def); err != nil {
		panic(err)
	}
}

// Get returns the definition for name.
func (r *Registry) Get(name string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	if !ok {
		return nil, types.NewErrorf(types.ErrProcessNotFound, "process %s not registered", name)
	}
	return def, nil
}

// Contains reports whether name is registered.
func (r *Registry) Contains(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.defs[name]
	return ok
}

// Names returns the registered process names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered processes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}
