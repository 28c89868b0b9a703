package forest

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/TheAustinator/dataforest/catalogue"
	"github.com/TheAustinator/dataforest/internal/cache"
	"github.com/TheAustinator/dataforest/metadata"
	"github.com/TheAustinator/dataforest/spec"
	"github.com/TheAustinator/dataforest/types"
)

// Branch is one chain of process runs under a forest root. Run directories
// and run ids resolve lazily through the catalogue, so a branch can
// describe runs that have not executed yet: a spec with no catalogued run
// gets a fresh run id that stays stable for the lifetime of the branch
// instance, and the catalogue hook later records that same id.
type Branch struct {
	config Config
	spec   *spec.BranchSpec
	base   *zap.Logger
	logger *zap.Logger

	mu            sync.Mutex
	current       string
	partitionFrom string
	runIDs        map[string]string

	paths *cache.Lazy[string, string]
	meta  *cache.Lazy[string, *metadata.Frame]
}

// NewBranch creates a branch over config.Root. The current position starts
// at the root entry.
func NewBranch(config Config, branchSpec *spec.BranchSpec, logger *zap.Logger) (*Branch, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config, err := config.withDefaults(logger)
	if err != nil {
		return nil, err
	}
	if branchSpec == nil {
		return nil, types.NewError(types.ErrSpecInvalid, "branch requires a branch spec")
	}

	b := &Branch{
		config:  config,
		spec:    branchSpec,
		base:    logger,
		logger:  logger.With(zap.String("component", "branch")),
		current: spec.RootName,
		runIDs:  make(map[string]string),
	}
	b.paths = cache.NewLazy(b.resolvePath)
	b.meta = cache.NewLazy(b.loadMeta)
	return b, nil
}

// Root returns the forest root directory.
func (b *Branch) Root() string {
	return b.config.Root
}

// Remote returns the configured remote forest root, empty when unset.
func (b *Branch) Remote() string {
	return b.config.Remote
}

// Spec returns the branch spec.
func (b *Branch) Spec() *spec.BranchSpec {
	return b.spec
}

// Current returns the name of the current chain position.
func (b *Branch) Current() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// GotoProcess moves the branch to the named chain position. The cached
// metadata is dropped since the accumulated data operations change with
// the position.
func (b *Branch) GotoProcess(name string) error {
	if !b.spec.Contains(name) {
		return types.NewErrorf(types.ErrProcessNotFound, "process %s is not in the branch spec", name)
	}
	b.mu.Lock()
	b.current = name
	b.mu.Unlock()
	b.meta.Clear()
	return nil
}

// RunSpecAt returns the run spec for a chain name. The root resolves to an
// empty spec.
func (b *Branch) RunSpecAt(name string) (*spec.RunSpec, bool) {
	return b.spec.Get(name)
}

// Path returns the absolute run directory for a run name.
func (b *Branch) Path(ctx context.Context, name string) (string, error) {
	return b.paths.Get(ctx, name)
}

// Paths maps the root and every run name to its run directory.
func (b *Branch) Paths(ctx context.Context) (map[string]string, error) {
	out := map[string]string{spec.RootName: b.config.Root}
	for _, name := range b.spec.ProcessOrder() {
		p, err := b.paths.Get(ctx, name)
		if err != nil {
			return nil, err
		}
		out[name] = p
	}
	return out, nil
}

// PathsExist is Paths restricted to what is on disk: runs whose process
// directory does not exist yet map to an empty string. Paths resolve one
// process past what has executed, so deeper entries stay empty until their
// precursors run.
func (b *Branch) PathsExist(ctx context.Context) (map[string]string, error) {
	paths, err := b.Paths(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(paths))
	for name, p := range paths {
		if name == spec.RootName {
			out[name] = p
			continue
		}
		if _, statErr := os.Stat(filepath.Dir(p)); statErr != nil {
			out[name] = ""
			continue
		}
		out[name] = p
	}
	return out, nil
}

// RunID returns the run id for a run name, resolving the path chain first
// so the id is the one the run directory was built from.
func (b *Branch) RunID(ctx context.Context, name string) (string, error) {
	if name == spec.RootName {
		return "", types.NewError(types.ErrProcessNotFound, "the root has no run id")
	}
	if _, err := b.paths.Get(ctx, name); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.runIDs[name], nil
}

// InputDir returns the directory a run reads from: the immediate
// precursor's run dir, or the root for first-tier runs.
func (b *Branch) InputDir(ctx context.Context, name string) (string, error) {
	names, ok := b.spec.Precursors(name, true, false)
	if !ok || len(names) == 0 {
		return "", types.NewErrorf(types.ErrProcessNotFound, "process %s is not in the branch spec", name)
	}
	return b.paths.Get(ctx, names[len(names)-1])
}

// Meta returns the root metadata with every subset and filter through the
// current position applied, plus partition labels when a partition source
// is set.
func (b *Branch) Meta(ctx context.Context) (*metadata.Frame, error) {
	b.mu.Lock()
	name := b.current
	b.mu.Unlock()
	return b.MetaAt(ctx, name)
}

// MetaAt returns the metadata as it stands at the named chain position.
func (b *Branch) MetaAt(ctx context.Context, name string) (*metadata.Frame, error) {
	if !b.spec.Contains(name) {
		return nil, types.NewErrorf(types.ErrProcessNotFound, "process %s is not in the branch spec", name)
	}
	return b.meta.Get(ctx, name)
}

// SetPartition selects the run whose partition columns label the metadata.
// An empty name clears the partition.
func (b *Branch) SetPartition(name string) error {
	if name != "" {
		r, ok := b.spec.Get(name)
		if !ok {
			return types.NewErrorf(types.ErrProcessNotFound, "process %s is not in the branch spec", name)
		}
		if len(r.Partition) == 0 {
			return types.NewErrorf(types.ErrPartitionMissing, "process %s has no partition columns", name)
		}
	}
	b.mu.Lock()
	b.partitionFrom = name
	b.mu.Unlock()
	b.meta.Clear()
	return nil
}

// Fork returns a new branch over the same root with a different spec. The
// current position carries over when the new spec still contains it.
func (b *Branch) Fork(newSpec *spec.BranchSpec) (*Branch, error) {
	if newSpec == nil {
		return nil, types.NewError(types.ErrSpecInvalid, "fork requires a branch spec")
	}
	forked, err := NewBranch(b.config, newSpec, b.base)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	current := b.current
	b.mu.Unlock()
	if newSpec.Contains(current) {
		forked.current = current
	}
	return forked, nil
}

// resolvePath walks the chain from the root through name, resolving each
// run id against the catalogue, and returns name's absolute run dir.
func (b *Branch) resolvePath(ctx context.Context, name string) (string, error) {
	if name == spec.RootName {
		return b.config.Root, nil
	}
	names, ok := b.spec.Precursors(name, false, true)
	if !ok {
		return "", types.NewErrorf(types.ErrProcessNotFound, "process %s is not in the branch spec", name)
	}

	dir := b.config.Root
	rel := ""
	for _, n := range names {
		r, _ := b.spec.Get(n)
		processRel := path.Join(rel, r.Name())
		id, err := b.resolveRunID(ctx, processRel, n, r)
		if err != nil {
			return "", err
		}
		dir = filepath.Join(dir, r.Name(), id)
		rel = path.Join(processRel, id)
	}
	return dir, nil
}

// resolveRunID returns the run id for one chain entry, looking the spec up
// in the catalogue and generating a fresh id on a miss. The id is kept per
// branch instance so the catalogue hook appends the id the paths were
// built from.
func (b *Branch) resolveRunID(ctx context.Context, processDir, name string, r *spec.RunSpec) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if id, ok := b.runIDs[name]; ok {
		return id, nil
	}

	id, found, err := b.config.Store.Lookup(ctx, processDir, r.String())
	if err != nil {
		return "", err
	}
	if b.config.Metrics != nil {
		b.config.Metrics.RecordCatalogueLookup(b.config.Store.Backend(), found)
	}
	if !found {
		id = catalogue.GenerateRunID()
		b.logger.Debug("spec not catalogued, generated run id",
			zap.String("process", name),
			zap.String("run_id", id),
		)
	}
	b.runIDs[name] = id
	return id, nil
}

// runDirs returns the absolute run dir and the root-relative process dir
// for a run name. The relative dir keys the catalogue.
func (b *Branch) runDirs(ctx context.Context, name string) (runDir, processDirRel string, err error) {
	runDir, err = b.paths.Get(ctx, name)
	if err != nil {
		return "", "", err
	}
	relRun, err := filepath.Rel(b.config.Root, runDir)
	if err != nil {
		return "", "", types.NewErrorf(types.ErrInternalError, "run dir %s is outside the forest root", runDir).WithCause(err)
	}
	return runDir, filepath.ToSlash(filepath.Dir(relRun)), nil
}

// pathMap merges the schema file maps of the chain through name into
// absolute paths, in chain order so later runs shadow earlier ones.
func (b *Branch) pathMap(ctx context.Context, name string, includeCurrent bool) (map[string]string, error) {
	names, ok := b.spec.Precursors(name, false, includeCurrent)
	if !ok {
		return nil, types.NewErrorf(types.ErrProcessNotFound, "process %s is not in the branch spec", name)
	}
	out := make(map[string]string)
	for _, n := range names {
		r, _ := b.spec.Get(n)
		dir, err := b.paths.Get(ctx, n)
		if err != nil {
			return nil, err
		}
		for alias, file := range b.config.Schema.FileMapFor(r.Process) {
			out[alias] = filepath.Join(dir, file)
		}
	}
	return out, nil
}

// loadMeta reads the root metadata and applies the chain's subsets and
// filters through name, then the selected partition when one is set.
func (b *Branch) loadMeta(ctx context.Context, name string) (*metadata.Frame, error) {
	_ = ctx

	frame, err := metadata.ReadTSVFile(filepath.Join(b.config.Root, MetaFileName))
	if err != nil {
		return nil, types.NewError(types.ErrMetadataRead, "failed to read root metadata").WithCause(err)
	}

	ops := metadata.NewOps(b.logger, b.config.Schema.Proxies())
	frame, err = ops.ApplyOps(frame, b.spec.SubsetList(name), b.spec.FilterList(name))
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	partitionFrom := b.partitionFrom
	b.mu.Unlock()
	if partitionFrom != "" {
		r, ok := b.spec.Get(partitionFrom)
		if ok && len(r.Partition) > 0 {
			frame, err = ops.Partition(frame, r.Partition)
			if err != nil {
				return nil, err
			}
		}
	}
	return frame, nil
}
