// Package dataforest provides a top-level convenience entry point for opening
// a forest with minimal boilerplate.
//
// Usage:
//
//	import "github.com/TheAustinator/dataforest"
//
//	b, err := dataforest.LoadBranch("/data/forest", dataforest.WithBranchSpecFile("branch.yaml"))
//	t, err := dataforest.LoadTree("/data/forest", dataforest.WithTreeSpecFile("tree.yaml"))
//	tree, branch, err := dataforest.Load("/data/forest", dataforest.WithBranchSpec(bs))
//
// The facade assembles a [forest.Config] from its options and delegates to
// [forest.NewBranch] and [forest.NewTree]; both produce identical results.
// Use the forest package directly when you need more than one forest per
// process or want to share a catalogue store between them.
package dataforest

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/TheAustinator/dataforest/catalogue"
	"github.com/TheAustinator/dataforest/forest"
	"github.com/TheAustinator/dataforest/internal/metrics"
	"github.com/TheAustinator/dataforest/metadata"
	"github.com/TheAustinator/dataforest/process"
	"github.com/TheAustinator/dataforest/spec"
)

// Option configures the forest opened by [Load], [LoadBranch], and
// [LoadTree].
type Option func(*options)

type options struct {
	remote    string
	schema    *process.Schema
	registry  *process.Registry
	store     catalogue.Store
	metrics   *metrics.Collector
	workers   int
	runRate   float64
	clearLogs bool
	logger    *zap.Logger

	branchSpec     *spec.BranchSpec
	branchSpecFile string
	treeSpec       *spec.TreeSpec
	treeSpecFile   string
}

// WithRemote sets a second forest root used by push and pull.
func WithRemote(remote string) Option {
	return func(o *options) { o.remote = remote }
}

// WithSchema sets the process schema. Defaults to an empty schema.
func WithSchema(s *process.Schema) Option {
	return func(o *options) { o.schema = s }
}

// WithRegistry sets the process registry. Defaults to an empty registry.
func WithRegistry(r *process.Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithStore sets the run catalogue backend. Defaults to the file catalogue
// under the root.
func WithStore(s catalogue.Store) Option {
	return func(o *options) { o.store = s }
}

// WithMetrics sets the Prometheus collector. Defaults to no metrics.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *options) { o.metrics = c }
}

// WithWorkers bounds concurrent branch runs during tree runs.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithRunRate caps run launches per second during tree runs. Zero means
// unlimited.
func WithRunRate(r float64) Option {
	return func(o *options) { o.runRate = r }
}

// WithClearLogs removes a run's log files after it succeeds.
func WithClearLogs(clear bool) Option {
	return func(o *options) { o.clearLogs = clear }
}

// WithLogger sets a custom zap logger. Defaults to zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithBranchSpec sets a parsed branch spec.
func WithBranchSpec(bs *spec.BranchSpec) Option {
	return func(o *options) { o.branchSpec = bs }
}

// WithBranchSpecFile names a branch spec YAML file, parsed at load time.
func WithBranchSpecFile(path string) Option {
	return func(o *options) { o.branchSpecFile = path }
}

// WithTreeSpec sets a parsed tree spec.
func WithTreeSpec(ts *spec.TreeSpec) Option {
	return func(o *options) { o.treeSpec = ts }
}

// WithTreeSpecFile names a tree spec YAML file, parsed at load time.
func WithTreeSpecFile(path string) Option {
	return func(o *options) { o.treeSpecFile = path }
}

// Load opens the forest at root. It returns a Tree when a tree spec is
// given and a Branch when a branch spec is given; exactly one of the two
// results is non-nil. Giving both spec kinds, or neither, is an error.
func Load(root string, opts ...Option) (*forest.Tree, *forest.Branch, error) {
	o := collect(opts)

	hasBranch := o.branchSpec != nil || o.branchSpecFile != ""
	hasTree := o.treeSpec != nil || o.treeSpecFile != ""
	switch {
	case hasBranch && hasTree:
		return nil, nil, fmt.Errorf("both branch and tree specs given: load one or the other")
	case hasTree:
		t, err := loadTree(root, o)
		return t, nil, err
	case hasBranch:
		b, err := loadBranch(root, o)
		return nil, b, err
	default:
		return nil, nil, fmt.Errorf("a spec is required: use WithBranchSpec, WithBranchSpecFile, WithTreeSpec, or WithTreeSpecFile")
	}
}

// LoadBranch opens a single branch of the forest at root. A branch spec
// option is required.
func LoadBranch(root string, opts ...Option) (*forest.Branch, error) {
	o := collect(opts)
	if o.branchSpec == nil && o.branchSpecFile == "" {
		return nil, fmt.Errorf("branch spec is required: use WithBranchSpec or WithBranchSpecFile")
	}
	return loadBranch(root, o)
}

// LoadTree opens a tree of branches of the forest at root. A tree spec
// option is required.
func LoadTree(root string, opts ...Option) (*forest.Tree, error) {
	o := collect(opts)
	if o.treeSpec == nil && o.treeSpecFile == "" {
		return nil, fmt.Errorf("tree spec is required: use WithTreeSpec or WithTreeSpecFile")
	}
	return loadTree(root, o)
}

// FromMetadata seeds a new forest root with sample metadata, writing the
// root meta.tsv that every branch reads. The directory is created when
// missing; an existing meta.tsv is not overwritten.
func FromMetadata(root string, frame *metadata.Frame) error {
	if frame == nil {
		return fmt.Errorf("metadata frame is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("create forest root: %w", err)
	}

	metaPath := filepath.Join(root, forest.MetaFileName)
	if _, err := os.Stat(metaPath); err == nil {
		return fmt.Errorf("forest root already seeded: %s exists", metaPath)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat %s: %w", metaPath, err)
	}

	if err := frame.WriteTSVFile(metaPath); err != nil {
		return fmt.Errorf("write root metadata: %w", err)
	}
	return nil
}

func collect(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func loadBranch(root string, o *options) (*forest.Branch, error) {
	bs := o.branchSpec
	if bs == nil {
		var err error
		bs, err = spec.LoadFromFile(o.branchSpecFile)
		if err != nil {
			return nil, fmt.Errorf("load branch spec %s: %w", o.branchSpecFile, err)
		}
	}
	return forest.NewBranch(o.forestConfig(root), bs, o.loggerOrNop())
}

func loadTree(root string, o *options) (*forest.Tree, error) {
	ts := o.treeSpec
	if ts == nil {
		var err error
		ts, err = spec.LoadTreeFromFile(o.treeSpecFile)
		if err != nil {
			return nil, fmt.Errorf("load tree spec %s: %w", o.treeSpecFile, err)
		}
	}
	return forest.NewTree(o.forestConfig(root), ts, o.loggerOrNop())
}

func (o *options) forestConfig(root string) forest.Config {
	return forest.Config{
		Root:      root,
		Remote:    o.remote,
		Schema:    o.schema,
		Registry:  o.registry,
		Store:     o.store,
		Metrics:   o.metrics,
		Workers:   o.workers,
		RunRate:   o.runRate,
		ClearLogs: o.clearLogs,
	}
}

func (o *options) loggerOrNop() *zap.Logger {
	if o.logger == nil {
		return zap.NewNop()
	}
	return o.logger
}
