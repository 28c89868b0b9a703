package forest

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/TheAustinator/dataforest/internal/cache"
	"github.com/TheAustinator/dataforest/internal/ctxkeys"
	"github.com/TheAustinator/dataforest/internal/pool"
	"github.com/TheAustinator/dataforest/spec"
	"github.com/TheAustinator/dataforest/types"
)

// Tree expands a tree spec into branches over one root and runs processes
// across all of them. Branches load lazily, keyed by their canonical spec
// string, so a large sweep only materializes the branches it touches.
type Tree struct {
	config Config
	spec   *spec.TreeSpec
	base   *zap.Logger
	logger *zap.Logger
	runner *Runner

	keys       []string
	specsByKey map[string]*spec.BranchSpec
	branches   *cache.Lazy[string, *Branch]

	workers *pool.GoroutinePool
	limiter *rate.Limiter
}

// StatusCounts summarizes one process across a tree's branches.
type StatusCounts struct {
	Branches int `json:"branches"`
	Done     int `json:"done"`
	Success  int `json:"success"`
	Failed   int `json:"failed"`
}

// NewTree creates a tree over config.Root from an expanded tree spec.
func NewTree(config Config, treeSpec *spec.TreeSpec, logger *zap.Logger) (*Tree, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config, err := config.withDefaults(logger)
	if err != nil {
		return nil, err
	}
	if treeSpec == nil {
		return nil, types.NewError(types.ErrSpecInvalid, "tree requires a tree spec")
	}
	runner, err := NewRunner(config, logger)
	if err != nil {
		return nil, err
	}

	t := &Tree{
		config:     config,
		spec:       treeSpec,
		base:       logger,
		logger:     logger.With(zap.String("component", "tree")),
		runner:     runner,
		specsByKey: make(map[string]*spec.BranchSpec),
	}
	for _, bs := range treeSpec.BranchSpecs() {
		key := bs.String()
		if _, dup := t.specsByKey[key]; dup {
			continue
		}
		t.specsByKey[key] = bs
		t.keys = append(t.keys, key)
	}
	t.branches = cache.NewLazy(t.loadBranch)

	t.workers = pool.NewGoroutinePool(pool.GoroutinePoolConfig{
		MaxWorkers:  config.Workers,
		QueueSize:   max(config.Workers, len(t.keys)),
		IdleTimeout: 30 * time.Second,
	})
	if config.RunRate > 0 {
		t.limiter = rate.NewLimiter(rate.Limit(config.RunRate), 1)
	} else {
		t.limiter = rate.NewLimiter(rate.Inf, 1)
	}

	t.logger.Info("tree expanded",
		zap.Int("branches", len(t.keys)),
		zap.Strings("processes", treeSpec.ProcessOrder()),
	)
	return t, nil
}

// Len returns the number of distinct branches the spec expands to.
func (t *Tree) Len() int {
	return len(t.keys)
}

// SetRunRate changes the launch rate limit on a live tree. Zero lifts the
// limit. Runs already waiting pick up the new rate.
func (t *Tree) SetRunRate(r float64) {
	if r > 0 {
		t.limiter.SetLimit(rate.Limit(r))
	} else {
		t.limiter.SetLimit(rate.Inf)
	}
	t.logger.Info("run rate updated", zap.Float64("run_rate", r))
}

// Spec returns the tree spec.
func (t *Tree) Spec() *spec.TreeSpec {
	return t.spec
}

// Branches returns every branch in expansion order, building any not yet
// loaded.
func (t *Tree) Branches(ctx context.Context) ([]*Branch, error) {
	out := make([]*Branch, 0, len(t.keys))
	for _, key := range t.keys {
		b, err := t.branches.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func (t *Tree) loadBranch(ctx context.Context, key string) (*Branch, error) {
	_ = ctx
	bs, ok := t.specsByKey[key]
	if !ok {
		return nil, types.NewErrorf(types.ErrInternalError, "no branch spec for key %s", key)
	}
	return NewBranch(t.config, bs, t.base)
}

// Run executes the named process on every branch where it is not done yet,
// bounded by the worker pool and the launch rate limit. The first failure
// cancels the remaining runs.
func (t *Tree) Run(ctx context.Context, name string) error {
	branches, err := t.Branches(ctx)
	if err != nil {
		return err
	}

	execID := uuid.New().String()
	ctx = ctxkeys.WithExecutionID(ctx, execID)
	logger := t.logger.With(
		zap.String("execution_id", execID),
		zap.String("process", name),
	)
	logger.Info("tree run started", zap.Int("branches", len(branches)))

	g, gctx := errgroup.WithContext(ctx)
	for _, b := range branches {
		b := b
		g.Go(func() error {
			if err := t.limiter.Wait(gctx); err != nil {
				return err
			}
			return t.workers.SubmitWait(gctx, func(taskCtx context.Context) error {
				return t.runBranch(taskCtx, logger, b, name)
			})
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("tree run failed", zap.Error(err))
		return err
	}
	logger.Info("tree run finished")
	return nil
}

// RunAll runs every process of the tree spec in chain order.
func (t *Tree) RunAll(ctx context.Context) error {
	for _, name := range t.spec.ProcessOrder() {
		if err := t.Run(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// runBranch executes one process on one branch, skipping runs that are
// already done.
func (t *Tree) runBranch(ctx context.Context, logger *zap.Logger, b *Branch, name string) error {
	if !b.Spec().Contains(name) {
		return types.NewErrorf(types.ErrProcessNotFound, "process %s is not in the tree spec", name)
	}
	node, err := b.Node(name)
	if err != nil {
		return err
	}

	if t.config.Metrics != nil {
		t.config.Metrics.BranchStarted()
	}
	start := time.Now()
	status := "success"
	defer func() {
		if t.config.Metrics != nil {
			t.config.Metrics.BranchFinished(status, time.Since(start))
		}
	}()

	done, err := node.Done(ctx)
	if err != nil {
		status = "failed"
		return err
	}
	if done {
		status = "cached"
		if t.config.Metrics != nil {
			t.config.Metrics.RecordRun(node.Process(), "cached", 0)
		}
		logger.Debug("run already done", zap.String("branch", b.Spec().String()))
		return nil
	}

	if err := t.runner.Run(ctx, b, name); err != nil {
		status = "failed"
		return err
	}
	return nil
}

// Status reports per-process completion counts across every branch.
func (t *Tree) Status(ctx context.Context) (map[string]StatusCounts, error) {
	branches, err := t.Branches(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[string]StatusCounts, len(t.spec.ProcessOrder()))
	for _, name := range t.spec.ProcessOrder() {
		counts := StatusCounts{}
		for _, b := range branches {
			if !b.Spec().Contains(name) {
				continue
			}
			counts.Branches++
			dir, err := b.Path(ctx, name)
			if err != nil {
				return nil, err
			}
			if runDone(dir) {
				counts.Done++
			}
			if runSuccess(dir) {
				counts.Success++
			}
			if runFailed(dir) {
				counts.Failed++
			}
		}
		out[name] = counts
	}
	return out, nil
}

// Close stops the tree's workers. The catalogue backend stays open since
// its owner closes it.
func (t *Tree) Close() {
	t.workers.Close()
}
