package forest

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/TheAustinator/dataforest/internal/metrics"
	"github.com/TheAustinator/dataforest/process"
	"github.com/TheAustinator/dataforest/spec"
	"github.com/TheAustinator/dataforest/types"
)

const treeYAML = `
- _PROCESS_: normalize
  _PARAMS_:
    min_genes:
      _SWEEP_:
        - 200
        - 500
- _PROCESS_: cluster
  _PARAMS_:
    resolution: 0.8
`

// countingRegistry registers normalize and cluster with atomic run counters,
// safe for concurrent branch execution.
func countingRegistry(t *testing.T, normCalls, clusterCalls *atomic.Int32) *process.Registry {
	t.Helper()
	counted := func(counter *atomic.Int32, file string) process.Func {
		return func(ctx context.Context, run process.Run) error {
			counter.Add(1)
			data := []byte(run.Process() + " output\n")
			return os.WriteFile(filepath.Join(run.OutputDir(), file), data, 0o644)
		}
	}
	reg := process.NewRegistry()
	require.NoError(t, reg.Register(&process.Definition{
		Name: "normalize",
		Func: counted(normCalls, "matrix.tsv"),
	}))
	require.NoError(t, reg.Register(&process.Definition{
		Name:     "cluster",
		Requires: "normalize",
		Func:     counted(clusterCalls, "assignments.tsv"),
	}))
	return reg
}

func newTestTree(t *testing.T, config Config) *Tree {
	t.Helper()
	ts, err := spec.TreeFromYAML([]byte(treeYAML))
	require.NoError(t, err)
	tree, err := NewTree(config, ts, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(tree.Close)
	return tree
}

func TestNewTree_Validation(t *testing.T) {
	_, err := NewTree(testConfig(t, t.TempDir()), nil, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Equal(t, types.ErrSpecInvalid, types.GetErrorCode(err))

	ts, err := spec.TreeFromYAML([]byte(treeYAML))
	require.NoError(t, err)
	_, err = NewTree(Config{}, ts, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Equal(t, types.ErrConfigInvalid, types.GetErrorCode(err))
}

func TestTree_Expansion(t *testing.T) {
	tree := newTestTree(t, testConfig(t, newTestRoot(t)))

	assert.Equal(t, 2, tree.Len())
	assert.Equal(t, []string{"normalize", "cluster"}, tree.Spec().ProcessOrder())

	branches, err := tree.Branches(context.Background())
	require.NoError(t, err)
	require.Len(t, branches, 2)
	assert.NotEqual(t, branches[0].Spec().String(), branches[1].Spec().String())

	// Branch instances are stable across calls.
	again, err := tree.Branches(context.Background())
	require.NoError(t, err)
	assert.Same(t, branches[0], again[0])
}

func TestTree_Status_BeforeRun(t *testing.T) {
	tree := newTestTree(t, testConfig(t, newTestRoot(t)))

	status, err := tree.Status(context.Background())
	require.NoError(t, err)
	require.Contains(t, status, "normalize")
	require.Contains(t, status, "cluster")
	assert.Equal(t, StatusCounts{Branches: 2}, status["normalize"])
	assert.Equal(t, StatusCounts{Branches: 2}, status["cluster"])
}

func TestTree_RunAll(t *testing.T) {
	root := newTestRoot(t)
	var normCalls, clusterCalls atomic.Int32
	config := Config{
		Root:     root,
		Schema:   testSchema(),
		Registry: countingRegistry(t, &normCalls, &clusterCalls),
		Metrics:  metrics.NewCollector("dataforest_tree_test", zaptest.NewLogger(t)),
		Workers:  2,
	}
	tree := newTestTree(t, config)
	ctx := context.Background()

	require.NoError(t, tree.RunAll(ctx))
	assert.Equal(t, int32(2), normCalls.Load())
	assert.Equal(t, int32(2), clusterCalls.Load())

	// Each branch's cluster run nests under its own normalize run.
	branches, err := tree.Branches(ctx)
	require.NoError(t, err)
	for _, b := range branches {
		normDir, err := b.Path(ctx, "normalize")
		require.NoError(t, err)
		clusterDir, err := b.Path(ctx, "cluster")
		require.NoError(t, err)
		assert.Equal(t, normDir, filepath.Dir(filepath.Dir(clusterDir)))
		assert.True(t, runSuccess(normDir))
		assert.True(t, runSuccess(clusterDir))
	}

	status, err := tree.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusCounts{Branches: 2, Done: 2, Success: 2}, status["normalize"])
	assert.Equal(t, StatusCounts{Branches: 2, Done: 2, Success: 2}, status["cluster"])

	// A second pass sees every run done and executes nothing.
	require.NoError(t, tree.RunAll(ctx))
	assert.Equal(t, int32(2), normCalls.Load())
	assert.Equal(t, int32(2), clusterCalls.Load())
}

func TestTree_Run_RateLimited(t *testing.T) {
	root := newTestRoot(t)
	var normCalls, clusterCalls atomic.Int32
	config := Config{
		Root:     root,
		Schema:   testSchema(),
		Registry: countingRegistry(t, &normCalls, &clusterCalls),
		RunRate:  100,
	}
	tree := newTestTree(t, config)

	require.NoError(t, tree.Run(context.Background(), "normalize"))
	assert.Equal(t, int32(2), normCalls.Load())
}

func TestTree_Run_UnknownProcess(t *testing.T) {
	tree := newTestTree(t, testConfig(t, newTestRoot(t)))

	err := tree.Run(context.Background(), "umap")
	require.Error(t, err)
	assert.Equal(t, types.ErrProcessNotFound, types.GetErrorCode(err))
}

func TestTree_Run_FailureStopsChain(t *testing.T) {
	root := newTestRoot(t)
	config := testConfig(t, root)
	reg := process.NewRegistry()
	require.NoError(t, reg.Register(&process.Definition{
		Name: "normalize",
		Func: func(ctx context.Context, run process.Run) error {
			return types.NewError(types.ErrProcessFailed, "no counts")
		},
	}))
	require.NoError(t, reg.Register(&process.Definition{
		Name:     "cluster",
		Requires: "normalize",
		Func:     writeOutputs(nil, "assignments.tsv"),
	}))
	config.Registry = reg
	tree := newTestTree(t, config)

	err := tree.RunAll(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.ErrProcessFailed, types.GetErrorCode(err))

	// The first failure cancels the remaining branches, so at least one
	// normalize run failed and the cluster phase never started.
	status, statusErr := tree.Status(context.Background())
	require.NoError(t, statusErr)
	assert.GreaterOrEqual(t, status["normalize"].Failed, 1)
	assert.Zero(t, status["cluster"].Done)
}
