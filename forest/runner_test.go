package forest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/TheAustinator/dataforest/catalogue"
	"github.com/TheAustinator/dataforest/metadata"
	"github.com/TheAustinator/dataforest/process"
	"github.com/TheAustinator/dataforest/spec"
	"github.com/TheAustinator/dataforest/types"
)

func newTestRunner(t *testing.T, config Config) *Runner {
	t.Helper()
	r, err := NewRunner(config, zaptest.NewLogger(t))
	require.NoError(t, err)
	return r
}

func TestRunner_Run_Success(t *testing.T) {
	root := newTestRoot(t)
	config := testConfig(t, root)
	b := newTestBranch(t, config)
	runner := newTestRunner(t, config)
	ctx := context.Background()

	require.NoError(t, runner.Run(ctx, b, "normalize"))

	runDir, err := b.Path(ctx, "normalize")
	require.NoError(t, err)
	runID, err := b.RunID(ctx, "normalize")
	require.NoError(t, err)

	// The process output landed in the run dir.
	assert.FileExists(t, filepath.Join(runDir, "matrix.tsv"))

	// The lifecycle left its bookkeeping: the spec stored, the incomplete
	// marker removed, the metadata materialized, and the run logged.
	data, err := os.ReadFile(filepath.Join(runDir, catalogue.RunSpecFileName))
	require.NoError(t, err)
	stored, err := spec.DecodeRunSpecYAML(data)
	require.NoError(t, err)
	want, _ := b.Spec().Get("normalize")
	assert.Equal(t, want.String(), stored.String())

	assert.NoFileExists(t, filepath.Join(runDir, IncompleteFileName))

	frame, err := metadata.ReadTSVFile(filepath.Join(runDir, MetaFileName))
	require.NoError(t, err)
	assert.Equal(t, 4, frame.Len())

	log, err := os.ReadFile(filepath.Join(runDir, LogsDirName, ProcessLogFileName))
	require.NoError(t, err)
	assert.Contains(t, string(log), "process started")
	assert.Contains(t, string(log), "process finished")

	// The run id is catalogued under the canonical spec string.
	store := catalogue.NewFileStore(root, zaptest.NewLogger(t))
	got, found, err := store.Lookup(ctx, "normalize", want.String())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, runID, got)

	node, err := b.Node("normalize")
	require.NoError(t, err)
	done, err := node.Done(ctx)
	require.NoError(t, err)
	assert.True(t, done)
	success, err := node.Success(ctx)
	require.NoError(t, err)
	assert.True(t, success)
	failed, err := node.Failed(ctx)
	require.NoError(t, err)
	assert.False(t, failed)
}

func TestRunner_Run_ProcessEnv(t *testing.T) {
	root := newTestRoot(t)
	config := testConfig(t, root)

	var gotInput, gotOutput string
	var gotRows int
	var gotParams map[string]any
	reg := process.NewRegistry()
	require.NoError(t, reg.Register(&process.Definition{
		Name: "normalize",
		Func: func(ctx context.Context, run process.Run) error {
			gotInput = run.InputDir()
			gotOutput = run.OutputDir()
			gotRows = run.Meta().Len()
			gotParams = run.Params()
			run.Logger().Info("normalizing counts")
			return os.WriteFile(filepath.Join(run.OutputDir(), "matrix.tsv"), []byte("x"), 0o644)
		},
	}))
	config.Registry = reg

	bs, err := spec.NewBranchSpec([]*spec.RunSpec{
		{Process: "normalize", Params: map[string]any{"min_genes": 200}, Subset: map[string]any{"condition": "treated"}},
	})
	require.NoError(t, err)
	b, err := NewBranch(config, bs, zaptest.NewLogger(t))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, newTestRunner(t, config).Run(ctx, b, "normalize"))

	runDir, err := b.Path(ctx, "normalize")
	require.NoError(t, err)
	assert.Equal(t, root, gotInput)
	assert.Equal(t, runDir, gotOutput)
	assert.Equal(t, 2, gotRows)
	assert.Equal(t, map[string]any{"min_genes": 200}, gotParams)

	// The subset carries into the stored metadata.
	frame, err := metadata.ReadTSVFile(filepath.Join(runDir, MetaFileName))
	require.NoError(t, err)
	assert.Equal(t, 2, frame.Len())
}

func TestRunner_Run_BodyFailure(t *testing.T) {
	root := newTestRoot(t)
	config := testConfig(t, root)
	reg := process.NewRegistry()
	require.NoError(t, reg.Register(&process.Definition{
		Name: "normalize",
		Func: func(ctx context.Context, run process.Run) error {
			return errors.New("matrix is singular")
		},
	}))
	config.Registry = reg

	bs, err := spec.NewBranchSpec([]*spec.RunSpec{{Process: "normalize"}})
	require.NoError(t, err)
	b, err := NewBranch(config, bs, zaptest.NewLogger(t))
	require.NoError(t, err)
	ctx := context.Background()

	err = newTestRunner(t, config).Run(ctx, b, "normalize")
	require.Error(t, err)
	assert.Equal(t, types.ErrProcessFailed, types.GetErrorCode(err))

	runDir, err := b.Path(ctx, "normalize")
	require.NoError(t, err)

	// The failure is recorded and the incomplete marker still comes off, so
	// the run reads as done and failed rather than in progress.
	errFile, readErr := os.ReadFile(filepath.Join(runDir, LogsDirName, ProcessErrFileName))
	require.NoError(t, readErr)
	assert.Contains(t, string(errFile), "matrix is singular")
	assert.NoFileExists(t, filepath.Join(runDir, IncompleteFileName))

	assert.True(t, runDone(runDir))
	assert.True(t, runFailed(runDir))
	assert.False(t, runSuccess(runDir))

	// No metadata materializes for a failed run.
	assert.NoFileExists(t, filepath.Join(runDir, MetaFileName))
}

func TestRunner_Run_InputMissing(t *testing.T) {
	root := newTestRoot(t)
	config := testConfig(t, root)
	b := newTestBranch(t, config)
	ctx := context.Background()

	// cluster's input dir is the normalize run dir, which does not exist.
	err := newTestRunner(t, config).Run(ctx, b, "cluster")
	require.Error(t, err)
	assert.Equal(t, types.ErrHookFailed, types.GetErrorCode(err))
	assert.ErrorContains(t, err, "input_exists")

	// The input check fails before any directory is created.
	runDir, err := b.Path(ctx, "cluster")
	require.NoError(t, err)
	assert.NoDirExists(t, runDir)
}

func TestRunner_Run_RequiresMismatch(t *testing.T) {
	root := newTestRoot(t)
	config := testConfig(t, root)
	reg := process.NewRegistry()
	require.NoError(t, reg.Register(&process.Definition{
		Name:     "cluster",
		Requires: "normalize",
		Func:     writeOutputs(nil, "assignments.tsv"),
	}))
	config.Registry = reg

	// The spec puts cluster directly on root data.
	bs, err := spec.NewBranchSpec([]*spec.RunSpec{{Process: "cluster"}})
	require.NoError(t, err)
	b, err := NewBranch(config, bs, zaptest.NewLogger(t))
	require.NoError(t, err)

	err = newTestRunner(t, config).Run(context.Background(), b, "cluster")
	require.Error(t, err)
	assert.Equal(t, types.ErrHookFailed, types.GetErrorCode(err))
	assert.ErrorContains(t, err, "requires normalize")
}

func TestRunner_Run_Comparative(t *testing.T) {
	root := newTestRoot(t)
	config := testConfig(t, root)

	var labels []string
	reg := process.NewRegistry()
	require.NoError(t, reg.Register(&process.Definition{
		Name:        "markers",
		Comparative: true,
		Func: func(ctx context.Context, run process.Run) error {
			labels, _ = run.Meta().Column(metadata.PartitionColumn)
			return os.WriteFile(filepath.Join(run.OutputDir(), "markers.tsv"), []byte("x"), 0o644)
		},
	}))
	config.Registry = reg

	// Without a partition the run is rejected before it starts.
	bare, err := spec.NewBranchSpec([]*spec.RunSpec{{Process: "markers"}})
	require.NoError(t, err)
	b, err := NewBranch(config, bare, zaptest.NewLogger(t))
	require.NoError(t, err)
	err = newTestRunner(t, config).Run(context.Background(), b, "markers")
	require.Error(t, err)
	assert.Equal(t, types.ErrHookFailed, types.GetErrorCode(err))
	assert.ErrorContains(t, err, spec.KeyPartition)

	// With one, the process sees partition labels on its metadata.
	partitioned, err := spec.NewBranchSpec([]*spec.RunSpec{
		{Process: "markers", Partition: []string{"condition"}},
	})
	require.NoError(t, err)
	b, err = NewBranch(config, partitioned, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, newTestRunner(t, config).Run(context.Background(), b, "markers"))
	assert.Equal(t, []string{"control", "control", "treated", "treated"}, labels)
}

func TestRunner_Run_TempMeta(t *testing.T) {
	root := newTestRoot(t)
	config := testConfig(t, root)
	reg := process.NewRegistry()
	require.NoError(t, reg.Register(&process.Definition{
		Name:     "normalize",
		TempMeta: true,
		Func:     writeOutputs(nil, "matrix.tsv"),
	}))
	config.Registry = reg

	bs, err := spec.NewBranchSpec([]*spec.RunSpec{{Process: "normalize"}})
	require.NoError(t, err)
	b, err := NewBranch(config, bs, zaptest.NewLogger(t))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, newTestRunner(t, config).Run(ctx, b, "normalize"))

	runDir, err := b.Path(ctx, "normalize")
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(runDir, MetaFileName))
	assert.True(t, runDone(runDir))
	assert.False(t, runSuccess(runDir))
}

func TestRunner_Run_CatalogueConflict(t *testing.T) {
	root := newTestRoot(t)
	config := testConfig(t, root)
	b := newTestBranch(t, config)
	ctx := context.Background()

	// Resolve paths first so the branch commits to a generated run id, then
	// catalogue the spec under a different id behind its back.
	_, err := b.RunID(ctx, "normalize")
	require.NoError(t, err)
	rs, _ := b.Spec().Get("normalize")
	store := catalogue.NewFileStore(root, zaptest.NewLogger(t))
	require.NoError(t, store.Append(ctx, "normalize", rs.String(), "feed5678"))

	err = newTestRunner(t, config).Run(ctx, b, "normalize")
	require.Error(t, err)
	assert.Equal(t, types.ErrHookFailed, types.GetErrorCode(err))
	assert.ErrorContains(t, err, "catalogue")

	// The hook failure lands in hooks.err, so the run dir reads as failed.
	runDir, err := b.Path(ctx, "normalize")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(runDir, LogsDirName, HooksErrFileName))
	assert.True(t, runFailed(runDir))
}

func TestRunner_Run_ClearLogs(t *testing.T) {
	root := newTestRoot(t)
	config := testConfig(t, root)
	config.ClearLogs = true
	b := newTestBranch(t, config)
	ctx := context.Background()

	require.NoError(t, newTestRunner(t, config).Run(ctx, b, "normalize"))

	runDir, err := b.Path(ctx, "normalize")
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(runDir, LogsDirName, ProcessLogFileName))

	// The empty logs dir still marks the run as done.
	assert.DirExists(t, filepath.Join(runDir, LogsDirName))
	assert.True(t, runDone(runDir))
}

func TestRunner_Run_UnknownProcess(t *testing.T) {
	config := testConfig(t, newTestRoot(t))
	b := newTestBranch(t, config)
	runner := newTestRunner(t, config)
	ctx := context.Background()

	err := runner.Run(ctx, b, "umap")
	require.Error(t, err)
	assert.Equal(t, types.ErrProcessNotFound, types.GetErrorCode(err))

	err = runner.Run(ctx, b, spec.RootName)
	require.Error(t, err)
	assert.Equal(t, types.ErrProcessNotFound, types.GetErrorCode(err))

	err = runner.Run(ctx, nil, "normalize")
	require.Error(t, err)
	assert.Equal(t, types.ErrInternalError, types.GetErrorCode(err))
}

func TestRunner_Run_UnregisteredProcess(t *testing.T) {
	config := testConfig(t, newTestRoot(t))
	config.Registry = process.NewRegistry()
	b := newTestBranch(t, config)

	err := newTestRunner(t, config).Run(context.Background(), b, "normalize")
	require.Error(t, err)
	assert.Equal(t, types.ErrProcessNotFound, types.GetErrorCode(err))
}

func TestRunner_RunBranch(t *testing.T) {
	root := newTestRoot(t)
	var normCalls, clusterCalls int
	config := Config{
		Root:     root,
		Schema:   testSchema(),
		Registry: testRegistry(t, &normCalls, &clusterCalls),
	}
	b := newTestBranch(t, config)
	runner := newTestRunner(t, config)
	ctx := context.Background()

	require.NoError(t, runner.RunBranch(ctx, b))
	assert.Equal(t, 1, normCalls)
	assert.Equal(t, 1, clusterCalls)

	clusterDir, err := b.Path(ctx, "cluster")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(clusterDir, "assignments.tsv"))
	assert.DirExists(t, filepath.Join(clusterDir, PlotsDirName))
	assert.True(t, runSuccess(clusterDir))

	// A second pass finds both runs done and executes nothing.
	require.NoError(t, runner.RunBranch(ctx, b))
	assert.Equal(t, 1, normCalls)
	assert.Equal(t, 1, clusterCalls)
}

func TestRunner_RunBranch_StopsOnFailure(t *testing.T) {
	root := newTestRoot(t)
	config := testConfig(t, root)

	var clusterCalls int
	reg := process.NewRegistry()
	require.NoError(t, reg.Register(&process.Definition{
		Name: "normalize",
		Func: func(ctx context.Context, run process.Run) error {
			return errors.New("negative counts")
		},
	}))
	require.NoError(t, reg.Register(&process.Definition{
		Name:     "cluster",
		Requires: "normalize",
		Func:     writeOutputs(&clusterCalls, "assignments.tsv"),
	}))
	config.Registry = reg
	b := newTestBranch(t, config)

	err := newTestRunner(t, config).RunBranch(context.Background(), b)
	require.Error(t, err)
	assert.Equal(t, types.ErrProcessFailed, types.GetErrorCode(err))
	assert.Zero(t, clusterCalls)
}
