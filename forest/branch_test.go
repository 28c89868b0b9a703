package forest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/TheAustinator/dataforest/catalogue"
	"github.com/TheAustinator/dataforest/metadata"
	"github.com/TheAustinator/dataforest/spec"
	"github.com/TheAustinator/dataforest/types"
)

func TestNewBranch_Validation(t *testing.T) {
	_, err := NewBranch(Config{}, testBranchSpec(t), zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Equal(t, types.ErrConfigInvalid, types.GetErrorCode(err))

	_, err = NewBranch(testConfig(t, t.TempDir()), nil, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Equal(t, types.ErrSpecInvalid, types.GetErrorCode(err))
}

func TestBranch_PathResolution(t *testing.T) {
	root := newTestRoot(t)
	b := newTestBranch(t, testConfig(t, root))
	ctx := context.Background()

	normPath, err := b.Path(ctx, "normalize")
	require.NoError(t, err)
	normID, err := b.RunID(ctx, "normalize")
	require.NoError(t, err)
	assert.Len(t, normID, 8)
	assert.Equal(t, filepath.Join(root, "normalize", normID), normPath)

	clusterPath, err := b.Path(ctx, "cluster")
	require.NoError(t, err)
	clusterID, err := b.RunID(ctx, "cluster")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(normPath, "cluster", clusterID), clusterPath)

	// Resolution is stable for the lifetime of the branch.
	again, err := b.Path(ctx, "cluster")
	require.NoError(t, err)
	assert.Equal(t, clusterPath, again)

	_, err = b.RunID(ctx, spec.RootName)
	require.Error(t, err)
	assert.Equal(t, types.ErrProcessNotFound, types.GetErrorCode(err))
}

func TestBranch_CataloguedRunIDReused(t *testing.T) {
	root := newTestRoot(t)
	config := testConfig(t, root)

	seed := newTestBranch(t, config)
	ctx := context.Background()
	rs, ok := seed.Spec().Get("normalize")
	require.True(t, ok)

	store := catalogue.NewFileStore(root, zaptest.NewLogger(t))
	require.NoError(t, store.Append(ctx, "normalize", rs.String(), "cafe0123"))

	b := newTestBranch(t, config)
	id, err := b.RunID(ctx, "normalize")
	require.NoError(t, err)
	assert.Equal(t, "cafe0123", id)

	p, err := b.Path(ctx, "normalize")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "normalize", "cafe0123"), p)
}

func TestBranch_Paths(t *testing.T) {
	root := newTestRoot(t)
	b := newTestBranch(t, testConfig(t, root))
	ctx := context.Background()

	paths, err := b.Paths(ctx)
	require.NoError(t, err)
	require.Len(t, paths, 3)
	assert.Equal(t, root, paths[spec.RootName])
	assert.Contains(t, paths, "normalize")
	assert.Contains(t, paths, "cluster")
}

func TestBranch_PathsExist(t *testing.T) {
	root := newTestRoot(t)
	b := newTestBranch(t, testConfig(t, root))
	ctx := context.Background()

	// Nothing has run, so only the root maps to a directory.
	paths, err := b.PathsExist(ctx)
	require.NoError(t, err)
	assert.Equal(t, root, paths[spec.RootName])
	assert.Empty(t, paths["normalize"])
	assert.Empty(t, paths["cluster"])

	// Building the normalize run dir creates its process dir, which is what
	// the existence check keys on. The cluster process dir still does not
	// exist inside it.
	normPath, err := b.Path(ctx, "normalize")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(normPath, 0o755))

	paths, err = b.PathsExist(ctx)
	require.NoError(t, err)
	assert.Equal(t, normPath, paths["normalize"])
	assert.Empty(t, paths["cluster"])

	clusterPath, err := b.Path(ctx, "cluster")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(clusterPath), 0o755))

	paths, err = b.PathsExist(ctx)
	require.NoError(t, err)
	assert.Equal(t, clusterPath, paths["cluster"])
}

func TestBranch_InputDir(t *testing.T) {
	root := newTestRoot(t)
	b := newTestBranch(t, testConfig(t, root))
	ctx := context.Background()

	dir, err := b.InputDir(ctx, "normalize")
	require.NoError(t, err)
	assert.Equal(t, root, dir)

	normPath, err := b.Path(ctx, "normalize")
	require.NoError(t, err)
	dir, err = b.InputDir(ctx, "cluster")
	require.NoError(t, err)
	assert.Equal(t, normPath, dir)

	_, err = b.InputDir(ctx, "umap")
	require.Error(t, err)
	assert.Equal(t, types.ErrProcessNotFound, types.GetErrorCode(err))
}

func TestBranch_GotoProcess(t *testing.T) {
	b := newTestBranch(t, testConfig(t, newTestRoot(t)))

	assert.Equal(t, spec.RootName, b.Current())
	require.NoError(t, b.GotoProcess("cluster"))
	assert.Equal(t, "cluster", b.Current())

	err := b.GotoProcess("umap")
	require.Error(t, err)
	assert.Equal(t, types.ErrProcessNotFound, types.GetErrorCode(err))
	assert.Equal(t, "cluster", b.Current())
}

func TestBranch_Meta_AppliesChainOps(t *testing.T) {
	root := newTestRoot(t)
	config := testConfig(t, root)

	bs, err := spec.NewBranchSpec([]*spec.RunSpec{
		{Process: "normalize", Subset: map[string]any{"condition": "control"}},
		{Process: "cluster", Filter: map[string]any{"sample": "S2"}},
	})
	require.NoError(t, err)
	b, err := NewBranch(config, bs, zaptest.NewLogger(t))
	require.NoError(t, err)
	ctx := context.Background()

	// At the root the frame is untouched.
	frame, err := b.Meta(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, frame.Len())

	// normalize keeps the control samples.
	frame, err = b.MetaAt(ctx, "normalize")
	require.NoError(t, err)
	require.Equal(t, 2, frame.Len())
	col, _ := frame.Column("sample")
	assert.Equal(t, []string{"S1", "S2"}, col)

	// cluster additionally drops S2.
	require.NoError(t, b.GotoProcess("cluster"))
	frame, err = b.Meta(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, frame.Len())
	sample, _ := frame.Cell(0, "sample")
	assert.Equal(t, "S1", sample)
}

func TestBranch_SetPartition(t *testing.T) {
	root := newTestRoot(t)
	config := testConfig(t, root)

	bs, err := spec.NewBranchSpec([]*spec.RunSpec{
		{Process: "normalize"},
		{Process: "cluster", Partition: []string{"condition"}},
	})
	require.NoError(t, err)
	b, err := NewBranch(config, bs, zaptest.NewLogger(t))
	require.NoError(t, err)
	ctx := context.Background()

	err = b.SetPartition("normalize")
	require.Error(t, err)
	assert.Equal(t, types.ErrPartitionMissing, types.GetErrorCode(err))

	require.NoError(t, b.SetPartition("cluster"))
	frame, err := b.Meta(ctx)
	require.NoError(t, err)
	require.True(t, frame.HasColumn(metadata.PartitionColumn))
	label, _ := frame.Cell(0, metadata.PartitionColumn)
	assert.Equal(t, "control", label)

	// Clearing the partition drops the label column.
	require.NoError(t, b.SetPartition(""))
	frame, err = b.Meta(ctx)
	require.NoError(t, err)
	assert.False(t, frame.HasColumn(metadata.PartitionColumn))
}

func TestBranch_Meta_MissingRoot(t *testing.T) {
	b := newTestBranch(t, testConfig(t, t.TempDir()))
	_, err := b.Meta(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.ErrMetadataRead, types.GetErrorCode(err))
}

func TestBranch_Fork(t *testing.T) {
	root := newTestRoot(t)
	b := newTestBranch(t, testConfig(t, root))
	ctx := context.Background()
	require.NoError(t, b.GotoProcess("normalize"))

	normID, err := b.RunID(ctx, "normalize")
	require.NoError(t, err)

	forkSpec, err := spec.NewBranchSpec([]*spec.RunSpec{
		{Process: "normalize", Params: map[string]any{"min_genes": 200}},
		{Process: "cluster", Params: map[string]any{"resolution": 1.2}},
	})
	require.NoError(t, err)

	forked, err := b.Fork(forkSpec)
	require.NoError(t, err)
	assert.Equal(t, "normalize", forked.Current())
	assert.Equal(t, root, forked.Root())

	// The fork resolves its own run ids against the shared catalogue, so an
	// uncatalogued precursor diverges while the spec text matches.
	forkNormID, err := forked.RunID(ctx, "normalize")
	require.NoError(t, err)
	assert.Len(t, forkNormID, 8)
	assert.NotEqual(t, normID, forkNormID)

	_, err = b.Fork(nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrSpecInvalid, types.GetErrorCode(err))
}
