package artifacts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/TheAustinator/dataforest/internal/metrics"
	"github.com/TheAustinator/dataforest/types"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}

func TestChecksum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.tsv")
	writeFile(t, path, "sample\tdonor\nS1\tD1\n")

	sum, err := Checksum(path)
	require.NoError(t, err)
	assert.Len(t, sum, 64)

	again, err := Checksum(path)
	require.NoError(t, err)
	assert.Equal(t, sum, again)

	_, err = Checksum(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Equal(t, types.ErrStorage, types.GetErrorCode(err))
}

func TestCopier_Copy(t *testing.T) {
	srcRoot := t.TempDir()
	dstRoot := t.TempDir()
	src := filepath.Join(srcRoot, "normalize", "aaaa1111", "matrix.tsv")
	dst := filepath.Join(dstRoot, "normalize", "aaaa1111", "matrix.tsv")
	writeFile(t, src, "sample\tvalue\nS1\t1.5\n")

	copier := NewCopier(zaptest.NewLogger(t), nil)
	entry, err := copier.Copy(context.Background(), DirectionPush, src, dst)
	require.NoError(t, err)

	assert.Equal(t, int64(len("sample\tvalue\nS1\t1.5\n")), entry.Size)
	assert.Len(t, entry.Checksum, 64)
	assert.False(t, entry.CopiedAt.IsZero())

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "sample\tvalue\nS1\t1.5\n", string(got))

	// No temp file left behind.
	_, err = os.Stat(dst + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestCopier_Copy_MissingSource(t *testing.T) {
	copier := NewCopier(zaptest.NewLogger(t), nil)
	_, err := copier.Copy(context.Background(), DirectionPush,
		filepath.Join(t.TempDir(), "missing"), filepath.Join(t.TempDir(), "out"))
	require.Error(t, err)
	assert.Equal(t, types.ErrStorage, types.GetErrorCode(err))
}

func TestCopier_Copy_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	copier := NewCopier(zaptest.NewLogger(t), nil)
	_, err := copier.Copy(ctx, DirectionPush, "irrelevant", "irrelevant")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCopier_CopyAll(t *testing.T) {
	srcRoot := t.TempDir()
	dstRoot := t.TempDir()

	var pairs []CopyPair
	for i := 0; i < 8; i++ {
		rel := filepath.Join("cluster", "bbbb2222", fmt.Sprintf("part_%d.tsv", i))
		src := filepath.Join(srcRoot, rel)
		writeFile(t, src, fmt.Sprintf("sample\tpart\nS%d\t%d\n", i, i))
		pairs = append(pairs, CopyPair{Src: src, Dst: filepath.Join(dstRoot, rel), Rel: rel})
	}

	collector := metrics.NewCollector("dataforest_copyall_test", zaptest.NewLogger(t))
	copier := NewCopier(zaptest.NewLogger(t), collector).WithWorkers(3)

	manifest, err := copier.CopyAll(context.Background(), DirectionPull, pairs)
	require.NoError(t, err)
	require.Len(t, manifest.Entries, 8)

	// Every destination file arrived intact.
	require.NoError(t, manifest.Verify(dstRoot))

	// Corrupting a file makes verification fail with a checksum error.
	tampered := filepath.Join(dstRoot, manifest.Paths()[0])
	require.NoError(t, os.WriteFile(tampered, []byte("tampered"), 0o644))
	err = manifest.Verify(dstRoot)
	require.Error(t, err)
	assert.Equal(t, types.ErrChecksum, types.GetErrorCode(err))
}

func TestCopier_CopyAll_FailsOnMissing(t *testing.T) {
	dstRoot := t.TempDir()
	pairs := []CopyPair{{
		Src: filepath.Join(t.TempDir(), "missing.tsv"),
		Dst: filepath.Join(dstRoot, "missing.tsv"),
		Rel: "missing.tsv",
	}}

	copier := NewCopier(zaptest.NewLogger(t), nil)
	_, err := copier.CopyAll(context.Background(), DirectionPush, pairs)
	require.Error(t, err)
}

func TestManifest_SaveLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ManifestFileName)

	m := NewManifest()
	m.Add("normalize/aaaa1111/matrix.tsv", ManifestEntry{Size: 42, Checksum: "abc"})
	m.Add("cluster/bbbb2222/labels.tsv", ManifestEntry{Size: 7, Checksum: "def"})
	require.NoError(t, m.Save(path))

	loaded, err := LoadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"cluster/bbbb2222/labels.tsv",
		"normalize/aaaa1111/matrix.tsv",
	}, loaded.Paths())
	assert.Equal(t, "normalize/aaaa1111/matrix.tsv",
		loaded.Entries["normalize/aaaa1111/matrix.tsv"].Path)
}

func TestLoadManifest_Missing(t *testing.T) {
	m, err := LoadManifest(filepath.Join(t.TempDir(), ManifestFileName))
	require.NoError(t, err)
	assert.Empty(t, m.Entries)
}
