package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/TheAustinator/dataforest/internal/metrics"
	"github.com/TheAustinator/dataforest/internal/pool"
	"github.com/TheAustinator/dataforest/types"
)

// Copy directions recorded in metrics and manifests.
const (
	DirectionPush = "push"
	DirectionPull = "pull"
)

// ManifestFileName is the copy manifest recorded at the target root by push
// and pull merges.
const ManifestFileName = "manifest.json"

// ManifestEntry records one copied artifact.
type ManifestEntry struct {
	Path     string    `json:"path"`
	Size     int64     `json:"size"`
	Checksum string    `json:"checksum"`
	CopiedAt time.Time `json:"copied_at"`
}

// Manifest indexes copied artifacts by destination path relative to the
// target root.
type Manifest struct {
	Entries map[string]ManifestEntry `json:"entries"`
}

// NewManifest returns an empty manifest.
func NewManifest() *Manifest {
	return &Manifest{Entries: make(map[string]ManifestEntry)}
}

// LoadManifest reads a manifest file. A missing file yields an empty
// manifest.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return NewManifest(), nil
	}
	if err != nil {
		return nil, types.NewError(types.ErrStorage, "failed to read manifest").WithCause(err)
	}
	m := NewManifest()
	if err := json.Unmarshal(data, m); err != nil {
		return nil, types.NewError(types.ErrStorage, "failed to decode manifest").WithCause(err)
	}
	if m.Entries == nil {
		m.Entries = make(map[string]ManifestEntry)
	}
	return m, nil
}

// Save writes the manifest as indented JSON.
func (m *Manifest) Save(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return types.NewError(types.ErrInternalError, "failed to encode manifest").WithCause(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return types.NewError(types.ErrStorage, "failed to write manifest").WithCause(err)
	}
	return nil
}

// Add records an entry under its root-relative path.
func (m *Manifest) Add(rel string, entry ManifestEntry) {
	entry.Path = rel
	m.Entries[rel] = entry
}

// Paths returns the recorded relative paths in sorted order.
func (m *Manifest) Paths() []string {
	paths := make([]string, 0, len(m.Entries))
	for rel := range m.Entries {
		paths = append(paths, rel)
	}
	sort.Strings(paths)
	return paths
}

// Verify re-hashes every recorded file under root and reports the first
// mismatch.
func (m *Manifest) Verify(root string) error {
	for _, rel := range m.Paths() {
		entry := m.Entries[rel]
		sum, err := Checksum(filepath.Join(root, rel))
		if err != nil {
			return err
		}
		if sum != entry.Checksum {
			return types.NewErrorf(types.ErrChecksum, "artifact %s does not match its manifest checksum", rel)
		}
	}
	return nil
}

// Checksum returns the hex sha256 of the file at path.
func Checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", types.NewError(types.ErrStorage, "failed to open artifact").WithCause(err)
	}
	defer f.Close()

	h := sha256.New()
	buf := pool.CopyBufferPool.Get()
	defer pool.CopyBufferPool.Put(buf)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", types.NewError(types.ErrStorage, "failed to hash artifact").WithCause(err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// CopyPair names one source file and its destination. Rel is the manifest
// key, the destination path relative to the target root.
type CopyPair struct {
	Src string
	Dst string
	Rel string
}

// Copier copies artifact files between forest roots with checksum
// verification and bounded concurrency.
type Copier struct {
	logger  *zap.Logger
	metrics *metrics.Collector
	workers int64
}

// NewCopier creates a copier. The collector may be nil.
func NewCopier(logger *zap.Logger, collector *metrics.Collector) *Copier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Copier{
		logger:  logger.With(zap.String("component", "artifacts")),
		metrics: collector,
		workers: 4,
	}
}

// WithWorkers sets the bound on concurrent copies.
func (c *Copier) WithWorkers(n int) *Copier {
	if n > 0 {
		c.workers = int64(n)
	}
	return c
}

// Copy copies src to dst through a temp file, verifies the destination
// bytes hash to the same sha256 as the stream that was read, and returns
// the manifest entry.
func (c *Copier) Copy(ctx context.Context, direction, src, dst string) (ManifestEntry, error) {
	if err := ctx.Err(); err != nil {
		return ManifestEntry{}, err
	}
	start := time.Now()

	srcF, err := os.Open(src)
	if err != nil {
		return ManifestEntry{}, types.NewError(types.ErrStorage, "failed to open source artifact").WithCause(err)
	}
	defer srcF.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return ManifestEntry{}, types.NewError(types.ErrStorage, "failed to create destination directory").WithCause(err)
	}

	tmp := dst + ".tmp"
	dstF, err := os.Create(tmp)
	if err != nil {
		return ManifestEntry{}, types.NewError(types.ErrStorage, "failed to create destination artifact").WithCause(err)
	}

	h := sha256.New()
	buf := pool.CopyBufferPool.Get()
	size, err := io.CopyBuffer(io.MultiWriter(dstF, h), srcF, buf)
	pool.CopyBufferPool.Put(buf)
	if err != nil {
		dstF.Close()
		os.Remove(tmp)
		return ManifestEntry{}, types.NewError(types.ErrStorage, "artifact copy failed").WithCause(err)
	}
	if err := dstF.Close(); err != nil {
		os.Remove(tmp)
		return ManifestEntry{}, types.NewError(types.ErrStorage, "failed to flush destination artifact").WithCause(err)
	}

	srcSum := hex.EncodeToString(h.Sum(nil))
	dstSum, err := Checksum(tmp)
	if err != nil {
		os.Remove(tmp)
		return ManifestEntry{}, err
	}
	if dstSum != srcSum {
		os.Remove(tmp)
		if c.metrics != nil {
			c.metrics.RecordChecksumFailure()
		}
		return ManifestEntry{}, types.NewErrorf(types.ErrChecksum, "checksum mismatch copying %s", src)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return ManifestEntry{}, types.NewError(types.ErrStorage, "failed to move artifact into place").WithCause(err)
	}

	if c.metrics != nil {
		c.metrics.RecordArtifactCopy(direction, size, time.Since(start))
	}
	c.logger.Debug("copied artifact",
		zap.String("direction", direction),
		zap.String("src", src),
		zap.String("dst", dst),
		zap.Int64("bytes", size))

	return ManifestEntry{
		Path:     dst,
		Size:     size,
		Checksum: srcSum,
		CopiedAt: time.Now(),
	}, nil
}

// CopyAll copies every pair concurrently, bounded by the worker count, and
// records the results in a manifest.
func (c *Copier) CopyAll(ctx context.Context, direction string, pairs []CopyPair) (*Manifest, error) {
	manifest := NewManifest()
	var mu sync.Mutex

	sem := semaphore.NewWeighted(c.workers)
	g, gctx := errgroup.WithContext(ctx)
	for _, pair := range pairs {
		pair := pair
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			entry, err := c.Copy(gctx, direction, pair.Src, pair.Dst)
			if err != nil {
				return err
			}
			rel := pair.Rel
			if rel == "" {
				rel = filepath.Base(pair.Dst)
			}
			mu.Lock()
			manifest.Add(rel, entry)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return manifest, nil
}
