package catalogue

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/TheAustinator/dataforest/internal/pool"
	"github.com/TheAustinator/dataforest/spec"
	"github.com/TheAustinator/dataforest/types"
)

const catalogueHeader = "run_spec\trun_id"

// FileStore keeps one run_catalogue.tsv per process directory under root.
// Appends within a directory are serialized per process path.
type FileStore struct {
	root   string
	logger *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewFileStore creates a store rooted at the tree's root directory.
func NewFileStore(root string, logger *zap.Logger) *FileStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{
		root:   root,
		logger: logger.With(zap.String("component", "catalogue"), zap.String("backend", "file")),
		locks:  make(map[string]*sync.Mutex),
	}
}

// Backend names the storage backend.
func (s *FileStore) Backend() string { return "file" }

// Root returns the root directory the store resolves paths under.
func (s *FileStore) Root() string { return s.root }

func (s *FileStore) lockFor(dir string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[dir]
	if !ok {
		l = &sync.Mutex{}
		s.locks[dir] = l
	}
	return l
}

func (s *FileStore) cataloguePath(dir string) string {
	return filepath.Join(s.root, dir, CatalogueFileName)
}

// Lookup returns the run id recorded for specStr in dir.
func (s *FileStore) Lookup(ctx context.Context, dir, specStr string) (string, bool, error) {
	entries, err := s.Entries(ctx, dir)
	if err != nil {
		return "", false, err
	}
	runID, ok := entries[specStr]
	return runID, ok, nil
}

// Append records specStr resolving to runID, creating the catalogue file
// with its header on first use.
func (s *FileStore) Append(ctx context.Context, dir, specStr, runID string) error {
	lock := s.lockFor(dir)
	lock.Lock()
	defer lock.Unlock()

	entries, err := s.readEntries(dir)
	if err != nil {
		return err
	}
	if existing, ok := entries[specStr]; ok {
		if existing == runID {
			return nil
		}
		return types.NewErrorf(types.ErrCatalogueConflict,
			"catalogue %s already maps spec to run %s, refusing %s", dir, existing, runID)
	}

	path := s.cataloguePath(dir)
	newFile := len(entries) == 0 && !fileExists(path)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return types.NewError(types.ErrStorage, "failed to create process directory").WithCause(err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return types.NewError(types.ErrStorage, "failed to open catalogue").WithCause(err)
	}
	defer f.Close()

	buf := pool.ByteBufferPool.Get()
	defer pool.ByteBufferPool.Put(buf)
	if newFile {
		buf.WriteString(catalogueHeader)
		buf.WriteByte('\n')
	}
	buf.WriteString(specStr)
	buf.WriteByte('\t')
	buf.WriteString(runID)
	buf.WriteByte('\n')

	if _, err := f.Write(buf.Bytes()); err != nil {
		return types.NewError(types.ErrStorage, "failed to append catalogue entry").WithCause(err)
	}
	return nil
}

// Entries returns every mapping recorded for dir. A missing catalogue file
// yields an empty map.
func (s *FileStore) Entries(ctx context.Context, dir string) (map[string]string, error) {
	lock := s.lockFor(dir)
	lock.Lock()
	defer lock.Unlock()
	return s.readEntries(dir)
}

func (s *FileStore) readEntries(dir string) (map[string]string, error) {
	path := s.cataloguePath(dir)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, types.NewError(types.ErrStorage, "failed to read catalogue").WithCause(err)
	}
	defer f.Close()

	entries := make(map[string]string)
	var dupes map[string][]string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	first := true
	for scanner.Scan() {
		line := scanner.Text()
		if first {
			first = false
			if line == catalogueHeader {
				continue
			}
		}
		if line == "" {
			continue
		}
		idx := strings.LastIndex(line, "\t")
		if idx < 0 {
			s.logger.Warn("skipping malformed catalogue line", zap.String("dir", dir), zap.String("line", line))
			continue
		}
		specStr, runID := line[:idx], line[idx+1:]
		if existing, ok := entries[specStr]; ok {
			if dupes == nil {
				dupes = make(map[string][]string)
			}
			if dupes[specStr] == nil {
				dupes[specStr] = []string{existing}
			}
			dupes[specStr] = append(dupes[specStr], runID)
			continue
		}
		entries[specStr] = runID
	}
	if err := scanner.Err(); err != nil {
		return nil, types.NewError(types.ErrStorage, "failed to scan catalogue").WithCause(err)
	}

	// Repeated rows resolve to the first id. All-equal repeats are a
	// harmless double append; differing ids mean the catalogue diverged.
	for specStr, ids := range dupes {
		if allEqual(ids) {
			s.logger.Warn("duplicate catalogue entries",
				zap.String("dir", dir),
				zap.String("run_id", ids[0]),
				zap.Int("rows", len(ids)))
			continue
		}
		s.logger.Warn("catalogue maps one spec to several run ids, keeping first",
			zap.String("dir", dir),
			zap.String("spec", specStr),
			zap.Strings("run_ids", ids))
	}
	return entries, nil
}

func allEqual(ids []string) bool {
	for _, id := range ids[1:] {
		if id != ids[0] {
			return false
		}
	}
	return true
}

// Remove drops the mapping for specStr and rewrites the catalogue file.
func (s *FileStore) Remove(ctx context.Context, dir, specStr string) error {
	lock := s.lockFor(dir)
	lock.Lock()
	defer lock.Unlock()

	entries, err := s.readEntries(dir)
	if err != nil {
		return err
	}
	if _, ok := entries[specStr]; !ok {
		return nil
	}
	delete(entries, specStr)
	return s.writeEntries(dir, entries)
}

// Rebuild rescans the run directories under dir, reads each run_spec.yaml,
// and rewrites the catalogue from what is actually on disk. Duplicate specs
// keep the first run id in sorted order.
func (s *FileStore) Rebuild(ctx context.Context, dir string) error {
	lock := s.lockFor(dir)
	lock.Lock()
	defer lock.Unlock()

	processDir := filepath.Join(s.root, dir)
	dirEntries, err := os.ReadDir(processDir)
	if err != nil {
		return types.NewError(types.ErrStorage, "failed to read process directory").WithCause(err)
	}

	names := make([]string, 0, len(dirEntries))
	for _, e := range dirEntries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), "_") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	entries := make(map[string]string, len(names))
	for _, runID := range names {
		specPath := filepath.Join(processDir, runID, RunSpecFileName)
		data, err := os.ReadFile(specPath)
		if err != nil {
			if os.IsNotExist(err) {
				s.logger.Warn("run dir has no spec file, skipping",
					zap.String("dir", dir), zap.String("run_id", runID))
				continue
			}
			return types.NewError(types.ErrStorage, "failed to read run spec").WithCause(err)
		}
		rs, err := spec.DecodeRunSpecYAML(data)
		if err != nil {
			return fmt.Errorf("run %s: %w", runID, err)
		}
		specStr := rs.String()
		if existing, dup := entries[specStr]; dup {
			s.logger.Warn("duplicate run spec found during rebuild, keeping first",
				zap.String("dir", dir),
				zap.String("kept", existing),
				zap.String("dropped", runID))
			continue
		}
		entries[specStr] = runID
	}

	return s.writeEntries(dir, entries)
}

// writeEntries atomically replaces the catalogue file.
func (s *FileStore) writeEntries(dir string, entries map[string]string) error {
	path := s.cataloguePath(dir)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return types.NewError(types.ErrStorage, "failed to create process directory").WithCause(err)
	}

	specs := make([]string, 0, len(entries))
	for specStr := range entries {
		specs = append(specs, specStr)
	}
	sort.Strings(specs)

	buf := pool.ByteBufferPool.Get()
	defer pool.ByteBufferPool.Put(buf)
	buf.WriteString(catalogueHeader)
	buf.WriteByte('\n')
	for _, specStr := range specs {
		buf.WriteString(specStr)
		buf.WriteByte('\t')
		buf.WriteString(entries[specStr])
		buf.WriteByte('\n')
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return types.NewError(types.ErrStorage, "failed to write catalogue").WithCause(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return types.NewError(types.ErrStorage, "failed to replace catalogue").WithCause(err)
	}
	return nil
}

// Close is a no-op for the file backend.
func (s *FileStore) Close() error { return nil }

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
