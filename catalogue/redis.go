package catalogue

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/TheAustinator/dataforest/internal/cache"
	"github.com/TheAustinator/dataforest/types"
)

// RedisStore keeps catalogue entries in Redis hashes, one hash per process
// directory. Workers on different hosts share it without a mounted
// filesystem.
type RedisStore struct {
	cache  *cache.Manager
	root   string
	logger *zap.Logger
}

// NewRedisStore creates a store for the tree identified by root. The store
// owns the cache manager and releases it on Close.
func NewRedisStore(cm *cache.Manager, root string, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{
		cache:  cm,
		root:   root,
		logger: logger.With(zap.String("component", "catalogue"), zap.String("backend", "redis")),
	}
}

// Backend names the storage backend.
func (s *RedisStore) Backend() string { return "redis" }

func (s *RedisStore) key(dir string) string {
	return fmt.Sprintf("dataforest:catalogue:%s:%s", s.root, dir)
}

// Lookup returns the run id recorded for specStr in dir.
func (s *RedisStore) Lookup(ctx context.Context, dir, specStr string) (string, bool, error) {
	runID, err := s.cache.HGet(ctx, s.key(dir), specStr)
	if err != nil {
		if cache.IsCacheMiss(err) {
			return "", false, nil
		}
		return "", false, types.NewError(types.ErrStorage, "catalogue lookup failed").WithCause(err)
	}
	return runID, true, nil
}

// Append records specStr resolving to runID. Re-appending the same mapping
// is a no-op; a different run id for the same spec is a conflict. HSETNX
// makes the first writer win across workers on different hosts.
func (s *RedisStore) Append(ctx context.Context, dir, specStr, runID string) error {
	key := s.key(dir)
	set, err := s.cache.HSetNX(ctx, key, specStr, runID)
	if err != nil {
		return types.NewError(types.ErrStorage, "catalogue append failed").WithCause(err)
	}
	if set {
		return nil
	}
	existing, err := s.cache.HGet(ctx, key, specStr)
	if err != nil {
		return types.NewError(types.ErrStorage, "catalogue read failed").WithCause(err)
	}
	if existing == runID {
		return nil
	}
	return types.NewErrorf(types.ErrCatalogueConflict,
		"catalogue %s already maps spec to run %s, refusing %s", dir, existing, runID)
}

// Entries returns every mapping recorded for dir.
func (s *RedisStore) Entries(ctx context.Context, dir string) (map[string]string, error) {
	entries, err := s.cache.HGetAll(ctx, s.key(dir))
	if err != nil {
		return nil, types.NewError(types.ErrStorage, "catalogue list failed").WithCause(err)
	}
	return entries, nil
}

// Remove drops the mapping for specStr in dir.
func (s *RedisStore) Remove(ctx context.Context, dir, specStr string) error {
	if err := s.cache.HDel(ctx, s.key(dir), specStr); err != nil {
		return types.NewError(types.ErrStorage, "catalogue delete failed").WithCause(err)
	}
	return nil
}

// Close releases the underlying Redis connection.
func (s *RedisStore) Close() error {
	return s.cache.Close()
}
