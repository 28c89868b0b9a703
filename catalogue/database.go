package catalogue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/TheAustinator/dataforest/internal/database"
	"github.com/TheAustinator/dataforest/types"
)

// RunRecord is one catalogue row mapping a run spec to the run id it
// resolved to. Process holds the root-relative process directory path; its
// final path element is the process name.
type RunRecord struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Root       string    `gorm:"type:text;not null;uniqueIndex:idx_runs_identity" json:"root"`
	Process    string    `gorm:"type:text;not null;uniqueIndex:idx_runs_identity" json:"process"`
	RunID      string    `gorm:"column:run_id;size:8;not null;index:idx_runs_lookup" json:"runId"`
	SpecStr    string    `gorm:"column:spec_str;type:text;not null" json:"specStr"`
	SpecDigest string    `gorm:"column:spec_digest;size:64;not null;uniqueIndex:idx_runs_identity" json:"specDigest"`
	State      string    `gorm:"size:16;not null;default:unknown" json:"state"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// TableName maps the model to the runs table.
func (RunRecord) TableName() string { return "runs" }

// SpecDigest returns the hex sha256 of a canonical spec string. Rows are
// matched by digest; spec strings grow too long for index keys.
func SpecDigest(specStr string) string {
	sum := sha256.Sum256([]byte(specStr))
	return hex.EncodeToString(sum[:])
}

// DatabaseStore keeps catalogue entries in a relational database shared by
// every worker of a distributed tree run.
type DatabaseStore struct {
	pm      *database.PoolManager
	root    string
	retries int
	logger  *zap.Logger
}

// NewDatabaseStore creates a store for the tree identified by root. The
// store owns the pool manager and releases it on Close.
func NewDatabaseStore(pm *database.PoolManager, root string, logger *zap.Logger) *DatabaseStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DatabaseStore{
		pm:      pm,
		root:    root,
		retries: 3,
		logger:  logger.With(zap.String("component", "catalogue"), zap.String("backend", "database")),
	}
}

// Backend names the storage backend.
func (s *DatabaseStore) Backend() string { return "database" }

// AutoMigrate creates the runs table through gorm's migrator. Deployments
// with a managed schema use the migration package instead.
func (s *DatabaseStore) AutoMigrate() error {
	return s.pm.DB().AutoMigrate(&RunRecord{})
}

// Lookup returns the run id recorded for specStr in dir.
func (s *DatabaseStore) Lookup(ctx context.Context, dir, specStr string) (string, bool, error) {
	var rec RunRecord
	err := s.pm.DB().WithContext(ctx).
		Where("root = ? AND process = ? AND spec_digest = ?", s.root, dir, SpecDigest(specStr)).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, types.NewError(types.ErrStorage, "catalogue lookup failed").WithCause(err)
	}
	if rec.SpecStr != specStr {
		return "", false, types.NewErrorf(types.ErrCatalogueConflict,
			"catalogue %s digest collision for run %s", dir, rec.RunID)
	}
	return rec.RunID, true, nil
}

// Append records specStr resolving to runID. Re-appending the same mapping
// is a no-op; a different run id for the same spec is a conflict. Concurrent
// inserts of the same spec race on the identity index and lose to whichever
// worker committed first.
func (s *DatabaseStore) Append(ctx context.Context, dir, specStr, runID string) error {
	digest := SpecDigest(specStr)
	err := s.pm.WithTransactionRetry(ctx, s.retries, func(tx *gorm.DB) error {
		var rec RunRecord
		err := tx.Where("root = ? AND process = ? AND spec_digest = ?", s.root, dir, digest).
			First(&rec).Error
		switch {
		case err == nil:
			if rec.RunID == runID {
				return nil
			}
			return types.NewErrorf(types.ErrCatalogueConflict,
				"catalogue %s already maps spec to run %s, refusing %s", dir, rec.RunID, runID)
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(&RunRecord{
				Root:       s.root,
				Process:    dir,
				RunID:      runID,
				SpecStr:    specStr,
				SpecDigest: digest,
				State:      StateUnknown,
			}).Error
		default:
			return err
		}
	})
	if err != nil && isDuplicateKeyError(err) {
		existing, ok, lerr := s.Lookup(ctx, dir, specStr)
		if lerr != nil {
			return lerr
		}
		if ok {
			if existing == runID {
				return nil
			}
			return types.NewErrorf(types.ErrCatalogueConflict,
				"catalogue %s already maps spec to run %s, refusing %s", dir, existing, runID)
		}
	}
	return err
}

// Entries returns every mapping recorded for dir.
func (s *DatabaseStore) Entries(ctx context.Context, dir string) (map[string]string, error) {
	var recs []RunRecord
	err := s.pm.DB().WithContext(ctx).
		Where("root = ? AND process = ?", s.root, dir).
		Find(&recs).Error
	if err != nil {
		return nil, types.NewError(types.ErrStorage, "catalogue list failed").WithCause(err)
	}
	entries := make(map[string]string, len(recs))
	for _, rec := range recs {
		entries[rec.SpecStr] = rec.RunID
	}
	return entries, nil
}

// Remove drops the mapping for specStr in dir.
func (s *DatabaseStore) Remove(ctx context.Context, dir, specStr string) error {
	err := s.pm.DB().WithContext(ctx).
		Where("root = ? AND process = ? AND spec_digest = ?", s.root, dir, SpecDigest(specStr)).
		Delete(&RunRecord{}).Error
	if err != nil {
		return types.NewError(types.ErrStorage, "catalogue delete failed").WithCause(err)
	}
	return nil
}

// SetState updates the recorded state of a run.
func (s *DatabaseStore) SetState(ctx context.Context, dir, runID, state string) error {
	res := s.pm.DB().WithContext(ctx).Model(&RunRecord{}).
		Where("root = ? AND process = ? AND run_id = ?", s.root, dir, runID).
		Update("state", state)
	if res.Error != nil {
		return types.NewError(types.ErrStorage, "failed to update run state").WithCause(res.Error)
	}
	if res.RowsAffected == 0 {
		return types.NewErrorf(types.ErrRunNotFound, "no catalogue entry for run %s in %s", runID, dir)
	}
	return nil
}

// GetState returns the recorded state of a run.
func (s *DatabaseStore) GetState(ctx context.Context, dir, runID string) (string, error) {
	var rec RunRecord
	err := s.pm.DB().WithContext(ctx).
		Where("root = ? AND process = ? AND run_id = ?", s.root, dir, runID).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", types.NewErrorf(types.ErrRunNotFound, "no catalogue entry for run %s in %s", runID, dir)
	}
	if err != nil {
		return "", types.NewError(types.ErrStorage, "failed to read run state").WithCause(err)
	}
	return rec.State, nil
}

// Close releases the underlying connection pool.
func (s *DatabaseStore) Close() error {
	return s.pm.Close()
}

func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "constraint failed")
}
