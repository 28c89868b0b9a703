// Package catalogue records which run id each canonical run spec resolved
// to, per process directory. Stores back the mapping with the filesystem,
// memory, a SQL database, or Redis, so concurrent tree runs agree on run
// identity.
package catalogue

import (
	"context"
)

const (
	// CatalogueFileName is the per-process TSV mapping run specs to run ids.
	CatalogueFileName = "run_catalogue.tsv"
	// RunSpecFileName is the spec snapshot stored inside each run dir.
	RunSpecFileName = "run_spec.yaml"
)

// Run states recorded by backends that implement StateStore.
const (
	StateUnknown    = "unknown"
	StateIncomplete = "incomplete"
	StateComplete   = "complete"
	StateFailed     = "failed"
)

// Store maps canonical run spec strings to run ids. dir is the process
// directory path relative to the tree root, which scopes the mapping the
// same way the on-disk catalogue files do.
type Store interface {
	// Backend names the storage backend for logs and metrics.
	Backend() string

	// Lookup returns the run id recorded for specStr in dir.
	Lookup(ctx context.Context, dir, specStr string) (runID string, ok bool, err error)

	// Append records specStr resolving to runID. Appending an existing
	// spec with the same run id is a no-op; a different run id returns
	// ErrCatalogueConflict.
	Append(ctx context.Context, dir, specStr, runID string) error

	// Entries returns every spec to run id mapping recorded for dir.
	Entries(ctx context.Context, dir string) (map[string]string, error)

	// Remove drops the mapping for specStr, used when a run is invalidated.
	Remove(ctx context.Context, dir, specStr string) error

	// Close releases backend resources.
	Close() error
}

// StateStore is implemented by backends that track run state alongside the
// spec mapping.
type StateStore interface {
	SetState(ctx context.Context, dir, runID, state string) error
	GetState(ctx context.Context, dir, runID string) (string, error)
}
