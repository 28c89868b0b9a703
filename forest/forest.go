// Package forest implements the directory-backed workflow: branches that
// chain process runs under a root, trees that expand a tree spec into many
// branches, and the runner executing registered processes inside a setup
// and clean hook lifecycle.
package forest

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/TheAustinator/dataforest/catalogue"
	"github.com/TheAustinator/dataforest/internal/metrics"
	"github.com/TheAustinator/dataforest/process"
	"github.com/TheAustinator/dataforest/types"
)

// Names of the files and directories that make up a run directory.
const (
	// MetaFileName holds tabular sample metadata, at the root and inside
	// each run dir.
	MetaFileName = "meta.tsv"
	// IncompleteFileName marks a run dir whose run has not finished.
	IncompleteFileName = "INCOMPLETE"
	// LogsDirName holds per-run logs inside a run dir.
	LogsDirName = "_logs"
	// PlotsDirName holds plot outputs for processes that declare them.
	PlotsDirName = "_plots"
	// ProcessLogFileName is the per-run log file the runner tees into.
	ProcessLogFileName = "process.log"
	// ProcessErrFileName records a process body failure.
	ProcessErrFileName = "process.err"
	// HooksErrFileName records a lifecycle hook failure.
	HooksErrFileName = "hooks.err"
)

// Config wires a forest root to its catalogue backend, process registry,
// and schema. The zero value is not usable; Root is required.
type Config struct {
	// Root is the forest root directory.
	Root string
	// Remote is an optional second forest root used by Push and Pull.
	Remote string
	// Schema describes process files, hierarchy, layers, and subset
	// proxies. Nil means an empty schema.
	Schema *process.Schema
	// Registry resolves process names to implementations. Nil means an
	// empty registry.
	Registry *process.Registry
	// Store is the run catalogue backend. Nil means the file catalogue
	// under Root.
	Store catalogue.Store
	// Metrics is optional. Nil disables metric recording.
	Metrics *metrics.Collector
	// Workers bounds concurrent branch runs in a tree. Zero means 4.
	Workers int
	// RunRate caps run launches per second during tree runs. Zero means
	// unlimited.
	RunRate float64
	// ClearLogs removes a run's log files after it succeeds.
	ClearLogs bool
}

// withDefaults validates the config and fills unset fields.
func (c Config) withDefaults(logger *zap.Logger) (Config, error) {
	if c.Root == "" {
		return c, types.NewError(types.ErrConfigInvalid, "forest root directory is required")
	}
	if c.Schema == nil {
		c.Schema = &process.Schema{}
	}
	if c.Registry == nil {
		c.Registry = process.NewRegistry()
	}
	if err := c.Schema.ValidateRegistry(c.Registry); err != nil {
		return c, err
	}
	if c.Store == nil {
		c.Store = catalogue.NewFileStore(c.Root, logger)
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	return c, nil
}

// runDone reports whether a run directory holds a finished run: it exists,
// carries no INCOMPLETE marker, and contains at least one file or a _logs
// dir. Done says the run executed, not that it succeeded.
func runDone(runDir string) bool {
	entries, err := os.ReadDir(runDir)
	if err != nil {
		return false
	}
	var hasFile, hasLogs bool
	for _, entry := range entries {
		if entry.Name() == IncompleteFileName {
			return false
		}
		if entry.IsDir() {
			if entry.Name() == LogsDirName {
				hasLogs = true
			}
			continue
		}
		hasFile = true
	}
	return hasFile || hasLogs
}

// runFailed reports whether a run's log dir records a process or hook
// error.
func runFailed(runDir string) bool {
	logsDir := filepath.Join(runDir, LogsDirName)
	for _, name := range []string{ProcessErrFileName, HooksErrFileName} {
		if _, err := os.Stat(filepath.Join(logsDir, name)); err == nil {
			return true
		}
	}
	return false
}

// runSuccess reports whether a run wrote its output metadata without
// recording an error.
func runSuccess(runDir string) bool {
	if runFailed(runDir) {
		return false
	}
	_, err := os.Stat(filepath.Join(runDir, MetaFileName))
	return err == nil
}
