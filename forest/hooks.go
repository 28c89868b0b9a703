package forest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/TheAustinator/dataforest/catalogue"
	"github.com/TheAustinator/dataforest/metadata"
	"github.com/TheAustinator/dataforest/process"
	"github.com/TheAustinator/dataforest/spec"
	"github.com/TheAustinator/dataforest/types"
)

// runState carries what the hooks and the process body share for one run.
type runState struct {
	branch        *Branch
	def           *process.Definition
	spec          *spec.RunSpec
	name          string
	runDir        string
	processDirRel string
	runID         string
	meta          *metadata.Frame
	started       time.Time
}

func (st *runState) logsDir() string {
	return filepath.Join(st.runDir, LogsDirName)
}

func (st *runState) plotsDir() string {
	return filepath.Join(st.runDir, PlotsDirName)
}

// hook is one lifecycle step. Setup hooks halt the run on the first error;
// clean hooks all execute and their errors aggregate.
type hook struct {
	name string
	fn   func(ctx context.Context, st *runState, runErr error) error
}

// setupHooks returns the pre-run steps in execution order.
func (r *Runner) setupHooks() []hook {
	return []hook{
		{"goto_process", r.hookGotoProcess},
		{"comparative", r.hookComparative},
		{"meta", r.hookMeta},
		{"input_exists", r.hookInputExists},
		{"mkdirs", r.hookMkdirs},
		{"mark_incomplete", r.hookMarkIncomplete},
		{"store_run_spec", r.hookStoreRunSpec},
		{"catalogue", r.hookCatalogue},
	}
}

// cleanHooks returns the post-run steps in execution order. They run even
// when setup or the process body failed.
func (r *Runner) cleanHooks() []hook {
	return []hook{
		{"store_meta", r.hookStoreMeta},
		{"mark_complete", r.hookMarkComplete},
		{"clear_logs", r.hookClearLogs},
	}
}

func (r *Runner) hookGotoProcess(ctx context.Context, st *runState, _ error) error {
	_ = ctx
	return st.branch.GotoProcess(st.name)
}

// hookComparative rejects comparative processes without a partition, and
// warns when a partition sits at the chain base where there is no upstream
// grouping to compare.
func (r *Runner) hookComparative(ctx context.Context, st *runState, _ error) error {
	_ = ctx
	if st.def.Comparative && len(st.spec.Partition) == 0 {
		return types.NewErrorf(types.ErrPartitionMissing,
			"comparative process %s requires %s", st.spec.Process, spec.KeyPartition)
	}
	if len(st.spec.Partition) > 0 {
		order := st.branch.Spec().ProcessOrder()
		if len(order) > 0 && order[0] == st.name {
			r.logger.Warn("partition set at the chain base",
				zap.String("process", st.spec.Process),
				zap.Strings("partition", st.spec.Partition),
			)
		}
	}
	return nil
}

// hookMeta loads the branch metadata at this run's position, with partition
// labels applied for comparative processes.
func (r *Runner) hookMeta(ctx context.Context, st *runState, _ error) error {
	frame, err := st.branch.MetaAt(ctx, st.name)
	if err != nil {
		return err
	}
	if st.def.Comparative {
		ops := metadata.NewOps(r.logger, st.branch.config.Schema.Proxies())
		frame, err = ops.Partition(frame, st.spec.Partition)
		if err != nil {
			return err
		}
	}
	st.meta = frame
	return nil
}

// hookInputExists verifies the run's input directory exists and holds
// data, after checking the chain position satisfies the definition's
// Requires.
func (r *Runner) hookInputExists(ctx context.Context, st *runState, _ error) error {
	if st.def.Requires != "" {
		names, _ := st.branch.Spec().Precursors(st.name, true, false)
		prev := names[len(names)-1]
		prevSpec, _ := st.branch.Spec().Get(prev)
		if prevSpec.Process != st.def.Requires {
			return types.NewErrorf(types.ErrSpecInvalid,
				"process %s requires %s but follows %s", st.spec.Process, st.def.Requires, prev)
		}
	}

	dir, err := st.branch.InputDir(ctx, st.name)
	if err != nil {
		return err
	}
	entries, readErr := os.ReadDir(dir)
	if readErr != nil || len(entries) == 0 {
		err := types.NewErrorf(types.ErrInputNotFound,
			"input data for process %s not found in %s", st.spec.Process, dir)
		if readErr != nil {
			err = err.WithCause(readErr)
		}
		return err
	}
	return nil
}

func (r *Runner) hookMkdirs(ctx context.Context, st *runState, _ error) error {
	_ = ctx
	dirs := []string{st.runDir, st.logsDir()}
	if st.def.Plots {
		dirs = append(dirs, st.plotsDir())
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return types.NewErrorf(types.ErrStorage, "failed to create %s", dir).WithCause(err)
		}
	}
	return nil
}

func (r *Runner) hookMarkIncomplete(ctx context.Context, st *runState, _ error) error {
	_ = ctx
	marker := filepath.Join(st.runDir, IncompleteFileName)
	if err := os.WriteFile(marker, nil, 0o644); err != nil {
		return types.NewError(types.ErrStorage, "failed to write incomplete marker").WithCause(err)
	}
	return nil
}

func (r *Runner) hookStoreRunSpec(ctx context.Context, st *runState, _ error) error {
	_ = ctx
	data, err := spec.EncodeRunSpecYAML(st.spec)
	if err != nil {
		return err
	}
	specPath := filepath.Join(st.runDir, catalogue.RunSpecFileName)
	if err := os.WriteFile(specPath, data, 0o644); err != nil {
		return types.NewError(types.ErrStorage, "failed to store run spec").WithCause(err)
	}
	return nil
}

// hookCatalogue records the run id under the canonical spec string. A spec
// already catalogued with a different id fails the run before the process
// body executes.
func (r *Runner) hookCatalogue(ctx context.Context, st *runState, _ error) error {
	store := st.branch.config.Store
	err := store.Append(ctx, st.processDirRel, st.spec.String(), st.runID)
	if err != nil {
		if r.config.Metrics != nil && types.HasCode(err, types.ErrCatalogueConflict) {
			r.config.Metrics.RecordCatalogueConflict(store.Backend())
		}
		return err
	}
	if r.config.Metrics != nil {
		r.config.Metrics.RecordCatalogueAppend(store.Backend())
	}
	if states, ok := store.(catalogue.StateStore); ok {
		if err := states.SetState(ctx, st.processDirRel, st.runID, catalogue.StateIncomplete); err != nil {
			return err
		}
	}
	return nil
}

// hookStoreMeta materializes the run's metadata as meta.tsv when the body
// succeeded and did not write its own. TempMeta processes skip this, so
// their metadata never persists.
func (r *Runner) hookStoreMeta(ctx context.Context, st *runState, runErr error) error {
	_ = ctx
	if runErr != nil || st.meta == nil || st.def.TempMeta {
		return nil
	}
	metaPath := filepath.Join(st.runDir, MetaFileName)
	if _, err := os.Stat(metaPath); err == nil {
		return nil
	}
	if err := st.meta.WriteTSVFile(metaPath); err != nil {
		return types.NewError(types.ErrStorage, "failed to store run metadata").WithCause(err)
	}
	return nil
}

// hookMarkComplete removes the incomplete marker and records the terminal
// state in backends that track it.
func (r *Runner) hookMarkComplete(ctx context.Context, st *runState, runErr error) error {
	marker := filepath.Join(st.runDir, IncompleteFileName)
	if err := os.Remove(marker); err != nil && !os.IsNotExist(err) {
		return types.NewError(types.ErrStorage, "failed to remove incomplete marker").WithCause(err)
	}

	if states, ok := st.branch.config.Store.(catalogue.StateStore); ok {
		state := catalogue.StateComplete
		if runErr != nil {
			state = catalogue.StateFailed
		}
		err := states.SetState(ctx, st.processDirRel, st.runID, state)
		if err != nil && !types.HasCode(err, types.ErrRunNotFound) {
			return err
		}
	}
	return nil
}

// hookClearLogs drops the run's log files after a success when configured
// to. Logs from failed runs always stay.
func (r *Runner) hookClearLogs(ctx context.Context, st *runState, runErr error) error {
	_ = ctx
	if !r.config.ClearLogs || runErr != nil {
		return nil
	}
	entries, err := os.ReadDir(st.logsDir())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return types.NewError(types.ErrStorage, "failed to read log directory").WithCause(err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(st.logsDir(), entry.Name())); err != nil {
			return types.NewError(types.ErrStorage, "failed to clear logs").WithCause(err)
		}
	}
	return nil
}

// recordHookError appends to hooks.err when the run's log dir exists, so a
// hook failure shows up in the run's failed state.
func (r *Runner) recordHookError(st *runState, hookName string, hookErr error) {
	logsDir := st.logsDir()
	if _, err := os.Stat(logsDir); err != nil {
		return
	}
	f, err := os.OpenFile(filepath.Join(logsDir, HooksErrFileName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		r.logger.Warn("failed to record hook error", zap.Error(err))
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "%s: %v\n", hookName, hookErr)
}
