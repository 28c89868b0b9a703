package forest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/TheAustinator/dataforest/internal/ctxkeys"
	"github.com/TheAustinator/dataforest/metadata"
	"github.com/TheAustinator/dataforest/spec"
	"github.com/TheAustinator/dataforest/types"
)

// Runner executes registered processes on a branch, wrapping each run in
// the setup and clean hook lifecycle. The branch's catalogue backend
// records run identity; the runner's registry resolves implementations.
type Runner struct {
	config Config
	logger *zap.Logger
	tracer trace.Tracer
}

// NewRunner creates a runner for forests under config.Root.
func NewRunner(config Config, logger *zap.Logger) (*Runner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config, err := config.withDefaults(logger)
	if err != nil {
		return nil, err
	}
	return &Runner{
		config: config,
		logger: logger.With(zap.String("component", "runner")),
		tracer: otel.Tracer("dataforest/forest"),
	}, nil
}

// Run executes the named run of the branch, regardless of its current
// state. Setup hooks halt the run on the first failure; clean hooks run
// afterwards in every case.
func (r *Runner) Run(ctx context.Context, branch *Branch, name string) error {
	if branch == nil {
		return types.NewError(types.ErrInternalError, "runner requires a branch")
	}
	runSpec, ok := branch.Spec().Get(name)
	if !ok || name == spec.RootName {
		return types.NewErrorf(types.ErrProcessNotFound, "process %s is not in the branch spec", name)
	}
	def, err := r.config.Registry.Get(runSpec.Process)
	if err != nil {
		return err
	}

	ctx, span := r.tracer.Start(ctx, "forest.run",
		trace.WithAttributes(
			attribute.String("forest.process", runSpec.Process),
			attribute.String("forest.run", name),
		))
	defer span.End()

	runDir, processDirRel, err := branch.runDirs(ctx, name)
	if err != nil {
		span.SetAttributes(attribute.String("error", err.Error()))
		return err
	}
	runID, err := branch.RunID(ctx, name)
	if err != nil {
		span.SetAttributes(attribute.String("error", err.Error()))
		return err
	}
	span.SetAttributes(attribute.String("forest.run_id", runID))
	ctx = ctxkeys.WithProcess(ctx, runSpec.Process)
	ctx = ctxkeys.WithRunID(ctx, runID)

	st := &runState{
		branch:        branch,
		def:           def,
		spec:          runSpec,
		name:          name,
		runDir:        runDir,
		processDirRel: processDirRel,
		runID:         runID,
		started:       time.Now(),
	}

	setupErr := r.runSetupHooks(ctx, st)
	var bodyErr error
	if setupErr == nil {
		bodyErr = r.runBody(ctx, st)
	}
	runErr := setupErr
	if bodyErr != nil {
		runErr = bodyErr
	}
	cleanErr := r.runCleanHooks(ctx, st, runErr)

	status := "success"
	if runErr != nil || cleanErr != nil {
		status = "failed"
	}
	if r.config.Metrics != nil {
		r.config.Metrics.RecordRun(runSpec.Process, status, time.Since(st.started))
	}

	if runErr != nil {
		span.SetAttributes(attribute.String("error", runErr.Error()))
		return runErr
	}
	if cleanErr != nil {
		span.SetAttributes(attribute.String("error", cleanErr.Error()))
		return cleanErr
	}

	r.logger.Info("run finished",
		zap.String("process", runSpec.Process),
		zap.String("run", name),
		zap.String("run_id", runID),
		zap.Duration("elapsed", time.Since(st.started)),
	)
	return nil
}

// RunBranch walks the branch's chain in order, executing every run that is
// not done yet. Done runs count as cached.
func (r *Runner) RunBranch(ctx context.Context, branch *Branch) error {
	if branch == nil {
		return types.NewError(types.ErrInternalError, "runner requires a branch")
	}
	for _, name := range branch.Spec().ProcessOrder() {
		node, err := branch.Node(name)
		if err != nil {
			return err
		}
		done, err := node.Done(ctx)
		if err != nil {
			return err
		}
		if done {
			if r.config.Metrics != nil {
				r.config.Metrics.RecordRun(node.Process(), "cached", 0)
			}
			r.logger.Debug("run already done", zap.String("run", name))
			continue
		}
		if err := r.Run(ctx, branch, name); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) runSetupHooks(ctx context.Context, st *runState) error {
	for _, h := range r.setupHooks() {
		start := time.Now()
		err := h.fn(ctx, st, nil)
		if r.config.Metrics != nil {
			r.config.Metrics.RecordHook(h.name, "setup", time.Since(start), err)
		}
		if err != nil {
			r.recordHookError(st, h.name, err)
			r.logger.Error("setup hook failed",
				zap.String("hook", h.name),
				zap.String("process", st.spec.Process),
				zap.Error(err),
			)
			return types.NewErrorf(types.ErrHookFailed, "setup hook %s failed for process %s", h.name, st.spec.Process).
				WithProcess(st.spec.Process).
				WithCause(err)
		}
	}
	return nil
}

func (r *Runner) runCleanHooks(ctx context.Context, st *runState, runErr error) error {
	var errs []error
	for _, h := range r.cleanHooks() {
		start := time.Now()
		err := h.fn(ctx, st, runErr)
		if r.config.Metrics != nil {
			r.config.Metrics.RecordHook(h.name, "clean", time.Since(start), err)
		}
		if err != nil {
			r.recordHookError(st, h.name, err)
			r.logger.Error("clean hook failed",
				zap.String("hook", h.name),
				zap.String("process", st.spec.Process),
				zap.Error(err),
			)
			errs = append(errs, types.NewErrorf(types.ErrHookFailed, "clean hook %s failed for process %s", h.name, st.spec.Process).
				WithProcess(st.spec.Process).
				WithCause(err))
		}
	}
	return errors.Join(errs...)
}

// runBody executes the registered process func with a logger teed into the
// run's log dir. A failure is recorded to process.err so the run reads as
// failed afterwards.
func (r *Runner) runBody(ctx context.Context, st *runState) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	runLogger, closeLog, err := r.runLogger(ctx, st)
	if err != nil {
		return err
	}
	defer closeLog()

	inputDir, err := st.branch.InputDir(ctx, st.name)
	if err != nil {
		return err
	}

	env := &runEnv{
		process:   st.spec.Process,
		params:    st.spec.Params,
		meta:      st.meta,
		inputDir:  inputDir,
		outputDir: st.runDir,
		logsDir:   st.logsDir(),
		plotsDir:  st.plotsDir(),
		logger:    runLogger,
	}

	runLogger.Info("process started")
	if err := st.def.Func(ctx, env); err != nil {
		runLogger.Error("process failed", zap.Error(err))
		r.recordProcessError(st, err)
		return types.NewErrorf(types.ErrProcessFailed, "process %s failed", st.spec.Process).
			WithProcess(st.spec.Process).
			WithCause(err)
	}
	runLogger.Info("process finished", zap.Duration("elapsed", time.Since(st.started)))
	return nil
}

// runLogger tees the runner's logger into the run's process.log, tagged
// with the run identity and the tree execution id when one is in flight.
func (r *Runner) runLogger(ctx context.Context, st *runState) (*zap.Logger, func(), error) {
	logPath := filepath.Join(st.logsDir(), ProcessLogFileName)
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, types.NewError(types.ErrStorage, "failed to open run log").WithCause(err)
	}

	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.AddSync(f),
		zapcore.DebugLevel,
	)
	logger := zap.New(zapcore.NewTee(r.logger.Core(), fileCore)).With(
		zap.String("process", st.spec.Process),
		zap.String("run", st.name),
		zap.String("run_id", st.runID),
	)
	if execID, ok := ctxkeys.ExecutionID(ctx); ok {
		logger = logger.With(zap.String("execution_id", execID))
	}
	closeLog := func() {
		_ = logger.Sync()
		_ = f.Close()
	}
	return logger, closeLog, nil
}

// recordProcessError writes the failure to process.err in the run's log
// dir.
func (r *Runner) recordProcessError(st *runState, processErr error) {
	errPath := filepath.Join(st.logsDir(), ProcessErrFileName)
	if err := os.WriteFile(errPath, []byte(processErr.Error()+"\n"), 0o644); err != nil {
		r.logger.Warn("failed to record process error", zap.Error(err))
	}
}

// runEnv is the environment handed to process implementations.
type runEnv struct {
	process   string
	params    map[string]any
	meta      *metadata.Frame
	inputDir  string
	outputDir string
	logsDir   string
	plotsDir  string
	logger    *zap.Logger
}

func (e *runEnv) Process() string        { return e.process }
func (e *runEnv) Params() map[string]any { return e.params }
func (e *runEnv) Meta() *metadata.Frame  { return e.meta }
func (e *runEnv) InputDir() string       { return e.inputDir }
func (e *runEnv) OutputDir() string      { return e.outputDir }
func (e *runEnv) LogsDir() string        { return e.logsDir }
func (e *runEnv) PlotsDir() string       { return e.plotsDir }
func (e *runEnv) Logger() *zap.Logger    { return e.logger }
