package forest

import (
	"context"
	"os"
	"path/filepath"

	"github.com/TheAustinator/dataforest/metadata"
	"github.com/TheAustinator/dataforest/spec"
	"github.com/TheAustinator/dataforest/types"
)

// ProcessRun is the node view of one chain entry: its directories, files,
// and completion state. It resolves everything through its branch, so a
// node stays valid as runs execute and catalogues fill in.
type ProcessRun struct {
	branch *Branch
	name   string
}

// Node returns the process run view for a run name. The root has no run
// and resolves to an error.
func (b *Branch) Node(name string) (*ProcessRun, error) {
	if name == spec.RootName || !b.spec.Contains(name) {
		return nil, types.NewErrorf(types.ErrProcessNotFound, "process %s is not in the branch spec", name)
	}
	return &ProcessRun{branch: b, name: name}, nil
}

// Name returns the run name within the branch, the alias when one is set.
func (p *ProcessRun) Name() string {
	return p.name
}

// Spec returns the run spec behind this node.
func (p *ProcessRun) Spec() *spec.RunSpec {
	r, _ := p.branch.spec.Get(p.name)
	return r
}

// Process returns the process name, which keys the schema and registry.
func (p *ProcessRun) Process() string {
	return p.Spec().Process
}

// RunID returns the run id that names this run's directory.
func (p *ProcessRun) RunID(ctx context.Context) (string, error) {
	return p.branch.RunID(ctx, p.name)
}

// Path returns the absolute run directory.
func (p *ProcessRun) Path(ctx context.Context) (string, error) {
	return p.branch.Path(ctx, p.name)
}

// LogsPath returns the run's log directory.
func (p *ProcessRun) LogsPath(ctx context.Context) (string, error) {
	dir, err := p.Path(ctx)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, LogsDirName), nil
}

// PlotsPath returns the run's plot directory.
func (p *ProcessRun) PlotsPath(ctx context.Context) (string, error) {
	dir, err := p.Path(ctx)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, PlotsDirName), nil
}

// FileMap returns the alias to filename map for this run's process, with
// schema layers merged in.
func (p *ProcessRun) FileMap() map[string]string {
	return p.branch.config.Schema.FileMapFor(p.Process())
}

// Files returns the file aliases this run's process produces, in sorted
// order.
func (p *ProcessRun) Files() []string {
	return p.branch.config.Schema.Files(p.Process())
}

// FilePath resolves a file alias to its absolute path in the run dir.
func (p *ProcessRun) FilePath(ctx context.Context, alias string) (string, error) {
	name, ok := p.branch.config.Schema.FileName(p.Process(), alias)
	if !ok {
		return "", types.NewErrorf(types.ErrStorage, "process %s has no file alias %s", p.Process(), alias)
	}
	dir, err := p.Path(ctx)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// PathMap merges the file maps of the chain through this run into absolute
// paths. Later runs shadow earlier ones on alias collisions.
func (p *ProcessRun) PathMap(ctx context.Context) (map[string]string, error) {
	return p.branch.pathMap(ctx, p.name, true)
}

// PathMapPrior is PathMap for the chain before this run, the inputs it can
// read.
func (p *ProcessRun) PathMapPrior(ctx context.Context) (map[string]string, error) {
	return p.branch.pathMap(ctx, p.name, false)
}

// Done reports whether this run has executed to completion, successfully
// or not.
func (p *ProcessRun) Done(ctx context.Context) (bool, error) {
	dir, err := p.Path(ctx)
	if err != nil {
		return false, err
	}
	return runDone(dir), nil
}

// Failed reports whether this run recorded a process or hook error.
func (p *ProcessRun) Failed(ctx context.Context) (bool, error) {
	dir, err := p.Path(ctx)
	if err != nil {
		return false, err
	}
	return runFailed(dir), nil
}

// Success reports whether this run wrote its output metadata without
// recording an error.
func (p *ProcessRun) Success(ctx context.Context) (bool, error) {
	dir, err := p.Path(ctx)
	if err != nil {
		return false, err
	}
	return runSuccess(dir), nil
}

// ProcessMeta reads the metadata this run wrote.
func (p *ProcessRun) ProcessMeta(ctx context.Context) (*metadata.Frame, error) {
	dir, err := p.Path(ctx)
	if err != nil {
		return nil, err
	}
	frame, err := metadata.ReadTSVFile(filepath.Join(dir, MetaFileName))
	if err != nil {
		return nil, types.NewErrorf(types.ErrMetadataRead, "failed to read metadata for run %s", p.name).WithCause(err)
	}
	return frame, nil
}

// Logs returns the paths of the run's log files, sorted by name. A run
// without a log dir has no logs.
func (p *ProcessRun) Logs(ctx context.Context) ([]string, error) {
	logsDir, err := p.LogsPath(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(logsDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewError(types.ErrStorage, "failed to read log directory").WithCause(err)
	}
	var out []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		out = append(out, filepath.Join(logsDir, entry.Name()))
	}
	return out, nil
}
