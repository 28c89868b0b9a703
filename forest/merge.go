package forest

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/TheAustinator/dataforest/artifacts"
	"github.com/TheAustinator/dataforest/catalogue"
	"github.com/TheAustinator/dataforest/metadata"
	"github.com/TheAustinator/dataforest/types"
)

// Push merges this branch's runs into the forest at remoteRoot. An empty
// remoteRoot falls back to the configured remote.
func (b *Branch) Push(ctx context.Context, remoteRoot string) error {
	target := remoteRoot
	if target == "" {
		target = b.config.Remote
	}
	if target == "" {
		return types.NewError(types.ErrRemoteUnset, "push requires a remote root")
	}
	return b.merge(ctx, artifacts.DirectionPush, b.config.Root, target)
}

// Pull merges the configured remote's runs for this branch into localRoot.
// An empty localRoot targets the branch's own root.
func (b *Branch) Pull(ctx context.Context, localRoot string) error {
	if b.config.Remote == "" {
		return types.NewError(types.ErrRemoteUnset, "pull requires a remote root")
	}
	target := localRoot
	if target == "" {
		target = b.config.Root
	}
	return b.merge(ctx, artifacts.DirectionPull, b.config.Remote, target)
}

// merge reconciles the branch's run chain between two forest roots. The
// walk follows the chain from the root and stops at the first run the
// source has not catalogued or finished, since nothing past it can exist.
// On a run id conflict the destination keeps its own id and the source
// run is left alone.
func (b *Branch) merge(ctx context.Context, direction, srcRoot, dstRoot string) error {
	logger := b.logger.With(
		zap.String("direction", direction),
		zap.String("src", srcRoot),
		zap.String("dst", dstRoot),
	)
	copier := artifacts.NewCopier(b.base, b.config.Metrics)

	if err := b.checkRootMeta(ctx, copier, direction, srcRoot, dstRoot); err != nil {
		return err
	}

	srcStore := catalogue.NewFileStore(srcRoot, b.base)
	defer srcStore.Close()
	dstStore := catalogue.NewFileStore(dstRoot, b.base)
	defer dstStore.Close()

	manifestPath := filepath.Join(dstRoot, artifacts.ManifestFileName)
	manifest, err := artifacts.LoadManifest(manifestPath)
	if err != nil {
		return err
	}

	srcDir, dstDir := srcRoot, dstRoot
	srcRel, dstRel := "", ""
	copied := 0
	for _, name := range b.spec.ProcessOrder() {
		r, ok := b.spec.Get(name)
		if !ok {
			return types.NewErrorf(types.ErrInternalError, "no run spec for chain name %s", name)
		}
		srcProcessRel := path.Join(srcRel, r.Name())
		dstProcessRel := path.Join(dstRel, r.Name())

		srcID, found, err := srcStore.Lookup(ctx, srcProcessRel, r.String())
		if err != nil {
			return err
		}
		if !found {
			logger.Debug("source run not catalogued, stopping merge", zap.String("process", name))
			break
		}
		srcRun := filepath.Join(srcDir, r.Name(), srcID)
		if !runDone(srcRun) {
			logger.Debug("source run not done, stopping merge", zap.String("process", name))
			break
		}

		dstID, found, err := dstStore.Lookup(ctx, dstProcessRel, r.String())
		if err != nil {
			return err
		}
		switch {
		case !found:
			dstID = srcID
			if err := dstStore.Append(ctx, dstProcessRel, r.String(), dstID); err != nil {
				return err
			}
			if b.config.Metrics != nil {
				b.config.Metrics.RecordCatalogueAppend(dstStore.Backend())
			}
		case dstID != srcID:
			logger.Warn("catalogue conflict, destination keeps its run id",
				zap.String("process", name),
				zap.String("src_run_id", srcID),
				zap.String("dst_run_id", dstID),
			)
			if b.config.Metrics != nil {
				b.config.Metrics.RecordCatalogueConflict(dstStore.Backend())
			}
		}

		dstRun := filepath.Join(dstDir, r.Name(), dstID)
		if !runDone(dstRun) {
			n, err := b.copyRun(ctx, copier, manifest, direction, r.Process, srcRun, dstRun, dstRoot)
			if err != nil {
				return err
			}
			copied += n
		}

		srcDir, dstDir = srcRun, dstRun
		srcRel = path.Join(srcProcessRel, srcID)
		dstRel = path.Join(dstProcessRel, dstID)
	}

	if copied > 0 {
		if err := manifest.Save(manifestPath); err != nil {
			return err
		}
	}
	logger.Info("merge finished", zap.Int("files_copied", copied))
	return nil
}

// checkRootMeta guards a merge against mixing forests built from different
// source data. A destination without root metadata inherits the source's.
func (b *Branch) checkRootMeta(ctx context.Context, copier *artifacts.Copier, direction, srcRoot, dstRoot string) error {
	srcMeta := filepath.Join(srcRoot, MetaFileName)
	srcFrame, err := metadata.ReadTSVFile(srcMeta)
	if err != nil {
		return types.NewErrorf(types.ErrMetadataRead, "failed to read root metadata from %s", srcRoot).WithCause(err)
	}

	dstMeta := filepath.Join(dstRoot, MetaFileName)
	if _, err := os.Stat(dstMeta); os.IsNotExist(err) {
		if err := os.MkdirAll(dstRoot, 0o755); err != nil {
			return types.NewError(types.ErrStorage, "failed to create destination root").WithCause(err)
		}
		if _, err := copier.Copy(ctx, direction, srcMeta, dstMeta); err != nil {
			return err
		}
		return nil
	}
	dstFrame, err := metadata.ReadTSVFile(dstMeta)
	if err != nil {
		return types.NewErrorf(types.ErrMetadataRead, "failed to read root metadata from %s", dstRoot).WithCause(err)
	}
	if !srcFrame.Equal(dstFrame) {
		return types.NewError(types.ErrRootMetaMismatch, "source and destination root metadata differ")
	}
	return nil
}

// copyRun copies one run's recorded artifacts between roots and folds the
// copy records into the destination manifest. Files the source run never
// produced are skipped, so partial runs merge without error.
func (b *Branch) copyRun(ctx context.Context, copier *artifacts.Copier, manifest *artifacts.Manifest, direction, process, srcRun, dstRun, dstRoot string) (int, error) {
	candidates := []string{catalogue.RunSpecFileName, MetaFileName}

	fileMap := b.config.Schema.FileMapFor(process)
	files := make([]string, 0, len(fileMap))
	for _, f := range fileMap {
		files = append(files, f)
	}
	sort.Strings(files)
	candidates = append(candidates, files...)

	plotMap := b.config.Schema.PlotMapFor(process)
	plots := make([]string, 0, len(plotMap))
	for _, f := range plotMap {
		plots = append(plots, filepath.Join(PlotsDirName, f))
	}
	sort.Strings(plots)
	candidates = append(candidates, plots...)

	pairs := make([]artifacts.CopyPair, 0, len(candidates))
	for _, rel := range candidates {
		src := filepath.Join(srcRun, rel)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		dst := filepath.Join(dstRun, rel)
		rootRel, err := filepath.Rel(dstRoot, dst)
		if err != nil {
			return 0, types.NewErrorf(types.ErrInternalError, "failed to relativize %s", dst).WithCause(err)
		}
		pairs = append(pairs, artifacts.CopyPair{Src: src, Dst: dst, Rel: filepath.ToSlash(rootRel)})
	}
	if len(pairs) == 0 {
		return 0, nil
	}

	runManifest, err := copier.CopyAll(ctx, direction, pairs)
	if err != nil {
		return 0, err
	}
	for rel, entry := range runManifest.Entries {
		manifest.Add(rel, entry)
	}
	return len(runManifest.Entries), nil
}
