package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/TheAustinator/dataforest/catalogue"
)

// runCatalogue lists or rebuilds the run catalogues for one process. A
// process can have several catalogues when branches place it at different
// depths, so every matching process dir under the root is covered.
func runCatalogue(args []string) {
	fs := flag.NewFlagSet("catalogue", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	rootDir := fs.String("root", "", "Forest root directory (overrides config)")
	processName := fs.String("process", "", "Process whose catalogues to list")
	rebuild := fs.Bool("rebuild", false, "Rewrite the catalogues from the run dirs on disk")
	fs.Parse(args)

	if *processName == "" {
		fatal(fmt.Errorf("-process is required"))
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	root := cfg.Forest.Root
	if *rootDir != "" {
		root = *rootDir
	}
	if root == "" {
		fatal(fmt.Errorf("forest root is required (set -root or forest.root in config)"))
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		fatal(fmt.Errorf("invalid forest root: %w", err))
	}

	dirs, err := findProcessDirs(absRoot, *processName)
	if err != nil {
		logger.Fatal("Failed to scan forest", zap.Error(err))
	}
	if len(dirs) == 0 {
		fmt.Printf("No catalogues found for process %q under %s\n", *processName, absRoot)
		return
	}

	ctx := context.Background()
	store := catalogue.NewFileStore(absRoot, logger)
	defer store.Close()

	for _, dir := range dirs {
		if *rebuild {
			if err := store.Rebuild(ctx, dir); err != nil {
				logger.Fatal("Failed to rebuild catalogue",
					zap.String("dir", dir), zap.Error(err))
			}
			fmt.Printf("Rebuilt catalogue for %s\n", dir)
		}

		entries, err := store.Entries(ctx, dir)
		if err != nil {
			logger.Fatal("Failed to read catalogue",
				zap.String("dir", dir), zap.Error(err))
		}

		fmt.Printf("%s (%d runs)\n", dir, len(entries))
		ids := make([]string, 0, len(entries))
		byID := make(map[string]string, len(entries))
		for specStr, runID := range entries {
			ids = append(ids, runID)
			byID[runID] = specStr
		}
		sort.Strings(ids)
		for _, runID := range ids {
			fmt.Printf("  %s\t%s\n", runID, byID[runID])
		}
	}
}

// findProcessDirs walks the forest for process dirs named name, returning
// root-relative slash paths in the form the catalogue store keys on.
// Run dirs and bookkeeping dirs (underscore prefix) are not descended into.
func findProcessDirs(root, name string) ([]string, error) {
	var dirs []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		base := filepath.Base(path)
		if path != root && strings.HasPrefix(base, "_") {
			return fs.SkipDir
		}
		if base == name {
			rel, relErr := filepath.Rel(root, path)
			if relErr != nil {
				return relErr
			}
			dirs = append(dirs, filepath.ToSlash(rel))
			// A process dir holds run dirs, not nested process dirs.
			return fs.SkipDir
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(dirs)
	return dirs, nil
}
