package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/TheAustinator/dataforest/catalogue"
	"github.com/TheAustinator/dataforest/config"
	"github.com/TheAustinator/dataforest/forest"
	"github.com/TheAustinator/dataforest/internal/cache"
	"github.com/TheAustinator/dataforest/internal/database"
	"github.com/TheAustinator/dataforest/internal/metrics"
	"github.com/TheAustinator/dataforest/internal/telemetry"
	"github.com/TheAustinator/dataforest/process"
	"github.com/TheAustinator/dataforest/spec"
)

// runRun executes the processes of a single branch spec against the forest.
func runRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	rootDir := fs.String("root", "", "Forest root directory (overrides config)")
	specPath := fs.String("spec", "", "Branch spec file (YAML)")
	processName := fs.String("process", "", "Run only this process")
	fs.Parse(args)

	if *specPath == "" {
		fatal(fmt.Errorf("-spec is required"))
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	branchSpec, err := spec.LoadFromFile(*specPath)
	if err != nil {
		logger.Fatal("Failed to load branch spec", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry := initTelemetry(cfg, logger)
	defer shutdownTelemetry()

	forestCfg, cleanup, err := buildForestConfig(cfg, *rootDir, logger)
	if err != nil {
		logger.Fatal("Failed to build forest config", zap.Error(err))
	}
	defer cleanup()

	if err := registerPassthroughs(forestCfg.Registry, branchSpec.ProcessOrder()); err != nil {
		logger.Fatal("Failed to register processes", zap.Error(err))
	}

	branch, err := forest.NewBranch(forestCfg, branchSpec, logger)
	if err != nil {
		logger.Fatal("Failed to open branch", zap.Error(err))
	}

	runner, err := forest.NewRunner(forestCfg, logger)
	if err != nil {
		logger.Fatal("Failed to create runner", zap.Error(err))
	}

	if *processName != "" {
		err = runner.Run(ctx, branch, *processName)
	} else {
		err = runner.RunBranch(ctx, branch)
	}
	if err != nil {
		logger.Fatal("Branch run failed", zap.Error(err))
	}

	logger.Info("Branch run complete",
		zap.String("spec", *specPath),
		zap.Strings("processes", branchSpec.ProcessOrder()))
}

// runTree expands a tree spec and runs it across all branches.
func runTree(args []string) {
	fs := flag.NewFlagSet("tree", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	rootDir := fs.String("root", "", "Forest root directory (overrides config)")
	specPath := fs.String("spec", "", "Tree spec file (YAML)")
	processName := fs.String("process", "", "Run only up to this process")
	fs.Parse(args)

	if *specPath == "" {
		fatal(fmt.Errorf("-spec is required"))
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	treeSpec, err := spec.LoadTreeFromFile(*specPath)
	if err != nil {
		logger.Fatal("Failed to load tree spec", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry := initTelemetry(cfg, logger)
	defer shutdownTelemetry()

	forestCfg, cleanup, err := buildForestConfig(cfg, *rootDir, logger)
	if err != nil {
		logger.Fatal("Failed to build forest config", zap.Error(err))
	}
	defer cleanup()

	if err := registerPassthroughs(forestCfg.Registry, treeSpec.ProcessOrder()); err != nil {
		logger.Fatal("Failed to register processes", zap.Error(err))
	}

	tree, err := forest.NewTree(forestCfg, treeSpec, logger)
	if err != nil {
		logger.Fatal("Failed to expand tree", zap.Error(err))
	}
	defer tree.Close()

	// With a config file the run rate follows edits to it while the
	// tree is running.
	if *configPath != "" {
		manager := config.NewHotReloadManager(cfg,
			config.WithHotReloadLogger(logger),
			config.WithConfigPath(*configPath))
		manager.OnReload(func(oldCfg, newCfg *config.Config) {
			if oldCfg.Runner.RunRate != newCfg.Runner.RunRate {
				tree.SetRunRate(newCfg.Runner.RunRate)
			}
		})
		if err := manager.Start(ctx); err != nil {
			logger.Warn("Hot reload unavailable", zap.Error(err))
		} else {
			defer manager.Stop()
		}
	}

	logger.Info("Tree run starting",
		zap.String("spec", *specPath),
		zap.Int("branches", tree.Len()))

	if *processName != "" {
		err = tree.Run(ctx, *processName)
	} else {
		err = tree.RunAll(ctx)
	}
	if err != nil {
		logger.Fatal("Tree run failed", zap.Error(err))
	}

	status, err := tree.Status(ctx)
	if err != nil {
		logger.Fatal("Failed to collect tree status", zap.Error(err))
	}
	printStatusTable(treeSpec.ProcessOrder(), status)
}

// runStatus reports done/success/failed counts per process without running
// anything. The spec may be a branch or a tree file.
func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	rootDir := fs.String("root", "", "Forest root directory (overrides config)")
	specPath := fs.String("spec", "", "Branch or tree spec file (YAML)")
	fs.Parse(args)

	if *specPath == "" {
		fatal(fmt.Errorf("-spec is required"))
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	// A branch spec file parses as a single-branch tree, so one loader
	// covers both.
	treeSpec, err := spec.LoadTreeFromFile(*specPath)
	if err != nil {
		logger.Fatal("Failed to load spec", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	forestCfg, cleanup, err := buildForestConfig(cfg, *rootDir, logger)
	if err != nil {
		logger.Fatal("Failed to build forest config", zap.Error(err))
	}
	defer cleanup()

	tree, err := forest.NewTree(forestCfg, treeSpec, logger)
	if err != nil {
		logger.Fatal("Failed to expand tree", zap.Error(err))
	}
	defer tree.Close()

	status, err := tree.Status(ctx)
	if err != nil {
		logger.Fatal("Failed to collect tree status", zap.Error(err))
	}
	printStatusTable(treeSpec.ProcessOrder(), status)
}

// printStatusTable writes per-process run counts to stdout in chain order.
func printStatusTable(order []string, status map[string]forest.StatusCounts) {
	fmt.Printf("%-20s %8s %8s %8s %8s\n", "PROCESS", "BRANCHES", "DONE", "SUCCESS", "FAILED")
	for _, name := range order {
		counts := status[name]
		fmt.Printf("%-20s %8d %8d %8d %8d\n",
			name, counts.Branches, counts.Done, counts.Success, counts.Failed)
	}
	// Processes in the forest but not in the chain order still show up,
	// sorted for stable output.
	var extras []string
	for name := range status {
		found := false
		for _, n := range order {
			if n == name {
				found = true
				break
			}
		}
		if !found {
			extras = append(extras, name)
		}
	}
	sort.Strings(extras)
	for _, name := range extras {
		counts := status[name]
		fmt.Printf("%-20s %8d %8d %8d %8d\n",
			name, counts.Branches, counts.Done, counts.Success, counts.Failed)
	}
}

// initTelemetry starts the OTel providers and returns their shutdown
// function. Failures downgrade to a warning so runs work without a
// collector.
func initTelemetry(cfg *config.Config, logger *zap.Logger) func() {
	providers, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("Telemetry init failed, continuing without tracing", zap.Error(err))
		return func() {}
	}
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Telemetry shutdown failed", zap.Error(err))
		}
	}
}

// buildForestConfig assembles the forest.Config from the app config plus
// the -root flag. The returned cleanup releases the catalogue store.
func buildForestConfig(cfg *config.Config, rootFlag string, logger *zap.Logger) (forest.Config, func(), error) {
	root := cfg.Forest.Root
	if rootFlag != "" {
		root = rootFlag
	}
	if root == "" {
		return forest.Config{}, nil, fmt.Errorf("forest root is required (set -root or forest.root in config)")
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return forest.Config{}, nil, fmt.Errorf("invalid forest root: %w", err)
	}

	store, cleanup, err := buildStore(cfg, absRoot, logger)
	if err != nil {
		return forest.Config{}, nil, err
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(cfg.Metrics.Namespace, logger)
	}

	return forest.Config{
		Root:      absRoot,
		Remote:    cfg.Forest.Remote,
		Registry:  process.NewRegistry(),
		Store:     store,
		Metrics:   collector,
		Workers:   cfg.Runner.Workers,
		RunRate:   cfg.Runner.RunRate,
		ClearLogs: cfg.Runner.ClearLogs,
	}, cleanup, nil
}

// buildStore opens the catalogue backend named by the config. The cleanup
// releases whatever connections the backend holds.
func buildStore(cfg *config.Config, root string, logger *zap.Logger) (catalogue.Store, func(), error) {
	switch cfg.Catalogue.Backend {
	case "", "file":
		return catalogue.NewFileStore(root, logger), func() {}, nil

	case "memory":
		return catalogue.NewMemoryStore(), func() {}, nil

	case "database":
		db, err := openDatabase(cfg.Database, logger)
		if err != nil {
			return nil, nil, err
		}
		pm, err := database.NewPoolManager(db, database.PoolConfig{
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create pool manager: %w", err)
		}
		store := catalogue.NewDatabaseStore(pm, root, logger)
		if err := store.AutoMigrate(); err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("failed to migrate catalogue schema: %w", err)
		}
		return store, func() { store.Close() }, nil

	case "redis":
		cm, err := cache.NewManager(cache.Config{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect redis: %w", err)
		}
		store := catalogue.NewRedisStore(cm, root, logger)
		return store, func() { store.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unsupported catalogue backend: %s (supported: file, memory, database, redis)", cfg.Catalogue.Backend)
	}
}

// openDatabase opens the gorm connection named by the database config.
func openDatabase(dbCfg config.DatabaseConfig, logger *zap.Logger) (*gorm.DB, error) {
	if dbCfg.Driver == "" {
		return nil, fmt.Errorf("database driver not configured")
	}

	var dialector gorm.Dialector
	switch dbCfg.Driver {
	case "postgres":
		dialector = postgres.Open(dbCfg.DSN())
	case "mysql":
		dialector = mysql.Open(dbCfg.DSN())
	case "sqlite":
		dialector = sqlite.Open(dbCfg.DSN())
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: postgres, mysql, sqlite)", dbCfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	logger.Info("Database connected", zap.String("driver", dbCfg.Driver))
	return db, nil
}

// registerPassthroughs registers a passthrough definition for every process
// in the chain that has no registered implementation. A passthrough writes
// the run's metadata frame into its output dir, so unregistered processes
// still produce complete run dirs that downstream tooling can read.
func registerPassthroughs(registry *process.Registry, order []string) error {
	prev := ""
	for _, name := range order {
		if !registry.Contains(name) {
			def := &process.Definition{
				Name:     name,
				Requires: prev,
				Func:     passthrough,
			}
			if err := registry.Register(def); err != nil {
				return err
			}
		}
		prev = name
	}
	return nil
}

// passthrough copies the run's metadata into the run dir unchanged.
func passthrough(ctx context.Context, run process.Run) error {
	run.Logger().Info("passthrough process, writing metadata",
		zap.String("process", run.Process()))
	metaPath := filepath.Join(run.OutputDir(), forest.MetaFileName)
	return run.Meta().WriteTSVFile(metaPath)
}
