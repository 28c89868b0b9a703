// DataForest command entry point.
//
// Usage:
//
//	dataforest run -root ./forest -spec branch.yaml         # run a branch
//	dataforest tree -root ./forest -spec tree.yaml          # expand and run a tree
//	dataforest status -root ./forest -spec tree.yaml        # per-process run counts
//	dataforest catalogue -root ./forest -process normalize  # list a run catalogue
//	dataforest migrate up                                   # catalogue DB migrations
//	dataforest version                                      # build information

package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/TheAustinator/dataforest/config"
)

// Build information, injected via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runRun(os.Args[2:])
	case "tree":
		runTree(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "catalogue":
		runCatalogue(os.Args[2:])
	case "migrate":
		runMigrate(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("DataForest %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`DataForest - data science workflow manager

Usage:
  dataforest <command> [options]

Commands:
  run        Run the processes of a single branch
  tree       Expand a tree spec and run it across all branches
  status     Report done/success/failed counts per process
  catalogue  List or rebuild a process run catalogue
  migrate    Catalogue database migration commands
  version    Show version information
  help       Show this help message

Options for 'run', 'tree', and 'status':
  -config <path>    Path to configuration file (YAML)
  -root <dir>       Forest root directory (overrides config)
  -spec <path>      Branch or tree spec file (YAML)
  -process <name>   Restrict to a single process

Options for 'catalogue':
  -root <dir>       Forest root directory (overrides config)
  -process <name>   Process whose catalogues to list
  -rebuild          Rewrite the catalogues from the run dirs on disk

Migration subcommands:
  migrate up        Apply all pending migrations
  migrate down      Rollback the last migration
  migrate status    Show migration status
  migrate version   Show current migration version
  migrate goto <v>  Migrate to a specific version
  migrate force <v> Force set migration version
  migrate reset     Rollback all migrations

Examples:
  dataforest run -root ./forest -spec branch.yaml
  dataforest tree -root ./forest -spec tree.yaml -config dataforest.yaml
  dataforest status -root ./forest -spec tree.yaml
  dataforest catalogue -root ./forest -process normalize -rebuild
  dataforest migrate up
  dataforest version`)
}

// loadConfig loads and validates the configuration, falling back to the
// defaults when no path is given.
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// initLogger builds the zap logger described by the log configuration.
func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         "json",
		EncoderConfig:    encoderConfig,
		OutputPaths:      cfg.OutputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}
	if cfg.Format == "console" {
		zapConfig.Encoding = "console"
	}

	var opts []zap.Option
	if cfg.EnableCaller {
		opts = append(opts, zap.AddCaller())
	}
	if cfg.EnableStacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	logger, err := zapConfig.Build(opts...)
	if err != nil {
		// Fall back to a basic logger
		logger, _ = zap.NewProduction()
	}

	return logger
}

// fatal prints the error and exits. Used before the logger exists or for
// flag-level mistakes.
func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
