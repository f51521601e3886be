package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/scenegen/config"
	"github.com/BaSui01/scenegen/internal/migration"
)

// =============================================================================
// Database Migration Commands
// =============================================================================

// migrateArgs 解析后的 migrate 参数
type migrateArgs struct {
	command    string
	positional []string
	configPath string
	dbType     string
	dbURL      string
}

// parseMigrateArgs 支持 "goto 3 --config x" 与 "goto --config x 3" 两种顺序
func parseMigrateArgs(args []string, stderr io.Writer) (migrateArgs, error) {
	if len(args) == 0 {
		return migrateArgs{}, fmt.Errorf("missing migrate subcommand")
	}
	ma := migrateArgs{command: args[0]}
	rest := args[1:]
	for len(rest) > 0 && !strings.HasPrefix(rest[0], "-") {
		ma.positional = append(ma.positional, rest[0])
		rest = rest[1:]
	}

	fs := flag.NewFlagSet("migrate "+ma.command, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&ma.configPath, "config", "", "Path to config file")
	fs.StringVar(&ma.dbType, "db-type", "", "Database type (postgres, mysql, sqlite)")
	fs.StringVar(&ma.dbURL, "db-url", "", "Database connection URL")
	if err := fs.Parse(rest); err != nil {
		return ma, err
	}
	ma.positional = append(ma.positional, fs.Args()...)
	return ma, nil
}

// runMigrate handles the migrate command and its subcommands
func runMigrate(args []string) {
	if len(args) > 0 && (args[0] == "help" || args[0] == "-h" || args[0] == "--help") {
		printMigrateUsage()
		return
	}

	ma, err := parseMigrateArgs(args, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		printMigrateUsage()
		os.Exit(1)
	}
	if !slices.Contains(migration.Commands, ma.command) {
		fmt.Fprintf(os.Stderr, "Unknown migrate subcommand: %s\n", ma.command)
		printMigrateUsage()
		os.Exit(1)
	}

	migrator, err := createMigrator(ma)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}
	defer migrator.Close()

	if err := migration.NewCLI(migrator).Run(context.Background(), ma.command, ma.positional); err != nil {
		fmt.Fprintf(os.Stderr, "Migration %s failed: %v\n", ma.command, err)
		_ = migrator.Close()
		os.Exit(1)
	}
}

// createMigrator 优先使用 --db-type/--db-url，否则读取配置中的 database 段
func createMigrator(ma migrateArgs) (*migration.DefaultMigrator, error) {
	logger := zap.NewNop()
	if ma.dbType != "" && ma.dbURL != "" {
		return migration.NewMigratorFromURL(ma.dbType, ma.dbURL, logger)
	}

	loader := config.NewLoader()
	if ma.configPath != "" {
		loader = loader.WithConfigPath(ma.configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if ma.dbType != "" {
		cfg.Database.Driver = ma.dbType
	}
	if target := migration.TargetURL(cfg.Database); target != "" {
		fmt.Fprintf(os.Stderr, "Migration target: %s\n", target)
	}
	return migration.NewMigratorFromConfig(cfg, logger)
}

// printMigrateUsage prints the usage information for migrate command
func printMigrateUsage() {
	fmt.Println(`Database Migration Commands

Usage:
  scenegen migrate <subcommand> [args] [options]

Subcommands:
  up          Apply all pending migrations
  down        Rollback the last migration
  reset       Rollback all migrations
  steps <n>   Apply (n > 0) or rollback (n < 0) n migrations
  goto <v>    Migrate to a specific version
  force <v>   Force set migration version (use with caution)
  version     Show current migration version
  status      Show migration status
  info        Show migration summary

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql, sqlite (default: from config)
  --db-url <url>      Database connection URL (default: from config)

Examples:
  scenegen migrate up
  scenegen migrate up --config /etc/scenegen/config.yaml
  scenegen migrate status --db-type sqlite --db-url "file:runs.db?_pragma=foreign_keys(1)"
  scenegen migrate goto 1
  scenegen migrate force 0`)
}
