package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strconv"

	"github.com/BaSui01/ragcore/internal/migration"
)

// =============================================================================
// Database Migration Commands
// =============================================================================

// 需要数字参数的子命令
var migrateArgCommands = map[string]bool{"steps": true, "force": true}

// runMigrate handles the migrate command and its subcommands
func runMigrate(args []string) error {
	if len(args) < 1 {
		printMigrateUsage()
		return errors.New("missing migrate subcommand")
	}

	subcommand, rest := args[0], args[1:]
	switch subcommand {
	case "help", "-h", "--help":
		printMigrateUsage()
		return nil
	case "up", "down", "steps", "force", "version", "status", "info":
	default:
		printMigrateUsage()
		return fmt.Errorf("unknown migrate subcommand: %s", subcommand)
	}

	arg := 0
	if migrateArgCommands[subcommand] {
		if len(rest) < 1 {
			return fmt.Errorf("usage: ragcore migrate %s <n>", subcommand)
		}
		n, err := strconv.Atoi(rest[0])
		if err != nil {
			return fmt.Errorf("invalid number: %s", rest[0])
		}
		arg, rest = n, rest[1:]
	}

	fs := flag.NewFlagSet("migrate "+subcommand, flag.ExitOnError)
	migrator, err := createMigrator(fs, rest)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer migrator.Close()

	return migration.NewCLI(migrator).Run(context.Background(), subcommand, arg)
}

// printMigrateUsage prints the usage information for migrate command
func printMigrateUsage() {
	fmt.Println(`Database Migration Commands

Usage:
  ragcore migrate <subcommand> [options]

Subcommands:
  up         Apply all pending migrations
  down       Rollback the last migration
  steps <n>  Apply (n > 0) or rollback (n < 0) n migrations
  force <v>  Force set migration version (use with caution)
  version    Show current migration version
  status     Show migration status
  info       Show migration details
  help       Show this help message

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql (default: storage.backend)
  --db-url <url>      Database connection URL (default: from storage.database)

sqlite and mongodb stores manage their own schema and need no migrations.

Examples:
  ragcore migrate up
  ragcore migrate up --config /etc/ragcore/config.yaml
  ragcore migrate steps -1
  ragcore migrate status --db-type postgres --db-url postgres://u:p@localhost:5432/rag?sslmode=disable`)
}

// createMigrator creates a migrator from command line flags
func createMigrator(fs *flag.FlagSet, args []string) (*migration.DefaultMigrator, error) {
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type (postgres, mysql)")
	dbURL := fs.String("db-url", "", "Database connection URL")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return nil, err
	}
	logger := initLogger(cfg.Log)

	// If db-type and db-url are provided, use them directly
	if *dbType != "" && *dbURL != "" {
		return migration.NewMigratorFromURL(*dbType, *dbURL, logger)
	}

	if *dbType != "" {
		cfg.Storage.Backend = *dbType
	}
	return migration.NewMigratorFromStorageConfig(cfg.Storage, logger)
}
