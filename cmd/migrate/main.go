// Command migrate manages the harvester's database schema.
//
// Usage:
//
//	migrate [-path dir] <command>
//
// Commands:
//
//	up        apply all pending migrations
//	down      roll back all migrations
//	steps N   run N migrations (negative rolls back)
//	version   print the current schema version
//	force V   overwrite the recorded version after a failed migration
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/bibworks/metadata-harvester/internal/config"
	"github.com/bibworks/metadata-harvester/internal/database"
	"github.com/bibworks/metadata-harvester/internal/observability"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := flag.NewFlagSet("migrate", flag.ContinueOnError)
	pathOverride := flags.String("path", "", "override the migrations directory")
	flags.Usage = usage
	if err := flags.Parse(args); err != nil {
		return err
	}

	command := flags.Arg(0)
	if command == "" {
		usage()
		return fmt.Errorf("no command specified")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      "info",
		Format:     "console",
		Output:     "stdout",
		TimeFormat: time.RFC3339,
	})
	logger = logger.With().Str("component", "migrate").Logger()

	migrationDir := cfg.Database.MigrationPath
	if *pathOverride != "" {
		migrationDir = *pathOverride
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	migrator, err := database.NewMigrator(db, migrationDir, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close migrator")
		}
	}()

	switch command {
	case "up":
		if err := migrator.Up(); err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}

	case "down":
		if err := migrator.Down(); err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}

	case "steps":
		n, err := intArg(flags.Arg(1), "steps")
		if err != nil {
			return err
		}
		if err := migrator.Steps(n); err != nil {
			return fmt.Errorf("migrate steps: %w", err)
		}

	case "version":
		// Fall through to the version report below.

	case "force":
		v, err := intArg(flags.Arg(1), "force")
		if err != nil {
			return err
		}
		if err := migrator.Force(v); err != nil {
			return fmt.Errorf("force version: %w", err)
		}

	default:
		usage()
		return fmt.Errorf("unknown command %q", command)
	}

	printVersion(migrator, logger)
	return nil
}

func intArg(raw, command string) (int, error) {
	if raw == "" {
		return 0, fmt.Errorf("%s requires a numeric argument", command)
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s requires a numeric argument, got %q", command, raw)
	}
	return n, nil
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: migrate [-path dir] <up|down|steps N|version|force V>")
}

// printVersion logs the current schema version.
func printVersion(migrator *database.Migrator, logger zerolog.Logger) {
	v, dirty, err := migrator.Version()
	if err != nil {
		logger.Warn().Err(err).Msg("could not determine migration version")
		return
	}
	logger.Info().
		Uint("version", v).
		Bool("dirty", dirty).
		Msg("current migration version")
}
