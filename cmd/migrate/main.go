// Command migrate manages the import schema. Without -path it uses the
// migrations compiled into the binary.
package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	_ "github.com/lib/pq"
	"github.com/storefront/backend/internal/infrastructure/config"
	"github.com/storefront/backend/internal/infrastructure/logger"
	"github.com/storefront/backend/internal/infrastructure/migration"
	"github.com/storefront/backend/migrations"
	"go.uber.org/zap"
)

const usage = `Storefront import schema migration tool

Usage:
  migrate [flags] <command> [arguments]

Commands:
  up                    Apply all pending migrations
  down                  Roll back all migrations
  step <n>              Apply n migrations (negative rolls back)
  goto <version>        Migrate to a specific version
  version               Show current migration version
  force <version>       Set the version without running anything (clears dirty)
  create <name> [desc]  Write a new up/down pair (requires -path)
  list                  List available migrations

Flags:
  -path string          Migrations directory (default: embedded schema)
  -log-level string     debug, info, warn or error (default: info)

Database settings come from config.toml or STOREFRONT_DATABASE_HOST,
STOREFRONT_DATABASE_PORT, STOREFRONT_DATABASE_USER,
STOREFRONT_DATABASE_PASSWORD and STOREFRONT_DATABASE_DBNAME.`

var errUsage = errors.New("usage")

// schemaCommand runs against a connected migrator
type schemaCommand struct {
	minArgs int
	run     func(m *migration.Migrator, log *zap.Logger, args []string) error
}

var schemaCommands = map[string]schemaCommand{
	"up":   {run: func(m *migration.Migrator, _ *zap.Logger, _ []string) error { return m.Up() }},
	"down": {run: func(m *migration.Migrator, _ *zap.Logger, _ []string) error { return m.Down() }},
	"step": {minArgs: 1, run: func(m *migration.Migrator, _ *zap.Logger, args []string) error {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid step count %q", args[0])
		}
		return m.Steps(n)
	}},
	"goto": {minArgs: 1, run: func(m *migration.Migrator, _ *zap.Logger, args []string) error {
		v, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid version %q", args[0])
		}
		return m.GoTo(uint(v))
	}},
	"force": {minArgs: 1, run: func(m *migration.Migrator, log *zap.Logger, args []string) error {
		v, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid version %q", args[0])
		}
		log.Warn("Forcing migration version", zap.Int("version", v))
		return m.Force(v)
	}},
	"version": {run: func(m *migration.Migrator, log *zap.Logger, _ []string) error {
		v, dirty, err := m.Version()
		if err != nil {
			return err
		}
		if v == 0 {
			log.Info("No migrations applied")
			return nil
		}
		log.Info("Current migration version", zap.Uint("version", v), zap.Bool("dirty", dirty))
		return nil
	}},
}

func main() {
	path := flag.String("path", "", "migrations directory (default: embedded schema)")
	level := flag.String("log-level", "info", "log level")
	flag.Usage = func() { fmt.Fprintln(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	log, err := logger.New(&logger.Config{Level: *level, Format: "console", TimeFormat: "15:04:05"}, "storefront-migrate")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(log, *path, flag.Arg(0), flag.Args()[1:]); err != nil {
		if errors.Is(err, errUsage) {
			flag.Usage()
			os.Exit(2)
		}
		log.Fatal("Migration command failed", zap.String("command", flag.Arg(0)), zap.Error(err))
	}
}

func run(log *zap.Logger, dir, command string, args []string) error {
	if dir != "" {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", dir, err)
		}
		dir = abs
	}
	source := dir
	if source == "" {
		source = "embedded"
	}
	log.Info("Migration CLI started", zap.String("command", command), zap.String("source", source))

	switch command {
	case "create":
		return create(log, dir, args)
	case "list":
		return list(log, dir)
	}

	cmd, ok := schemaCommands[command]
	if !ok {
		log.Error("Unknown command", zap.String("command", command))
		return errUsage
	}
	if len(args) < cmd.minArgs {
		return fmt.Errorf("%s needs %d argument(s): %w", command, cmd.minArgs, errUsage)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	var m *migration.Migrator
	if dir == "" {
		m, err = migration.NewEmbedded(db, log)
	} else {
		m, err = migration.New(db, dir, log)
	}
	if err != nil {
		return err
	}
	// closes db as well
	defer m.Close()

	return cmd.run(m, log, args)
}

func create(log *zap.Logger, dir string, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("create needs a name: %w", errUsage)
	}
	if dir == "" {
		return errors.New("create writes files and needs -path")
	}
	desc := ""
	if len(args) > 1 {
		desc = args[1]
	}
	mf, err := migration.CreateMigration(dir, args[0], desc)
	if err != nil {
		return err
	}
	log.Info("Migration created",
		zap.String("version", mf.Version),
		zap.String("up_file", mf.UpPath),
		zap.String("down_file", mf.DownPath),
	)
	return nil
}

func list(log *zap.Logger, dir string) error {
	var (
		names []string
		err   error
	)
	if dir == "" {
		names, err = migration.ListMigrationsFS(migrations.FS)
	} else {
		names, err = migration.ListMigrations(dir)
	}
	if err != nil {
		return err
	}
	log.Info("Available migrations", zap.Int("count", len(names)))
	for _, name := range names {
		fmt.Println("  -", name)
	}
	return nil
}
