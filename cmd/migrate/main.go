package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/migrate"
)

// gooseCommands are passed straight through to goose.
var gooseCommands = map[string]bool{
	"up":        true,
	"up-by-one": true,
	"down":      true,
	"redo":      true,
	"status":    true,
}

func main() {
	logg := logger.New(logger.Options{ServiceName: "migrate"})

	_ = godotenv.Load()

	cmd := flag.String("cmd", "up", "migration command: up|up-by-one|down|redo|status|version|create|validate")
	dir := flag.String("dir", migrate.DefaultDir, "goose migrations directory")
	name := flag.String("name", "", "migration name (for create)")
	version := flag.String("version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.Parse()

	// create and validate run without config or a database.
	switch *cmd {
	case "create":
		if *name == "" {
			exitf("missing -name for create")
		}
		path, err := migrate.CreateSQLMigration(*dir, *name)
		if err != nil {
			exitf("failed to create migration: %v", err)
		}
		fmt.Println("created migration:", path)
		return
	case "validate":
		fsys, err := migrate.Source(*dir)
		if err == nil {
			err = migrate.ValidateFS(fsys)
		}
		if err != nil {
			exitf("migration validation failed: %v", err)
		}
		fmt.Println("migration validation passed")
		return
	}

	if *cmd != "version" && !gooseCommands[*cmd] {
		exitf("unknown -cmd value: %s", *cmd)
	}

	cfg, err := config.Load()
	requireResource(context.Background(), logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Console:     cfg.App.ConsoleLogs(),
	})
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env": cfg.App.Env,
		"cmd": *cmd,
		"dir": *dir,
	})

	fsys, err := migrate.Source(*dir)
	requireResource(ctx, logg, "migrations source", err)
	requireResource(ctx, logg, "migrations source", migrate.ValidateFS(fsys))

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	requireResource(ctx, logg, "sql database", err)

	runner, err := migrate.NewRunner(sqlDB, *dir, logg)
	requireResource(ctx, logg, "migration runner", err)

	if err := run(ctx, runner, *cmd, *version); err != nil {
		logg.Error(ctx, "migration command failed", err)
		os.Exit(1)
	}
	logg.Info(ctx, "migration command completed")
}

func run(ctx context.Context, runner *migrate.Runner, cmd, version string) error {
	if cmd == "version" {
		if version == "" {
			return fmt.Errorf("missing -version for version command")
		}
		return runner.MigrateTo(ctx, version)
	}
	return runner.Exec(ctx, cmd)
}

func exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
