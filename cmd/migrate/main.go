// Command migrate runs goose against the configured database using the embedded migrations.
//
//	migrate [up|down|status|version|redo|reset]
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/BradenHooton/aegis/internal/config"
	"github.com/BradenHooton/aegis/internal/database"
	"github.com/BradenHooton/aegis/migrations"
)

func main() {
	flag.Parse()
	command := "up"
	if flag.NArg() > 0 {
		command = flag.Arg(0)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	sqlDB := stdlib.OpenDBFromPool(db.Pool)
	defer sqlDB.Close()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		logger.Error("failed to set dialect", slog.Any("error", err))
		os.Exit(1)
	}

	if err := goose.RunContext(context.Background(), command, sqlDB, ".", flag.Args()[min(1, flag.NArg()):]...); err != nil {
		logger.Error("migration command failed", slog.String("command", command), slog.Any("error", err))
		db.Close()
		os.Exit(1)
	}
	logger.Info("migration command completed", slog.String("command", command))
}
