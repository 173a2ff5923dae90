// migrate-states copies all user records and the pending-links document
// between the JSON file store and Postgres, in either direction. The source is
// left untouched.
//
// Usage:
//
//	migrate-states -from file -to postgres
//	migrate-states -from postgres -to file
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/onnwee/ghost-bot/config"
	"github.com/onnwee/ghost-bot/storage"
)

func main() {
	_ = godotenv.Load()
	from := flag.String("from", "file", "source backend: file or postgres")
	to := flag.String("to", "postgres", "destination backend: file or postgres")
	flag.Parse()

	if err := run(*from, *to); err != nil {
		slog.Error("migration failed", slog.Any("err", err))
		os.Exit(1)
	}
}

func run(from, to string) error {
	if from == to {
		return fmt.Errorf("source and destination are both %q", from)
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ctx := context.Background()

	src, err := open(ctx, cfg, from)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer src.Close()
	dst, err := open(ctx, cfg, to)
	if err != nil {
		return fmt.Errorf("open destination: %w", err)
	}
	defer dst.Close()

	n, err := storage.Migrate(ctx, src, dst)
	if err != nil {
		return err
	}
	slog.Info("migration complete",
		slog.String("from", from),
		slog.String("to", to),
		slog.Int("users", n))
	return nil
}

func open(ctx context.Context, cfg *config.Config, kind string) (storage.Backend, error) {
	switch kind {
	case "file":
		return storage.OpenFile(cfg.StateFile)
	case "postgres":
		if cfg.DBDsn == "" {
			return nil, fmt.Errorf("DB_DSN is not set")
		}
		return storage.OpenPostgres(ctx, cfg.DBDsn)
	default:
		return nil, fmt.Errorf("unknown backend %q", kind)
	}
}
