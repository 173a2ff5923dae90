// purge-user removes one platform key from storage, for data deletion
// requests. A linked pair must be purged one key at a time; purging one side
// leaves the other side's record in place.
//
// Usage:
//
//	purge-user -key discord_123456789
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/onnwee/ghost-bot/config"
	"github.com/onnwee/ghost-bot/state"
	"github.com/onnwee/ghost-bot/storage"
)

func main() {
	_ = godotenv.Load()
	key := flag.String("key", "", "platform key, e.g. discord_123456789 or twitch_44445555")
	flag.Parse()

	if err := run(*key); err != nil {
		slog.Error("purge failed", slog.Any("err", err))
		os.Exit(1)
	}
}

func run(key string) error {
	if key == "" {
		flag.Usage()
		return fmt.Errorf("missing -key")
	}
	if !strings.HasPrefix(key, string(state.PlatformDiscord)+"_") &&
		!strings.HasPrefix(key, string(state.PlatformTwitch)+"_") {
		slog.Warn("key has no known platform prefix, purging anyway", slog.String("key", key))
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ctx := context.Background()

	var backend storage.Backend
	if cfg.DBDsn != "" {
		backend, err = storage.OpenPostgres(ctx, cfg.DBDsn)
	} else {
		backend, err = storage.OpenFile(cfg.StateFile)
	}
	if err != nil {
		return err
	}
	defer backend.Close()

	if err := backend.DeleteUser(ctx, key); err != nil {
		return err
	}
	slog.Info("user purged", slog.String("key", key))
	return nil
}
