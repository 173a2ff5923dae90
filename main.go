package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/ghost-bot/bot"
	"github.com/onnwee/ghost-bot/config"
	"github.com/onnwee/ghost-bot/discord"
	"github.com/onnwee/ghost-bot/link"
	"github.com/onnwee/ghost-bot/openrouter"
	"github.com/onnwee/ghost-bot/ratelimit"
	"github.com/onnwee/ghost-bot/server"
	"github.com/onnwee/ghost-bot/specialusers"
	"github.com/onnwee/ghost-bot/state"
	"github.com/onnwee/ghost-bot/storage"
	"github.com/onnwee/ghost-bot/summary"
	"github.com/onnwee/ghost-bot/telemetry"
	"github.com/onnwee/ghost-bot/twitchapi"
	"github.com/onnwee/ghost-bot/twitchchat"
)

// version is set via -ldflags at build time.
var version = "dev"

func main() {
	_ = godotenv.Load()
	setupLogging()

	if err := run(); err != nil {
		slog.Error("fatal", slog.Any("err", err))
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.ValidateCompletionReady(); err != nil {
		return err
	}

	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing("ghost-bot", version)
	if err != nil {
		return err
	}
	defer shutdownTracing()

	backend, degraded, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	users, pendingLinks, err := backend.LoadAll(ctx)
	if err != nil {
		return err
	}
	store := state.NewStore(backend, cfg.MessageWindow)
	store.Install(users)
	telemetry.SetTrackedUsers(store.Count())
	slog.Info("state loaded",
		slog.Int("users", store.Count()),
		slog.Int("pending_links", len(pendingLinks)))

	special, err := specialusers.Load(cfg.SpecialUsersFile)
	if err != nil {
		return err
	}

	chatClient := &openrouter.Client{
		BaseURL: cfg.CompletionBaseURL,
		APIKey:  cfg.CompletionChatKey,
		Model:   cfg.ChatModel,
		Timeout: cfg.CompletionTimeout,
	}
	summaryClient := &openrouter.Client{
		BaseURL: cfg.CompletionBaseURL,
		APIKey:  cfg.CompletionSummaryKey,
		Model:   cfg.SummaryModel,
		Timeout: cfg.CompletionTimeout,
	}

	broker := link.NewBroker(store, backend, special, summaryClient, cfg.LinkTTL)
	broker.Install(pendingLinks)
	scheduler := summary.New(summaryClient, cfg.BotName, cfg.SummaryThreshold, cfg.SummaryMaxAge)
	limiter := ratelimit.New(cfg.DailyLimit, cfg.MinuteLimit)

	orch := bot.New(cfg, store, broker, scheduler, limiter, chatClient, special)
	if cfg.TwitchClientID != "" && cfg.TwitchClientSecret != "" {
		orch.SetTwitchResolver(twitchapi.New(cfg.TwitchClientID, cfg.TwitchClientSecret))
	}

	srv := server.New(cfg.HTTPAddr, server.Deps{
		Store:    store,
		Limiter:  limiter,
		Broker:   broker,
		Storage:  backend,
		Degraded: degraded,
		Version:  version,
	})

	errCh := make(chan error, 3)
	go func() {
		slog.Info("http server listening", slog.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	started := 0
	if err := cfg.ValidateTwitchReady(); err == nil {
		adapter := twitchchat.New(cfg, orch)
		started++
		go func() { errCh <- adapter.Run(ctx) }()
	} else {
		slog.Info("twitch adapter disabled", slog.Any("reason", err))
	}
	if err := cfg.ValidateDiscordReady(); err == nil {
		adapter, err := discord.New(cfg, orch)
		if err != nil {
			return err
		}
		started++
		go func() { errCh <- adapter.Run(ctx) }()
	} else {
		slog.Info("discord adapter disabled", slog.Any("reason", err))
	}
	if started == 0 {
		return errors.New("no platform adapter configured, set DISCORD_TOKEN or the TWITCH_* variables")
	}

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("adapter failed", slog.Any("err", err))
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", slog.Any("err", err))
	}
	return nil
}

// openStorage picks Postgres when DB_DSN is set (with the JSON file as the
// degraded tier) and the plain file otherwise.
func openStorage(ctx context.Context, cfg *config.Config) (storage.Backend, func() bool, error) {
	file, err := storage.OpenFile(cfg.StateFile)
	if err != nil {
		return nil, nil, err
	}
	if cfg.DBDsn == "" {
		slog.Info("using file storage", slog.String("path", cfg.StateFile))
		return file, nil, nil
	}
	pg, err := storage.OpenPostgres(ctx, cfg.DBDsn)
	if err != nil {
		// Postgres configured but unreachable at boot: start degraded
		// rather than refusing to chat.
		slog.Error("postgres unavailable at startup, using file storage for this session", slog.Any("err", err))
		telemetry.SetStorageFallback(true)
		return file, func() bool { return true }, nil
	}
	tiered := storage.NewTiered(pg, file)
	tiered.OnDegrade = func() { telemetry.SetStorageFallback(true) }
	slog.Info("using postgres storage with file fallback", slog.String("fallback", cfg.StateFile))
	return tiered, tiered.Degraded, nil
}

// setupLogging configures slog from LOG_LEVEL and LOG_FORMAT.
func setupLogging() {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
