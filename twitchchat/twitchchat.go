// Package twitchchat is the Twitch IRC adapter. It normalizes chat messages
// into orchestrator events and replies with an @mention in channel. Twitch has
// no DMs here, so every non-command message in the joined channel is treated
// as addressed to the bot.
package twitchchat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/ghost-bot/bot"
	"github.com/onnwee/ghost-bot/config"
	"github.com/onnwee/ghost-bot/state"
)

// Adapter connects one Twitch channel to the orchestrator.
type Adapter struct {
	cfg    *config.Config
	orch   *bot.Orchestrator
	client *twitch.Client
}

// New builds the adapter. Call Run to connect.
func New(cfg *config.Config, orch *bot.Orchestrator) *Adapter {
	client := twitch.NewClient(cfg.TwitchBotUsername, normalizeOAuth(cfg.TwitchOAuthToken))
	a := &Adapter{cfg: cfg, orch: orch, client: client}

	client.OnConnect(func() {
		slog.Info("twitch connected", slog.String("channel", cfg.TwitchChannel))
	})
	client.OnPrivateMessage(a.onMessage)
	client.Join(cfg.TwitchChannel)
	return a
}

// Run connects and blocks until ctx is canceled or the connection fails.
func (a *Adapter) Run(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- a.client.Connect() }()
	select {
	case <-ctx.Done():
		if err := a.client.Disconnect(); err != nil {
			slog.Warn("twitch disconnect", slog.Any("err", err))
		}
		<-done
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("twitch irc: %w", err)
		}
		return nil
	}
}

func (a *Adapter) onMessage(m twitch.PrivateMessage) {
	if strings.EqualFold(m.User.Name, a.cfg.TwitchBotUsername) {
		return
	}
	ev := bot.Event{
		Platform:    state.PlatformTwitch,
		UserID:      m.User.ID,
		Username:    m.User.Name,
		DisplayName: m.User.DisplayName,
		Text:        strings.TrimSpace(m.Message),
	}
	reply := &channelReplier{client: a.client, channel: m.Channel, user: m.User.DisplayName}

	ctx := context.Background()
	if a.orch.HandleCommand(ctx, ev, reply) {
		return
	}
	a.orch.HandleMessage(ctx, ev, reply)
}

// channelReplier says the text in channel, addressed at the user.
type channelReplier struct {
	client  *twitch.Client
	channel string
	user    string
}

func (r *channelReplier) Deliver(_ context.Context, text string) error {
	if text == "" {
		return nil
	}
	r.client.Say(r.channel, "@"+r.user+" "+text)
	return nil
}

// normalizeOAuth accepts tokens with or without the oauth: prefix the IRC
// server expects.
func normalizeOAuth(token string) string {
	if token == "" || strings.HasPrefix(token, "oauth:") {
		return token
	}
	return "oauth:" + token
}
