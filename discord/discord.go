// Package discord is the Discord gateway adapter. Unlike the Twitch side,
// Discord channels are shared spaces: the bot answers DMs, @mentions, and
// messages containing its name, and stays quiet otherwise. Commands work in
// any of those.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/onnwee/ghost-bot/bot"
	"github.com/onnwee/ghost-bot/config"
	"github.com/onnwee/ghost-bot/state"
)

// Adapter connects the Discord gateway to the orchestrator.
type Adapter struct {
	cfg     *config.Config
	orch    *bot.Orchestrator
	session *discordgo.Session
	botID   string
}

// New opens a session object (not yet connected). Call Run to connect.
func New(cfg *config.Config, orch *bot.Orchestrator) (*Adapter, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	a := &Adapter{cfg: cfg, orch: orch, session: session}
	session.AddHandler(a.onReady)
	session.AddHandler(a.onMessage)
	return a, nil
}

// Run connects and blocks until ctx is canceled.
func (a *Adapter) Run(ctx context.Context) error {
	if err := a.session.Open(); err != nil {
		return fmt.Errorf("discord open: %w", err)
	}
	<-ctx.Done()
	if err := a.session.Close(); err != nil {
		slog.Warn("discord close", slog.Any("err", err))
	}
	return ctx.Err()
}

func (a *Adapter) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	a.botID = r.User.ID
	slog.Info("discord connected", slog.String("bot_user", r.User.Username))
}

func (a *Adapter) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == a.botID || m.Author.Bot {
		return
	}

	text := strings.TrimSpace(a.stripBotMention(m.Content))
	ev := bot.Event{
		Platform:    state.PlatformDiscord,
		UserID:      m.Author.ID,
		Username:    m.Author.Username,
		DisplayName: displayName(m),
		Text:        text,
		Mentions:    mentionedNames(m, a.botID),
	}
	reply := &channelReplier{session: s, channelID: m.ChannelID}

	ctx := context.Background()
	if a.orch.HandleCommand(ctx, ev, reply) {
		return
	}
	if !a.addressed(m) {
		return
	}
	a.orch.HandleMessage(ctx, ev, reply)
}

// addressed reports whether the message is for the bot: a DM, an @mention, or
// the bot's name appearing in the text.
func (a *Adapter) addressed(m *discordgo.MessageCreate) bool {
	if m.GuildID == "" {
		return true
	}
	for _, u := range m.Mentions {
		if u.ID == a.botID {
			return true
		}
	}
	return strings.Contains(strings.ToLower(m.Content), strings.ToLower(a.cfg.BotName))
}

// stripBotMention drops the bot's own <@id> token so it never reaches the model.
func (a *Adapter) stripBotMention(content string) string {
	if a.botID == "" {
		return content
	}
	for _, tok := range []string{"<@" + a.botID + ">", "<@!" + a.botID + ">"} {
		content = strings.ReplaceAll(content, tok, "")
	}
	return content
}

func displayName(m *discordgo.MessageCreate) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}

// mentionedNames collects the usernames of mentioned users other than the bot.
func mentionedNames(m *discordgo.MessageCreate, botID string) []string {
	var names []string
	for _, u := range m.Mentions {
		if u.ID == botID {
			continue
		}
		names = append(names, u.Username)
	}
	return names
}

// channelReplier sends to the originating channel.
type channelReplier struct {
	session   *discordgo.Session
	channelID string
}

func (r *channelReplier) Deliver(_ context.Context, text string) error {
	if text == "" {
		return nil
	}
	_, err := r.session.ChannelMessageSend(r.channelID, text)
	return err
}
