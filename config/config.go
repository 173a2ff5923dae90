// Package config loads environment variables and provides a typed Config used across the bot.
// It applies sensible defaults so the binary can run locally with minimal setup.
// For required credentials (Discord token, Twitch chat), use the ValidateXReady helpers.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Defaults for the conversation core. They can all be overridden via env but the
// tests and docs assume these values.
const (
	DefaultSummaryThreshold = 40
	DefaultMessageWindow    = 50
	DefaultDailyLimit       = 200
	DefaultMinuteLimit      = 20
	DefaultLinkTTL          = 15 * time.Minute
	DefaultSummaryMaxAge    = 30 * time.Minute
)

type Config struct {
	// Bot identity
	BotName string
	Persona string

	// Discord
	DiscordToken   string
	DiscordGuildID string

	// Twitch
	TwitchChannel      string
	TwitchBotUsername  string
	TwitchOAuthToken   string
	TwitchClientID     string
	TwitchClientSecret string

	// Completion API (OpenRouter-compatible chat completions endpoint)
	CompletionBaseURL    string
	CompletionChatKey    string
	CompletionSummaryKey string
	ChatModel            string
	SummaryModel         string
	CompletionTimeout    time.Duration

	// Conversation core
	SummaryThreshold int
	SummaryMaxAge    time.Duration
	MessageWindow    int
	DailyLimit       int
	MinuteLimit      int
	LinkTTL          time.Duration

	// Storage
	DBDsn            string
	StateFile        string
	SpecialUsersFile string

	// Platform delivery limits
	TwitchMaxMessageLen  int
	DiscordMaxMessageLen int

	// Operational HTTP surface
	HTTPAddr string
}

// Load reads environment variables and applies defaults. It doesn't fail when
// platform credentials are missing; missing optional variables disable the
// corresponding adapter (e.g., no DISCORD_TOKEN means no Discord listener).
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.BotName = os.Getenv("BOT_NAME")
	if cfg.BotName == "" {
		cfg.BotName = "Ghost"
	}
	cfg.Persona = os.Getenv("BOT_PERSONA")
	if path := os.Getenv("BOT_PERSONA_FILE"); cfg.Persona == "" && path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read BOT_PERSONA_FILE: %w", err)
		}
		cfg.Persona = string(b)
	}
	if cfg.Persona == "" {
		cfg.Persona = defaultPersona
	}

	cfg.DiscordToken = os.Getenv("DISCORD_TOKEN")
	cfg.DiscordGuildID = os.Getenv("DISCORD_GUILD_ID")

	cfg.TwitchChannel = os.Getenv("TWITCH_CHANNEL")
	cfg.TwitchBotUsername = os.Getenv("TWITCH_BOT_USERNAME")
	cfg.TwitchOAuthToken = os.Getenv("TWITCH_OAUTH_TOKEN")
	cfg.TwitchClientID = os.Getenv("TWITCH_CLIENT_ID")
	cfg.TwitchClientSecret = os.Getenv("TWITCH_CLIENT_SECRET")

	cfg.CompletionBaseURL = os.Getenv("COMPLETION_BASE_URL")
	if cfg.CompletionBaseURL == "" {
		cfg.CompletionBaseURL = "https://openrouter.ai/api/v1"
	}
	cfg.CompletionChatKey = os.Getenv("COMPLETION_CHAT_KEY")
	cfg.CompletionSummaryKey = os.Getenv("COMPLETION_SUMMARY_KEY")
	if cfg.CompletionSummaryKey == "" {
		cfg.CompletionSummaryKey = cfg.CompletionChatKey
	}
	cfg.ChatModel = os.Getenv("CHAT_MODEL")
	if cfg.ChatModel == "" {
		cfg.ChatModel = "qwen/qwen3-235b-a22b-07-25:free"
	}
	cfg.SummaryModel = os.Getenv("SUMMARY_MODEL")
	if cfg.SummaryModel == "" {
		cfg.SummaryModel = "qwen/qwen3-30b-a3b:free"
	}
	cfg.CompletionTimeout = envDuration("COMPLETION_TIMEOUT", 30*time.Second)

	cfg.SummaryThreshold = envInt("SUMMARY_THRESHOLD", DefaultSummaryThreshold)
	cfg.SummaryMaxAge = envDuration("SUMMARY_MAX_AGE", DefaultSummaryMaxAge)
	cfg.MessageWindow = envInt("MESSAGE_WINDOW", DefaultMessageWindow)
	cfg.DailyLimit = envInt("DAILY_LIMIT", DefaultDailyLimit)
	cfg.MinuteLimit = envInt("MINUTE_LIMIT", DefaultMinuteLimit)
	cfg.LinkTTL = envDuration("LINK_TTL", DefaultLinkTTL)

	cfg.DBDsn = os.Getenv("DB_DSN")
	cfg.StateFile = os.Getenv("STATE_FILE")
	if cfg.StateFile == "" {
		cfg.StateFile = "user_states.json"
	}
	cfg.SpecialUsersFile = os.Getenv("SPECIAL_USERS_FILE")
	if cfg.SpecialUsersFile == "" {
		cfg.SpecialUsersFile = "special_users.json"
	}

	cfg.TwitchMaxMessageLen = envInt("TWITCH_MAX_MESSAGE_LEN", 500)
	cfg.DiscordMaxMessageLen = envInt("DISCORD_MAX_MESSAGE_LEN", 2000)

	cfg.HTTPAddr = os.Getenv("HTTP_ADDR")
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}

	return cfg, nil
}

// ValidateTwitchReady checks required fields when the Twitch chat adapter is enabled.
func (c *Config) ValidateTwitchReady() error {
	if c.TwitchChannel == "" || c.TwitchBotUsername == "" || c.TwitchOAuthToken == "" {
		return fmt.Errorf("missing twitch env: require TWITCH_CHANNEL, TWITCH_BOT_USERNAME, TWITCH_OAUTH_TOKEN")
	}
	return nil
}

// ValidateDiscordReady checks required fields when the Discord adapter is enabled.
func (c *Config) ValidateDiscordReady() error {
	if c.DiscordToken == "" {
		return fmt.Errorf("missing discord env: require DISCORD_TOKEN")
	}
	return nil
}

// ValidateCompletionReady checks that the completion API can be called at all.
func (c *Config) ValidateCompletionReady() error {
	if c.CompletionChatKey == "" {
		return fmt.Errorf("missing completion env: require COMPLETION_CHAT_KEY")
	}
	return nil
}

func envInt(key string, def int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if s := os.Getenv(key); s != "" {
		if d, err := time.ParseDuration(s); err == nil && d > 0 {
			return d
		}
	}
	return def
}

// defaultPersona keeps the bot usable without a persona file. Deployments
// override it with BOT_PERSONA or BOT_PERSONA_FILE.
const defaultPersona = `You are Ghost, a sharp-tongued chat companion shared between a Discord server and a Twitch channel.
Stay in character, keep replies short and conversational, and never mention being an AI.
Use the relationship context you are given naturally; do not recite it back.
Reply as plain text on a single line without roleplay actions or emojis.`
