package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"BOT_NAME", "BOT_PERSONA", "BOT_PERSONA_FILE", "COMPLETION_BASE_URL",
		"SUMMARY_THRESHOLD", "MESSAGE_WINDOW", "DAILY_LIMIT", "MINUTE_LIMIT",
		"LINK_TTL", "STATE_FILE", "HTTP_ADDR",
	} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BotName != "Ghost" {
		t.Errorf("BotName = %q, want Ghost", cfg.BotName)
	}
	if cfg.Persona == "" {
		t.Error("expected default persona")
	}
	if cfg.CompletionBaseURL != "https://openrouter.ai/api/v1" {
		t.Errorf("CompletionBaseURL = %q", cfg.CompletionBaseURL)
	}
	if cfg.SummaryThreshold != DefaultSummaryThreshold {
		t.Errorf("SummaryThreshold = %d, want %d", cfg.SummaryThreshold, DefaultSummaryThreshold)
	}
	if cfg.MessageWindow != DefaultMessageWindow {
		t.Errorf("MessageWindow = %d, want %d", cfg.MessageWindow, DefaultMessageWindow)
	}
	if cfg.DailyLimit != DefaultDailyLimit || cfg.MinuteLimit != DefaultMinuteLimit {
		t.Errorf("limits = %d/%d, want %d/%d", cfg.DailyLimit, cfg.MinuteLimit, DefaultDailyLimit, DefaultMinuteLimit)
	}
	if cfg.LinkTTL != DefaultLinkTTL {
		t.Errorf("LinkTTL = %v, want %v", cfg.LinkTTL, DefaultLinkTTL)
	}
	if cfg.StateFile != "user_states.json" {
		t.Errorf("StateFile = %q", cfg.StateFile)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("BOT_NAME", "Spectre")
	t.Setenv("SUMMARY_THRESHOLD", "10")
	t.Setenv("LINK_TTL", "5m")
	t.Setenv("DAILY_LIMIT", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BotName != "Spectre" {
		t.Errorf("BotName = %q", cfg.BotName)
	}
	if cfg.SummaryThreshold != 10 {
		t.Errorf("SummaryThreshold = %d", cfg.SummaryThreshold)
	}
	if cfg.LinkTTL != 5*time.Minute {
		t.Errorf("LinkTTL = %v", cfg.LinkTTL)
	}
	if cfg.DailyLimit != 3 {
		t.Errorf("DailyLimit = %d", cfg.DailyLimit)
	}
}

func TestLoadInvalidIntFallsBack(t *testing.T) {
	t.Setenv("MINUTE_LIMIT", "not-a-number")
	t.Setenv("MESSAGE_WINDOW", "-5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MinuteLimit != DefaultMinuteLimit {
		t.Errorf("MinuteLimit = %d, want default on bad value", cfg.MinuteLimit)
	}
	if cfg.MessageWindow != DefaultMessageWindow {
		t.Errorf("MessageWindow = %d, want default on negative value", cfg.MessageWindow)
	}
}

func TestPersonaFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persona.txt")
	if err := os.WriteFile(path, []byte("You are a test persona."), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("BOT_PERSONA", "")
	t.Setenv("BOT_PERSONA_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Persona != "You are a test persona." {
		t.Errorf("Persona = %q", cfg.Persona)
	}
}

func TestValidateReadiness(t *testing.T) {
	cfg := &Config{}
	if err := cfg.ValidateTwitchReady(); err == nil {
		t.Error("expected twitch validation error on empty config")
	}
	if err := cfg.ValidateDiscordReady(); err == nil {
		t.Error("expected discord validation error on empty config")
	}
	if err := cfg.ValidateCompletionReady(); err == nil {
		t.Error("expected completion validation error on empty config")
	}

	cfg.TwitchChannel = "chan"
	cfg.TwitchBotUsername = "bot"
	cfg.TwitchOAuthToken = "oauth:x"
	cfg.DiscordToken = "tok"
	cfg.CompletionChatKey = "key"
	if err := cfg.ValidateTwitchReady(); err != nil {
		t.Errorf("ValidateTwitchReady: %v", err)
	}
	if err := cfg.ValidateDiscordReady(); err != nil {
		t.Errorf("ValidateDiscordReady: %v", err)
	}
	if err := cfg.ValidateCompletionReady(); err != nil {
		t.Errorf("ValidateCompletionReady: %v", err)
	}
}

func TestIsCannedResponse(t *testing.T) {
	if !IsCannedResponse(NapResponses[0]) {
		t.Error("nap line should be canned")
	}
	if !IsCannedResponse(SleepResponses[len(SleepResponses)-1]) {
		t.Error("sleep line should be canned")
	}
	if IsCannedResponse("hello there") {
		t.Error("ordinary text should not be canned")
	}
}
