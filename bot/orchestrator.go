// Package bot contains the conversation orchestrator: the per-message entry
// point that composes the identity store, rate limiter, completion client,
// summary scheduler, and persistence into receive -> respond -> persist. Both
// platform adapters depend only on the Event/Replier contract here.
package bot

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/ghost-bot/config"
	"github.com/onnwee/ghost-bot/link"
	"github.com/onnwee/ghost-bot/openrouter"
	"github.com/onnwee/ghost-bot/ratelimit"
	"github.com/onnwee/ghost-bot/specialusers"
	"github.com/onnwee/ghost-bot/state"
	"github.com/onnwee/ghost-bot/summary"
	"github.com/onnwee/ghost-bot/telemetry"
)

// Event is one inbound platform message, normalized across adapters.
type Event struct {
	Platform    state.Platform
	UserID      string
	Username    string
	DisplayName string
	Text        string
	// Mentions carries usernames the platform resolved from explicit
	// mention syntax; the orchestrator adds its own variant matching.
	Mentions []string
}

// Replier delivers outbound text back to wherever the event came from.
type Replier interface {
	Deliver(ctx context.Context, text string) error
}

// Completer is the chat-side completion client.
type Completer interface {
	Complete(ctx context.Context, system []string, turns []openrouter.Turn) (string, error)
}

// TwitchResolver checks that a Twitch login exists before a link request
// targets it. Optional; without one, any target name is accepted.
type TwitchResolver interface {
	UserID(ctx context.Context, login string) (string, error)
}

// Orchestrator is the thin glue layer over the core components. Construct one
// per process and hand it to both adapters.
type Orchestrator struct {
	cfg       *config.Config
	store     *state.Store
	broker    *link.Broker
	scheduler *summary.Scheduler
	limiter   *ratelimit.Limiter
	chat      Completer
	special   *specialusers.Table

	resolveTwitch TwitchResolver
}

// SetTwitchResolver installs Helix-backed validation of link targets.
func (o *Orchestrator) SetTwitchResolver(r TwitchResolver) { o.resolveTwitch = r }

// New wires the orchestrator. All collaborators are required.
func New(cfg *config.Config, store *state.Store, broker *link.Broker, scheduler *summary.Scheduler, limiter *ratelimit.Limiter, chat Completer, special *specialusers.Table) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		store:     store,
		broker:    broker,
		scheduler: scheduler,
		limiter:   limiter,
		chat:      chat,
		special:   special,
	}
}

// HandleMessage runs the full conversation flow for one inbound message.
// The reply is delivered before the durable write, but the record lock is held
// until the write completes so the next mutation of the same user cannot start
// against unpersisted state.
func (o *Orchestrator) HandleMessage(ctx context.Context, ev Event, reply Replier) {
	ctx = telemetry.WithCorrelation(ctx, uuid.New().String())
	logger := telemetry.LoggerWithCorr(ctx).With(
		slog.String("platform", string(ev.Platform)),
		slog.String("user", ev.Username))
	if telemetry.MessagesHandled != nil {
		telemetry.MessagesHandled.WithLabelValues(string(ev.Platform)).Inc()
	}

	ctx, span := telemetry.StartSpan(ctx, "bot", "handle_message")
	defer span.End()

	u, created := o.store.GetOrCreate(ev.Platform, ev.UserID, ev.Username, ev.DisplayName)
	if u == nil {
		logger.Warn("dropping message with invalid identity")
		return
	}
	if created {
		logger.Info("new user state created", slog.String("key", state.Key(ev.Platform, ev.UserID)))
	}

	// Gate before any completion attempt. A rejection is persona text, not
	// an error, and causes no state mutation.
	if outcome := o.limiter.TryAcquire(); outcome != ratelimit.Allowed {
		if telemetry.RateLimitRejections != nil {
			telemetry.RateLimitRejections.WithLabelValues(outcome.String()).Inc()
		}
		logger.Info("rate limited", slog.String("kind", outcome.String()))
		o.deliver(ctx, reply, declineLine(outcome), ev.Platform)
		return
	}

	u.Lock()
	defer u.Unlock()

	now := time.Now().UTC()
	u.Append(state.Message{
		Content:   ev.Text,
		FromBot:   false,
		Username:  ev.Username,
		Timestamp: now,
	}, o.store.Window())

	response, ok := o.complete(ctx, u, ev)
	response = truncate(response, o.maxLen(ev.Platform))
	if ok {
		// Canned fallbacks never enter history; real replies do.
		u.Append(state.Message{
			Content:   response,
			FromBot:   true,
			Username:  o.cfg.BotName,
			Timestamp: time.Now().UTC(),
		}, o.store.Window())
	}

	if updated, err := o.scheduler.MaybeSummarize(ctx, u); err != nil {
		if telemetry.SummaryFailures != nil {
			telemetry.SummaryFailures.Inc()
		}
		logger.Warn("summary update failed, will retry on next message", slog.Any("err", err))
	} else if updated {
		if telemetry.SummaryUpdates != nil {
			telemetry.SummaryUpdates.Inc()
		}
		logger.Info("summaries updated")
	}

	// Reply first: the user-visible response does not wait on the durable
	// commit. The lock still covers the write.
	o.deliver(ctx, reply, response, ev.Platform)

	if err := o.store.Save(ctx, u); err != nil {
		logger.Error("failed to persist user state", slog.Any("err", err))
	}
	telemetry.SetTrackedUsers(o.store.Count())
}

// complete calls the chat model with assembled context. ok reports whether the
// returned text is a real model reply (false means canned fallback).
func (o *Orchestrator) complete(ctx context.Context, u *state.UserState, ev Event) (string, bool) {
	system := o.buildSystemContext(u, ev)
	turns := make([]openrouter.Turn, 0, len(u.RecentMessages))
	for _, m := range u.RecentMessages {
		if m.FromBot {
			turns = append(turns, openrouter.Turn{Role: "assistant", Content: openrouter.CleanResponse(m.Content, o.cfg.BotName)})
		} else {
			turns = append(turns, openrouter.Turn{Role: "user", Content: m.Content})
		}
	}

	if telemetry.CompletionCalls != nil {
		telemetry.CompletionCalls.Inc()
	}
	start := time.Now()
	text, err := o.chat.Complete(ctx, system, turns)
	if telemetry.CompletionDuration != nil {
		telemetry.CompletionDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if telemetry.CompletionFailures != nil {
			telemetry.CompletionFailures.Inc()
		}
		telemetry.LoggerWithCorr(ctx).Warn("completion failed, substituting fallback", slog.Any("err", err))
		if errors.Is(err, openrouter.ErrRateLimited) {
			return pick(config.SleepResponses), false
		}
		return pick(config.ErrorResponses), false
	}
	return openrouter.CleanResponse(text, o.cfg.BotName), true
}

// buildSystemContext assembles persona plus sender/mention context. Caller
// holds u's lock.
func (o *Orchestrator) buildSystemContext(u *state.UserState, ev Event) []string {
	system := []string{
		o.cfg.Persona,
		"CRITICAL: Never acknowledge being an AI or break character. Always respond as " + o.cfg.BotName + ".",
	}

	system = append(system, o.userContextLine(ev.Username, u, true))

	// Mentioned users: platform-resolved mentions plus variant matches in
	// the text. Unknown names are skipped without complaint.
	seen := map[string]struct{}{o.special.Canonical(ev.Username): {}}
	mentioned := append([]string{}, ev.Mentions...)
	mentioned = append(mentioned, o.special.ExtractMentions(ev.Text)...)
	for _, name := range mentioned {
		canonical := o.special.Canonical(name)
		if _, dup := seen[canonical]; dup {
			continue
		}
		seen[canonical] = struct{}{}
		_, other, _ := o.store.FindByName(name)
		if line := o.userContextLine(name, other, false); line != "" {
			system = append(system, line)
		}
	}

	if u.Summaries.LastConversation != "" {
		system = append(system, "RECENT CONVERSATION CONTEXT: "+u.Summaries.LastConversation)
	}
	return system
}

// userContextLine renders one user's context: special-user info if present,
// learned relationship if present. Empty when neither exists for a mention.
func (o *Orchestrator) userContextLine(name string, u *state.UserState, sender bool) string {
	parts := []string{"IMPORTANT USER CONTEXT - " + name}
	if sender {
		parts = append(parts, "(Current Speaker)")
	}
	had := false
	if _, entry, ok := o.special.Lookup(name); ok {
		parts = append(parts, "CORE RELATIONSHIP: "+entry.Role, "CONTEXT: "+entry.Context)
		had = true
	}
	if u != nil {
		if u.Pronouns != "" {
			parts = append(parts, "PRONOUNS: "+u.Pronouns)
			had = true
		}
		if u.Summaries.Relationship != "" {
			parts = append(parts, "RECENT DYNAMIC: "+u.Summaries.Relationship)
			had = true
		}
	}
	if !sender && !had {
		return ""
	}
	return strings.Join(parts, " | ")
}

func (o *Orchestrator) deliver(ctx context.Context, reply Replier, text string, p state.Platform) {
	if err := reply.Deliver(ctx, truncate(text, o.maxLen(p))); err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("delivery failed", slog.Any("err", err), slog.String("platform", string(p)))
	}
}

func (o *Orchestrator) maxLen(p state.Platform) int {
	if p == state.PlatformTwitch {
		return o.cfg.TwitchMaxMessageLen
	}
	return o.cfg.DiscordMaxMessageLen
}

// declineLine maps a rejection kind onto its persona line pool.
func declineLine(outcome ratelimit.Outcome) string {
	if outcome == ratelimit.DailyLimitExceeded {
		return pick(config.SleepResponses)
	}
	return pick(config.NapResponses)
}

func pick(pool []string) string {
	return pool[rand.Intn(len(pool))]
}

// truncate cuts text to max runes with an ellipsis, platform limits being
// byte-ish but close enough at these sizes.
func truncate(text string, max int) string {
	if max <= 0 || len(text) <= max {
		return text
	}
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}

// Limiter exposes the rate window snapshot for the status surface.
func (o *Orchestrator) Limiter() *ratelimit.Limiter { return o.limiter }

// Store exposes the identity store for the status surface.
func (o *Orchestrator) Store() *state.Store { return o.store }
