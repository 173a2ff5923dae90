// Package link manages the handshake that binds a Discord identity to a
// Twitch identity: a pending request created from one side, confirmed from the
// other, and a merge of the two user states on confirmation. Conflicts are
// typed sentinel errors surfaced to the user, never silently dropped.
package link

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/ghost-bot/openrouter"
	"github.com/onnwee/ghost-bot/specialusers"
	"github.com/onnwee/ghost-bot/state"
)

// Expected link-flow outcomes. These are control flow, not failures.
var (
	ErrAlreadyPending         = errors.New("a link request is already pending for this account")
	ErrAlreadyLinked          = errors.New("accounts are already linked")
	ErrNoPendingLink          = errors.New("no pending link request found")
	ErrConflictingIdentifiers = errors.New("both accounts already have an identity on the same platform")
	ErrNotLinked              = errors.New("accounts are not linked")
	ErrUnknownUser            = errors.New("unknown user")
)

// Completer merges two summary sets via the completion API.
type Completer interface {
	Complete(ctx context.Context, system []string, turns []openrouter.Turn) (string, error)
}

// PendingSaver persists the singleton pending-links document.
type PendingSaver interface {
	PutPendingLinks(ctx context.Context, links map[string]state.PendingLink) error
}

// Broker owns the pending-link table and the merge. Initiate and Confirm for
// the same keys are mutually exclusive through the broker mutex plus the
// per-record state locks.
type Broker struct {
	store   *state.Store
	persist PendingSaver
	aliases *specialusers.Table
	client  Completer
	ttl     time.Duration

	mu      sync.Mutex
	pending map[string]state.PendingLink // keyed by lowercase target username

	now func() time.Time
}

// NewBroker builds a broker over the given store and pending-link persistence.
func NewBroker(store *state.Store, persist PendingSaver, aliases *specialusers.Table, client Completer, ttl time.Duration) *Broker {
	return &Broker{
		store:   store,
		persist: persist,
		aliases: aliases,
		client:  client,
		ttl:     ttl,
		pending: make(map[string]state.PendingLink),
		now:     time.Now,
	}
}

// Install replaces the pending table with a loaded snapshot.
func (b *Broker) Install(links map[string]state.PendingLink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = make(map[string]state.PendingLink, len(links))
	for k, v := range links {
		b.pending[strings.ToLower(k)] = v
	}
}

// PendingCount returns the number of live (unexpired) requests.
func (b *Broker) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneLocked()
	return len(b.pending)
}

// Initiate records a request to bind sourceKey to targetUsername on
// targetPlatform. At most one outstanding request per initiating key.
func (b *Broker) Initiate(ctx context.Context, sourceKey string, targetPlatform state.Platform, targetUsername string) error {
	source, ok := b.store.Get(sourceKey)
	if !ok {
		return ErrUnknownUser
	}
	if source.Linked() {
		return ErrAlreadyLinked
	}
	if !targetPlatform.Valid() {
		return fmt.Errorf("invalid target platform %q", targetPlatform)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneLocked()

	for _, pl := range b.pending {
		if pl.SourceKey == sourceKey {
			return ErrAlreadyPending
		}
	}

	target := b.aliases.Canonical(targetUsername)
	b.pending[target] = state.PendingLink{
		SourceKey:      sourceKey,
		TargetPlatform: targetPlatform,
		TargetUsername: target,
		CreatedAt:      b.now().UTC(),
	}
	if err := b.persistLocked(ctx); err != nil {
		slog.Warn("failed to persist pending links", slog.Any("err", err))
	}
	slog.Info("link request created",
		slog.String("source", sourceKey),
		slog.String("target_platform", string(targetPlatform)),
		slog.String("target", target))
	return nil
}

// Confirm completes a pending request whose target username matches the
// confirming user (case-insensitive, variant-aware). On success both platform
// keys resolve to one merged record.
func (b *Broker) Confirm(ctx context.Context, p state.Platform, userID, username, displayName string) (*state.UserState, error) {
	b.mu.Lock()
	b.pruneLocked()
	pl, matched, ok := b.matchLocked(p, username, displayName)
	b.mu.Unlock()
	if !ok {
		return nil, ErrNoPendingLink
	}

	source, ok := b.store.Get(pl.SourceKey)
	if !ok {
		return nil, fmt.Errorf("%w: initiating account no longer exists", ErrNoPendingLink)
	}
	target, _ := b.store.GetOrCreate(p, userID, username, displayName)
	if target == source {
		return nil, ErrAlreadyLinked
	}

	targetKey := state.Key(p, userID)
	lockPair(pl.SourceKey, source, targetKey, target)
	defer unlockPair(source, target)

	if err := merge(ctx, source, target, b.client, b.store.Window()); err != nil {
		return nil, err
	}

	// Both keys now resolve to the merged record.
	b.store.Alias(targetKey, source)
	if err := b.store.Save(ctx, source); err != nil {
		slog.Warn("failed to persist merged state", slog.Any("err", err))
	}

	b.mu.Lock()
	delete(b.pending, matched)
	if err := b.persistLocked(ctx); err != nil {
		slog.Warn("failed to persist pending links", slog.Any("err", err))
	}
	b.mu.Unlock()

	slog.Info("accounts linked",
		slog.String("source", pl.SourceKey),
		slog.String("target", targetKey))
	return source, nil
}

// Unlink splits a linked pair back into two independent records. The side
// identified by key keeps the shared history; the other side gets a copy.
func (b *Broker) Unlink(ctx context.Context, key string) error {
	u, ok := b.store.Get(key)
	if !ok {
		return ErrUnknownUser
	}
	u.Lock()
	defer u.Unlock()
	if !u.Linked() {
		return ErrNotLinked
	}

	discordID := u.Identifiers[state.PlatformDiscord]
	twitchID := u.Identifiers[state.PlatformTwitch]

	// Twitch side becomes a fresh record carrying a copy of the history;
	// the original keeps the Discord slot. Mirrors how linking treated the
	// Discord side as primary.
	split := state.New(state.PlatformTwitch, twitchID.UserID, twitchID.Username, twitchID.DisplayName)
	split.Summaries = u.Summaries
	split.RecentMessages = append([]state.Message(nil), u.RecentMessages...)
	split.MessageCount = u.MessageCount
	split.Pronouns = u.Pronouns
	split.PronounsSetAt = u.PronounsSetAt

	delete(u.Identifiers, state.PlatformTwitch)

	b.store.Alias(state.Key(state.PlatformTwitch, twitchID.UserID), split)
	if err := b.store.Save(ctx, u); err != nil {
		return err
	}
	if err := b.store.Save(ctx, split); err != nil {
		return err
	}
	slog.Info("accounts unlinked",
		slog.String("discord", state.Key(state.PlatformDiscord, discordID.UserID)),
		slog.String("twitch", state.Key(state.PlatformTwitch, twitchID.UserID)))
	return nil
}

// matchLocked finds a live pending request for the confirming user. Caller
// holds b.mu.
func (b *Broker) matchLocked(p state.Platform, username, displayName string) (state.PendingLink, string, bool) {
	candidates := []string{
		strings.ToLower(strings.TrimSpace(username)),
		b.aliases.Canonical(username),
	}
	if displayName != "" {
		candidates = append(candidates,
			strings.ToLower(strings.TrimSpace(displayName)),
			b.aliases.Canonical(displayName))
	}
	for _, c := range candidates {
		if pl, ok := b.pending[c]; ok && pl.TargetPlatform == p {
			return pl, c, true
		}
	}
	return state.PendingLink{}, "", false
}

// pruneLocked drops expired requests. Caller holds b.mu.
func (b *Broker) pruneLocked() {
	now := b.now().UTC()
	for k, pl := range b.pending {
		if pl.Expired(now, b.ttl) {
			delete(b.pending, k)
		}
	}
}

// persistLocked writes the pending table snapshot. Caller holds b.mu.
func (b *Broker) persistLocked(ctx context.Context) error {
	snapshot := make(map[string]state.PendingLink, len(b.pending))
	for k, v := range b.pending {
		snapshot[k] = v
	}
	return b.persist.PutPendingLinks(ctx, snapshot)
}

// lockPair acquires both record locks in a stable order so concurrent
// confirms cannot deadlock.
func lockPair(keyA string, a *state.UserState, keyB string, b *state.UserState) {
	if keyA < keyB {
		a.Lock()
		b.Lock()
	} else {
		b.Lock()
		a.Lock()
	}
}

func unlockPair(a, b *state.UserState) {
	a.Unlock()
	b.Unlock()
}

// merge folds other into dst per the merge policy: identifier union (disjoint
// per platform), non-empty pronouns with most-recently-set tie-break, message
// union ordered by timestamp truncated to the window keeping the most recent,
// message_count = max (sum would instantly re-trigger summarization), and
// summaries combined via the completion API with a concatenation fallback.
func merge(ctx context.Context, dst, other *state.UserState, client Completer, window int) error {
	for p := range other.Identifiers {
		if _, taken := dst.Identifiers[p]; taken {
			return ErrConflictingIdentifiers
		}
	}
	for p, id := range other.Identifiers {
		dst.Identifiers[p] = id
	}

	switch {
	case dst.Pronouns == "":
		dst.Pronouns = other.Pronouns
		dst.PronounsSetAt = other.PronounsSetAt
	case other.Pronouns != "" && other.PronounsSetAt.After(dst.PronounsSetAt):
		dst.Pronouns = other.Pronouns
		dst.PronounsSetAt = other.PronounsSetAt
	}

	dst.RecentMessages = append(dst.RecentMessages, other.RecentMessages...)
	sort.SliceStable(dst.RecentMessages, func(i, j int) bool {
		return dst.RecentMessages[i].Timestamp.Before(dst.RecentMessages[j].Timestamp)
	})
	if window > 0 && len(dst.RecentMessages) > window {
		dst.RecentMessages = dst.RecentMessages[len(dst.RecentMessages)-window:]
	}

	if other.MessageCount > dst.MessageCount {
		dst.MessageCount = other.MessageCount
	}
	if other.LastInteraction.After(dst.LastInteraction) {
		dst.LastInteraction = other.LastInteraction
	}

	dst.Summaries = mergeSummaries(ctx, client, dst.Summaries, other.Summaries)
	return nil
}

// mergeSummaries asks the completion API to combine both summary sets; when
// the call fails it concatenates with a separator, initiating side first.
func mergeSummaries(ctx context.Context, client Completer, a, b state.Summaries) state.Summaries {
	out := state.Summaries{LastUpdated: time.Now().UTC()}
	prompt := fmt.Sprintf(`Combine these two summaries of the same user from different platforms into a single coherent summary:

[SUMMARY SET 1]
Relationship: %s
Last Conversation: %s

[SUMMARY SET 2]
Relationship: %s
Last Conversation: %s

Provide the combined summary in this format:
RELATIONSHIP: (combined relationship summary)
CONVERSATION: (combined conversation summary)`,
		a.Relationship, a.LastConversation, b.Relationship, b.LastConversation)

	text, err := client.Complete(ctx,
		[]string{"You are an analyzer. Combine two sets of user summaries into a single coherent summary."},
		[]openrouter.Turn{{Role: "user", Content: prompt}})
	if err == nil {
		for _, line := range strings.Split(text, "\n") {
			if rest, ok := strings.CutPrefix(line, "RELATIONSHIP:"); ok {
				out.Relationship = strings.TrimSpace(rest)
			} else if rest, ok := strings.CutPrefix(line, "CONVERSATION:"); ok {
				out.LastConversation = strings.TrimSpace(rest)
			}
		}
	} else {
		slog.Warn("summary merge via completion api failed, concatenating", slog.Any("err", err))
	}

	if out.Relationship == "" {
		out.Relationship = concat(a.Relationship, b.Relationship)
	}
	if out.LastConversation == "" {
		out.LastConversation = concat(a.LastConversation, b.LastConversation)
	}
	return out
}

func concat(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" || a == b {
		return a
	}
	return a + " / " + b
}
