// Package state defines the cross-platform user state model and the in-memory
// identity store that owns it. A user is keyed by "{platform}_{platform_user_id}";
// a linked Discord/Twitch pair keeps both keys pointing at one shared record.
package state

import (
	"strings"
	"sync"
	"time"
)

// Platform identifies one of the supported chat platforms.
type Platform string

const (
	PlatformDiscord Platform = "discord"
	PlatformTwitch  Platform = "twitch"
)

// Valid reports whether p is a known platform value.
func (p Platform) Valid() bool {
	return p == PlatformDiscord || p == PlatformTwitch
}

// Key builds the storage key for one account on one platform. Keys are
// permanent: they are never recomputed after a link merges two records.
func Key(p Platform, userID string) string {
	return string(p) + "_" + userID
}

// Identifier records one platform-side identity. Immutable once written for a
// given platform slot.
type Identifier struct {
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
}

// Message is one turn of conversation, inbound or outbound.
type Message struct {
	Content   string    `json:"content"`
	FromBot   bool      `json:"from_bot"`
	Username  string    `json:"username"`
	Timestamp time.Time `json:"timestamp"`
}

// Summaries holds the durable compressed history for a user.
type Summaries struct {
	Relationship     string    `json:"relationship"`
	LastConversation string    `json:"last_conversation"`
	LastUpdated      time.Time `json:"last_updated"`
}

// UserState is the central entity. Fields added after early deployments
// (pronouns and its timestamp) decode to zero values from older records.
//
// The embedded mutex serializes every read-modify-write of a single record,
// including the persistence write that follows it; callers hold Lock() across
// the whole sequence. It is excluded from serialization.
type UserState struct {
	mu sync.Mutex

	Identifiers     map[Platform]Identifier `json:"identifiers"`
	Pronouns        string                  `json:"pronouns,omitempty"`
	PronounsSetAt   time.Time               `json:"pronouns_set_at,omitzero"`
	Summaries       Summaries               `json:"summaries"`
	RecentMessages  []Message               `json:"recent_messages"`
	MessageCount    int                     `json:"message_count"`
	LastInteraction time.Time               `json:"last_interaction"`
}

// New creates a fresh record for a first-contact user.
func New(p Platform, userID, username, displayName string) *UserState {
	if displayName == "" {
		displayName = username
	}
	return &UserState{
		Identifiers: map[Platform]Identifier{
			p: {UserID: userID, Username: username, DisplayName: displayName},
		},
		Summaries: Summaries{
			Relationship:     "New user, relationship not established yet.",
			LastConversation: "First interaction.",
			LastUpdated:      time.Now().UTC(),
		},
		LastInteraction: time.Now().UTC(),
	}
}

func (u *UserState) Lock()   { u.mu.Lock() }
func (u *UserState) Unlock() { u.mu.Unlock() }

// Keys returns every storage key this record is reachable under.
func (u *UserState) Keys() []string {
	keys := make([]string, 0, len(u.Identifiers))
	for p, id := range u.Identifiers {
		keys = append(keys, Key(p, id.UserID))
	}
	return keys
}

// Linked reports whether both platform slots are populated.
func (u *UserState) Linked() bool {
	_, d := u.Identifiers[PlatformDiscord]
	_, t := u.Identifiers[PlatformTwitch]
	return d && t
}

// Append records one message, advances the counter, and trims the sliding
// window to at most window entries, oldest dropped first. Caller holds the lock.
func (u *UserState) Append(msg Message, window int) {
	u.RecentMessages = append(u.RecentMessages, msg)
	if window > 0 && len(u.RecentMessages) > window {
		u.RecentMessages = u.RecentMessages[len(u.RecentMessages)-window:]
	}
	u.MessageCount++
	u.LastInteraction = msg.Timestamp
}

// PrimaryName returns a username for display, preferring Discord.
func (u *UserState) PrimaryName() string {
	if id, ok := u.Identifiers[PlatformDiscord]; ok {
		return id.Username
	}
	for _, id := range u.Identifiers {
		return id.Username
	}
	return ""
}

// NameVariants lists lowercase name forms for this record across platforms:
// full usernames and display names, plus their first segment when split on
// space, dot, underscore, or hyphen.
func (u *UserState) NameVariants() []string {
	seen := map[string]struct{}{}
	for _, id := range u.Identifiers {
		for _, name := range []string{id.Username, id.DisplayName} {
			for _, v := range nameVariants(name) {
				seen[v] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	return out
}

// MatchesName reports whether name (case-insensitive) matches any variant.
func (u *UserState) MatchesName(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return false
	}
	for _, v := range u.NameVariants() {
		if v == name {
			return true
		}
	}
	return false
}

func nameVariants(name string) []string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return nil
	}
	variants := []string{name}
	for _, sep := range []string{" ", ".", "_", "-"} {
		if strings.Contains(name, sep) {
			variants = append(variants, strings.SplitN(name, sep, 2)[0])
		}
	}
	return variants
}

// PendingLink is an outstanding request to bind two platform identities. It is
// keyed by target username in the pending_links record and expires after the
// configured TTL.
type PendingLink struct {
	SourceKey      string    `json:"source_key"`
	TargetPlatform Platform  `json:"target_platform"`
	TargetUsername string    `json:"target_username"`
	CreatedAt      time.Time `json:"created_at"`
}

// Expired reports whether the link request is older than ttl at time now.
func (p PendingLink) Expired(now time.Time, ttl time.Duration) bool {
	return ttl > 0 && now.Sub(p.CreatedAt) > ttl
}
