// Package summary compresses raw conversation history into the durable
// relationship / last-conversation summaries via the completion API. The
// trigger is a message-count threshold (with a staleness backstop); a failed
// update leaves the record untouched so the backlog retries on the next
// message instead of being lost.
package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/onnwee/ghost-bot/openrouter"
	"github.com/onnwee/ghost-bot/state"
)

// Completer is the slice of the completion client the scheduler needs.
type Completer interface {
	Complete(ctx context.Context, system []string, turns []openrouter.Turn) (string, error)
}

// ErrNotEnoughHistory is returned by a forced update when there is too little
// conversation to summarize.
var ErrNotEnoughHistory = errors.New("not enough history to summarize")

// keepAfterSummary is how many trailing messages survive a successful update;
// they seed continuity for the next conversation.
const keepAfterSummary = 3

// maxPromptBytes bounds the whole summarization prompt. Roughly 4 bytes per
// token keeps the request well inside the summary model's context limit with
// headroom for the instruction scaffolding and the reply.
const maxPromptBytes = 24 * 1024

const updateInstructions = `Analyze the above and create updated summaries. Important guidelines:
- Keep relevant historical context from old summaries
- Add new insights from recent messages
- Focus on recurring patterns and relationship dynamics
- Note any significant changes in tone or behavior
- Remove outdated or irrelevant information

Provide updates in this format:

[RELATIONSHIP_SUMMARY]
(Concise summary of the overall relationship dynamic. Max 3 sentences.)

[CONVERSATION_SUMMARY]
(Most relevant and recent interactions, blending the previous summary with new developments. Max 3 sentences.)

[CHANGES_DETECTED]
(YES or NO)`

// Scheduler decides when a user's buffer must be compressed and performs the
// compression. One instance is shared by the orchestrator and the command
// surface.
type Scheduler struct {
	client    Completer
	botName   string
	threshold int
	maxAge    time.Duration

	now func() time.Time
}

// New builds a scheduler. threshold is the message-count trigger; maxAge
// additionally triggers when summaries are older than that and messages are
// pending.
func New(client Completer, botName string, threshold int, maxAge time.Duration) *Scheduler {
	return &Scheduler{
		client:    client,
		botName:   botName,
		threshold: threshold,
		maxAge:    maxAge,
		now:       time.Now,
	}
}

// Due reports whether u has accumulated enough backlog to summarize.
// Caller holds u's lock.
func (s *Scheduler) Due(u *state.UserState) bool {
	if u.MessageCount >= s.threshold {
		return true
	}
	if s.maxAge > 0 && u.MessageCount > 0 && s.now().Sub(u.Summaries.LastUpdated) > s.maxAge {
		return true
	}
	return false
}

// MaybeSummarize runs an update when one is due. Returns whether the
// summaries were replaced. Caller holds u's lock; persistence is the caller's
// job afterward.
func (s *Scheduler) MaybeSummarize(ctx context.Context, u *state.UserState) (bool, error) {
	if !s.Due(u) {
		return false, nil
	}
	return s.update(ctx, u)
}

// ForceSummarize runs an update regardless of the trigger, for the explicit
// update command. Caller holds u's lock.
func (s *Scheduler) ForceSummarize(ctx context.Context, u *state.UserState) (bool, error) {
	if len(u.RecentMessages) < 2 {
		return false, ErrNotEnoughHistory
	}
	return s.update(ctx, u)
}

func (s *Scheduler) update(ctx context.Context, u *state.UserState) (bool, error) {
	prompt := s.buildPrompt(u)
	text, err := s.client.Complete(ctx,
		[]string{"You are an analyzer. Provide brief summaries of chat interactions."},
		[]openrouter.Turn{{Role: "user", Content: prompt}})
	if err != nil {
		// Leave summaries and message_count untouched; the next message
		// retries with the same accumulated backlog.
		return false, fmt.Errorf("summary completion: %w", err)
	}

	relationship := extractSection(text, "RELATIONSHIP_SUMMARY")
	conversation := extractSection(text, "CONVERSATION_SUMMARY")
	if relationship == "" || conversation == "" {
		return false, fmt.Errorf("summary response missing sections")
	}
	changed := strings.Contains(strings.ToUpper(extractSection(text, "CHANGES_DETECTED")), "YES")

	now := s.now().UTC()
	if changed {
		u.Summaries.Relationship = relationship
		u.Summaries.LastConversation = conversation
	}
	// Even a no-change verdict consumes the backlog: the threshold must not
	// re-fire on every subsequent message.
	u.Summaries.LastUpdated = now
	if len(u.RecentMessages) > keepAfterSummary {
		u.RecentMessages = u.RecentMessages[len(u.RecentMessages)-keepAfterSummary:]
	}
	u.MessageCount = 0
	return changed, nil
}

// buildPrompt assembles current summaries, user context, and the unsummarized
// tail. When the tail alone would exceed the budget it is truncated to the
// most recent messages that fit; summarization degrades but is never refused.
func (s *Scheduler) buildPrompt(u *state.UserState) string {
	var head strings.Builder
	head.WriteString("[CURRENT STATE]\n")
	head.WriteString("Relationship Summary: " + u.Summaries.Relationship + "\n")
	head.WriteString("Last Conversation Summary: " + u.Summaries.LastConversation + "\n")
	if u.Pronouns != "" {
		head.WriteString("User pronouns: " + u.Pronouns + "\n")
	}
	head.WriteString("\n[NEW MESSAGES]\n")

	budget := maxPromptBytes - head.Len() - len(updateInstructions)

	lines := make([]string, 0, len(u.RecentMessages))
	total := 0
	// Walk newest to oldest, keep what fits, then restore order.
	for i := len(u.RecentMessages) - 1; i >= 0; i-- {
		m := u.RecentMessages[i]
		name := m.Username
		if m.FromBot {
			name = s.botName
		}
		line := name + ": " + m.Content + "\n"
		if total+len(line) > budget && len(lines) > 0 {
			break
		}
		lines = append(lines, line)
		total += len(line)
	}
	for i := len(lines) - 1; i >= 0; i-- {
		head.WriteString(lines[i])
	}
	head.WriteString("\n" + updateInstructions)
	return head.String()
}

// extractSection pulls the text after a [SECTION] marker up to the next
// bracket or end of input.
func extractSection(text, section string) string {
	marker := "[" + section + "]"
	i := strings.Index(text, marker)
	if i < 0 {
		return ""
	}
	rest := text[i+len(marker):]
	if j := strings.Index(rest, "["); j >= 0 {
		rest = rest[:j]
	}
	return strings.TrimSpace(rest)
}
