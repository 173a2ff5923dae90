package summary

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/ghost-bot/state"
	"github.com/onnwee/ghost-bot/testutil"
)

const goodResponse = `[RELATIONSHIP_SUMMARY]
Friendly regular, enjoys banter.

[CONVERSATION_SUMMARY]
Talked about the stream schedule.

[CHANGES_DETECTED]
YES`

const noChangeResponse = `[RELATIONSHIP_SUMMARY]
Friendly regular, enjoys banter.

[CONVERSATION_SUMMARY]
Talked about the stream schedule.

[CHANGES_DETECTED]
NO`

func userWithMessages(n int) *state.UserState {
	u := state.New(state.PlatformTwitch, "1", "viewer", "")
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < n; i++ {
		u.Append(state.Message{
			Content:   "message",
			Username:  "viewer",
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}, 50)
	}
	return u
}

func TestDueThreshold(t *testing.T) {
	s := New(&testutil.ScriptedCompleter{}, "Ghost", 5, 0)
	u := userWithMessages(4)
	if s.Due(u) {
		t.Error("below threshold should not be due")
	}
	u.Append(state.Message{Content: "x", Timestamp: time.Now().UTC()}, 50)
	if !s.Due(u) {
		t.Error("at threshold should be due")
	}
}

func TestDueStaleness(t *testing.T) {
	s := New(&testutil.ScriptedCompleter{}, "Ghost", 100, 30*time.Minute)
	u := userWithMessages(2)
	u.Summaries.LastUpdated = time.Now().UTC().Add(-time.Hour)
	if !s.Due(u) {
		t.Error("stale summaries with pending messages should be due")
	}

	fresh := userWithMessages(0)
	fresh.Summaries.LastUpdated = time.Now().UTC().Add(-time.Hour)
	if s.Due(fresh) {
		t.Error("staleness alone without pending messages should not trigger")
	}
}

func TestMaybeSummarizeAppliesChanges(t *testing.T) {
	client := &testutil.ScriptedCompleter{Responses: []string{goodResponse}}
	s := New(client, "Ghost", 5, 0)
	u := userWithMessages(6)

	updated, err := s.MaybeSummarize(context.Background(), u)
	if err != nil {
		t.Fatalf("MaybeSummarize: %v", err)
	}
	if !updated {
		t.Fatal("expected an update")
	}
	if u.Summaries.Relationship != "Friendly regular, enjoys banter." {
		t.Errorf("Relationship = %q", u.Summaries.Relationship)
	}
	if u.Summaries.LastConversation != "Talked about the stream schedule." {
		t.Errorf("LastConversation = %q", u.Summaries.LastConversation)
	}
	if u.MessageCount != 0 {
		t.Errorf("MessageCount = %d, want reset", u.MessageCount)
	}
	if len(u.RecentMessages) != 3 {
		t.Errorf("kept %d messages, want 3", len(u.RecentMessages))
	}
}

func TestNoChangeStillConsumesBacklog(t *testing.T) {
	client := &testutil.ScriptedCompleter{Responses: []string{noChangeResponse}}
	s := New(client, "Ghost", 5, 0)
	u := userWithMessages(6)
	before := u.Summaries.Relationship

	updated, err := s.MaybeSummarize(context.Background(), u)
	if err != nil {
		t.Fatalf("MaybeSummarize: %v", err)
	}
	if updated {
		t.Error("no-change verdict should report no update")
	}
	if u.Summaries.Relationship != before {
		t.Error("summaries must be untouched on a no-change verdict")
	}
	// The counter still resets so the threshold does not re-fire per message.
	if u.MessageCount != 0 {
		t.Errorf("MessageCount = %d, want 0", u.MessageCount)
	}
}

func TestFailureLeavesEverythingUntouched(t *testing.T) {
	client := &testutil.ScriptedCompleter{Err: errors.New("api down")}
	s := New(client, "Ghost", 5, 0)
	u := userWithMessages(6)
	beforeCount := u.MessageCount
	beforeMsgs := len(u.RecentMessages)
	beforeRel := u.Summaries.Relationship

	updated, err := s.MaybeSummarize(context.Background(), u)
	if err == nil {
		t.Fatal("expected error")
	}
	if updated {
		t.Error("failed update must not report success")
	}
	if u.MessageCount != beforeCount || len(u.RecentMessages) != beforeMsgs || u.Summaries.Relationship != beforeRel {
		t.Error("failed update must leave the record untouched for retry")
	}

	// Next attempt with a healthy client succeeds against the same backlog.
	client.Err = nil
	client.Responses = []string{goodResponse}
	updated, err = s.MaybeSummarize(context.Background(), u)
	if err != nil || !updated {
		t.Fatalf("retry: updated=%v err=%v", updated, err)
	}
}

func TestMissingSectionsIsError(t *testing.T) {
	client := &testutil.ScriptedCompleter{Responses: []string{"gibberish without markers"}}
	s := New(client, "Ghost", 5, 0)
	u := userWithMessages(6)

	if _, err := s.MaybeSummarize(context.Background(), u); err == nil {
		t.Fatal("unparseable response must be an error")
	}
	if u.MessageCount == 0 {
		t.Error("parse failure must not consume the backlog")
	}
}

func TestForceSummarizeNeedsHistory(t *testing.T) {
	s := New(&testutil.ScriptedCompleter{}, "Ghost", 100, 0)
	u := userWithMessages(1)
	if _, err := s.ForceSummarize(context.Background(), u); !errors.Is(err, ErrNotEnoughHistory) {
		t.Errorf("err = %v, want ErrNotEnoughHistory", err)
	}
}

func TestForceSummarizeBypassesThreshold(t *testing.T) {
	client := &testutil.ScriptedCompleter{Responses: []string{goodResponse}}
	s := New(client, "Ghost", 100, 0)
	u := userWithMessages(3)
	updated, err := s.ForceSummarize(context.Background(), u)
	if err != nil || !updated {
		t.Fatalf("updated=%v err=%v", updated, err)
	}
}

func TestPromptTruncatesOldestFirst(t *testing.T) {
	client := &testutil.ScriptedCompleter{Responses: []string{goodResponse}}
	s := New(client, "Ghost", 5, 0)

	u := state.New(state.PlatformTwitch, "1", "viewer", "")
	big := strings.Repeat("x", 8*1024)
	for i := 0; i < 6; i++ {
		u.Append(state.Message{Content: big, Username: "viewer", Timestamp: time.Now().UTC()}, 50)
	}
	u.RecentMessages[len(u.RecentMessages)-1].Content = "NEWEST_MARKER"

	if _, err := s.MaybeSummarize(context.Background(), u); err != nil {
		t.Fatalf("MaybeSummarize: %v", err)
	}
	prompt := client.LastTurns[0].Content
	if len(prompt) > maxPromptBytes+1024 {
		t.Errorf("prompt = %d bytes, exceeds budget", len(prompt))
	}
	if !strings.Contains(prompt, "NEWEST_MARKER") {
		t.Error("newest message must survive truncation")
	}
}

func TestExtractSection(t *testing.T) {
	if got := extractSection(goodResponse, "CHANGES_DETECTED"); got != "YES" {
		t.Errorf("got %q", got)
	}
	if got := extractSection(goodResponse, "ABSENT"); got != "" {
		t.Errorf("got %q, want empty for missing section", got)
	}
}
