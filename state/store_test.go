package state

import (
	"context"
	"sync"
	"testing"
)

// memSaver records persistence calls for assertions.
type memSaver struct {
	mu      sync.Mutex
	puts    map[string]int
	deletes []string
}

func newMemSaver() *memSaver { return &memSaver{puts: map[string]int{}} }

func (m *memSaver) PutUser(_ context.Context, key string, _ *UserState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts[key]++
	return nil
}

func (m *memSaver) DeleteUser(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes = append(m.deletes, key)
	return nil
}

func TestGetOrCreateIdempotent(t *testing.T) {
	s := NewStore(newMemSaver(), 50)
	a, created := s.GetOrCreate(PlatformTwitch, "1", "viewer", "")
	if !created {
		t.Error("first call should create")
	}
	b, created := s.GetOrCreate(PlatformTwitch, "1", "viewer", "")
	if created {
		t.Error("second call should not create")
	}
	if a != b {
		t.Error("same key must resolve to the same record")
	}
}

func TestGetOrCreateRejectsInvalid(t *testing.T) {
	s := NewStore(newMemSaver(), 50)
	if u, _ := s.GetOrCreate("matrix", "1", "x", ""); u != nil {
		t.Error("unknown platform should yield nil")
	}
	if u, _ := s.GetOrCreate(PlatformTwitch, "", "x", ""); u != nil {
		t.Error("empty user id should yield nil")
	}
}

func TestSaveWritesEveryKey(t *testing.T) {
	saver := newMemSaver()
	s := NewStore(saver, 50)
	u, _ := s.GetOrCreate(PlatformDiscord, "d1", "alice", "")
	u.Identifiers[PlatformTwitch] = Identifier{UserID: "t1", Username: "alice_ttv"}
	s.Alias(Key(PlatformTwitch, "t1"), u)

	if err := s.Save(context.Background(), u); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if saver.puts["discord_d1"] != 1 || saver.puts["twitch_t1"] != 1 {
		t.Errorf("puts = %v, want one write per key", saver.puts)
	}
}

func TestInstallCollapsesLinkedPair(t *testing.T) {
	// A linked pair persisted under both keys decodes as two copies; Install
	// must re-alias them to one record, preferring the discord copy.
	discordCopy := New(PlatformDiscord, "d1", "alice", "")
	discordCopy.Identifiers[PlatformTwitch] = Identifier{UserID: "t1", Username: "alice_ttv"}
	discordCopy.MessageCount = 9
	twitchCopy := New(PlatformTwitch, "t1", "alice_ttv", "")
	twitchCopy.Identifiers[PlatformDiscord] = Identifier{UserID: "d1", Username: "alice"}
	twitchCopy.MessageCount = 4

	s := NewStore(newMemSaver(), 50)
	s.Install(map[string]*UserState{
		"discord_d1": discordCopy,
		"twitch_t1":  twitchCopy,
	})

	a, _ := s.Get("discord_d1")
	b, _ := s.Get("twitch_t1")
	if a != b {
		t.Fatal("linked keys must share one record after Install")
	}
	if a.MessageCount != 9 {
		t.Errorf("MessageCount = %d, want discord copy to win", a.MessageCount)
	}
	if s.Count() != 1 {
		t.Errorf("Count = %d, want 1", s.Count())
	}
}

func TestInstallRepairsMissingAlias(t *testing.T) {
	// Snapshot only holds one side of a linked record.
	u := New(PlatformDiscord, "d1", "alice", "")
	u.Identifiers[PlatformTwitch] = Identifier{UserID: "t1", Username: "alice_ttv"}

	s := NewStore(newMemSaver(), 50)
	s.Install(map[string]*UserState{"discord_d1": u})

	if got, ok := s.Get("twitch_t1"); !ok || got != u {
		t.Error("twitch key should be re-aliased from the record's identifiers")
	}
}

func TestFindByName(t *testing.T) {
	s := NewStore(newMemSaver(), 50)
	s.GetOrCreate(PlatformTwitch, "1", "some_viewer", "Some Viewer")

	if _, u, ok := s.FindByName("SOME_VIEWER"); !ok || u == nil {
		t.Error("case-insensitive lookup failed")
	}
	if _, u, ok := s.FindByName("some"); !ok || u == nil {
		t.Error("first-segment variant lookup failed")
	}
	if _, _, ok := s.FindByName("nobody"); ok {
		t.Error("unknown name should not match")
	}
}

func TestPurge(t *testing.T) {
	saver := newMemSaver()
	s := NewStore(saver, 50)
	s.GetOrCreate(PlatformTwitch, "1", "viewer", "")
	if err := s.Purge(context.Background(), "twitch_1"); err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if _, ok := s.Get("twitch_1"); ok {
		t.Error("purged key should be gone from memory")
	}
	if len(saver.deletes) != 1 || saver.deletes[0] != "twitch_1" {
		t.Errorf("deletes = %v", saver.deletes)
	}
}

func TestCountDistinct(t *testing.T) {
	s := NewStore(newMemSaver(), 50)
	u, _ := s.GetOrCreate(PlatformDiscord, "d1", "alice", "")
	s.Alias("twitch_t1", u)
	s.GetOrCreate(PlatformTwitch, "t2", "bob", "")
	if got := s.Count(); got != 2 {
		t.Errorf("Count = %d, want 2", got)
	}
}
