package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/onnwee/ghost-bot/state"
)

// failingBackend errors on everything.
type failingBackend struct{ err error }

func (f *failingBackend) LoadAll(context.Context) (map[string]*state.UserState, map[string]state.PendingLink, error) {
	return nil, nil, f.err
}
func (f *failingBackend) PutUser(context.Context, string, *state.UserState) error { return f.err }
func (f *failingBackend) DeleteUser(context.Context, string) error                { return f.err }
func (f *failingBackend) PutPendingLinks(context.Context, map[string]state.PendingLink) error {
	return f.err
}
func (f *failingBackend) Ping(context.Context) error { return f.err }
func (f *failingBackend) Close() error               { return nil }

func TestTieredUsesPrimaryWhenHealthy(t *testing.T) {
	primary, _ := OpenFile(tempStatePath(t))
	fallback, _ := OpenFile(tempStatePath(t))
	tiered := NewTiered(primary, fallback)
	ctx := context.Background()

	u := state.New(state.PlatformTwitch, "1", "viewer", "")
	if err := tiered.PutUser(ctx, "twitch_1", u); err != nil {
		t.Fatalf("PutUser: %v", err)
	}
	if tiered.Degraded() {
		t.Error("healthy primary should not degrade")
	}
	users, _, _ := primary.LoadAll(ctx)
	if len(users) != 1 {
		t.Error("write should land on the primary")
	}
	fbUsers, _, _ := fallback.LoadAll(ctx)
	if len(fbUsers) != 0 {
		t.Error("fallback should be untouched")
	}
}

func TestTieredDegradesOnceAndStays(t *testing.T) {
	boom := errors.New("connection refused")
	fallback, _ := OpenFile(tempStatePath(t))
	tiered := NewTiered(&failingBackend{err: boom}, fallback)

	degradeCalls := 0
	tiered.OnDegrade = func() { degradeCalls++ }

	ctx := context.Background()
	u := state.New(state.PlatformTwitch, "1", "viewer", "")
	if err := tiered.PutUser(ctx, "twitch_1", u); err != nil {
		t.Fatalf("PutUser should succeed via fallback: %v", err)
	}
	if !tiered.Degraded() {
		t.Fatal("should be degraded after primary failure")
	}
	if degradeCalls != 1 {
		t.Errorf("OnDegrade calls = %d, want 1", degradeCalls)
	}

	// Subsequent writes go straight to the fallback without another
	// degrade notification.
	if err := tiered.PutUser(ctx, "twitch_2", u); err != nil {
		t.Fatalf("PutUser: %v", err)
	}
	if degradeCalls != 1 {
		t.Errorf("OnDegrade calls = %d, want still 1", degradeCalls)
	}
	users, _, _ := fallback.LoadAll(ctx)
	if len(users) != 2 {
		t.Errorf("fallback users = %d, want 2", len(users))
	}
}

func TestTieredFallbackErrorSurfaces(t *testing.T) {
	boom := errors.New("disk full")
	tiered := NewTiered(&failingBackend{err: errors.New("down")}, &failingBackend{err: boom})
	ctx := context.Background()

	err := tiered.PutUser(ctx, "k", state.New(state.PlatformTwitch, "1", "v", ""))
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want fallback error surfaced", err)
	}
}

func TestTieredLoadAllDegrades(t *testing.T) {
	fallback, _ := OpenFile(tempStatePath(t))
	ctx := context.Background()
	if err := fallback.PutUser(ctx, "twitch_1", state.New(state.PlatformTwitch, "1", "v", "")); err != nil {
		t.Fatal(err)
	}
	tiered := NewTiered(&failingBackend{err: errors.New("down")}, fallback)

	users, _, err := tiered.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(users) != 1 {
		t.Errorf("users = %d, want 1 from fallback", len(users))
	}
	if !tiered.Degraded() {
		t.Error("load failure should degrade the session")
	}
}
