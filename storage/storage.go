// Package storage provides the durable persistence adapter for user-state
// records: a Postgres-backed document store, a local JSON file fallback, a
// two-tier strategy that degrades from one to the other, and migration between
// backends. Both backends accept and produce the identical logical shape (one
// document per platform key plus a singleton pending_links document), so
// migration is a pure copy.
package storage

import (
	"context"
	"fmt"

	"github.com/onnwee/ghost-bot/state"
)

// Backend is implemented by every storage tier.
type Backend interface {
	// LoadAll returns every persisted user record keyed by platform key,
	// plus the pending-links document.
	LoadAll(ctx context.Context) (map[string]*state.UserState, map[string]state.PendingLink, error)
	// PutUser upserts one record under one key.
	PutUser(ctx context.Context, key string, u *state.UserState) error
	// DeleteUser removes one record.
	DeleteUser(ctx context.Context, key string) error
	// PutPendingLinks replaces the singleton pending-links document.
	PutPendingLinks(ctx context.Context, links map[string]state.PendingLink) error
	Ping(ctx context.Context) error
	Close() error
}

// Migrate copies every record and the pending-links document from src to dst.
// It does not delete anything from src.
func Migrate(ctx context.Context, src, dst Backend) (int, error) {
	users, links, err := src.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("load source: %w", err)
	}
	for key, u := range users {
		if err := dst.PutUser(ctx, key, u); err != nil {
			return 0, fmt.Errorf("copy %s: %w", key, err)
		}
	}
	if err := dst.PutPendingLinks(ctx, links); err != nil {
		return 0, fmt.Errorf("copy pending links: %w", err)
	}
	return len(users), nil
}
