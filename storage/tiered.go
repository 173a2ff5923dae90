package storage

import (
	"context"
	"log/slog"
	"sync"

	"github.com/onnwee/ghost-bot/state"
)

// Tiered tries the primary backend and degrades to the fallback for the
// remainder of the session on the first primary failure. The failure is
// logged once; there is no per-request reconnect attempt. An explicit
// strategy object, not an ambient "is the database up" flag.
type Tiered struct {
	primary  Backend
	fallback Backend

	mu       sync.Mutex
	degraded bool

	// OnDegrade, if set, is invoked once when the primary is abandoned
	// (used to flip the storage fallback gauge).
	OnDegrade func()
}

// NewTiered wraps primary with fallback.
func NewTiered(primary, fallback Backend) *Tiered {
	return &Tiered{primary: primary, fallback: fallback}
}

// Degraded reports whether the session has fallen back to the secondary tier.
func (t *Tiered) Degraded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.degraded
}

// active returns the backend to use for the next operation.
func (t *Tiered) active() Backend {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.degraded {
		return t.fallback
	}
	return t.primary
}

// degrade marks the primary dead and returns the fallback.
func (t *Tiered) degrade(op string, err error) Backend {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.degraded {
		t.degraded = true
		slog.Error("primary storage unavailable, falling back to file store for this session",
			slog.String("op", op), slog.Any("err", err))
		if t.OnDegrade != nil {
			t.OnDegrade()
		}
	}
	return t.fallback
}

func (t *Tiered) LoadAll(ctx context.Context) (map[string]*state.UserState, map[string]state.PendingLink, error) {
	users, links, err := t.active().LoadAll(ctx)
	if err != nil && !t.Degraded() {
		return t.degrade("load_all", err).LoadAll(ctx)
	}
	return users, links, err
}

func (t *Tiered) PutUser(ctx context.Context, key string, u *state.UserState) error {
	if err := t.active().PutUser(ctx, key, u); err != nil {
		if t.Degraded() {
			return err
		}
		return t.degrade("put_user", err).PutUser(ctx, key, u)
	}
	return nil
}

func (t *Tiered) DeleteUser(ctx context.Context, key string) error {
	if err := t.active().DeleteUser(ctx, key); err != nil {
		if t.Degraded() {
			return err
		}
		return t.degrade("delete_user", err).DeleteUser(ctx, key)
	}
	return nil
}

func (t *Tiered) PutPendingLinks(ctx context.Context, links map[string]state.PendingLink) error {
	if err := t.active().PutPendingLinks(ctx, links); err != nil {
		if t.Degraded() {
			return err
		}
		return t.degrade("put_pending_links", err).PutPendingLinks(ctx, links)
	}
	return nil
}

func (t *Tiered) Ping(ctx context.Context) error { return t.active().Ping(ctx) }

func (t *Tiered) Close() error {
	err := t.primary.Close()
	if ferr := t.fallback.Close(); err == nil {
		err = ferr
	}
	return err
}
