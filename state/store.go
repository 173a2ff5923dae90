package state

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Saver is the slice of the persistence adapter the store needs. Writes go
// through here after every mutation; the caller holds the record lock so a
// write always completes before the next mutation of the same key starts.
type Saver interface {
	PutUser(ctx context.Context, key string, u *UserState) error
	DeleteUser(ctx context.Context, key string) error
}

// Store owns the mapping from platform key to UserState. Records are created
// lazily on first contact and never deleted except through Purge. After a link
// both platform keys resolve to the same record pointer, so a mutation through
// either key is visible through the other.
type Store struct {
	mu      sync.RWMutex
	users   map[string]*UserState
	persist Saver
	window  int
}

// NewStore builds an empty store persisting through persist. window bounds
// recent_messages per record.
func NewStore(persist Saver, window int) *Store {
	return &Store{
		users:   make(map[string]*UserState),
		persist: persist,
		window:  window,
	}
}

// Window returns the configured sliding-window size.
func (s *Store) Window() int { return s.window }

// Install replaces the in-memory map with a loaded snapshot. Linked records
// appear in the snapshot under both keys as independent decoded copies; the
// copy holding a Discord identifier wins and both keys are re-aliased to it.
func (s *Store) Install(loaded map[string]*UserState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = make(map[string]*UserState, len(loaded))

	// First pass: canonical copies. Prefer the record stored under its
	// discord_ key so a linked pair collapses deterministically.
	for key, u := range loaded {
		if strings.HasPrefix(key, string(PlatformDiscord)+"_") {
			s.users[key] = u
		}
	}
	for key, u := range loaded {
		if _, done := s.users[key]; done {
			continue
		}
		if id, ok := u.Identifiers[PlatformDiscord]; ok {
			if canonical, ok := s.users[Key(PlatformDiscord, id.UserID)]; ok {
				s.users[key] = canonical
				continue
			}
		}
		s.users[key] = u
	}
	// Second pass: make sure every linked record is reachable from all of
	// its keys even when the snapshot only held one side.
	for _, u := range s.users {
		for _, k := range u.Keys() {
			if _, ok := s.users[k]; !ok {
				s.users[k] = u
			}
		}
	}
}

// GetOrCreate resolves the record for one platform account, creating it on
// first contact. It is idempotent: repeated calls with the same key return the
// same record. The created flag is true only when a new record was made.
func (s *Store) GetOrCreate(p Platform, userID, username, displayName string) (*UserState, bool) {
	if !p.Valid() || userID == "" {
		return nil, false
	}
	key := Key(p, userID)

	s.mu.RLock()
	u, ok := s.users[key]
	s.mu.RUnlock()
	if ok {
		return u, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[key]; ok {
		return u, false
	}
	u = New(p, userID, username, displayName)
	s.users[key] = u
	return u, true
}

// Get returns the record for key, if any.
func (s *Store) Get(key string) (*UserState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[key]
	return u, ok
}

// FindByName scans for a record matching the given name across platforms,
// case-insensitively, and returns its key and record. Used to resolve
// mentioned usernames; absence is not an error.
func (s *Store) FindByName(name string) (string, *UserState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for key, u := range s.users {
		if u.MatchesName(name) {
			return key, u, true
		}
	}
	return "", nil, false
}

// Alias points key at u without touching persistence. The link broker uses it
// after a merge so both platform keys resolve to the merged record.
func (s *Store) Alias(key string, u *UserState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[key] = u
}

// Save writes u under every key it is reachable from. Caller holds u's lock.
func (s *Store) Save(ctx context.Context, u *UserState) error {
	for _, key := range u.Keys() {
		if err := s.persist.PutUser(ctx, key, u); err != nil {
			return fmt.Errorf("persist %s: %w", key, err)
		}
	}
	return nil
}

// Purge removes one platform key from memory and storage. This is the only
// deletion path; message flow never deletes records.
func (s *Store) Purge(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.users, key)
	s.mu.Unlock()
	return s.persist.DeleteUser(ctx, key)
}

// Count returns the number of distinct records (a linked pair counts once).
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[*UserState]struct{}, len(s.users))
	for _, u := range s.users {
		seen[u] = struct{}{}
	}
	return len(seen)
}
