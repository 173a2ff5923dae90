package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"context"

	"github.com/onnwee/ghost-bot/state"
)

// pendingLinksKey is the reserved key for the pending-links document inside
// the state file. Platform keys always contain an underscore-separated
// platform prefix, so it cannot collide.
const pendingLinksKey = "pending_links"

// File persists the whole state as one JSON document on local disk. Writes
// rewrite the file atomically (temp file + rename). It is the fallback tier
// when Postgres is unreachable and the default for local development.
type File struct {
	path string

	mu    sync.Mutex
	users map[string]json.RawMessage
	links map[string]state.PendingLink
}

// OpenFile loads the file at path, creating an empty state when it is absent.
func OpenFile(path string) (*File, error) {
	f := &File{
		path:  path,
		users: make(map[string]json.RawMessage),
		links: make(map[string]state.PendingLink),
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("decode state file %s: %w", path, err)
	}
	for key, doc := range raw {
		if key == pendingLinksKey {
			if err := json.Unmarshal(doc, &f.links); err != nil {
				return nil, fmt.Errorf("decode pending links: %w", err)
			}
			continue
		}
		f.users[key] = doc
	}
	return f, nil
}

func (f *File) LoadAll(_ context.Context) (map[string]*state.UserState, map[string]state.PendingLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	users := make(map[string]*state.UserState, len(f.users))
	for key, doc := range f.users {
		u := &state.UserState{}
		if err := json.Unmarshal(doc, u); err != nil {
			return nil, nil, fmt.Errorf("decode %s: %w", key, err)
		}
		users[key] = u
	}
	links := make(map[string]state.PendingLink, len(f.links))
	for k, v := range f.links {
		links[k] = v
	}
	return users, links, nil
}

func (f *File) PutUser(_ context.Context, key string, u *state.UserState) error {
	doc, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[key] = doc
	return f.flushLocked()
}

func (f *File) DeleteUser(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.users, key)
	return f.flushLocked()
}

func (f *File) PutPendingLinks(_ context.Context, links map[string]state.PendingLink) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.links = make(map[string]state.PendingLink, len(links))
	for k, v := range links {
		f.links[k] = v
	}
	return f.flushLocked()
}

func (f *File) Ping(_ context.Context) error {
	dir := filepath.Dir(f.path)
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("state dir unavailable: %w", err)
	}
	return nil
}

func (f *File) Close() error { return nil }

// flushLocked rewrites the whole document. Caller holds f.mu.
func (f *File) flushLocked() error {
	out := make(map[string]json.RawMessage, len(f.users)+1)
	for k, v := range f.users {
		out[k] = v
	}
	if len(f.links) > 0 {
		doc, err := json.Marshal(f.links)
		if err != nil {
			return fmt.Errorf("encode pending links: %w", err)
		}
		out[pendingLinksKey] = doc
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
