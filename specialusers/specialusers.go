// Package specialusers loads the read-only special-users table: a mapping from
// username variants to persona context for people the bot should recognize.
// Loaded once at process start; lookups are case-insensitive over variants.
package specialusers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// Entry is the context carried for one known user.
type Entry struct {
	Role     string   `json:"role"`
	Context  string   `json:"context"`
	Variants []string `json:"variants"`
}

// Table maps primary names to entries with a flattened variant index.
type Table struct {
	entries  map[string]Entry
	variants map[string]string // lowercase variant -> primary name
}

// Load reads the table from path. A missing file yields an empty table; the
// bot runs fine without special users.
func Load(path string) (*Table, error) {
	t := &Table{entries: map[string]Entry{}, variants: map[string]string{}}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Info("special users file not found, continuing without", slog.String("path", path))
		return t, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read special users: %w", err)
	}
	if err := json.Unmarshal(b, &t.entries); err != nil {
		return nil, fmt.Errorf("decode special users %s: %w", path, err)
	}
	for primary, e := range t.entries {
		t.variants[strings.ToLower(primary)] = primary
		for _, v := range e.Variants {
			v = strings.ToLower(strings.TrimSpace(v))
			if v != "" {
				t.variants[v] = primary
			}
		}
	}
	return t, nil
}

// Len returns the number of primary entries.
func (t *Table) Len() int { return len(t.entries) }

// Canonical resolves a username variant to its primary name. Unknown names
// come back lowercased and unchanged.
func (t *Table) Canonical(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if primary, ok := t.variants[name]; ok {
		return primary
	}
	return name
}

// Lookup returns the entry for a username or any of its variants.
func (t *Table) Lookup(name string) (string, Entry, bool) {
	primary, ok := t.variants[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", Entry{}, false
	}
	return primary, t.entries[primary], true
}

var mentionRe = regexp.MustCompile(`@(\w+)`)

// ExtractMentions finds known users referenced in a message, either as
// @mentions or as bare words, and returns their primary names.
func (t *Table) ExtractMentions(text string) []string {
	text = strings.ToLower(text)
	found := map[string]struct{}{}

	for _, m := range mentionRe.FindAllStringSubmatch(text, -1) {
		if primary, ok := t.variants[m[1]]; ok {
			found[primary] = struct{}{}
		}
	}
	for _, word := range strings.Fields(text) {
		word = strings.TrimRight(word, ",.!?")
		if primary, ok := t.variants[word]; ok {
			found[primary] = struct{}{}
		}
	}

	out := make([]string, 0, len(found))
	for name := range found {
		out = append(out, name)
	}
	return out
}
