package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'

	"github.com/onnwee/ghost-bot/state"
)

// Postgres stores each user record as one JSONB document row and the pending
// links as a singleton document row.
type Postgres struct {
	db *sql.DB
}

// OpenPostgres connects using dsn and applies idempotent schema migrations.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	p := &Postgres{db: db}
	if err := p.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS user_states (
			key TEXT PRIMARY KEY,
			doc JSONB NOT NULL,
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS pending_links (
			id SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
			doc JSONB NOT NULL,
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_user_states_updated ON user_states(updated_at)`,
	}
	for i, s := range stmts {
		if _, err := p.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("postgres migrate step %d failed: %w", i, err)
		}
	}
	return nil
}

func (p *Postgres) LoadAll(ctx context.Context) (map[string]*state.UserState, map[string]state.PendingLink, error) {
	users := make(map[string]*state.UserState)
	rows, err := p.db.QueryContext(ctx, `SELECT key, doc FROM user_states`)
	if err != nil {
		return nil, nil, fmt.Errorf("query user_states: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var key string
		var doc []byte
		if err := rows.Scan(&key, &doc); err != nil {
			return nil, nil, err
		}
		u := &state.UserState{}
		if err := json.Unmarshal(doc, u); err != nil {
			return nil, nil, fmt.Errorf("decode %s: %w", key, err)
		}
		users[key] = u
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	links := make(map[string]state.PendingLink)
	var doc []byte
	err = p.db.QueryRowContext(ctx, `SELECT doc FROM pending_links WHERE id = 1`).Scan(&doc)
	switch {
	case err == sql.ErrNoRows:
		// no pending links yet
	case err != nil:
		return nil, nil, fmt.Errorf("query pending_links: %w", err)
	default:
		if err := json.Unmarshal(doc, &links); err != nil {
			return nil, nil, fmt.Errorf("decode pending_links: %w", err)
		}
	}
	return users, links, nil
}

func (p *Postgres) PutUser(ctx context.Context, key string, u *state.UserState) error {
	doc, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO user_states(key, doc, updated_at) VALUES($1, $2, NOW())
		 ON CONFLICT(key) DO UPDATE SET doc = EXCLUDED.doc, updated_at = NOW()`,
		key, doc)
	return err
}

func (p *Postgres) DeleteUser(ctx context.Context, key string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM user_states WHERE key = $1`, key)
	return err
}

func (p *Postgres) PutPendingLinks(ctx context.Context, links map[string]state.PendingLink) error {
	doc, err := json.Marshal(links)
	if err != nil {
		return fmt.Errorf("encode pending_links: %w", err)
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO pending_links(id, doc, updated_at) VALUES(1, $1, NOW())
		 ON CONFLICT(id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = NOW()`,
		doc)
	return err
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }
