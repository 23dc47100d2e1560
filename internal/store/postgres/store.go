// Package postgres provides a PostgreSQL-backed implementation of
// [store.Store].
//
// All operations share a single [pgxpool.Pool]. [Migrate] creates the schema
// idempotently and runs on every NewStore call, so the application can start
// against an empty database.
//
// Usage:
//
//	st, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer st.Close()
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lingolive/lingolive/internal/store"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id          TEXT         PRIMARY KEY,
    provider    TEXT         NOT NULL DEFAULT '',
    model       TEXT         NOT NULL DEFAULT '',
    started_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    ended_at    TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_sessions_started_at
    ON sessions (started_at DESC);

CREATE TABLE IF NOT EXISTS messages (
    id          TEXT         PRIMARY KEY,
    session_id  TEXT         NOT NULL,
    speaker     TEXT         NOT NULL,
    text        TEXT         NOT NULL,
    translation TEXT         NOT NULL DEFAULT '',
    pinned      BOOLEAN      NOT NULL DEFAULT FALSE,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_messages_session_created
    ON messages (session_id, created_at);

CREATE TABLE IF NOT EXISTS settings (
    singleton        BOOLEAN  PRIMARY KEY DEFAULT TRUE CHECK (singleton),
    provider         TEXT     NOT NULL DEFAULT '',
    model            TEXT     NOT NULL DEFAULT '',
    voice            TEXT     NOT NULL DEFAULT '',
    target_language  TEXT     NOT NULL DEFAULT '',
    native_language  TEXT     NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS credentials (
    provider  TEXT  PRIMARY KEY,
    api_key   TEXT  NOT NULL
);
`

// Migrate creates or ensures all required tables exist. It is idempotent and
// safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}

// Store is the PostgreSQL-backed store. All methods are safe for concurrent
// use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore establishes a connection pool to the database at dsn and runs
// [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// SaveSession inserts or updates a session record.
func (s *Store) SaveSession(ctx context.Context, sess store.Session) error {
	const q = `
		INSERT INTO sessions (id, provider, model, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET provider = EXCLUDED.provider,
		    model    = EXCLUDED.model,
		    ended_at = EXCLUDED.ended_at`

	var endedAt *time.Time
	if !sess.EndedAt.IsZero() {
		endedAt = &sess.EndedAt
	}
	_, err := s.pool.Exec(ctx, q, sess.ID, sess.Provider, sess.Model, sess.StartedAt, endedAt)
	if err != nil {
		return fmt.Errorf("postgres store: save session: %w", err)
	}
	return nil
}

// Sessions returns all recorded sessions, most recent first.
func (s *Store) Sessions(ctx context.Context) ([]store.Session, error) {
	const q = `
		SELECT id, provider, model, started_at, ended_at
		FROM   sessions
		ORDER  BY started_at DESC`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("postgres store: sessions: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Session, error) {
		var (
			sess    store.Session
			endedAt *time.Time
		)
		if err := row.Scan(&sess.ID, &sess.Provider, &sess.Model, &sess.StartedAt, &endedAt); err != nil {
			return store.Session{}, err
		}
		if endedAt != nil {
			sess.EndedAt = *endedAt
		}
		return sess, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: sessions: %w", err)
	}
	return out, nil
}

// SaveMessage appends one committed message.
func (s *Store) SaveMessage(ctx context.Context, m store.Message) error {
	const q = `
		INSERT INTO messages (id, session_id, speaker, text, translation, pinned, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.pool.Exec(ctx, q, m.ID, m.SessionID, m.Speaker, m.Text, m.Translation, m.Pinned, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres store: save message: %w", err)
	}
	return nil
}

// Messages returns the messages of one session in commit order.
func (s *Store) Messages(ctx context.Context, sessionID string) ([]store.Message, error) {
	const q = `
		SELECT id, session_id, speaker, text, translation, pinned, created_at
		FROM   messages
		WHERE  session_id = $1
		ORDER  BY created_at, id`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: messages: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Message, error) {
		var m store.Message
		err := row.Scan(&m.ID, &m.SessionID, &m.Speaker, &m.Text, &m.Translation, &m.Pinned, &m.CreatedAt)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: messages: %w", err)
	}
	return out, nil
}

// SetTranslation attaches a translation to an existing message.
func (s *Store) SetTranslation(ctx context.Context, messageID, translation string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE messages SET translation = $2 WHERE id = $1`,
		messageID, translation)
	if err != nil {
		return fmt.Errorf("postgres store: set translation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// SetPinned marks or unmarks a message as pinned.
func (s *Store) SetPinned(ctx context.Context, messageID string, pinned bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE messages SET pinned = $2 WHERE id = $1`,
		messageID, pinned)
	if err != nil {
		return fmt.Errorf("postgres store: set pinned: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// SaveSettings replaces the persisted user settings.
func (s *Store) SaveSettings(ctx context.Context, st store.Settings) error {
	const q = `
		INSERT INTO settings (singleton, provider, model, voice, target_language, native_language)
		VALUES (TRUE, $1, $2, $3, $4, $5)
		ON CONFLICT (singleton) DO UPDATE
		SET provider        = EXCLUDED.provider,
		    model           = EXCLUDED.model,
		    voice           = EXCLUDED.voice,
		    target_language = EXCLUDED.target_language,
		    native_language = EXCLUDED.native_language`

	_, err := s.pool.Exec(ctx, q, st.Provider, st.Model, st.Voice, st.TargetLanguage, st.NativeLanguage)
	if err != nil {
		return fmt.Errorf("postgres store: save settings: %w", err)
	}
	return nil
}

// LoadSettings returns the persisted settings, or store.ErrNotFound.
func (s *Store) LoadSettings(ctx context.Context) (store.Settings, error) {
	const q = `
		SELECT provider, model, voice, target_language, native_language
		FROM   settings`

	var st store.Settings
	err := s.pool.QueryRow(ctx, q).Scan(&st.Provider, &st.Model, &st.Voice, &st.TargetLanguage, &st.NativeLanguage)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Settings{}, store.ErrNotFound
	}
	if err != nil {
		return store.Settings{}, fmt.Errorf("postgres store: load settings: %w", err)
	}
	return st, nil
}

// SaveCredential stores the API key for a provider.
func (s *Store) SaveCredential(ctx context.Context, provider, apiKey string) error {
	const q = `
		INSERT INTO credentials (provider, api_key)
		VALUES ($1, $2)
		ON CONFLICT (provider) DO UPDATE SET api_key = EXCLUDED.api_key`

	_, err := s.pool.Exec(ctx, q, provider, apiKey)
	if err != nil {
		return fmt.Errorf("postgres store: save credential: %w", err)
	}
	return nil
}

// Credential returns the stored API key for a provider, or store.ErrNotFound.
func (s *Store) Credential(ctx context.Context, provider string) (string, error) {
	var key string
	err := s.pool.QueryRow(ctx,
		`SELECT api_key FROM credentials WHERE provider = $1`, provider).Scan(&key)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("postgres store: credential: %w", err)
	}
	return key, nil
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}
