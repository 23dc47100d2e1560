// Package store persists conversation history, user settings, and provider
// credentials.
//
// Two implementations exist: an in-memory store for tests and
// single-process use, and a PostgreSQL store (internal/store/postgres) for
// durable history. Both are safe for concurrent use.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Message is one committed conversation message as persisted.
type Message struct {
	ID        string
	SessionID string
	Speaker   string
	Text      string
	// Translation is filled in asynchronously after commit; empty until then.
	Translation string
	Pinned      bool
	CreatedAt   time.Time
}

// Session is one recorded conversation session.
type Session struct {
	ID        string
	Provider  string
	Model     string
	StartedAt time.Time
	// EndedAt is zero while the session is still running.
	EndedAt time.Time
}

// Settings holds the user's persisted preferences.
type Settings struct {
	Provider       string
	Model          string
	Voice          string
	TargetLanguage string
	NativeLanguage string
}

// Store is the persistence boundary of the application.
type Store interface {
	// SaveSession inserts or updates a session record.
	SaveSession(ctx context.Context, s Session) error

	// Sessions returns all recorded sessions, most recent first.
	Sessions(ctx context.Context) ([]Session, error)

	// SaveMessage appends one committed message.
	SaveMessage(ctx context.Context, m Message) error

	// Messages returns the messages of one session in commit order.
	Messages(ctx context.Context, sessionID string) ([]Message, error)

	// SetTranslation attaches a translation to an existing message.
	// Returns ErrNotFound if the message does not exist.
	SetTranslation(ctx context.Context, messageID, translation string) error

	// SetPinned marks or unmarks a message as pinned for later review.
	// Returns ErrNotFound if the message does not exist.
	SetPinned(ctx context.Context, messageID string, pinned bool) error

	// SaveSettings replaces the persisted user settings.
	SaveSettings(ctx context.Context, s Settings) error

	// LoadSettings returns the persisted settings, or ErrNotFound if none
	// were ever saved.
	LoadSettings(ctx context.Context) (Settings, error)

	// SaveCredential stores the API key for a provider.
	SaveCredential(ctx context.Context, provider, apiKey string) error

	// Credential returns the stored API key for a provider, or ErrNotFound.
	Credential(ctx context.Context, provider string) (string, error)

	// Close releases any resources held by the store.
	Close()
}
