package store

import (
	"context"
	"slices"
	"sync"
)

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-process Store implementation. History does not
// survive a restart; it backs tests and the default zero-configuration
// setup.
type MemoryStore struct {
	mu          sync.RWMutex
	sessions    []Session
	messages    []Message
	settings    *Settings
	credentials map[string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		credentials: make(map[string]string),
	}
}

// SaveSession inserts or updates a session record keyed by ID.
func (s *MemoryStore) SaveSession(_ context.Context, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.sessions {
		if existing.ID == sess.ID {
			s.sessions[i] = sess
			return nil
		}
	}
	s.sessions = append(s.sessions, sess)
	return nil
}

// Sessions returns all recorded sessions, most recent first.
func (s *MemoryStore) Sessions(_ context.Context) ([]Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := slices.Clone(s.sessions)
	slices.SortStableFunc(out, func(a, b Session) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	return out, nil
}

// SaveMessage appends one committed message.
func (s *MemoryStore) SaveMessage(_ context.Context, m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
	return nil
}

// Messages returns the messages of one session in commit order.
func (s *MemoryStore) Messages(_ context.Context, sessionID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Message
	for _, m := range s.messages {
		if m.SessionID == sessionID {
			out = append(out, m)
		}
	}
	return out, nil
}

// SetTranslation attaches a translation to an existing message.
func (s *MemoryStore) SetTranslation(_ context.Context, messageID, translation string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID == messageID {
			s.messages[i].Translation = translation
			return nil
		}
	}
	return ErrNotFound
}

// SetPinned marks or unmarks a message as pinned.
func (s *MemoryStore) SetPinned(_ context.Context, messageID string, pinned bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID == messageID {
			s.messages[i].Pinned = pinned
			return nil
		}
	}
	return ErrNotFound
}

// SaveSettings replaces the persisted settings.
func (s *MemoryStore) SaveSettings(_ context.Context, settings Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = &settings
	return nil
}

// LoadSettings returns the persisted settings, or ErrNotFound.
func (s *MemoryStore) LoadSettings(_ context.Context) (Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.settings == nil {
		return Settings{}, ErrNotFound
	}
	return *s.settings, nil
}

// SaveCredential stores the API key for a provider.
func (s *MemoryStore) SaveCredential(_ context.Context, provider, apiKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials[provider] = apiKey
	return nil
}

// Credential returns the stored API key for a provider, or ErrNotFound.
func (s *MemoryStore) Credential(_ context.Context, provider string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.credentials[provider]
	if !ok {
		return "", ErrNotFound
	}
	return key, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() {}
