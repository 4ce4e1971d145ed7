// Package session persists the authentication session (token plus
// minimal user identity) across runs. The session lives in a single JSON
// file under the user config dir; it is read once at startup and
// rewritten on every mutation so the in-memory state and the file never
// diverge.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// User is the persisted identity record.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// sessionFile is the on-disk format.
type sessionFile struct {
	Token string `json:"token,omitempty"`
	User  *User  `json:"user,omitempty"`
}

// Store holds the authentication session. It implements api.TokenStore.
type Store struct {
	mu    sync.RWMutex
	path  string
	token string
	user  *User
}

// NewStore creates a store backed by the given file path. Call Load
// before first use.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the persisted session, if any. The stored user record is
// trusted without a backend round-trip (optimistic restore).
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read session: %w", err)
	}

	var sf sessionFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return fmt.Errorf("failed to parse session: %w", err)
	}

	s.token = sf.Token
	s.user = sf.User
	return nil
}

// Token returns the held bearer token, or "" when logged out.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// SetToken stores a token and persists. An empty token clears it.
func (s *Store) SetToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	return s.save()
}

// User returns the stored user record, or nil.
func (s *Store) User() *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// SetUser stores the user record and persists.
func (s *Store) SetUser(u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = u
	return s.save()
}

// IsAuthenticated reports whether a user record is present.
func (s *Store) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user != nil
}

// Clear removes token and user record, for logout or session expiry.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.user = nil
	return s.save()
}

// save writes the current state to disk. Caller holds the lock.
// The file is 0600: it contains a bearer token.
func (s *Store) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	data, err := json.MarshalIndent(sessionFile{Token: s.token, User: s.user}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	return nil
}
