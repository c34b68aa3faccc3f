package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// User is the authenticated identity as the backend reports it.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// state is the durable on-disk form: identity and both credentials are
// written as one document so they persist and clear as a group.
type state struct {
	User         *User  `json:"user,omitempty"`
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// Store owns the session state: identity plus the access/refresh
// credential pair. Every mutation persists to disk so the session
// survives a process restart; Open rehydrates on cold start.
//
// Store implements api.TokenStore.
type Store struct {
	path string

	mu    sync.RWMutex
	state state
}

func Open(path string) (*Store, error) {
	s := &Store{path: path}

	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}
	if err := json.Unmarshal(raw, &s.state); err != nil {
		// A corrupt session file is treated as no session rather than a
		// fatal error; the user logs in again.
		s.state = state{}
	}
	return s, nil
}

func (s *Store) Tokens() (access, refresh string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.AccessToken, s.state.RefreshToken
}

func (s *Store) SetTokens(access, refresh string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.AccessToken = access
	s.state.RefreshToken = refresh
	return s.persistLocked()
}

// SetAuth records a full login outcome: identity and credential pair
// together.
func (s *Store) SetAuth(user *User, access, refresh string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state{User: user, AccessToken: access, RefreshToken: refresh}
	return s.persistLocked()
}

// Clear destroys the session: all fields emptied and the durable copy
// removed. Idempotent.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state{}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	return nil
}

func (s *Store) User() (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state.User == nil {
		return User{}, false
	}
	return *s.state.User, true
}

// Authenticated is true iff an access credential is present.
func (s *Store) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.AccessToken != ""
}

// AccessExpiry reads the exp claim from the access credential without
// verifying it. Signature validation is the server's job; the client
// only uses this for display.
func (s *Store) AccessExpiry() (time.Time, bool) {
	s.mu.RLock()
	token := s.state.AccessToken
	s.mu.RUnlock()
	if token == "" {
		return time.Time{}, false
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// persistLocked writes the whole state as one atomic replace: temp file
// in the same directory, then rename.
func (s *Store) persistLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	raw, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".session-*")
	if err != nil {
		return fmt.Errorf("failed to create session temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set session file mode: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write session state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close session temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}
