// Package session holds the signed-in account of the terminal client. A
// Session is created at login, passed explicitly to whatever needs the token
// or the student id, and cleared at logout or when the API rejects the token.
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
	"github.com/stemsi/exstem-attempt/internal/model"
)

var (
	ErrNoSession = errors.New("not logged in")
	ErrExpired   = errors.New("session expired")
)

// Session is the explicit authentication context.
type Session struct {
	Token     string     `json:"token"`
	User      model.User `json:"user"`
	ExpiresAt time.Time  `json:"expiresAt,omitempty"`
}

// New builds a session from a login response. The expiry is read from the
// token's exp claim; the signature is not checked here, the API does that.
func New(resp *model.LoginResponse) (*Session, error) {
	if resp == nil || resp.Token == "" {
		return nil, errors.New("session: empty token")
	}
	s := &Session{Token: resp.Token, User: resp.User}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(resp.Token, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			s.ExpiresAt = exp.Time
		}
	}
	return s, nil
}

// Valid reports whether the session can still authenticate at now.
func (s *Session) Valid(now time.Time) bool {
	if s == nil || s.Token == "" {
		return false
	}
	return s.ExpiresAt.IsZero() || now.Before(s.ExpiresAt)
}

// IsStudent reports whether the session may take exams.
func (s *Session) IsStudent() bool {
	return s != nil && s.User.Role == model.RoleStudent
}

// FileStore persists one session as a JSON file readable only by its owner.
type FileStore struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, now: time.Now}
}

// Load returns the stored session. An expired session is removed and
// reported as ErrExpired.
func (f *FileStore) Load() (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}

	var s Session
	if err := json.Unmarshal(raw, &s); err != nil || s.Token == "" {
		_ = os.Remove(f.path)
		return nil, ErrNoSession
	}
	if !s.Valid(f.now()) {
		_ = os.Remove(f.path)
		return nil, ErrExpired
	}
	return &s, nil
}

// Save replaces the stored session.
func (f *FileStore) Save(s *Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	raw, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := os.WriteFile(f.path, raw, 0o600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

// Clear removes the stored session. Clearing twice is not an error.
func (f *FileStore) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}
