package session

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stemsi/exstem-attempt/internal/model"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "u1",
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := tok.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestNewReadsExpiry(t *testing.T) {
	exp := time.Now().Add(2 * time.Hour).Truncate(time.Second)
	s, err := New(&model.LoginResponse{
		Token: signedToken(t, exp),
		User:  model.User{ID: "u1", Role: model.RoleStudent},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !s.ExpiresAt.Equal(exp) {
		t.Fatalf("ExpiresAt = %v, want %v", s.ExpiresAt, exp)
	}
	if !s.Valid(time.Now()) || s.Valid(exp.Add(time.Second)) {
		t.Fatal("validity window wrong")
	}
	if !s.IsStudent() {
		t.Fatal("expected student session")
	}
}

func TestNewOpaqueToken(t *testing.T) {
	s, err := New(&model.LoginResponse{Token: "opaque"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !s.ExpiresAt.IsZero() || !s.Valid(time.Now()) {
		t.Fatalf("opaque token should never expire locally: %+v", s)
	}
	if _, err := New(&model.LoginResponse{}); err == nil {
		t.Fatal("empty token accepted")
	}
}

func TestFileStoreLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	store := NewFileStore(path)

	if _, err := store.Load(); !errors.Is(err, ErrNoSession) {
		t.Fatalf("load empty: err = %v", err)
	}

	in := &Session{Token: "tok", User: model.User{ID: "u1", Email: "a@b.c", Role: model.RoleStudent}}
	if err := store.Save(in); err != nil {
		t.Fatalf("Save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("perm = %v, want 0600", info.Mode().Perm())
	}

	out, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if out.Token != "tok" || out.User.ID != "u1" {
		t.Fatalf("loaded %+v", out)
	}

	if err := store.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("second Clear: %v", err)
	}
	if _, err := store.Load(); !errors.Is(err, ErrNoSession) {
		t.Fatalf("load after clear: err = %v", err)
	}
}

func TestFileStoreDropsExpired(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	store := NewFileStore(path)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	if err := store.Save(&Session{Token: "tok", ExpiresAt: now.Add(-time.Minute)}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Load(); !errors.Is(err, ErrExpired) {
		t.Fatalf("err = %v, want ErrExpired", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("expired session file not removed")
	}
}
