package session_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/lotview/lotview/internal/session"
	"github.com/lotview/lotview/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.Discard()
	os.Exit(m.Run())
}

func tempStorePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "session.json")
}

func TestStore_PersistAndRehydrate(t *testing.T) {
	path := tempStorePath(t)

	store, err := session.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	user := &session.User{ID: "u-1", Email: "driver@example.com", Name: "Driver", IsActive: true}
	if err := store.SetAuth(user, "acc-1", "ref-1"); err != nil {
		t.Fatalf("SetAuth failed: %v", err)
	}

	// A fresh store over the same file sees the full session.
	reopened, err := session.Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if !reopened.Authenticated() {
		t.Fatal("Expected rehydrated store to be authenticated")
	}
	access, refresh := reopened.Tokens()
	if access != "acc-1" || refresh != "ref-1" {
		t.Errorf("Tokens = (%q, %q), want persisted pair", access, refresh)
	}
	got, ok := reopened.User()
	if !ok || got.Email != "driver@example.com" {
		t.Errorf("User = %+v, ok=%v", got, ok)
	}
}

func TestStore_ClearRemovesEverything(t *testing.T) {
	path := tempStorePath(t)
	store, err := session.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	user := &session.User{ID: "u-1", Email: "driver@example.com"}
	if err := store.SetAuth(user, "acc-1", "ref-1"); err != nil {
		t.Fatalf("SetAuth failed: %v", err)
	}

	if err := store.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if store.Authenticated() {
		t.Error("Expected store to be unauthenticated after Clear")
	}
	if _, ok := store.User(); ok {
		t.Error("Expected no user after Clear")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("Expected session file removed, stat err = %v", err)
	}

	// Clear is idempotent.
	if err := store.Clear(); err != nil {
		t.Errorf("second Clear failed: %v", err)
	}
}

func TestStore_CorruptFileStartsEmpty(t *testing.T) {
	path := tempStorePath(t)
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	store, err := session.Open(path)
	if err != nil {
		t.Fatalf("Open over corrupt file failed: %v", err)
	}
	if store.Authenticated() {
		t.Error("Expected empty session over a corrupt file")
	}
}

func TestStore_SetTokensKeepsUser(t *testing.T) {
	store, err := session.Open(tempStorePath(t))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	user := &session.User{ID: "u-1", Email: "driver@example.com"}
	if err := store.SetAuth(user, "acc-1", "ref-1"); err != nil {
		t.Fatalf("SetAuth failed: %v", err)
	}

	// A silent refresh rotates the pair without touching the identity.
	if err := store.SetTokens("acc-2", "ref-2"); err != nil {
		t.Fatalf("SetTokens failed: %v", err)
	}
	if access, _ := store.Tokens(); access != "acc-2" {
		t.Errorf("access = %q, want acc-2", access)
	}
	if got, ok := store.User(); !ok || got.ID != "u-1" {
		t.Errorf("User lost after token rotation: %+v, ok=%v", got, ok)
	}
}

func TestStore_AccessExpiry(t *testing.T) {
	store, err := session.Open(tempStorePath(t))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if _, ok := store.AccessExpiry(); ok {
		t.Error("Expected no expiry with no token")
	}

	expiresAt := time.Now().Add(15 * time.Minute).Truncate(time.Second)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "u-1",
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}
	if err := store.SetTokens(signed, "ref-1"); err != nil {
		t.Fatal(err)
	}

	got, ok := store.AccessExpiry()
	if !ok {
		t.Fatal("Expected expiry from token claims")
	}
	if !got.Equal(expiresAt) {
		t.Errorf("expiry = %v, want %v", got, expiresAt)
	}
}
