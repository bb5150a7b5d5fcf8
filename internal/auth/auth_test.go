package auth

import (
	"errors"
	"testing"
	"time"
)

func TestManager_LoginPersists(t *testing.T) {
	dir := t.TempDir()

	m, err := NewManager(dir)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	if m.IsAuthenticated() {
		t.Fatal("Fresh manager should not be authenticated")
	}

	if err := m.Login("alice", "tok", "http://127.0.0.1:7466", time.Time{}); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	reloaded, err := NewManager(dir)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	if !reloaded.IsAuthenticated() {
		t.Fatal("Expected credentials to persist")
	}
	c := reloaded.Credentials()
	if c.Principal != "alice" || c.Token != "tok" {
		t.Errorf("Unexpected credentials: %+v", c)
	}

	if err := reloaded.Logout(); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if reloaded.IsAuthenticated() || reloaded.Credentials() != nil {
		t.Error("Expected logged out")
	}
	if err := reloaded.Logout(); err != nil {
		t.Errorf("Second logout should succeed: %v", err)
	}
}

func TestManager_Expired(t *testing.T) {
	m, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	if err := m.Login("bob", "tok", "", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if m.IsAuthenticated() {
		t.Error("Expired credentials should not authenticate")
	}
	if err := m.Login("", "", "", time.Time{}); err == nil {
		t.Error("Expected error for empty principal")
	}
}

func TestTokens_IssueVerify(t *testing.T) {
	tokens, err := NewTokens("0123456789abcdef", "cmkt", time.Hour)
	if err != nil {
		t.Fatalf("NewTokens failed: %v", err)
	}

	tok, exp, err := tokens.Issue("0xabc")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Errorf("Expected future expiry, got %v", exp)
	}

	principal, err := tokens.Verify(tok)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if principal != "0xabc" {
		t.Errorf("Expected 0xabc, got %s", principal)
	}
}

func TestTokens_Rejects(t *testing.T) {
	tokens, _ := NewTokens("0123456789abcdef", "cmkt", time.Hour)
	other, _ := NewTokens("fedcba9876543210", "cmkt", time.Hour)
	wrongIssuer, _ := NewTokens("0123456789abcdef", "elsewhere", time.Hour)

	forged, _, _ := other.Issue("mallory")
	if _, err := tokens.Verify(forged); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken for wrong key, got %v", err)
	}

	foreign, _, _ := wrongIssuer.Issue("mallory")
	if _, err := tokens.Verify(foreign); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken for wrong issuer, got %v", err)
	}

	expired, _ := NewTokens("0123456789abcdef", "cmkt", time.Minute)
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	old, _, _ := expired.Issue("alice")
	if _, err := tokens.Verify(old); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken for expired token, got %v", err)
	}

	if _, err := tokens.Verify("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken for garbage, got %v", err)
	}
	if _, err := NewTokens("", "cmkt", time.Hour); err == nil {
		t.Error("Expected error for empty secret")
	}
}
