package auth

import (
	"errors"
	"testing"
	"time"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestManager(t *testing.T, cfg SessionManagerConfig) *SessionManager {
	t.Helper()
	if cfg.SigningSecret == nil {
		cfg.SigningSecret = testSecret
	}
	manager, err := NewSessionManager(cfg)
	if err != nil {
		t.Fatalf("failed to build session manager: %v", err)
	}
	return manager
}

func TestIssueAndValidateRoundTrip(t *testing.T) {
	manager := newTestManager(t, SessionManagerConfig{Issuer: "contentdb-auth"})

	token, expiresIn, err := manager.IssueToken(42)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if expiresIn != int64(defaultTokenTTL.Seconds()) {
		t.Fatalf("unexpected ttl: %d", expiresIn)
	}

	userID, err := manager.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if userID != 42 {
		t.Fatalf("expected user 42, got %d", userID)
	}
}

func TestIssueRejectsNonPositiveUser(t *testing.T) {
	manager := newTestManager(t, SessionManagerConfig{})
	if _, _, err := manager.IssueToken(0); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token error, got %v", err)
	}
}

func TestValidateRejectsEmptyAndGarbage(t *testing.T) {
	manager := newTestManager(t, SessionManagerConfig{})

	if _, err := manager.ValidateToken("   "); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected missing token error, got %v", err)
	}
	if _, err := manager.ValidateToken("definitely.not.a.jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token error, got %v", err)
	}
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	issuedAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := issuedAt
	manager := newTestManager(t, SessionManagerConfig{
		TokenTTL: time.Minute,
		Clock:    func() time.Time { return now },
	})

	token, _, err := manager.IssueToken(7)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if _, err := manager.ValidateToken(token); err != nil {
		t.Fatalf("fresh token must validate: %v", err)
	}

	now = issuedAt.Add(2 * time.Minute)
	if _, err := manager.ValidateToken(token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected expired token error, got %v", err)
	}
}

func TestValidateRejectsWrongIssuerAndSecret(t *testing.T) {
	issuer := newTestManager(t, SessionManagerConfig{Issuer: "contentdb-auth"})
	token, _, err := issuer.IssueToken(7)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	other := newTestManager(t, SessionManagerConfig{Issuer: "somewhere-else"})
	if _, err := other.ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("issuer mismatch must fail, got %v", err)
	}

	wrongKey := newTestManager(t, SessionManagerConfig{
		SigningSecret: []byte("another-secret-another-secret-xx"),
		Issuer:        "contentdb-auth",
	})
	if _, err := wrongKey.ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("signature mismatch must fail, got %v", err)
	}
}

func TestNewSessionManagerRequiresSecret(t *testing.T) {
	if _, err := NewSessionManager(SessionManagerConfig{}); !errors.Is(err, ErrMissingSigningSecret) {
		t.Fatalf("expected missing secret error, got %v", err)
	}
}
