package auth

import (
	"errors"
	"testing"
	"time"
)

func TestIssueAndVerify(t *testing.T) {
	svc, err := NewService("test-secret", time.Minute)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	pair, err := svc.Issue("alice", "biometric")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if pair.ExpiresIn != 60 {
		t.Fatalf("expected 60s expiry, got %d", pair.ExpiresIn)
	}
	sub, err := svc.Verify(pair.AccessToken)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if sub != "alice" {
		t.Fatalf("expected alice, got %s", sub)
	}
}

func TestVerifyRejectsForeignSecret(t *testing.T) {
	a, _ := NewService("secret-a", time.Minute)
	b, _ := NewService("secret-b", time.Minute)
	pair, err := a.Issue("alice", "")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := b.Verify(pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	svc, _ := NewService("test-secret", time.Minute)
	pair, err := svc.Issue("alice", "")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	svc.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := svc.Verify(pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}
}

func TestNewServiceRequiresSecret(t *testing.T) {
	if _, err := NewService("", time.Minute); !errors.Is(err, ErrMissingKey) {
		t.Fatalf("expected ErrMissingKey, got %v", err)
	}
}
