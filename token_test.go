package tabauth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prosecheck/tabauth/kv"
	"github.com/prosecheck/tabauth/registry"
)

func newTokenCoordinator(t *testing.T) *Coordinator {
	t.Helper()

	cfg := Config{}
	cfg.Token.SigningKey = []byte("test-signing-key")
	cfg.Token.TTL = time.Hour

	coord, err := New().WithConfig(cfg).WithSharedStore(kv.NewMemoryStore()).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(coord.Close)
	return coord
}

func TestTabTokenRoundTrip(t *testing.T) {
	coord := newTokenCoordinator(t)
	ctx := context.Background()

	if _, err := coord.Login(ctx, testUser("42", "alice", registry.RoleUser)); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	signed, err := coord.IssueTabToken(ctx)
	if err != nil {
		t.Fatalf("IssueTabToken failed: %v", err)
	}

	tabID, err := coord.ParseTabToken(signed)
	if err != nil {
		t.Fatalf("ParseTabToken failed: %v", err)
	}
	want, err := coord.Registry().TabID(ctx)
	if err != nil {
		t.Fatalf("TabID failed: %v", err)
	}
	if tabID != want {
		t.Fatalf("token binds tab %q, want %q", tabID, want)
	}
}

func TestTabTokenCarriesUserID(t *testing.T) {
	coord := newTokenCoordinator(t)
	ctx := context.Background()

	if _, err := coord.Login(ctx, testUser("42", "alice", registry.RoleUser)); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	signed, err := coord.IssueTabToken(ctx)
	if err != nil {
		t.Fatalf("IssueTabToken failed: %v", err)
	}

	claims, err := coord.tokens.Parse(signed)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if claims.UserID != "42" {
		t.Fatalf("token user ID %q, want 42", claims.UserID)
	}
}

func TestTabTokenTamperedRejected(t *testing.T) {
	coord := newTokenCoordinator(t)
	ctx := context.Background()

	signed, err := coord.IssueTabToken(ctx)
	if err != nil {
		t.Fatalf("IssueTabToken failed: %v", err)
	}

	// Flip a character inside the signature segment.
	i := strings.LastIndex(signed, ".") + 1
	tampered := signed[:i] + flipChar(signed[i:])
	if _, err := coord.ParseTabToken(tampered); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for tampered token, got %v", err)
	}
}

func TestTabTokenWrongKeyRejected(t *testing.T) {
	coord := newTokenCoordinator(t)

	signed, err := coord.IssueTabToken(context.Background())
	if err != nil {
		t.Fatalf("IssueTabToken failed: %v", err)
	}

	other := newTokenManager(TokenConfig{SigningKey: []byte("other-key"), TTL: time.Hour})
	if _, err := other.Parse(signed); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid under the wrong key, got %v", err)
	}
}

func TestTabTokenExpiredRejected(t *testing.T) {
	m := newTokenManager(TokenConfig{SigningKey: []byte("test-signing-key"), TTL: time.Hour})

	signed, err := m.Mint("tab_1", "42", time.Now().Add(-2*time.Hour))
	if err != nil {
		t.Fatalf("Mint failed: %v", err)
	}
	if _, err := m.Parse(signed); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for expired token, got %v", err)
	}
}

func TestTabTokenWithoutSigningKey(t *testing.T) {
	coord, err := New().WithSharedStore(kv.NewMemoryStore()).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer coord.Close()

	if _, err := coord.IssueTabToken(context.Background()); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid without a signing key, got %v", err)
	}
	if _, err := coord.ParseTabToken("whatever"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid without a signing key, got %v", err)
	}
}

func flipChar(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] == 'A' {
		b[0] = 'B'
	} else {
		b[0] = 'A'
	}
	return string(b)
}
