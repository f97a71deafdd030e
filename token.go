package tabauth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tabClaims is the payload of a signed tab token: the tab identity an
// HTTP client presents so requests can be bound to its registry entry.
type tabClaims struct {
	TabID  string `json:"tid"`
	UserID string `json:"uid,omitempty"`
	jwt.RegisteredClaims
}

// tokenManager mints and verifies HS256 tab tokens. Nil when no signing
// key is configured; the HTTP guard then falls back to anonymous.
type tokenManager struct {
	key []byte
	ttl time.Duration
}

func newTokenManager(cfg TokenConfig) *tokenManager {
	if len(cfg.SigningKey) == 0 {
		return nil
	}
	return &tokenManager{
		key: append([]byte(nil), cfg.SigningKey...),
		ttl: cfg.TTL,
	}
}

func (m *tokenManager) Mint(tabID, userID string, now time.Time) (string, error) {
	claims := tabClaims{
		TabID:  tabID,
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	return signed, nil
}

func (m *tokenManager) Parse(tokenStr string) (*tabClaims, error) {
	claims := &tabClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return m.key, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid || claims.TabID == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// IssueTabToken mints a signed token carrying the current client's tab
// identity (and user ID when logged in). Returns [ErrTokenInvalid] when
// no signing key was configured.
func (c *Coordinator) IssueTabToken(ctx context.Context) (string, error) {
	if c.tokens == nil {
		return "", ErrTokenInvalid
	}
	tabID, err := c.registry.TabID(ctx)
	if err != nil {
		return "", err
	}
	userID := ""
	if cur, err := c.registry.CurrentUser(ctx); err == nil && cur != nil {
		userID = cur.UserID
	}
	return c.tokens.Mint(tabID, userID, time.Now())
}

// ParseTabToken verifies a tab token and returns the tab ID it binds.
func (c *Coordinator) ParseTabToken(tokenStr string) (string, error) {
	if c.tokens == nil {
		return "", ErrTokenInvalid
	}
	claims, err := c.tokens.Parse(tokenStr)
	if err != nil {
		return "", err
	}
	return claims.TabID, nil
}
