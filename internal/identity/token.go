package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fairyhunter13/cart-sync-simulator/internal/kv"
	"github.com/fairyhunter13/cart-sync-simulator/internal/obs"
)

// ErrInvalidToken is returned for tokens that fail signature, expiry or subject checks.
var ErrInvalidToken = errors.New("identity: invalid token")

// IssueToken signs an HS256 token whose subject is ownerID.
func IssueToken(secret, ownerID string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("identity: empty secret")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   ownerID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken verifies token and returns its subject.
func ParseToken(secret, token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}

// TokenSource yields the bearer token for outgoing requests; "" means none.
type TokenSource func(ctx context.Context) string

// StoredToken returns a TokenSource reading the raw token under key.
func StoredToken(store kv.Store, key string) TokenSource {
	return func(ctx context.Context) string {
		b, ok, err := store.Get(ctx, key)
		if err != nil || !ok {
			return ""
		}
		return strings.TrimSpace(string(b))
	}
}

type tokenProvider struct {
	tokens TokenSource
	secret string
}

// FromToken resolves the owner from a signed token kept under key.
func FromToken(store kv.Store, key, secret string) Provider {
	return &tokenProvider{tokens: StoredToken(store, key), secret: secret}
}

func (p *tokenProvider) CurrentOwner(ctx context.Context) (string, bool) {
	tok := p.tokens(ctx)
	if tok == "" {
		return "", false
	}
	sub, err := ParseToken(p.secret, tok)
	if err != nil {
		obs.Logger.Warn("identity_token_rejected", "error", err)
		return "", false
	}
	return sub, true
}
