package revoke

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	redis "github.com/redis/go-redis/v9"
)

const (
	tokenKeyPrefix     = "revoked:jti:"
	principalKeyPrefix = "revoked:principal:"

	defaultMaxTokenLifetime = 7 * 24 * time.Hour
)

// List is the revocation list shared by every application instance.
type List struct {
	client *redis.Client
	secret []byte

	// maxTokenLifetime bounds the TTL of principal-wide revocation
	// timestamps: once every token issued before the revocation instant has
	// expired on its own, the timestamp no longer needs to exist.
	maxTokenLifetime time.Duration
}

// Option configures a List.
type Option func(*List)

// WithMaxTokenLifetime sets the longest lifetime a token can be issued with.
func WithMaxTokenLifetime(d time.Duration) Option {
	return func(l *List) { l.maxTokenLifetime = d }
}

// New returns a List validating tokens signed with secret.
func New(client *redis.Client, secret []byte, opts ...Option) *List {
	l := &List{client: client, secret: secret, maxTokenLifetime: defaultMaxTokenLifetime}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *List) parse(token string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	// Expiry is ordered explicitly by the callers; a token past its expiry
	// must still parse so Blacklist can skip it and IsRevoked can deny it.
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return l.secret, nil
	}, jwt.WithoutClaimsValidation())
	if err != nil {
		return nil, err
	}
	if claims.ID == "" {
		return nil, fmt.Errorf("token has no jti")
	}
	return claims, nil
}

// Blacklist marks a single token as revoked for the remainder of its
// validity. It returns false when the token is already expired, in which
// case no entry is written.
func (l *List) Blacklist(ctx context.Context, token string) (bool, error) {
	claims, err := l.parse(token)
	if err != nil {
		return false, fmt.Errorf("blacklist: %w", err)
	}
	if claims.ExpiresAt == nil {
		return false, fmt.Errorf("blacklist: token has no expiry")
	}
	remaining := time.Until(claims.ExpiresAt.Time)
	if remaining <= 0 {
		return false, nil
	}
	if err := l.client.Set(ctx, tokenKeyPrefix+claims.ID, claims.Subject, remaining).Err(); err != nil {
		return false, fmt.Errorf("blacklist: %w", err)
	}
	return true, nil
}

// RevokeAllForPrincipal invalidates every token of principalID issued before
// now. The timestamp lives for the maximum token lifetime; anything older
// has expired on its own by then.
func (l *List) RevokeAllForPrincipal(ctx context.Context, principalID string) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	if err := l.client.Set(ctx, principalKeyPrefix+principalID, now, l.maxTokenLifetime).Err(); err != nil {
		return fmt.Errorf("revoke principal %s: %w", principalID, err)
	}
	return nil
}

// IsRevoked reports whether token is no longer acceptable. This is a
// security control: parse failures and store errors all count as revoked,
// and no result is ever cached.
func (l *List) IsRevoked(ctx context.Context, token string) bool {
	claims, err := l.parse(token)
	if err != nil {
		slog.Warn("revoke: token parse failed, treating as revoked", "error", err)
		return true
	}
	if claims.ExpiresAt == nil || !claims.ExpiresAt.Time.After(time.Now()) {
		return true
	}

	n, err := l.client.Exists(ctx, tokenKeyPrefix+claims.ID).Result()
	if err != nil {
		slog.Warn("revoke: blacklist lookup failed, treating as revoked", "jti", claims.ID, "error", err)
		return true
	}
	if n > 0 {
		return true
	}

	val, err := l.client.Get(ctx, principalKeyPrefix+claims.Subject).Result()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		slog.Warn("revoke: principal lookup failed, treating as revoked", "principal", claims.Subject, "error", err)
		return true
	}
	revokedMillis, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		slog.Warn("revoke: malformed revocation timestamp, treating as revoked", "principal", claims.Subject, "error", err)
		return true
	}
	if claims.IssuedAt == nil {
		// Without an issue time the token cannot be ordered against the
		// revocation instant.
		return true
	}
	return claims.IssuedAt.Time.Before(time.UnixMilli(revokedMillis))
}
