// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Doorkeep Contributors

package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Session token configuration.
const (
	// MinSecretLength is the minimum accepted signing secret size in
	// bytes. Anything shorter is a deployment defect, not a default to
	// paper over.
	MinSecretLength = 32

	// DefaultTokenTTL is the validity window applied when the
	// configuration supplies none.
	DefaultTokenTTL = 24 * time.Hour
)

// TokenManager issues and validates self-contained session tokens.
//
// A token carries {user_id, issued_at, expires_at} signed with a
// process-wide secret (HMAC-SHA256). Validation recomputes the
// signature and checks expiry without any store lookup, so it stays
// O(1) and independent of the credential store's availability. The
// secret is immutable after construction; rotating it invalidates
// every outstanding token.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenManager creates a TokenManager from an injected secret and
// token lifetime. The secret must be at least MinSecretLength bytes
// and the TTL positive.
func NewTokenManager(secret []byte, ttl time.Duration) (*TokenManager, error) {
	if len(secret) < MinSecretLength {
		return nil, oops.Code("TOKEN_WEAK_SECRET").
			With("min_bytes", MinSecretLength).
			Errorf("signing secret must be at least %d bytes", MinSecretLength)
	}
	if ttl <= 0 {
		return nil, oops.Code("TOKEN_INVALID_TTL").Errorf("token TTL must be positive")
	}
	return &TokenManager{secret: secret, ttl: ttl}, nil
}

// TTL returns the configured token lifetime.
func (m *TokenManager) TTL() time.Duration {
	return m.ttl
}

// Issue builds a signed token for the given user, valid from now until
// now+TTL.
func (m *TokenManager) Issue(userID ulid.ULID) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
	})

	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", oops.Code("TOKEN_SIGN_FAILED").Wrap(err)
	}
	return signed, nil
}

// Validate checks the token's signature and expiry and returns the
// user ID it was issued for. Tampered, expired, malformed, and empty
// tokens all fail with ErrUnauthenticated.
func (m *TokenManager) Validate(tokenString string) (ulid.ULID, error) {
	if tokenString == "" {
		return ulid.ULID{}, oops.Code("TOKEN_MISSING").Wrapf(ErrUnauthenticated, "session token cannot be empty")
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		// Reject tokens signed with anything but HMAC, including "none".
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, oops.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ulid.ULID{}, oops.Code("TOKEN_EXPIRED").Wrapf(ErrUnauthenticated, "session has expired")
		}
		return ulid.ULID{}, oops.Code("TOKEN_INVALID").Wrapf(ErrUnauthenticated, "invalid session token")
	}
	if !token.Valid {
		return ulid.ULID{}, oops.Code("TOKEN_INVALID").Wrapf(ErrUnauthenticated, "invalid session token")
	}

	userID, err := ulid.Parse(claims.Subject)
	if err != nil {
		return ulid.ULID{}, oops.Code("TOKEN_INVALID_SUBJECT").Wrapf(ErrUnauthenticated, "invalid token subject")
	}

	return userID, nil
}
