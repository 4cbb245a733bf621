// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Doorkeep Contributors

package auth_test

import (
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doorkeep/doorkeep/internal/auth"
)

func testSecret(t *testing.T) []byte {
	t.Helper()
	return []byte("0123456789abcdef0123456789abcdef")
}

func TestNewTokenManager(t *testing.T) {
	t.Run("rejects short secret", func(t *testing.T) {
		_, err := auth.NewTokenManager([]byte("short"), time.Hour)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "at least")
	})

	t.Run("rejects non-positive ttl", func(t *testing.T) {
		_, err := auth.NewTokenManager(testSecret(t), 0)
		require.Error(t, err)
	})

	t.Run("accepts strong secret and positive ttl", func(t *testing.T) {
		tm, err := auth.NewTokenManager(testSecret(t), time.Hour)
		require.NoError(t, err)
		assert.Equal(t, time.Hour, tm.TTL())
	})
}

func TestTokenManager_IssueAndValidate(t *testing.T) {
	tm, err := auth.NewTokenManager(testSecret(t), time.Hour)
	require.NoError(t, err)

	t.Run("round trip returns the issuing user id", func(t *testing.T) {
		userID := ulid.Make()
		token, err := tm.Issue(userID)
		require.NoError(t, err)
		require.NotEmpty(t, token)

		got, err := tm.Validate(token)
		require.NoError(t, err)
		assert.Equal(t, userID, got)
	})

	t.Run("empty token fails unauthenticated", func(t *testing.T) {
		_, err := tm.Validate("")
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrUnauthenticated)
	})

	t.Run("malformed token fails unauthenticated", func(t *testing.T) {
		_, err := tm.Validate("not.a.token")
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrUnauthenticated)
	})

	t.Run("flipped signature byte fails unauthenticated", func(t *testing.T) {
		token, err := tm.Issue(ulid.Make())
		require.NoError(t, err)

		// Flip a character in the middle of the signature segment.
		parts := strings.Split(token, ".")
		require.Len(t, parts, 3)
		sig := []byte(parts[2])
		i := len(sig) / 2
		if sig[i] == 'A' {
			sig[i] = 'B'
		} else {
			sig[i] = 'A'
		}
		parts[2] = string(sig)
		tampered := strings.Join(parts, ".")

		_, err = tm.Validate(tampered)
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrUnauthenticated)
	})

	t.Run("tampered payload fails unauthenticated", func(t *testing.T) {
		token, err := tm.Issue(ulid.Make())
		require.NoError(t, err)

		parts := strings.Split(token, ".")
		require.Len(t, parts, 3)
		parts[1] = parts[1][:len(parts[1])-2] + "xx"

		_, err = tm.Validate(strings.Join(parts, "."))
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrUnauthenticated)
	})

	t.Run("token from a different secret fails unauthenticated", func(t *testing.T) {
		other, err := auth.NewTokenManager([]byte("ffffffffffffffffffffffffffffffff"), time.Hour)
		require.NoError(t, err)

		token, err := other.Issue(ulid.Make())
		require.NoError(t, err)

		_, err = tm.Validate(token)
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrUnauthenticated)
	})
}

func TestTokenManager_Expiry(t *testing.T) {
	// The smallest positive TTL the constructor accepts; the token is
	// already expired by the time Validate runs.
	tm, err := auth.NewTokenManager(testSecret(t), time.Nanosecond)
	require.NoError(t, err)

	token, err := tm.Issue(ulid.Make())
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	_, err = tm.Validate(token)
	require.Error(t, err)
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)
	assert.Contains(t, err.Error(), "expired")
}
