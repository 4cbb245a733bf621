// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Doorkeep Contributors

package auth

import "errors"

// Sentinel errors for the failure taxonomy. Call sites wrap these with
// oops codes and context; callers match them with errors.Is.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned for malformed or empty credentials.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict is returned when a username is already registered.
	ErrConflict = errors.New("username already exists")

	// ErrUnauthenticated is returned for bad credentials and for expired,
	// tampered, or missing tokens. Unknown-user and wrong-password are
	// deliberately indistinguishable.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrStoreUnavailable is returned when the persistence layer is
	// unreachable. Never retried here; the boundary decides on backoff.
	ErrStoreUnavailable = errors.New("store unavailable")
)
