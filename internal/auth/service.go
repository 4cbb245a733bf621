// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Doorkeep Contributors

package auth

import (
	"context"
	"errors"

	"github.com/samber/oops"
)

// Service provides registration, login, logout, and current-user
// resolution. It holds no state of its own beyond the injected
// components.
type Service struct {
	users  UserRepository
	hasher PasswordHasher
	tokens *TokenManager
}

// NewService creates a new Service. All dependencies are required.
func NewService(users UserRepository, hasher PasswordHasher, tokens *TokenManager) (*Service, error) {
	if users == nil {
		return nil, oops.Errorf("user repository is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	if tokens == nil {
		return nil, oops.Errorf("token manager is required")
	}
	return &Service{users: users, hasher: hasher, tokens: tokens}, nil
}

// decoyPasswordHash is verified against when a username doesn't exist,
// so that login takes the same time whether or not the user is known.
// This is NOT a real credential - it's a fake hash that will never match any password.
//
//nolint:gosec // G101: intentionally fake hash for timing attack prevention, not a credential.
const decoyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// Register creates a new user from a username and plaintext password.
// Input is validated before the store is touched; the password is
// hashed and never persisted or returned in the clear. Returns
// ErrConflict if the username is already taken.
func (s *Service) Register(ctx context.Context, username, password string) (*User, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if password == "" {
		return nil, oops.Code("AUTH_EMPTY_PASSWORD").Wrapf(ErrInvalidInput, "password cannot be empty")
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	user, err := NewUser(username, hash)
	if err != nil {
		return nil, err
	}

	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	return user, nil
}

// Login authenticates a user and returns a signed session token.
// Uses constant-time operations to prevent timing-based username enumeration:
// an unknown username still pays for a full hash verification against a
// decoy, and the resulting error is identical to a wrong password.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	user, lookupErr := s.users.GetByUsername(ctx, username)

	targetHash := decoyPasswordHash
	userExists := false

	if lookupErr != nil {
		if !errors.Is(lookupErr, ErrNotFound) {
			return "", oops.Code("AUTH_LOGIN_FAILED").
				With("operation", "get user by username").
				Wrap(lookupErr)
		}
	} else {
		targetHash = user.PasswordHash
		userExists = true
	}

	valid, verifyErr := s.hasher.Verify(password, targetHash)
	if verifyErr != nil {
		// Decoy verification errors collapse into the generic failure.
		if !userExists {
			return "", oops.Code("AUTH_INVALID_CREDENTIALS").Wrapf(ErrUnauthenticated, "invalid username or password")
		}
		return "", oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			Wrap(verifyErr)
	}

	if !userExists || !valid {
		return "", oops.Code("AUTH_INVALID_CREDENTIALS").Wrapf(ErrUnauthenticated, "invalid username or password")
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return "", oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "issue session token").
			Wrap(err)
	}

	return token, nil
}

// Logout confirms the request carried a valid token. The token itself
// is self-contained, so there is nothing server-side to delete; the
// boundary layer instructs the client to discard it.
func (s *Service) Logout(ctx context.Context, token string) error {
	_ = ctx
	if _, err := s.tokens.Validate(token); err != nil {
		return err
	}
	return nil
}

// CurrentUser validates a session token and loads the user it belongs
// to. A valid token whose user no longer exists fails with
// ErrUnauthenticated: token validity does not imply current account
// validity.
func (s *Service) CurrentUser(ctx context.Context, token string) (*User, error) {
	userID, err := s.tokens.Validate(token)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("AUTH_USER_GONE").
				Wrapf(ErrUnauthenticated, "account no longer exists")
		}
		return nil, oops.Code("AUTH_CURRENT_USER_FAILED").
			With("operation", "get user by id").
			Wrap(err)
	}

	return user, nil
}
