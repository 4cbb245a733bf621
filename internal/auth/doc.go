// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Doorkeep Contributors

// Package auth implements the credential authentication core.
//
// # Domain Types
//
// User represents a registered account and should be created through
// NewUser, which assigns the surrogate ID and creation timestamp.
// Direct struct initialization bypasses validation.
//
// # Components
//
//   - PasswordHasher / Argon2idHasher - salted, memory-hard password
//     hashing and constant-time verification
//   - TokenManager - stateless signed session tokens; validation needs
//     no store lookup
//   - Service - register, login, logout, and current-user resolution
//     on top of a UserRepository
//
// Sessions are self-contained: there is no server-side session table,
// so logout amounts to validating the presented token and telling the
// client to discard it. A token holds only the user ID; the user row
// holds no reference back to sessions.
package auth
