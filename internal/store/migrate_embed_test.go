// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Doorkeep Contributors

package store

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsFS_EmbeddedFiles(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	require.NoError(t, err, "should read embedded migrations directory")

	expectedFiles := []string{
		"000001_users.up.sql",
		"000001_users.down.sql",
	}

	fileNames := make(map[string]bool)
	for _, entry := range entries {
		fileNames[entry.Name()] = true
	}

	for _, expected := range expectedFiles {
		assert.True(t, fileNames[expected], "should contain %s", expected)
	}

	// Verify all files follow expected naming pattern
	pattern := regexp.MustCompile(`^\d{6}_\w+\.(up|down)\.sql$`)
	for _, entry := range entries {
		assert.True(t, pattern.MatchString(entry.Name()),
			"file %s should match pattern NNNNNN_name.(up|down).sql", entry.Name())
	}
}

func TestMigrationsFS_UsersSchema(t *testing.T) {
	up, err := migrationsFS.ReadFile("migrations/000001_users.up.sql")
	require.NoError(t, err)

	// The unique index on the case-folded username is what makes
	// concurrent registration of one username safe.
	assert.Contains(t, string(up), "CREATE UNIQUE INDEX users_username_unique ON users (LOWER(username))")
}
