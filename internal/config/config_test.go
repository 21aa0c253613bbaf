// Copyright (c) 2025-2026 Open Association Portal Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "fR9!kP2mXz#7qW4vN8jL5tY1bC6dH3eA"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORTAL_SESSION_SECRET", testSecret)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "./data/portal.db", cfg.DBPath)
	assert.Equal(t, "localhost:8080", cfg.ServerAddr())
	assert.Equal(t, "0 3 * * *", cfg.ExpirySchedule)
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.UseRedisCache())
	assert.False(t, cfg.DoSeed)
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("PORTAL_SESSION_SECRET", "")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsShortSecret(t *testing.T) {
	t.Setenv("PORTAL_SESSION_SECRET", "too-short")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 32 bytes")
}

func TestLoadRejectsKnownWeakSecret(t *testing.T) {
	t.Setenv("PORTAL_SESSION_SECRET", "change-me-to-32-byte-secret-key!")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "known default")
}

func TestLoadRedisCache(t *testing.T) {
	t.Setenv("PORTAL_SESSION_SECRET", testSecret)
	t.Setenv("PORTAL_REDIS_URL", "redis://localhost:6379/0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.UseRedisCache())
}

func TestHasMinimumEntropy(t *testing.T) {
	assert.True(t, hasMinimumEntropy("Abc123!xyz"))
	assert.False(t, hasMinimumEntropy("alllowercaseletters"))
	assert.False(t, hasMinimumEntropy("lowercase123"))
}
