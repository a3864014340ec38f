// Copyright (c) 2025, the debridarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/debridarr/debridarr/internal/domain"
)

func TestNewCreatesDefaultConfig(t *testing.T) {
	dir := t.TempDir()

	cfg, err := New(dir, "test")
	require.NoError(t, err)

	// First run writes the file.
	_, err = os.Stat(filepath.Join(dir, "config.toml"))
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Config.Host)
	assert.Equal(t, 7576, cfg.Config.Port)
	assert.Equal(t, "https://api.real-debrid.com/rest/1.0", cfg.Config.APIURL)
	assert.Equal(t, "https://api.real-debrid.com/oauth/v2", cfg.Config.OAuthURL)
	assert.Equal(t, "X245A4XAIBGVM", cfg.Config.ClientID)
	assert.Equal(t, 250, cfg.Config.RateBudget)
	assert.Equal(t, 30, cfg.Config.PollInterval)
	assert.False(t, cfg.Config.MetricsEnabled)
	assert.NotEmpty(t, cfg.Config.SessionSecret)
}

func TestNewReadsExistingConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	require.NoError(t, os.WriteFile(path, []byte(`
host = "0.0.0.0"
port = 9000
sessionSecret = "fixed-secret"
rateBudget = 100
`), 0644))

	cfg, err := New(dir, "test")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Config.Host)
	assert.Equal(t, 9000, cfg.Config.Port)
	assert.Equal(t, "fixed-secret", cfg.Config.SessionSecret)
	assert.Equal(t, 100, cfg.Config.RateBudget)
	// Unspecified keys keep their defaults.
	assert.Equal(t, 30, cfg.Config.PollInterval)
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()

	t.Setenv("DEBRIDARR__PORT", "8123")
	t.Setenv("DEBRIDARR__LOG_LEVEL", "DEBUG")
	t.Setenv("DEBRIDARR__RATE_BUDGET", "42")

	cfg, err := New(dir, "test")
	require.NoError(t, err)

	assert.Equal(t, 8123, cfg.Config.Port)
	assert.Equal(t, "DEBUG", cfg.Config.LogLevel)
	assert.Equal(t, 42, cfg.Config.RateBudget)
}

func TestReloadListenersReceiveUpdatedConfig(t *testing.T) {
	dir := t.TempDir()

	cfg, err := New(dir, "test")
	require.NoError(t, err)

	var got *domain.Config
	cfg.RegisterReloadListener(func(c *domain.Config) {
		got = c
	})

	cfg.Config.RateBudget = 75
	cfg.Config.PollInterval = 10
	cfg.applyDynamicChanges()

	require.NotNil(t, got)
	assert.Equal(t, 75, got.RateBudget)
	assert.Equal(t, 10, got.PollInterval)

	// Listeners get a copy, not the live struct.
	got.RateBudget = 1
	assert.Equal(t, 75, cfg.Config.RateBudget)
}

func TestGetDatabasePath(t *testing.T) {
	dir := t.TempDir()

	cfg, err := New(dir, "test")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "debridarr.db"), cfg.GetDatabasePath())

	cfg.SetDataDir("/custom/data")
	assert.Equal(t, filepath.Join("/custom/data", "debridarr.db"), cfg.GetDatabasePath())
}

func TestGetEncryptionKey(t *testing.T) {
	dir := t.TempDir()

	t.Setenv("DEBRIDARR__SESSION_SECRET", "0123456789abcdef0123456789abcdefEXTRA")

	cfg, err := New(dir, "test")
	require.NoError(t, err)

	key := cfg.GetEncryptionKey()
	assert.Len(t, key, 32)
	assert.Equal(t, []byte("0123456789abcdef0123456789abcdef"), key)
}

func TestGetEncryptionKeyPadsShortSecret(t *testing.T) {
	dir := t.TempDir()

	t.Setenv("DEBRIDARR__SESSION_SECRET", "short")

	cfg, err := New(dir, "test")
	require.NoError(t, err)

	key := cfg.GetEncryptionKey()
	assert.Len(t, key, 32)
	assert.Equal(t, byte('s'), key[0])
}
