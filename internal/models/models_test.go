// Copyright (c) 2025, the debridarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/debridarr/debridarr/internal/database"
	"github.com/debridarr/debridarr/internal/models"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

func testKey() []byte {
	return []byte("0123456789abcdef0123456789abcdef")
}

func TestCredentialStoreRoundTrip(t *testing.T) {
	db := newTestDB(t)

	store, err := models.NewCredentialStore(db, testKey())
	require.NoError(t, err)

	ctx := context.Background()
	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	require.NoError(t, store.Save(ctx, &models.Credential{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		ExpiresAt:    &expires,
	}))

	got, err := store.Get(ctx)
	require.NoError(t, err)

	assert.Equal(t, "access-1", got.AccessToken)
	assert.Equal(t, "refresh-1", got.RefreshToken)
	assert.Equal(t, "client-1", got.ClientID)
	assert.Equal(t, "secret-1", got.ClientSecret)
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, got.ExpiresAt.Equal(expires))
}

func TestCredentialStoreNilExpiry(t *testing.T) {
	db := newTestDB(t)

	store, err := models.NewCredentialStore(db, testKey())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, &models.Credential{
		AccessToken:  "access",
		RefreshToken: "refresh",
		ClientID:     "client",
		ClientSecret: "secret",
	}))

	got, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, got.ExpiresAt)
	assert.False(t, got.Expired(time.Now().Add(100*365*24*time.Hour)))
}

func TestCredentialStoreTokensEncryptedAtRest(t *testing.T) {
	db := newTestDB(t)

	store, err := models.NewCredentialStore(db, testKey())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, &models.Credential{
		AccessToken:  "plaintext-access",
		RefreshToken: "plaintext-refresh",
		ClientID:     "client",
		ClientSecret: "plaintext-secret",
	}))

	var stored string
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT access_token_encrypted FROM credential WHERE id = 1`).Scan(&stored))
	assert.NotContains(t, stored, "plaintext-access")
}

func TestCredentialStoreWrongKey(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	store, err := models.NewCredentialStore(db, testKey())
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, &models.Credential{
		AccessToken:  "access",
		RefreshToken: "refresh",
		ClientID:     "client",
		ClientSecret: "secret",
	}))

	other, err := models.NewCredentialStore(db, []byte("ffffffffffffffffffffffffffffffff"))
	require.NoError(t, err)

	_, err = other.Get(ctx)
	assert.Error(t, err)
}

func TestCredentialStoreRejectsShortKey(t *testing.T) {
	db := newTestDB(t)

	_, err := models.NewCredentialStore(db, []byte("too-short"))
	assert.Error(t, err)
}

func TestCredentialStoreDelete(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	store, err := models.NewCredentialStore(db, testKey())
	require.NoError(t, err)

	require.NoError(t, store.Save(ctx, &models.Credential{
		AccessToken:  "access",
		RefreshToken: "refresh",
		ClientID:     "client",
		ClientSecret: "secret",
	}))
	require.NoError(t, store.Delete(ctx))

	_, err = store.Get(ctx)
	assert.ErrorIs(t, err, models.ErrCredentialNotFound)
}

func TestSettingsStoreDefaults(t *testing.T) {
	db := newTestDB(t)
	store := models.NewSettingsStore(db)

	settings, err := store.Get(context.Background())
	require.NoError(t, err)

	assert.True(t, settings.NotificationsEnabled)
	assert.False(t, settings.AutoUnrestrict)
	assert.True(t, settings.AutoSelectFiles)
	assert.True(t, settings.AutoScanEnabled)
}

func TestSettingsStoreUpdate(t *testing.T) {
	db := newTestDB(t)
	store := models.NewSettingsStore(db)
	ctx := context.Background()

	updated := models.Settings{
		NotificationsEnabled: false,
		AutoUnrestrict:       true,
		AutoSelectFiles:      false,
		AutoScanEnabled:      false,
	}
	require.NoError(t, store.Update(ctx, updated))

	got, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, updated, got)
}

func TestAPICacheStore(t *testing.T) {
	db := newTestDB(t)
	store := models.NewAPICacheStore(db)
	ctx := context.Background()

	_, _, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrCacheMiss)

	require.NoError(t, store.Put(ctx, "user", []byte(`{"username":"tester"}`)))

	payload, capturedAt, err := store.Get(ctx, "user")
	require.NoError(t, err)
	assert.JSONEq(t, `{"username":"tester"}`, string(payload))
	assert.WithinDuration(t, time.Now(), capturedAt, 5*time.Second)

	require.NoError(t, store.Put(ctx, "user", []byte(`{"username":"renamed"}`)))
	payload, _, err = store.Get(ctx, "user")
	require.NoError(t, err)
	assert.JSONEq(t, `{"username":"renamed"}`, string(payload))

	require.NoError(t, store.Delete(ctx, "user"))
	_, _, err = store.Get(ctx, "user")
	assert.ErrorIs(t, err, models.ErrCacheMiss)
}
