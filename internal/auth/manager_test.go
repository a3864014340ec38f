// Copyright (c) 2025, the debridarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/debridarr/debridarr/internal/database"
	"github.com/debridarr/debridarr/internal/debrid"
	"github.com/debridarr/debridarr/internal/models"
)

func newTestStore(t *testing.T) *models.CredentialStore {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := models.NewCredentialStore(db, []byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	return store
}

func saveCredential(t *testing.T, store *models.CredentialStore, expiresAt *time.Time) {
	t.Helper()

	require.NoError(t, store.Save(context.Background(), &models.Credential{
		AccessToken:  "old-access",
		RefreshToken: "old-refresh",
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		ExpiresAt:    expiresAt,
	}))
}

func TestManagerTokenWithoutCredential(t *testing.T) {
	store := newTestStore(t)
	manager := NewManager(store, debrid.NewAuthClient("http://127.0.0.1:1", "client"))

	_, err := manager.Token(context.Background())
	assert.ErrorIs(t, err, ErrAuthRequired)
	assert.False(t, manager.Authenticated(context.Background()))
}

func TestManagerTokenWithoutExpiryNeverRefreshes(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
	}))
	defer srv.Close()

	store := newTestStore(t)
	saveCredential(t, store, nil)

	manager := NewManager(store, debrid.NewAuthClient(srv.URL, "client"))

	token, err := manager.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "old-access", token)
	assert.Zero(t, requests.Load(), "non-expiring token must not hit the network")
}

func TestManagerRefreshesExpiredToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client-id", r.PostFormValue("client_id"))
		assert.Equal(t, "old-refresh", r.PostFormValue("code"))

		w.Write([]byte(`{
			"access_token": "new-access",
			"refresh_token": "new-refresh",
			"expires_in": 3600,
			"token_type": "Bearer"
		}`))
	}))
	defer srv.Close()

	store := newTestStore(t)
	expired := time.Now().Add(-time.Hour)
	saveCredential(t, store, &expired)

	manager := NewManager(store, debrid.NewAuthClient(srv.URL, "client"))

	token, err := manager.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new-access", token)

	// The rotated pair must survive a restart.
	persisted, err := store.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new-access", persisted.AccessToken)
	assert.Equal(t, "new-refresh", persisted.RefreshToken)
	require.NotNil(t, persisted.ExpiresAt)
	assert.True(t, persisted.ExpiresAt.After(time.Now()))
}

func TestManagerRefreshesWithinSkewWindow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"access_token": "new-access", "refresh_token": "new-refresh", "expires_in": 3600}`))
	}))
	defer srv.Close()

	store := newTestStore(t)
	// Still valid, but inside the renewal margin.
	soon := time.Now().Add(30 * time.Second)
	saveCredential(t, store, &soon)

	manager := NewManager(store, debrid.NewAuthClient(srv.URL, "client"))

	token, err := manager.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new-access", token)
}

func TestManagerPurgesCredentialOnRejectedRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": "invalid_grant"}`))
	}))
	defer srv.Close()

	store := newTestStore(t)
	expired := time.Now().Add(-time.Hour)
	saveCredential(t, store, &expired)

	manager := NewManager(store, debrid.NewAuthClient(srv.URL, "client"))

	_, err := manager.Token(context.Background())
	assert.ErrorIs(t, err, ErrSessionExpired)

	_, err = store.Get(context.Background())
	assert.ErrorIs(t, err, models.ErrCredentialNotFound)

	// Subsequent calls report the missing credential, not the dead session.
	_, err = manager.Token(context.Background())
	assert.ErrorIs(t, err, ErrAuthRequired)
}

func TestManagerKeepsCredentialOnNetworkFailure(t *testing.T) {
	store := newTestStore(t)
	expired := time.Now().Add(-time.Hour)
	saveCredential(t, store, &expired)

	// Nothing listens here; the refresh fails at the transport layer.
	manager := NewManager(store, debrid.NewAuthClient("http://127.0.0.1:1", "client"))

	_, err := manager.Token(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSessionExpired)

	_, err = store.Get(context.Background())
	assert.NoError(t, err, "transient failures must not purge the credential")
}

func TestManagerConcurrentCallersShareOneRefresh(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		time.Sleep(50 * time.Millisecond)
		w.Write([]byte(`{"access_token": "new-access", "refresh_token": "new-refresh", "expires_in": 3600}`))
	}))
	defer srv.Close()

	store := newTestStore(t)
	expired := time.Now().Add(-time.Hour)
	saveCredential(t, store, &expired)

	manager := NewManager(store, debrid.NewAuthClient(srv.URL, "client"))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := manager.Token(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "new-access", token)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), requests.Load(), "concurrent callers must share a single refresh")
}

func TestManagerSignOut(t *testing.T) {
	store := newTestStore(t)
	saveCredential(t, store, nil)

	manager := NewManager(store, debrid.NewAuthClient("http://127.0.0.1:1", "client"))
	require.True(t, manager.Authenticated(context.Background()))

	require.NoError(t, manager.SignOut(context.Background()))
	assert.False(t, manager.Authenticated(context.Background()))
}
