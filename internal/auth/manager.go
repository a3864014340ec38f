// Copyright (c) 2025, the debridarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/debridarr/debridarr/internal/debrid"
	"github.com/debridarr/debridarr/internal/models"
)

var (
	// ErrAuthRequired means no credential exists; the user must run the
	// device flow.
	ErrAuthRequired = errors.New("authentication required")

	// ErrSessionExpired means a credential existed but could not be
	// refreshed; it has been purged and the user must sign in again.
	ErrSessionExpired = errors.New("session expired")
)

// refreshSkew renews tokens this long before their declared expiry so
// in-flight requests never carry a token that dies mid-exchange.
const refreshSkew = 60 * time.Second

// Manager owns the stored credential and hands out live access tokens.
// It implements debrid.TokenSource.
type Manager struct {
	store *models.CredentialStore
	oauth *debrid.AuthClient
	log   zerolog.Logger
	now   func() time.Time
	group singleflight.Group

	mu   sync.RWMutex
	cred *models.Credential // nil until loaded; may be stale vs store only through our own writes
}

func NewManager(store *models.CredentialStore, oauth *debrid.AuthClient) *Manager {
	return &Manager{
		store: store,
		oauth: oauth,
		log:   log.Logger.With().Str("module", "auth").Logger(),
		now:   time.Now,
	}
}

// Token returns a currently valid access token, refreshing first if the
// stored one is expired or about to expire. Concurrent callers share a
// single refresh exchange.
func (m *Manager) Token(ctx context.Context) (string, error) {
	cred, err := m.current(ctx)
	if err != nil {
		return "", err
	}

	if !m.needsRefresh(cred) {
		return cred.AccessToken, nil
	}

	refreshed, err, _ := m.group.Do("refresh", func() (any, error) {
		return m.refresh(ctx)
	})
	if err != nil {
		return "", err
	}

	return refreshed.(*models.Credential).AccessToken, nil
}

// Authenticated reports whether a credential is stored, without touching the
// network.
func (m *Manager) Authenticated(ctx context.Context) bool {
	_, err := m.current(ctx)
	return err == nil
}

// SaveCredential stores a freshly issued credential, replacing any previous
// one. Called by the device flow on success.
func (m *Manager) SaveCredential(ctx context.Context, cred *models.Credential) error {
	if err := m.store.Save(ctx, cred); err != nil {
		return err
	}

	m.mu.Lock()
	m.cred = cred
	m.mu.Unlock()

	m.log.Info().Msg("credential saved")
	return nil
}

// SignOut purges the credential from storage and memory. The caller is
// responsible for revoking the token upstream first if desired.
func (m *Manager) SignOut(ctx context.Context) error {
	if err := m.store.Delete(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	m.cred = nil
	m.mu.Unlock()

	m.log.Info().Msg("signed out, credential purged")
	return nil
}

func (m *Manager) current(ctx context.Context) (*models.Credential, error) {
	m.mu.RLock()
	cred := m.cred
	m.mu.RUnlock()

	if cred != nil {
		return cred, nil
	}

	cred, err := m.store.Get(ctx)
	if err != nil {
		if errors.Is(err, models.ErrCredentialNotFound) {
			return nil, ErrAuthRequired
		}
		return nil, err
	}

	m.mu.Lock()
	m.cred = cred
	m.mu.Unlock()

	return cred, nil
}

func (m *Manager) needsRefresh(cred *models.Credential) bool {
	return cred.Expired(m.now().Add(refreshSkew))
}

// refresh exchanges the refresh token for a new pair and persists it. A
// rejected refresh means the credential is dead: purge it so the UI prompts
// for a fresh sign-in instead of looping on a doomed token.
func (m *Manager) refresh(ctx context.Context) (*models.Credential, error) {
	m.mu.RLock()
	cred := m.cred
	m.mu.RUnlock()

	if cred == nil {
		return nil, ErrAuthRequired
	}

	// Another caller may have refreshed while we waited on the flight group.
	if !m.needsRefresh(cred) {
		return cred, nil
	}

	tokens, err := m.oauth.Refresh(ctx, cred.ClientID, cred.ClientSecret, cred.RefreshToken)
	if err != nil {
		var apiErr *debrid.ApiError
		if errors.As(err, &apiErr) {
			m.log.Warn().Err(err).Msg("refresh rejected, purging credential")
			if purgeErr := m.SignOut(ctx); purgeErr != nil {
				m.log.Error().Err(purgeErr).Msg("failed to purge credential")
			}
			return nil, ErrSessionExpired
		}
		// Network trouble: keep the credential, surface the error.
		return nil, err
	}

	updated := &models.Credential{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ClientID:     cred.ClientID,
		ClientSecret: cred.ClientSecret,
	}
	if tokens.ExpiresIn > 0 {
		expires := m.now().Add(time.Duration(tokens.ExpiresIn) * time.Second)
		updated.ExpiresAt = &expires
	}

	if err := m.store.Save(ctx, updated); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.cred = updated
	m.mu.Unlock()

	m.log.Debug().Msg("access token refreshed")
	return updated, nil
}
