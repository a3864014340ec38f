// Copyright (c) 2025, the debridarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package debrid

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthClientStartDevice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/device/code", r.URL.Path)
		assert.Equal(t, "test-client", r.URL.Query().Get("client_id"))
		assert.Equal(t, "yes", r.URL.Query().Get("new_credentials"))

		w.Write([]byte(`{
			"device_code": "DEV123",
			"user_code": "ABCDEF",
			"interval": 5,
			"expires_in": 600,
			"verification_url": "https://example.com/device"
		}`))
	}))
	defer srv.Close()

	client := NewAuthClient(srv.URL, "test-client")

	code, err := client.StartDevice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "DEV123", code.DeviceCode)
	assert.Equal(t, "ABCDEF", code.UserCode)
	assert.Equal(t, 600, code.ExpiresIn)
}

func TestAuthClientPollPendingUntilApproved(t *testing.T) {
	approved := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !approved {
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"error": "authorization pending"}`))
			return
		}
		w.Write([]byte(`{"client_id": "issued-id", "client_secret": "issued-secret"}`))
	}))
	defer srv.Close()

	client := NewAuthClient(srv.URL, "test-client")

	_, err := client.PollCredentials(context.Background(), "DEV123")
	assert.ErrorIs(t, err, ErrAuthorizationPending)

	approved = true
	creds, err := client.PollCredentials(context.Background(), "DEV123")
	require.NoError(t, err)
	assert.Equal(t, "issued-id", creds.ClientID)
	assert.Equal(t, "issued-secret", creds.ClientSecret)
}

func TestAuthClientTokenExchange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/token", r.URL.Path)
		require.NoError(t, r.ParseForm())

		assert.Equal(t, "issued-id", r.PostFormValue("client_id"))
		assert.Equal(t, "issued-secret", r.PostFormValue("client_secret"))
		assert.Equal(t, "DEV123", r.PostFormValue("code"))
		assert.Equal(t, grantTypeDevice, r.PostFormValue("grant_type"))

		w.Write([]byte(`{
			"access_token": "at-1",
			"expires_in": 3600,
			"token_type": "Bearer",
			"refresh_token": "rt-1"
		}`))
	}))
	defer srv.Close()

	client := NewAuthClient(srv.URL, "test-client")

	tokens, err := client.ExchangeDeviceCode(context.Background(), &DeviceCredentials{
		ClientID:     "issued-id",
		ClientSecret: "issued-secret",
	}, "DEV123")
	require.NoError(t, err)
	assert.Equal(t, "at-1", tokens.AccessToken)
	assert.Equal(t, "rt-1", tokens.RefreshToken)
}

func TestAuthClientTokenRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": "invalid_grant"}`))
	}))
	defer srv.Close()

	client := NewAuthClient(srv.URL, "test-client")

	_, err := client.Refresh(context.Background(), "id", "secret", "dead-refresh")
	require.Error(t, err)

	var apiErr *ApiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "invalid_grant", apiErr.Message)
}
