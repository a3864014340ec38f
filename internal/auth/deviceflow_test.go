// Copyright (c) 2025, the debridarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/debridarr/debridarr/internal/debrid"
)

// oauthStub scripts the three device flow endpoints.
type oauthStub struct {
	expiresIn   int
	approved    bool
	failPoll    bool
	userCode    string
	deviceCodes int
}

func (s *oauthStub) handler() http.HandlerFunc {
	if s.userCode == "" {
		s.userCode = "ABCDEF"
	}
	if s.expiresIn == 0 {
		s.expiresIn = 30
	}

	return func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/device/code":
			s.deviceCodes++
			fmt.Fprintf(w, `{
				"device_code": "DEV-%d",
				"user_code": "%s-%d",
				"interval": 1,
				"expires_in": %d,
				"verification_url": "https://example.com/device"
			}`, s.deviceCodes, s.userCode, s.deviceCodes, s.expiresIn)
		case "/device/credentials":
			if s.failPoll {
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(`{"error": "server on fire"}`))
				return
			}
			if !s.approved {
				w.WriteHeader(http.StatusForbidden)
				w.Write([]byte(`{"error": "authorization pending"}`))
				return
			}
			w.Write([]byte(`{"client_id": "issued-id", "client_secret": "issued-secret"}`))
		case "/token":
			w.Write([]byte(`{"access_token": "at-1", "refresh_token": "rt-1", "token_type": "Bearer"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func newTestFlow(t *testing.T, stub *oauthStub) (*DeviceFlow, *Manager) {
	t.Helper()

	srv := httptest.NewServer(stub.handler())
	t.Cleanup(srv.Close)

	store := newTestStore(t)
	oauth := debrid.NewAuthClient(srv.URL, "client")
	manager := NewManager(store, oauth)
	return NewDeviceFlow(oauth, manager), manager
}

func TestDeviceFlowSuccess(t *testing.T) {
	stub := &oauthStub{approved: true}
	flow, manager := newTestFlow(t, stub)

	status, err := flow.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, FlowPending, status.State)
	assert.Equal(t, "ABCDEF-1", status.UserCode)
	assert.Equal(t, "https://example.com/device", status.VerificationURL)

	require.Eventually(t, func() bool {
		return flow.Status().State == FlowSuccess
	}, 5*time.Second, 50*time.Millisecond)

	assert.True(t, manager.Authenticated(context.Background()))

	token, err := manager.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "at-1", token)
}

func TestDeviceFlowResultCallback(t *testing.T) {
	stub := &oauthStub{approved: true}
	flow, _ := newTestFlow(t, stub)

	results := make(chan FlowStatus, 1)
	flow.OnResult(func(status FlowStatus) {
		results <- status
	})

	_, err := flow.Start(context.Background())
	require.NoError(t, err)

	select {
	case status := <-results:
		assert.Equal(t, FlowSuccess, status.State)
	case <-time.After(5 * time.Second):
		t.Fatal("no terminal callback received")
	}
}

func TestDeviceFlowExpires(t *testing.T) {
	stub := &oauthStub{expiresIn: 1}
	flow, manager := newTestFlow(t, stub)

	_, err := flow.Start(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return flow.Status().State == FlowError
	}, 5*time.Second, 50*time.Millisecond)

	assert.Contains(t, flow.Status().Error, "expired")
	assert.False(t, manager.Authenticated(context.Background()))
}

func TestDeviceFlowFinalErrorStopsPolling(t *testing.T) {
	stub := &oauthStub{failPoll: true}
	flow, _ := newTestFlow(t, stub)

	_, err := flow.Start(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return flow.Status().State == FlowError
	}, 5*time.Second, 50*time.Millisecond)

	assert.Contains(t, flow.Status().Error, "server on fire")
}

func TestDeviceFlowCancel(t *testing.T) {
	stub := &oauthStub{} // never approved
	flow, _ := newTestFlow(t, stub)

	_, err := flow.Start(context.Background())
	require.NoError(t, err)
	require.Equal(t, FlowPending, flow.Status().State)

	flow.Cancel()
	assert.Equal(t, FlowIdle, flow.Status().State)

	// Canceling when idle stays a no-op.
	flow.Cancel()
	assert.Equal(t, FlowIdle, flow.Status().State)

	// The state must not drift back to error once the poll goroutine winds
	// down.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, FlowIdle, flow.Status().State)
}

func TestDeviceFlowRestartSupersedes(t *testing.T) {
	stub := &oauthStub{} // never approved
	flow, _ := newTestFlow(t, stub)

	first, err := flow.Start(context.Background())
	require.NoError(t, err)

	second, err := flow.Start(context.Background())
	require.NoError(t, err)
	require.NotEqual(t, first.UserCode, second.UserCode)

	assert.Equal(t, FlowPending, flow.Status().State)
	assert.Equal(t, second.UserCode, flow.Status().UserCode)
}
