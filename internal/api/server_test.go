// Copyright (c) 2025, the debridarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/debridarr/debridarr/internal/auth"
	"github.com/debridarr/debridarr/internal/config"
	"github.com/debridarr/debridarr/internal/database"
	"github.com/debridarr/debridarr/internal/debrid"
	"github.com/debridarr/debridarr/internal/models"
	"github.com/debridarr/debridarr/internal/monitor"
	"github.com/debridarr/debridarr/internal/notify"
	"github.com/debridarr/debridarr/internal/router"
)

func newTestServer(t *testing.T) (*httptest.Server, *notify.EventStream) {
	t.Helper()

	cfg, err := config.New(t.TempDir())
	require.NoError(t, err)

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	credStore, err := models.NewCredentialStore(db, cfg.GetEncryptionKey())
	require.NoError(t, err)

	oauth := debrid.NewAuthClient("http://127.0.0.1:1", "client")
	manager := auth.NewManager(credStore, oauth)
	flow := auth.NewDeviceFlow(oauth, manager)

	client := debrid.NewClient(debrid.Options{
		BaseURL:    "http://127.0.0.1:1",
		Tokens:     manager,
		RateBudget: 100,
	})

	settings := models.NewSettingsStore(db)
	cache := models.NewAPICacheStore(db)
	stream := notify.NewEventStream()

	engine := monitor.NewEngine(client, settings, stream, time.Minute)
	t.Cleanup(engine.Stop)

	dispatcher := router.New(client, manager, flow, engine, settings, cache, stream)

	server := NewServer(&Dependencies{
		Config:     cfg,
		Version:    "test",
		Dispatcher: dispatcher,
		Stream:     stream,
	})

	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)

	return srv, stream
}

func postMessage(t *testing.T, srv *httptest.Server, body string) router.Response {
	t.Helper()

	resp, err := http.Post(srv.URL+"/api/message", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var envelope router.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return envelope
}

func TestMessageEndpointDispatches(t *testing.T) {
	srv, _ := newTestServer(t)

	envelope := postMessage(t, srv, `{"type": "getSettings"}`)
	require.True(t, envelope.Success)
}

func TestMessageEndpointUnknownType(t *testing.T) {
	srv, _ := newTestServer(t)

	envelope := postMessage(t, srv, `{"type": "bogus"}`)
	assert.False(t, envelope.Success)
	assert.Contains(t, envelope.Error, "unknown message type")
}

func TestMessageEndpointRejectsGarbage(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/message", "application/json", strings.NewReader("not json"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Equal(t, "ok", payload["status"])
}

func TestEventStreamDeliversPublishedEvents(t *testing.T) {
	srv, stream := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)

	// The stream greets with a comment line.
	greeting, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(greeting, ":"))

	stream.Publish(notify.Event{Type: notify.EventBadge, Data: notify.Badge{Text: "3"}})

	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var event map[string]any
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event))
		assert.Equal(t, notify.EventBadge, event["type"])
		return
	}
}
