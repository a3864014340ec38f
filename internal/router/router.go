// Copyright (c) 2025, the debridarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package router dispatches typed message envelopes from UI surfaces to the
// daemon's services and shapes every outcome, including panics, into a
// uniform response envelope.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/debridarr/debridarr/internal/auth"
	"github.com/debridarr/debridarr/internal/debrid"
	"github.com/debridarr/debridarr/internal/models"
	"github.com/debridarr/debridarr/internal/monitor"
	"github.com/debridarr/debridarr/internal/notify"
)

// cacheTTL bounds how old a cached profile or hoster catalog may be before a
// read goes back upstream.
const cacheTTL = 5 * time.Minute

type Router struct {
	client   *debrid.Client
	auth     *auth.Manager
	flow     *auth.DeviceFlow
	engine   *monitor.Engine
	settings *models.SettingsStore
	cache    *models.APICacheStore
	stream   notify.Notifier
	tabs     *tabCache
	log      zerolog.Logger
	routes   map[string]handlerFunc
}

func New(
	client *debrid.Client,
	authManager *auth.Manager,
	flow *auth.DeviceFlow,
	engine *monitor.Engine,
	settings *models.SettingsStore,
	cache *models.APICacheStore,
	stream notify.Notifier,
) *Router {
	r := &Router{
		client:   client,
		auth:     authManager,
		flow:     flow,
		engine:   engine,
		settings: settings,
		cache:    cache,
		stream:   stream,
		tabs:     newTabCache(),
		log:      log.Logger.With().Str("module", "router").Logger(),
	}
	r.routes = r.handlers()
	return r
}

// Dispatch routes one message to its handler. It never panics outward and
// never returns an empty envelope: unknown types, bad payloads, and handler
// failures all come back as structured errors.
func (r *Router) Dispatch(ctx context.Context, msg Message) (resp Response) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().Interface("panic", rec).Str("type", msg.Type).Msg("handler panicked")
			resp = fail("internal error", 0)
		}
	}()

	handler, known := r.routes[msg.Type]
	if !known {
		r.log.Warn().Str("type", msg.Type).Msg("unknown message type")
		return fail(fmt.Sprintf("unknown message type %q", msg.Type), 0)
	}

	resp = handler(ctx, msg)

	if !resp.Success {
		r.log.Debug().Str("type", msg.Type).Str("error", resp.Error).Msg("message failed")
	}
	return resp
}

type handlerFunc func(ctx context.Context, msg Message) Response

func (r *Router) handlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		MsgCheckLink:           r.handleCheckLink,
		MsgUnrestrictLink:      r.handleUnrestrictLink,
		MsgUnrestrictContainer: r.handleUnrestrictContainer,

		MsgGetTorrents:    r.handleGetTorrents,
		MsgGetTorrentInfo: r.handleGetTorrentInfo,
		MsgAddMagnet:      r.handleAddMagnet,
		MsgAddTorrentFile: r.handleAddTorrentFile,
		MsgSelectFiles:    r.handleSelectFiles,
		MsgDeleteTorrent:  r.handleDeleteTorrent,
		MsgGetActiveCount: r.handleGetActiveCount,

		MsgGetUser:        r.handleGetUser,
		MsgGetDownloads:   r.handleGetDownloads,
		MsgDeleteDownload: r.handleDeleteDownload,
		MsgGetTraffic:     r.handleGetTraffic,

		MsgGetHosts:       r.handleGetHosts,
		MsgGetHostRegexes: r.handleGetHostRegexes,
		MsgGetHostDomains: r.handleGetHostDomains,

		MsgStartDeviceAuth:  r.handleStartDeviceAuth,
		MsgGetAuthStatus:    r.handleGetAuthStatus,
		MsgCancelDeviceAuth: r.handleCancelDeviceAuth,
		MsgGetAuthState:     r.handleGetAuthState,
		MsgSignOut:          r.handleSignOut,

		MsgGetSettings: r.handleGetSettings,
		MsgSetSettings: r.handleSetSettings,

		MsgReportLinks:      r.handleReportLinks,
		MsgGetLinks:         r.handleGetLinks,
		MsgTabNavigated:     r.handleTabNavigated,
		MsgTabClosed:        r.handleTabClosed,
		MsgActiveTabChanged: r.handleActiveTabChanged,
	}
}

// failure maps an error to the response envelope, preserving upstream error
// codes so UI surfaces can branch on them.
func failure(err error) Response {
	switch {
	case errors.Is(err, auth.ErrAuthRequired):
		return fail("authentication required", 0)
	case errors.Is(err, auth.ErrSessionExpired):
		return fail("session expired", 0)
	}

	var apiErr *debrid.ApiError
	if errors.As(err, &apiErr) {
		return fail(apiErr.Message, apiErr.Code)
	}

	return fail(err.Error(), 0)
}

func decode[T any](msg Message) (T, error) {
	var payload T
	if len(msg.Payload) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return payload, fmt.Errorf("invalid payload: %w", err)
	}
	return payload, nil
}

// --- link operations ---

func (r *Router) handleCheckLink(ctx context.Context, msg Message) Response {
	payload, err := decode[struct {
		Link     string `json:"link"`
		Password string `json:"password"`
	}](msg)
	if err != nil {
		return failure(err)
	}
	if payload.Link == "" {
		return fail("link is required", 0)
	}

	check, err := r.client.CheckLink(ctx, payload.Link, payload.Password)
	if err != nil {
		return failure(err)
	}
	return ok(check)
}

func (r *Router) handleUnrestrictLink(ctx context.Context, msg Message) Response {
	payload, err := decode[struct {
		Link     string `json:"link"`
		Password string `json:"password"`
		Remote   bool   `json:"remote"`
	}](msg)
	if err != nil {
		return failure(err)
	}
	if payload.Link == "" {
		return fail("link is required", 0)
	}

	link, err := r.client.UnrestrictLink(ctx, payload.Link, payload.Password, payload.Remote)
	if err != nil {
		return failure(err)
	}
	return ok(link)
}

func (r *Router) handleUnrestrictContainer(ctx context.Context, msg Message) Response {
	payload, err := decode[struct {
		Filename  string `json:"filename"`
		Container []byte `json:"container"`
	}](msg)
	if err != nil {
		return failure(err)
	}
	if len(payload.Container) == 0 {
		return fail("container file is required", 0)
	}

	links, err := r.client.UnrestrictContainer(ctx, payload.Filename, payload.Container)
	if err != nil {
		return failure(err)
	}
	return ok(links)
}

// --- torrent operations ---

func (r *Router) handleGetTorrents(ctx context.Context, msg Message) Response {
	payload, err := decode[struct {
		Page  int `json:"page"`
		Limit int `json:"limit"`
	}](msg)
	if err != nil {
		return failure(err)
	}

	torrents, err := r.client.GetTorrents(ctx, payload.Page, payload.Limit)
	if err != nil {
		return failure(err)
	}
	return ok(torrents)
}

func (r *Router) handleGetTorrentInfo(ctx context.Context, msg Message) Response {
	payload, err := decode[struct {
		ID string `json:"id"`
	}](msg)
	if err != nil {
		return failure(err)
	}
	if payload.ID == "" {
		return fail("torrent id is required", 0)
	}

	info, err := r.client.GetTorrentInfo(ctx, payload.ID)
	if err != nil {
		return failure(err)
	}
	return ok(info)
}

func (r *Router) handleAddMagnet(ctx context.Context, msg Message) Response {
	payload, err := decode[struct {
		Magnet string `json:"magnet"`
	}](msg)
	if err != nil {
		return failure(err)
	}
	if payload.Magnet == "" {
		return fail("magnet is required", 0)
	}

	added, err := r.client.AddMagnet(ctx, payload.Magnet)
	if err != nil {
		return failure(err)
	}

	r.afterTorrentMutation(ctx, added.ID)
	return ok(added)
}

func (r *Router) handleAddTorrentFile(ctx context.Context, msg Message) Response {
	payload, err := decode[struct {
		Filename string `json:"filename"`
		Torrent  []byte `json:"torrent"`
	}](msg)
	if err != nil {
		return failure(err)
	}
	if len(payload.Torrent) == 0 {
		return fail("torrent file is required", 0)
	}

	added, err := r.client.AddTorrentFile(ctx, payload.Filename, payload.Torrent)
	if err != nil {
		return failure(err)
	}

	r.afterTorrentMutation(ctx, added.ID)
	return ok(added)
}

func (r *Router) handleSelectFiles(ctx context.Context, msg Message) Response {
	payload, err := decode[struct {
		ID    string `json:"id"`
		Files []int  `json:"files"`
	}](msg)
	if err != nil {
		return failure(err)
	}
	if payload.ID == "" {
		return fail("torrent id is required", 0)
	}

	if err := r.client.SelectFiles(ctx, payload.ID, payload.Files); err != nil {
		return failure(err)
	}

	go r.engine.EvaluateAndAdjust(context.WithoutCancel(ctx))
	return ok(nil)
}

func (r *Router) handleDeleteTorrent(ctx context.Context, msg Message) Response {
	payload, err := decode[struct {
		ID string `json:"id"`
	}](msg)
	if err != nil {
		return failure(err)
	}
	if payload.ID == "" {
		return fail("torrent id is required", 0)
	}

	if err := r.client.DeleteTorrent(ctx, payload.ID); err != nil {
		return failure(err)
	}
	return ok(nil)
}

func (r *Router) handleGetActiveCount(ctx context.Context, msg Message) Response {
	count, err := r.client.GetActiveCount(ctx)
	if err != nil {
		return failure(err)
	}
	return ok(count)
}

// afterTorrentMutation runs the follow-ups a fresh torrent needs: optional
// automatic file selection, then a poller wake-up.
func (r *Router) afterTorrentMutation(ctx context.Context, torrentID string) {
	settings, err := r.settings.Get(ctx)
	if err != nil {
		r.log.Error().Err(err).Msg("failed to load settings")
		settings = models.DefaultSettings()
	}

	if settings.AutoSelectFiles && torrentID != "" {
		// The torrent may still be converting; selection then fails and the
		// user selects manually once it settles.
		if err := r.client.SelectFiles(ctx, torrentID, nil); err != nil {
			r.log.Debug().Err(err).Str("torrent", torrentID).Msg("auto file selection skipped")
		}
	}

	go r.engine.EvaluateAndAdjust(context.WithoutCancel(ctx))
}

// --- account, history, hosters ---

func (r *Router) handleGetUser(ctx context.Context, msg Message) Response {
	return r.cached(ctx, "user", func(ctx context.Context) (any, error) {
		return r.client.GetUser(ctx)
	})
}

func (r *Router) handleGetDownloads(ctx context.Context, msg Message) Response {
	payload, err := decode[struct {
		Page  int `json:"page"`
		Limit int `json:"limit"`
	}](msg)
	if err != nil {
		return failure(err)
	}

	downloads, err := r.client.GetDownloads(ctx, payload.Page, payload.Limit)
	if err != nil {
		return failure(err)
	}
	return ok(downloads)
}

func (r *Router) handleDeleteDownload(ctx context.Context, msg Message) Response {
	payload, err := decode[struct {
		ID string `json:"id"`
	}](msg)
	if err != nil {
		return failure(err)
	}
	if payload.ID == "" {
		return fail("download id is required", 0)
	}

	if err := r.client.DeleteDownload(ctx, payload.ID); err != nil {
		return failure(err)
	}
	return ok(nil)
}

func (r *Router) handleGetTraffic(ctx context.Context, msg Message) Response {
	traffic, err := r.client.GetTraffic(ctx)
	if err != nil {
		return failure(err)
	}
	return ok(traffic)
}

func (r *Router) handleGetHosts(ctx context.Context, msg Message) Response {
	return r.cached(ctx, "hosts_status", func(ctx context.Context) (any, error) {
		return r.client.GetHostsStatus(ctx)
	})
}

func (r *Router) handleGetHostRegexes(ctx context.Context, msg Message) Response {
	return r.cached(ctx, "hosts_regex", func(ctx context.Context) (any, error) {
		return r.client.GetHostsRegex(ctx)
	})
}

func (r *Router) handleGetHostDomains(ctx context.Context, msg Message) Response {
	return r.cached(ctx, "hosts_domains", func(ctx context.Context) (any, error) {
		return r.client.GetHostsDomains(ctx)
	})
}

// cached serves slow-changing payloads from the persistent cache when the
// entry is younger than cacheTTL, refreshing from upstream otherwise. A
// failed refresh falls back to a stale entry when one exists, so a flaky
// upstream degrades instead of erroring.
func (r *Router) cached(ctx context.Context, key string, fetch func(context.Context) (any, error)) Response {
	raw, capturedAt, cacheErr := r.cache.Get(ctx, key)
	if cacheErr == nil && time.Since(capturedAt) < cacheTTL {
		return ok(json.RawMessage(raw))
	}

	fresh, err := fetch(ctx)
	if err != nil {
		if cacheErr == nil {
			r.log.Warn().Err(err).Str("key", key).Msg("refresh failed, serving stale cache")
			return ok(json.RawMessage(raw))
		}
		return failure(err)
	}

	encoded, err := json.Marshal(fresh)
	if err != nil {
		return failure(err)
	}
	if err := r.cache.Put(ctx, key, encoded); err != nil {
		r.log.Error().Err(err).Str("key", key).Msg("failed to update cache")
	}

	return ok(fresh)
}

// --- authentication ---

func (r *Router) handleStartDeviceAuth(ctx context.Context, msg Message) Response {
	status, err := r.flow.Start(ctx)
	if err != nil {
		return failure(err)
	}
	return ok(status)
}

func (r *Router) handleGetAuthStatus(ctx context.Context, msg Message) Response {
	return ok(r.flow.Status())
}

func (r *Router) handleCancelDeviceAuth(ctx context.Context, msg Message) Response {
	r.flow.Cancel()
	return ok(r.flow.Status())
}

func (r *Router) handleGetAuthState(ctx context.Context, msg Message) Response {
	return ok(map[string]bool{"authenticated": r.auth.Authenticated(ctx)})
}

func (r *Router) handleSignOut(ctx context.Context, msg Message) Response {
	// Best effort: revoke upstream, but local state goes regardless.
	if err := r.client.DisableAccessToken(ctx); err != nil {
		r.log.Warn().Err(err).Msg("failed to revoke token upstream")
	}

	if err := r.auth.SignOut(ctx); err != nil {
		return failure(err)
	}

	r.engine.Stop()
	r.stream.Publish(notify.Event{Type: notify.EventAuth, Data: map[string]bool{"authenticated": false}})
	return ok(nil)
}

// --- settings ---

func (r *Router) handleGetSettings(ctx context.Context, msg Message) Response {
	settings, err := r.settings.Get(ctx)
	if err != nil {
		return failure(err)
	}
	return ok(settings)
}

func (r *Router) handleSetSettings(ctx context.Context, msg Message) Response {
	settings, err := decode[models.Settings](msg)
	if err != nil {
		return failure(err)
	}

	if err := r.settings.Update(ctx, settings); err != nil {
		return failure(err)
	}
	return ok(settings)
}

// --- tab and badge bookkeeping ---

func (r *Router) handleReportLinks(ctx context.Context, msg Message) Response {
	payload, err := decode[struct {
		Links []DetectedLink `json:"links"`
	}](msg)
	if err != nil {
		return failure(err)
	}

	r.tabs.Report(msg.TabID, payload.Links)
	r.publishBadge(msg.TabID)
	return ok(map[string]int{"count": len(payload.Links)})
}

func (r *Router) handleGetLinks(ctx context.Context, msg Message) Response {
	links := r.tabs.Links(msg.TabID)
	if links == nil {
		links = []DetectedLink{}
	}
	return ok(links)
}

func (r *Router) handleTabNavigated(ctx context.Context, msg Message) Response {
	r.tabs.Drop(msg.TabID)
	r.publishBadge(msg.TabID)
	return ok(nil)
}

func (r *Router) handleTabClosed(ctx context.Context, msg Message) Response {
	r.tabs.Drop(msg.TabID)
	return ok(nil)
}

func (r *Router) handleActiveTabChanged(ctx context.Context, msg Message) Response {
	r.tabs.SetActive(msg.TabID)
	r.publishBadge(msg.TabID)
	return ok(nil)
}

func (r *Router) publishBadge(tabID int) {
	badge := r.tabs.BadgeFor(tabID, r.engine.Active())
	r.stream.Publish(notify.Event{Type: notify.EventBadge, Data: badge})
}

// Badge returns the current badge for the focused tab. Exposed so the
// monitor's torrent events can be paired with a badge refresh.
func (r *Router) Badge() notify.Badge {
	active := r.tabs.Active()
	return r.tabs.BadgeFor(active, r.engine.Active())
}
