// Copyright (c) 2025, the debridarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package monitor polls the debrid torrent list while transfers are active
// and raises a notification when one completes. The poller is demand-driven:
// it starts when activity appears, stops itself when the last transfer
// settles, and never runs while signed out.
package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/debridarr/debridarr/internal/auth"
	"github.com/debridarr/debridarr/internal/debrid"
	"github.com/debridarr/debridarr/internal/models"
	"github.com/debridarr/debridarr/internal/notify"
)

// pageSize bounds one poll to a single list request. Accounts with more
// torrents than this still get their most recent ones tracked, which is
// where active transfers live.
const pageSize = 100

type Engine struct {
	client   *debrid.Client
	settings *models.SettingsStore
	stream   notify.Notifier
	log      zerolog.Logger

	// observeTick, when set, is called after every completed poll. Wired to
	// metrics.
	observeTick func(active int, err error)

	mu       sync.Mutex
	interval time.Duration
	running  bool
	stop     context.CancelFunc
	snapshot map[string]string // torrent ID -> last observed status
}

func NewEngine(client *debrid.Client, settings *models.SettingsStore, stream notify.Notifier, interval time.Duration) *Engine {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Engine{
		client:   client,
		settings: settings,
		stream:   stream,
		log:      log.Logger.With().Str("module", "monitor").Logger(),
		interval: interval,
		snapshot: make(map[string]string),
	}
}

// SetObserver registers a per-tick metrics callback.
func (e *Engine) SetObserver(fn func(active int, err error)) {
	e.mu.Lock()
	e.observeTick = fn
	e.mu.Unlock()
}

// SetInterval updates the poll cadence. A loop already running picks it up
// the next time the poller starts.
func (e *Engine) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	e.mu.Lock()
	e.interval = d
	e.mu.Unlock()
}

func (e *Engine) pollInterval() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.interval
}

// Active reports how many torrents in the last snapshot were still making
// progress. Zero when the poller is idle.
func (e *Engine) Active() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	active := 0
	for _, status := range e.snapshot {
		if debrid.IsActiveStatus(status) {
			active++
		}
	}
	return active
}

// Running reports whether the poll loop is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// EvaluateAndAdjust checks for active transfers and adjusts the poll loop to
// match: starts it when activity exists, stops it (clearing the snapshot)
// when nothing is active anymore. Called after every mutation that could
// change activity (add magnet, select files, delete) and once at startup.
func (e *Engine) EvaluateAndAdjust(ctx context.Context) {
	count, err := e.client.GetActiveCount(ctx)
	if err != nil {
		if errors.Is(err, auth.ErrAuthRequired) || errors.Is(err, auth.ErrSessionExpired) {
			return
		}
		e.log.Warn().Err(err).Msg("active count check failed")
		return
	}

	if count.Nb > 0 {
		e.Start()
		return
	}
	e.Stop()
}

// Start launches the poll loop. No-op when already running.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.running = true
	e.stop = cancel
	e.mu.Unlock()

	e.log.Info().Dur("interval", e.pollInterval()).Msg("poller started")
	go e.loop(ctx)
}

// Stop halts the poll loop and clears the status snapshot, so a later
// restart is treated as a cold start.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel := e.stop
	e.stop = nil
	e.snapshot = make(map[string]string)
	e.mu.Unlock()

	cancel()
	e.log.Info().Msg("poller stopped")
}

// loop runs ticks on a fixed interval. Ticks never overlap: the next one
// waits for the previous to finish because they share this goroutine.
func (e *Engine) loop(ctx context.Context) {
	ticker := time.NewTicker(e.pollInterval())
	defer ticker.Stop()

	// Immediate first tick so a fresh add shows progress without waiting a
	// full interval.
	e.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

func (e *Engine) tick(ctx context.Context) {
	tickCtx, cancel := context.WithTimeout(ctx, e.pollInterval())
	defer cancel()

	torrents, err := e.client.GetTorrents(tickCtx, 1, pageSize)

	e.mu.Lock()
	observe := e.observeTick
	e.mu.Unlock()

	if err != nil {
		if observe != nil {
			observe(0, err)
		}
		if errors.Is(err, auth.ErrAuthRequired) || errors.Is(err, auth.ErrSessionExpired) || debrid.IsAuthError(err) {
			e.log.Warn().Err(err).Msg("authentication lost, stopping poller")
			go e.Stop() // not inline: Stop cancels the ctx this tick runs under
			return
		}
		// Transient failure: keep the loop alive and the snapshot intact.
		e.log.Warn().Err(err).Msg("poll failed")
		return
	}

	completed, active := e.diff(torrents)

	if observe != nil {
		observe(active, nil)
	}

	if len(completed) > 0 {
		e.notifyCompleted(tickCtx, completed)
	}

	e.stream.Publish(notify.Event{
		Type: notify.EventTorrents,
		Data: notify.TorrentsChanged{Active: active, ChangedAt: time.Now().UTC()},
	})

	if active == 0 {
		e.log.Debug().Msg("no active transfers, stopping poller")
		go e.Stop()
	}
}

// diff replaces the snapshot with the freshly observed statuses and returns
// the torrents that transitioned to downloaded since the last tick, plus the
// number still active. Torrents that vanished from the list are pruned.
// A torrent first observed as downloaded produces no notification; only a
// watched transition does.
func (e *Engine) diff(torrents []debrid.Torrent) (completed []debrid.Torrent, active int) {
	next := make(map[string]string, len(torrents))

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, t := range torrents {
		next[t.ID] = t.Status

		if debrid.IsActiveStatus(t.Status) {
			active++
		}

		prev, seen := e.snapshot[t.ID]
		if seen && prev != debrid.StatusDownloaded && t.Status == debrid.StatusDownloaded {
			completed = append(completed, t)
		}
	}

	e.snapshot = next
	return completed, active
}

func (e *Engine) notifyCompleted(ctx context.Context, torrents []debrid.Torrent) {
	settings, err := e.settings.Get(ctx)
	if err != nil {
		e.log.Error().Err(err).Msg("failed to load settings")
		settings = models.DefaultSettings()
	}
	if !settings.NotificationsEnabled {
		return
	}

	for _, t := range torrents {
		e.log.Info().Str("torrent", t.Filename).Msg("torrent completed")

		n := notify.Notification{
			Title:   "Download complete",
			Message: t.Filename,
		}
		if len(t.Links) > 0 {
			n.Link = t.Links[0]
		}

		e.stream.Publish(notify.Event{Type: notify.EventNotification, Data: n})
	}
}
