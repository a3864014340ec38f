// Copyright (c) 2025, the debridarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package notify pushes daemon-side events to connected UI surfaces over
// server-sent events. Delivery is best effort: a surface that is not
// connected simply misses the event, and nothing upstream blocks on it.
package notify

import "time"

// Event types pushed to UI surfaces.
const (
	EventNotification = "notification"
	EventBadge        = "badge"
	EventAuth         = "auth"
	EventTorrents     = "torrents"
)

// Event is one message on the stream.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Notification is a user-facing toast: a torrent finished downloading.
type Notification struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Link    string `json:"link,omitempty"`
}

// Badge is the computed badge state for one UI surface.
type Badge struct {
	TabID int    `json:"tabId,omitempty"`
	Text  string `json:"text"`
	Color string `json:"color,omitempty"`
}

// TorrentsChanged signals that the poller observed a change worth
// refetching.
type TorrentsChanged struct {
	Active    int       `json:"active"`
	ChangedAt time.Time `json:"changedAt"`
}

// Notifier publishes events to whoever is listening.
type Notifier interface {
	Publish(event Event)
}

// WithObserver wraps a Notifier with a per-publish callback. Used to count
// published events in metrics.
func WithObserver(next Notifier, observe func()) Notifier {
	return &observedNotifier{next: next, observe: observe}
}

type observedNotifier struct {
	next    Notifier
	observe func()
}

func (n *observedNotifier) Publish(event Event) {
	n.observe()
	n.next.Publish(event)
}
