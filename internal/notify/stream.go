// Copyright (c) 2025, the debridarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package notify

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// EventStream broadcasts events to connected SSE subscribers.
type EventStream struct {
	mu      sync.Mutex
	clients map[chan string]struct{}
}

func NewEventStream() *EventStream {
	return &EventStream{clients: make(map[chan string]struct{})}
}

// Subscribe registers a new subscriber. The returned func must be called to
// release it.
func (s *EventStream) Subscribe() (chan string, func()) {
	ch := make(chan string, 16)

	s.mu.Lock()
	s.clients[ch] = struct{}{}
	s.mu.Unlock()

	unsubscribe := func() {
		s.mu.Lock()
		if _, ok := s.clients[ch]; ok {
			delete(s.clients, ch)
			close(ch)
		}
		s.mu.Unlock()
	}

	return ch, unsubscribe
}

// Publish fans an event out to every subscriber. Lagging subscribers drop
// messages rather than blocking the publisher.
func (s *EventStream) Publish(event Event) {
	message := map[string]any{
		"type": event.Type,
		"at":   time.Now().UTC().Format(time.RFC3339Nano),
		"data": event.Data,
	}
	encoded, err := json.Marshal(message)
	if err != nil {
		log.Error().Err(err).Str("event", event.Type).Msg("failed to encode event")
		return
	}

	payload := string(encoded)

	s.mu.Lock()
	defer s.mu.Unlock()

	for ch := range s.clients {
		select {
		case ch <- payload:
		default:
		}
	}
}

// Subscribers reports the current subscriber count. Used by metrics.
func (s *EventStream) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// ServeHTTP streams events to one subscriber until it disconnects.
func (s *EventStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	msgCh, unsubscribe := s.Subscribe()
	defer unsubscribe()

	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	pingTicker := time.NewTicker(25 * time.Second)
	defer pingTicker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, open := <-msgCh:
			if !open {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", msg); err != nil {
				return
			}
			flusher.Flush()
		case <-pingTicker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
