// Copyright (c) 2025, the debridarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"encoding/json"
	"net/http"

	"github.com/debridarr/debridarr/internal/buildinfo"
	"github.com/debridarr/debridarr/internal/router"
)

// maxMessageBytes bounds a request body. Container and torrent file uploads
// arrive base64-encoded inside the envelope, so allow a few megabytes.
const maxMessageBytes = 8 << 20

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var msg router.Message

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageBytes))
	if err := decoder.Decode(&msg); err != nil {
		writeJSON(w, http.StatusBadRequest, router.Response{
			Success: false,
			Error:   "invalid message envelope",
		})
		return
	}

	resp := s.dispatcher.Dispatch(r.Context(), msg)

	// Failures are application-level, not transport-level: the envelope
	// carries them and the HTTP layer stays 200.
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": buildinfo.Version,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
