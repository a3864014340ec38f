// Copyright (c) 2025, the debridarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package router

import "encoding/json"

// Message types accepted by the dispatcher. UI surfaces send these as typed
// envelopes; anything else is rejected with a structured failure rather than
// silence.
const (
	// Link operations.
	MsgCheckLink           = "checkLink"
	MsgUnrestrictLink      = "unrestrictLink"
	MsgUnrestrictContainer = "unrestrictContainer"

	// Torrent operations.
	MsgGetTorrents    = "getTorrents"
	MsgGetTorrentInfo = "getTorrentInfo"
	MsgAddMagnet      = "addMagnet"
	MsgAddTorrentFile = "addTorrentFile"
	MsgSelectFiles    = "selectFiles"
	MsgDeleteTorrent  = "deleteTorrent"
	MsgGetActiveCount = "getActiveCount"

	// Account and history.
	MsgGetUser        = "getUser"
	MsgGetDownloads   = "getDownloads"
	MsgDeleteDownload = "deleteDownload"
	MsgGetTraffic     = "getTraffic"

	// Hoster catalog.
	MsgGetHosts       = "getHosts"
	MsgGetHostRegexes = "getHostRegexes"
	MsgGetHostDomains = "getHostDomains"

	// Authentication.
	MsgStartDeviceAuth  = "startDeviceAuth"
	MsgGetAuthStatus    = "getAuthStatus"
	MsgCancelDeviceAuth = "cancelDeviceAuth"
	MsgGetAuthState     = "getAuthState"
	MsgSignOut          = "signOut"

	// Settings.
	MsgGetSettings = "getSettings"
	MsgSetSettings = "setSettings"

	// Tab and badge bookkeeping.
	MsgReportLinks      = "reportLinks"
	MsgGetLinks         = "getLinks"
	MsgTabNavigated     = "tabNavigated"
	MsgTabClosed        = "tabClosed"
	MsgActiveTabChanged = "activeTabChanged"
)

// Link kinds a content script can report.
const (
	LinkKindHoster = "hoster"
	LinkKindMagnet = "magnet"
)

// DetectedLink is one candidate link a content script found on a page.
type DetectedLink struct {
	URL  string `json:"url"`
	Host string `json:"host"`
	Kind string `json:"kind"`
}

// Message is one request envelope from a UI surface.
type Message struct {
	Type    string          `json:"type"`
	TabID   int             `json:"tabId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response is the reply envelope. Exactly one of Data or Error is
// meaningful; Success disambiguates. ErrorCode carries the upstream numeric
// code when the failure originated at the debrid API.
type Response struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorCode int    `json:"errorCode,omitempty"`
}

func ok(data any) Response {
	return Response{Success: true, Data: data}
}

func fail(message string, code int) Response {
	return Response{Success: false, Error: message, ErrorCode: code}
}
