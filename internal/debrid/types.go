// Copyright (c) 2025, the debridarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package debrid

// User is the account profile.
type User struct {
	ID         int64  `json:"id"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	Points     int64  `json:"points"`
	Locale     string `json:"locale"`
	Avatar     string `json:"avatar"`
	Type       string `json:"type"` // "premium" or "free"
	Premium    int64  `json:"premium"`
	Expiration string `json:"expiration"`
}

// Torrent statuses as reported by the API.
const (
	StatusMagnetError          = "magnet_error"
	StatusMagnetConversion     = "magnet_conversion"
	StatusWaitingFileSelection = "waiting_files_selection"
	StatusQueued               = "queued"
	StatusDownloading          = "downloading"
	StatusDownloaded           = "downloaded"
	StatusError                = "error"
	StatusVirus                = "virus"
	StatusCompressing          = "compressing"
	StatusUploading            = "uploading"
	StatusDead                 = "dead"
)

// IsActiveStatus reports whether a torrent in this status is still making
// progress server-side and therefore worth polling.
func IsActiveStatus(status string) bool {
	switch status {
	case StatusQueued, StatusMagnetConversion, StatusDownloading, StatusCompressing, StatusUploading:
		return true
	}
	return false
}

// Torrent is a list-view torrent entry.
type Torrent struct {
	ID       string   `json:"id"`
	Filename string   `json:"filename"`
	Hash     string   `json:"hash"`
	Bytes    int64    `json:"bytes"`
	Host     string   `json:"host"`
	Split    int      `json:"split"`
	Progress float64  `json:"progress"`
	Status   string   `json:"status"`
	Added    string   `json:"added"`
	Links    []string `json:"links"`
	Ended    string   `json:"ended,omitempty"`
	Speed    int64    `json:"speed,omitempty"`
	Seeders  int      `json:"seeders,omitempty"`
}

// TorrentFile is one file inside a torrent, from the detail view.
type TorrentFile struct {
	ID       int    `json:"id"`
	Path     string `json:"path"`
	Bytes    int64  `json:"bytes"`
	Selected int    `json:"selected"`
}

// TorrentInfo is the detail view of a single torrent.
type TorrentInfo struct {
	Torrent
	OriginalFilename string        `json:"original_filename"`
	OriginalBytes    int64         `json:"original_bytes"`
	Files            []TorrentFile `json:"files"`
}

// AddedTorrent is the response to addMagnet / addTorrent.
type AddedTorrent struct {
	ID  string `json:"id"`
	URI string `json:"uri"`
}

// ActiveCount reports how many torrents are active against the account limit.
type ActiveCount struct {
	Nb    int `json:"nb"`
	Limit int `json:"limit"`
}

// LinkCheck is the response to unrestrict/check: hoster metadata for a link
// without consuming it.
type LinkCheck struct {
	Host      string `json:"host"`
	Link      string `json:"link"`
	Filename  string `json:"filename"`
	Filesize  int64  `json:"filesize"`
	Supported int    `json:"supported"`
}

// UnrestrictedLink is the response to unrestrict/link: a direct download.
type UnrestrictedLink struct {
	ID         string `json:"id"`
	Filename   string `json:"filename"`
	MimeType   string `json:"mimeType"`
	Filesize   int64  `json:"filesize"`
	Link       string `json:"link"`
	Host       string `json:"host"`
	Chunks     int    `json:"chunks"`
	CRC        int    `json:"crc"`
	Download   string `json:"download"`
	Streamable int    `json:"streamable"`
	Type       string `json:"type,omitempty"`

	Alternative []UnrestrictedLink `json:"alternative,omitempty"`
}

// Download is one entry from the downloads history.
type Download struct {
	ID        string `json:"id"`
	Filename  string `json:"filename"`
	MimeType  string `json:"mimeType"`
	Filesize  int64  `json:"filesize"`
	Link      string `json:"link"`
	Host      string `json:"host"`
	Chunks    int    `json:"chunks"`
	Download  string `json:"download"`
	Generated string `json:"generated"`
}

// HostStatus describes one supported hoster from hosts/status.
type HostStatus struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Image     string `json:"image"`
	Supported int    `json:"supported"`
	Status    string `json:"status"`
	CheckTime string `json:"check_time"`
}

// TrafficInfo describes remaining quota for a limited hoster.
type TrafficInfo struct {
	Left  int64  `json:"left"`
	Bytes int64  `json:"bytes"`
	Links int64  `json:"links"`
	Limit int64  `json:"limit"`
	Type  string `json:"type"`
	Extra int64  `json:"extra"`
	Reset string `json:"reset"`
}
