// Copyright (c) 2025, the debridarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package debrid

import (
	"context"
	"net/url"
	"strconv"
	"strings"
)

// GetUser fetches the account profile.
func (c *Client) GetUser(ctx context.Context) (*User, error) {
	var user User
	if err := c.get(ctx, "/user", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// CheckLink queries hoster metadata for a link without consuming it.
// Works unauthenticated upstream, but we still route it through the gateway
// so it counts against the rate budget.
func (c *Client) CheckLink(ctx context.Context, link, password string) (*LinkCheck, error) {
	form := url.Values{"link": {link}}
	if password != "" {
		form.Set("password", password)
	}

	var check LinkCheck
	if err := c.postForm(ctx, "/unrestrict/check", form, &check); err != nil {
		return nil, err
	}
	return &check, nil
}

// UnrestrictLink converts a hoster link into a direct download.
func (c *Client) UnrestrictLink(ctx context.Context, link, password string, remote bool) (*UnrestrictedLink, error) {
	form := url.Values{"link": {link}}
	if password != "" {
		form.Set("password", password)
	}
	if remote {
		form.Set("remote", "1")
	}

	var result UnrestrictedLink
	if err := c.postForm(ctx, "/unrestrict/link", form, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// UnrestrictContainer uploads a container file (RSDF, CCF, DLC) and returns
// the links it held.
func (c *Client) UnrestrictContainer(ctx context.Context, filename string, container []byte) ([]string, error) {
	if filename == "" {
		filename = "container"
	}

	var links []string
	if err := c.putFile(ctx, "/unrestrict/containerFile", "file", filename, container, &links); err != nil {
		return nil, err
	}
	return links, nil
}

// GetTorrents lists torrents, newest first. Page numbering starts at 1.
func (c *Client) GetTorrents(ctx context.Context, page, limit int) ([]Torrent, error) {
	query := url.Values{}
	if page > 0 {
		query.Set("page", strconv.Itoa(page))
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var torrents []Torrent
	if err := c.get(ctx, "/torrents", query, &torrents); err != nil {
		return nil, err
	}
	return torrents, nil
}

// GetTorrentInfo fetches the detail view of one torrent, including its file
// list.
func (c *Client) GetTorrentInfo(ctx context.Context, id string) (*TorrentInfo, error) {
	var info TorrentInfo
	if err := c.get(ctx, "/torrents/info/"+url.PathEscape(id), nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetActiveCount reports how many torrents are currently active against the
// account limit.
func (c *Client) GetActiveCount(ctx context.Context) (*ActiveCount, error) {
	var count ActiveCount
	if err := c.get(ctx, "/torrents/activeCount", nil, &count); err != nil {
		return nil, err
	}
	return &count, nil
}

// AddMagnet submits a magnet URI.
func (c *Client) AddMagnet(ctx context.Context, magnet string) (*AddedTorrent, error) {
	var added AddedTorrent
	if err := c.postForm(ctx, "/torrents/addMagnet", url.Values{"magnet": {magnet}}, &added); err != nil {
		return nil, err
	}
	return &added, nil
}

// AddTorrentFile uploads a .torrent file.
func (c *Client) AddTorrentFile(ctx context.Context, filename string, torrent []byte) (*AddedTorrent, error) {
	if filename == "" {
		filename = "upload.torrent"
	}

	var added AddedTorrent
	if err := c.putFile(ctx, "/torrents/addTorrent", "file", filename, torrent, &added); err != nil {
		return nil, err
	}
	return &added, nil
}

// SelectFiles marks files for download on a waiting torrent. An empty ids
// slice selects everything.
func (c *Client) SelectFiles(ctx context.Context, id string, fileIDs []int) error {
	files := "all"
	if len(fileIDs) > 0 {
		parts := make([]string, len(fileIDs))
		for i, fid := range fileIDs {
			parts[i] = strconv.Itoa(fid)
		}
		files = strings.Join(parts, ",")
	}

	return c.postForm(ctx, "/torrents/selectFiles/"+url.PathEscape(id), url.Values{"files": {files}}, nil)
}

// DeleteTorrent removes a torrent from the account.
func (c *Client) DeleteTorrent(ctx context.Context, id string) error {
	return c.delete(ctx, "/torrents/delete/"+url.PathEscape(id))
}

// GetDownloads lists the downloads history. Page numbering starts at 1.
func (c *Client) GetDownloads(ctx context.Context, page, limit int) ([]Download, error) {
	query := url.Values{}
	if page > 0 {
		query.Set("page", strconv.Itoa(page))
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var downloads []Download
	if err := c.get(ctx, "/downloads", query, &downloads); err != nil {
		return nil, err
	}
	return downloads, nil
}

// DeleteDownload removes one entry from the downloads history.
func (c *Client) DeleteDownload(ctx context.Context, id string) error {
	return c.delete(ctx, "/downloads/delete/"+url.PathEscape(id))
}

// GetHostsStatus returns per-hoster availability, keyed by host domain.
func (c *Client) GetHostsStatus(ctx context.Context) (map[string]HostStatus, error) {
	var hosts map[string]HostStatus
	if err := c.get(ctx, "/hosts/status", nil, &hosts); err != nil {
		return nil, err
	}
	return hosts, nil
}

// GetHostsRegex returns the link-matching patterns for all supported hosters,
// as the upstream's slash-delimited regex strings.
func (c *Client) GetHostsRegex(ctx context.Context) ([]string, error) {
	var patterns []string
	if err := c.get(ctx, "/hosts/regex", nil, &patterns); err != nil {
		return nil, err
	}
	return patterns, nil
}

// GetHostsDomains returns the bare domains of all supported hosters.
func (c *Client) GetHostsDomains(ctx context.Context) ([]string, error) {
	var domains []string
	if err := c.get(ctx, "/hosts/domains", nil, &domains); err != nil {
		return nil, err
	}
	return domains, nil
}

// GetTraffic returns remaining quota for limited hosters, keyed by host
// domain.
func (c *Client) GetTraffic(ctx context.Context) (map[string]TrafficInfo, error) {
	var traffic map[string]TrafficInfo
	if err := c.get(ctx, "/traffic", nil, &traffic); err != nil {
		return nil, err
	}
	return traffic, nil
}

// DisableAccessToken revokes the current token upstream. Used on sign-out;
// failures are reported but local state is purged regardless.
func (c *Client) DisableAccessToken(ctx context.Context) error {
	return c.get(ctx, "/disable_access_token", nil, nil)
}
