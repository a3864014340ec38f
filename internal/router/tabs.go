// Copyright (c) 2025, the debridarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package router

import (
	"strconv"
	"sync"

	"github.com/debridarr/debridarr/internal/notify"
)

// Badge colors. Links found on the current page win over the global
// transfer count.
const (
	badgeColorLinks    = "#16a34a"
	badgeColorTorrents = "#2563eb"
)

// tabCache tracks which supported links each UI tab has reported, plus which
// tab is focused. State is ephemeral: it rebuilds as tabs re-report after a
// daemon restart.
type tabCache struct {
	mu     sync.RWMutex
	links  map[int][]DetectedLink
	active int
}

func newTabCache() *tabCache {
	return &tabCache{links: make(map[int][]DetectedLink)}
}

// Report replaces the link set for a tab. An empty set clears it.
func (c *tabCache) Report(tabID int, links []DetectedLink) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(links) == 0 {
		delete(c.links, tabID)
		return
	}
	c.links[tabID] = links
}

// Links returns the reported links for a tab.
func (c *tabCache) Links(tabID int) []DetectedLink {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.links[tabID]
}

// Drop forgets a tab entirely. Used for both close and navigation, since a
// navigated tab must re-scan its new page before links count again.
func (c *tabCache) Drop(tabID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.links, tabID)
}

// SetActive records the focused tab.
func (c *tabCache) SetActive(tabID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = tabID
}

// Active returns the focused tab.
func (c *tabCache) Active() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active
}

// BadgeFor computes the badge for a tab. Per-tab links take precedence over
// the global active-transfer count; with neither, the badge is cleared.
func (c *tabCache) BadgeFor(tabID, activeTorrents int) notify.Badge {
	c.mu.RLock()
	linkCount := len(c.links[tabID])
	c.mu.RUnlock()

	switch {
	case linkCount > 0:
		return notify.Badge{TabID: tabID, Text: badgeText(linkCount), Color: badgeColorLinks}
	case activeTorrents > 0:
		return notify.Badge{TabID: tabID, Text: badgeText(activeTorrents), Color: badgeColorTorrents}
	default:
		return notify.Badge{TabID: tabID, Text: ""}
	}
}

// badgeText caps the count so the badge stays legible.
func badgeText(n int) string {
	if n > 999 {
		return "999+"
	}
	return strconv.Itoa(n)
}
