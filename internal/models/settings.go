// Copyright (c) 2025, the debridarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Settings holds user-tunable daemon behavior toggles.
type Settings struct {
	NotificationsEnabled bool `json:"notificationsEnabled"`
	AutoUnrestrict       bool `json:"autoUnrestrict"`
	AutoSelectFiles      bool `json:"autoSelectFiles"`
	AutoScanEnabled      bool `json:"autoScanEnabled"`
}

// DefaultSettings mirrors the column defaults in the settings table.
func DefaultSettings() Settings {
	return Settings{
		NotificationsEnabled: true,
		AutoUnrestrict:       false,
		AutoSelectFiles:      true,
		AutoScanEnabled:      true,
	}
}

type SettingsStore struct {
	db *sql.DB
}

func NewSettingsStore(db *sql.DB) *SettingsStore {
	return &SettingsStore{db: db}
}

// Get returns the stored settings, falling back to defaults when the row has
// never been written.
func (s *SettingsStore) Get(ctx context.Context) (Settings, error) {
	var notifications, unrestrict, selectFiles, scan int

	err := s.db.QueryRowContext(ctx, `
		SELECT notifications_enabled, auto_unrestrict, auto_select_files, auto_scan_enabled
		FROM settings
		WHERE id = 1
	`).Scan(&notifications, &unrestrict, &selectFiles, &scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return DefaultSettings(), nil
		}
		return Settings{}, fmt.Errorf("failed to load settings: %w", err)
	}

	return Settings{
		NotificationsEnabled: notifications != 0,
		AutoUnrestrict:       unrestrict != 0,
		AutoSelectFiles:      selectFiles != 0,
		AutoScanEnabled:      scan != 0,
	}, nil
}

// Update replaces the stored settings.
func (s *SettingsStore) Update(ctx context.Context, settings Settings) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (id, notifications_enabled, auto_unrestrict, auto_select_files, auto_scan_enabled, updated_at)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			notifications_enabled = excluded.notifications_enabled,
			auto_unrestrict = excluded.auto_unrestrict,
			auto_select_files = excluded.auto_select_files,
			auto_scan_enabled = excluded.auto_scan_enabled,
			updated_at = excluded.updated_at
	`,
		boolToInt(settings.NotificationsEnabled),
		boolToInt(settings.AutoUnrestrict),
		boolToInt(settings.AutoSelectFiles),
		boolToInt(settings.AutoScanEnabled),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}

	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
