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

var ErrCacheMiss = errors.New("cache entry not found")

// APICacheStore persists slow-changing API payloads (account profile, host
// status, link patterns) so the daemon can serve them across restarts without
// burning rate budget on every boot.
type APICacheStore struct {
	db *sql.DB
}

func NewAPICacheStore(db *sql.DB) *APICacheStore {
	return &APICacheStore{db: db}
}

// Get returns the raw cached payload and its capture time, or ErrCacheMiss.
// Staleness policy is the caller's concern.
func (s *APICacheStore) Get(ctx context.Context, key string) ([]byte, time.Time, error) {
	var payload string
	var capturedAt string

	err := s.db.QueryRowContext(ctx, `
		SELECT payload_json, captured_at FROM api_cache WHERE cache_key = ?
	`, key).Scan(&payload, &capturedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, time.Time{}, ErrCacheMiss
		}
		return nil, time.Time{}, fmt.Errorf("failed to read cache entry %q: %w", key, err)
	}

	t, err := time.Parse(time.RFC3339Nano, capturedAt)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to parse capture time for %q: %w", key, err)
	}

	return []byte(payload), t, nil
}

// Put stores a payload under key, stamping it with the current time.
func (s *APICacheStore) Put(ctx context.Context, key string, payload []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_cache (cache_key, payload_json, captured_at)
		VALUES (?, ?, ?)
		ON CONFLICT (cache_key) DO UPDATE SET
			payload_json = excluded.payload_json,
			captured_at = excluded.captured_at
	`, key, string(payload), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to write cache entry %q: %w", key, err)
	}

	return nil
}

// Delete removes a cached entry. Missing keys are not an error.
func (s *APICacheStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM api_cache WHERE cache_key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete cache entry %q: %w", key, err)
	}
	return nil
}
