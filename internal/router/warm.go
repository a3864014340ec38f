// Copyright (c) 2025, the debridarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package router

import (
	"context"
	"time"

	"github.com/avast/retry-go"
)

// Warm prefetches the slow-changing payloads into the persistent cache so
// the first UI interaction after startup is served locally. Best effort:
// failures are logged and the entries fill lazily on first use instead.
func (r *Router) Warm(ctx context.Context) {
	if !r.auth.Authenticated(ctx) {
		return
	}

	warmers := map[string]func(context.Context) (any, error){
		"user":          func(ctx context.Context) (any, error) { return r.client.GetUser(ctx) },
		"hosts_status":  func(ctx context.Context) (any, error) { return r.client.GetHostsStatus(ctx) },
		"hosts_regex":   func(ctx context.Context) (any, error) { return r.client.GetHostsRegex(ctx) },
		"hosts_domains": func(ctx context.Context) (any, error) { return r.client.GetHostsDomains(ctx) },
	}

	for key, fetch := range warmers {
		err := retry.Do(
			func() error {
				resp := r.cached(ctx, key, fetch)
				if !resp.Success {
					return &warmError{message: resp.Error}
				}
				return nil
			},
			retry.Attempts(3),
			retry.Delay(2*time.Second),
			retry.Context(ctx),
			retry.LastErrorOnly(true),
		)
		if err != nil {
			r.log.Warn().Err(err).Str("key", key).Msg("cache warm failed")
		}
	}
}

type warmError struct {
	message string
}

func (e *warmError) Error() string {
	return e.message
}
