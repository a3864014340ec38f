// Copyright (c) 2025, the debridarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package debrid

import (
	"context"
	"sync"
	"time"
)

// safetyMargin is added on top of the computed wait so a request never lands
// exactly on the window boundary, where server-side clock skew would still
// count it against the previous window.
const safetyMargin = 50 * time.Millisecond

// rateLimiter enforces a sliding-window request budget. The upstream API
// allows a fixed number of requests per minute and bans clients that exceed
// it, so every outbound call must pass through Acquire before dispatch.
type rateLimiter struct {
	mu     sync.Mutex
	budget int
	window time.Duration

	// timestamps of requests dispatched within the current window, oldest
	// first. Recorded at dispatch time, not completion time.
	sent []time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func newRateLimiter(budget int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		budget: budget,
		window: window,
		now:    time.Now,
		sleep:  sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Acquire blocks until a request slot is available or ctx is canceled. On
// success the slot is consumed immediately; the caller must dispatch the
// request without further delay.
func (r *rateLimiter) Acquire(ctx context.Context) error {
	for {
		r.mu.Lock()

		now := r.now()
		r.prune(now)

		if len(r.sent) < r.budget {
			r.sent = append(r.sent, now)
			r.mu.Unlock()
			return nil
		}

		// Window is full. Wait until the oldest entry slides out.
		wait := r.sent[0].Add(r.window).Sub(now) + safetyMargin
		r.mu.Unlock()

		if err := r.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// SetBudget adjusts the window budget. Already-recorded dispatches keep
// counting against the new budget.
func (r *rateLimiter) SetBudget(budget int) {
	if budget <= 0 {
		return
	}
	r.mu.Lock()
	r.budget = budget
	r.mu.Unlock()
}

// Pending reports how many slots are currently consumed. Used by metrics.
func (r *rateLimiter) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune(r.now())
	return len(r.sent)
}

func (r *rateLimiter) prune(now time.Time) {
	cutoff := now.Add(-r.window)
	i := 0
	for i < len(r.sent) && !r.sent[i].After(cutoff) {
		i++
	}
	if i > 0 {
		r.sent = append(r.sent[:0], r.sent[i:]...)
	}
}
