// Copyright (c) 2025, the debridarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/debridarr/debridarr/internal/debrid"
	"github.com/debridarr/debridarr/internal/models"
)

// FlowState is the device authorization state machine position.
type FlowState string

const (
	FlowIdle    FlowState = "idle"
	FlowPending FlowState = "pending"
	FlowSuccess FlowState = "success"
	FlowError   FlowState = "error"
)

// FlowStatus is a snapshot of the device flow for the UI.
type FlowStatus struct {
	State           FlowState `json:"state"`
	UserCode        string    `json:"userCode,omitempty"`
	VerificationURL string    `json:"verificationUrl,omitempty"`
	ExpiresAt       time.Time `json:"expiresAt,omitzero"`
	Error           string    `json:"error,omitempty"`
}

// DeviceFlow drives the OAuth device authorization against the remote. Only
// one flow runs at a time; starting a new one cancels the previous.
type DeviceFlow struct {
	oauth   *debrid.AuthClient
	manager *Manager
	log     zerolog.Logger
	now     func() time.Time

	// onResult is invoked after every terminal transition. Wired to the
	// event stream so the UI learns the outcome without polling.
	onResult func(FlowStatus)

	mu     sync.Mutex
	status FlowStatus
	cancel context.CancelFunc
}

func NewDeviceFlow(oauth *debrid.AuthClient, manager *Manager) *DeviceFlow {
	return &DeviceFlow{
		oauth:   oauth,
		manager: manager,
		log:     log.Logger.With().Str("module", "deviceflow").Logger(),
		now:     time.Now,
		status:  FlowStatus{State: FlowIdle},
	}
}

// OnResult registers a callback for terminal transitions (success or error).
func (f *DeviceFlow) OnResult(fn func(FlowStatus)) {
	f.mu.Lock()
	f.onResult = fn
	f.mu.Unlock()
}

// Status returns the current flow snapshot.
func (f *DeviceFlow) Status() FlowStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

// Start begins a new device authorization. Any flow already in progress is
// canceled first; its outcome is discarded.
func (f *DeviceFlow) Start(ctx context.Context) (FlowStatus, error) {
	code, err := f.oauth.StartDevice(ctx)
	if err != nil {
		return FlowStatus{}, err
	}

	expiresAt := f.now().Add(time.Duration(code.ExpiresIn) * time.Second)
	interval := time.Duration(code.Interval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}

	pollCtx, cancel := context.WithDeadline(context.Background(), expiresAt)

	f.mu.Lock()
	if f.cancel != nil {
		f.cancel()
	}
	f.cancel = cancel
	f.status = FlowStatus{
		State:           FlowPending,
		UserCode:        code.UserCode,
		VerificationURL: code.VerificationURL,
		ExpiresAt:       expiresAt,
	}
	snapshot := f.status
	f.mu.Unlock()

	f.log.Info().Str("user_code", code.UserCode).Time("expires_at", expiresAt).Msg("device flow started")

	go f.poll(pollCtx, cancel, code, interval)

	return snapshot, nil
}

// Cancel aborts a pending flow and returns to idle. Canceling when no flow
// is pending is a no-op.
func (f *DeviceFlow) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.status.State != FlowPending {
		return
	}
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
	f.status = FlowStatus{State: FlowIdle}
	f.log.Info().Msg("device flow canceled")
}

func (f *DeviceFlow) poll(ctx context.Context, cancel context.CancelFunc, code *debrid.DeviceCode, interval time.Duration) {
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				f.finish(ctx, code, FlowStatus{State: FlowError, Error: "authorization code expired"})
			}
			// Canceled flows already transitioned in Cancel or Start.
			return
		case <-ticker.C:
		}

		creds, err := f.oauth.PollCredentials(ctx, code.DeviceCode)
		if errors.Is(err, debrid.ErrAuthorizationPending) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				continue // let the ctx.Done branch classify the exit
			}
			f.finish(ctx, code, FlowStatus{State: FlowError, Error: err.Error()})
			return
		}

		tokens, err := f.oauth.ExchangeDeviceCode(ctx, creds, code.DeviceCode)
		if err != nil {
			f.finish(ctx, code, FlowStatus{State: FlowError, Error: err.Error()})
			return
		}

		cred := &models.Credential{
			AccessToken:  tokens.AccessToken,
			RefreshToken: tokens.RefreshToken,
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
		}
		if tokens.ExpiresIn > 0 {
			expires := f.now().Add(time.Duration(tokens.ExpiresIn) * time.Second)
			cred.ExpiresAt = &expires
		}

		// Persist with a fresh context: the poll deadline must not be able
		// to lose an already-issued credential.
		saveCtx, saveCancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = f.manager.SaveCredential(saveCtx, cred)
		saveCancel()
		if err != nil {
			f.finish(ctx, code, FlowStatus{State: FlowError, Error: err.Error()})
			return
		}

		f.finish(ctx, code, FlowStatus{State: FlowSuccess})
		return
	}
}

// finish records a terminal state, unless this flow was superseded or
// canceled while the last exchange was in flight.
func (f *DeviceFlow) finish(ctx context.Context, code *debrid.DeviceCode, status FlowStatus) {
	f.mu.Lock()

	if f.status.State != FlowPending || f.status.UserCode != code.UserCode {
		f.mu.Unlock()
		return
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		f.mu.Unlock()
		return
	}

	f.status = status
	f.cancel = nil
	callback := f.onResult
	f.mu.Unlock()

	if status.State == FlowSuccess {
		f.log.Info().Msg("device flow completed")
	} else {
		f.log.Warn().Str("error", status.Error).Msg("device flow failed")
	}

	if callback != nil {
		callback(status)
	}
}
