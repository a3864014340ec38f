// Copyright (c) 2025, the debridarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package debrid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/debridarr/debridarr/internal/buildinfo"
)

// grantTypeDevice is the OAuth device grant identifier the upstream expects
// verbatim.
const grantTypeDevice = "http://oauth.net/grant_type/device/1.0"

// ErrAuthorizationPending is returned by DeviceCredentials while the user has
// not yet entered the code on the verification page.
var ErrAuthorizationPending = errors.New("authorization pending")

// DeviceCode is the response to starting a device authorization.
type DeviceCode struct {
	DeviceCode            string `json:"device_code"`
	UserCode              string `json:"user_code"`
	Interval              int    `json:"interval"`
	ExpiresIn             int    `json:"expires_in"`
	VerificationURL       string `json:"verification_url"`
	DirectVerificationURL string `json:"direct_verification_url"`
}

// DeviceCredentials are the per-device OAuth client credentials issued once
// the user approves the code. This service mints a dedicated client for every
// device rather than reusing the public client ID for token grants.
type DeviceCredentials struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// TokenResponse is the response to a token or refresh grant.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token"`
}

// AuthClient talks to the OAuth endpoints. These live outside the REST base
// URL and outside the rate budget.
type AuthClient struct {
	http     *http.Client
	baseURL  string
	clientID string
}

func NewAuthClient(baseURL, clientID string) *AuthClient {
	return &AuthClient{
		http:     &http.Client{Timeout: 30 * time.Second},
		baseURL:  strings.TrimRight(baseURL, "/"),
		clientID: clientID,
	}
}

// StartDevice requests a fresh device/user code pair. new_credentials=yes
// asks the server to mint per-device client credentials on approval.
func (c *AuthClient) StartDevice(ctx context.Context) (*DeviceCode, error) {
	query := url.Values{
		"client_id":       {c.clientID},
		"new_credentials": {"yes"},
	}

	var code DeviceCode
	if err := c.get(ctx, "/device/code", query, &code); err != nil {
		return nil, err
	}
	return &code, nil
}

// PollCredentials checks whether the user has approved the device code.
// Returns ErrAuthorizationPending until they do; any other failure is final.
func (c *AuthClient) PollCredentials(ctx context.Context, deviceCode string) (*DeviceCredentials, error) {
	query := url.Values{
		"client_id": {c.clientID},
		"code":      {deviceCode},
	}

	var creds DeviceCredentials
	err := c.get(ctx, "/device/credentials", query, &creds)
	if err != nil {
		var apiErr *ApiError
		// The server answers 403 until the code is approved.
		if asApiError(err, &apiErr) && apiErr.Status == http.StatusForbidden {
			return nil, ErrAuthorizationPending
		}
		return nil, err
	}
	return &creds, nil
}

// ExchangeDeviceCode trades an approved device code for tokens using the
// per-device credentials.
func (c *AuthClient) ExchangeDeviceCode(ctx context.Context, creds *DeviceCredentials, deviceCode string) (*TokenResponse, error) {
	return c.token(ctx, url.Values{
		"client_id":     {creds.ClientID},
		"client_secret": {creds.ClientSecret},
		"code":          {deviceCode},
		"grant_type":    {grantTypeDevice},
	})
}

// Refresh trades a refresh token for a new token pair. The upstream reuses
// the device grant type for refreshes, with the refresh token in the code
// field.
func (c *AuthClient) Refresh(ctx context.Context, clientID, clientSecret, refreshToken string) (*TokenResponse, error) {
	return c.token(ctx, url.Values{
		"client_id":     {clientID},
		"client_secret": {clientSecret},
		"code":          {refreshToken},
		"grant_type":    {grantTypeDevice},
	})
}

func (c *AuthClient) token(ctx context.Context, form url.Values) (*TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", buildinfo.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, readOAuthError(resp)
	}

	var tokens TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if tokens.AccessToken == "" {
		return nil, errors.New("token response missing access token")
	}

	return &tokens, nil
}

func (c *AuthClient) get(ctx context.Context, path string, query url.Values, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", buildinfo.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readOAuthError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func readOAuthError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	apiErr := &ApiError{Status: resp.StatusCode}
	if json.Unmarshal(raw, apiErr) == nil && apiErr.Message != "" {
		return apiErr
	}
	return &ApiError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
}
