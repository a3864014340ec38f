// Copyright (c) 2025, the debridarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package debrid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/debridarr/debridarr/internal/buildinfo"
)

// TokenSource supplies a bearer token for outbound API calls. Implemented by
// the auth manager so every request goes out with a live credential.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource that always returns the same token. Used
// during the device flow, before a credential is persisted.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}

// ApiError is a normalized upstream API failure. Status is the HTTP status;
// Code is the service's own numeric error code when the response body carried
// one, and zero otherwise.
type ApiError struct {
	Message string `json:"error"`
	Code    int    `json:"error_code"`
	Status  int    `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("api error %d (http %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("api error (http %d): %s", e.Status, e.Message)
}

// Is matches on error code when the target specifies one, otherwise on HTTP
// status. Lets callers write errors.Is(err, &ApiError{Code: 8}).
func (e *ApiError) Is(target error) bool {
	t, ok := target.(*ApiError)
	if !ok {
		return false
	}
	if t.Code != 0 {
		return e.Code == t.Code
	}
	return e.Status == t.Status
}

// Upstream error codes the rest of the daemon needs to branch on.
const (
	CodeBadToken           = 8
	CodePermissionDenied   = 9
	CodeActionAlreadyDone  = 34
	CodeInfringingFile     = 35
	CodeTooManyActive      = 21
	CodeMustBePremium      = 20
	CodeHosterUnavailable  = 16
	CodeUnsupportedHoster  = 17
	CodeHosterLimitReached = 18
	CodeFileUnavailable    = 19
)

// IsAuthError reports whether err is an upstream rejection of the credential
// itself rather than of the particular request.
func IsAuthError(err error) bool {
	var apiErr *ApiError
	if !asApiError(err, &apiErr) {
		return false
	}
	return apiErr.Status == http.StatusUnauthorized || apiErr.Code == CodeBadToken
}

func asApiError(err error, target **ApiError) bool {
	for err != nil {
		if e, ok := err.(*ApiError); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Client is the rate-limited gateway to the debrid REST API. Every call
// blocks on the shared limiter before dispatch, so concurrent callers are
// serialized into the per-minute budget rather than failing.
type Client struct {
	http      *http.Client
	baseURL   string
	tokens    TokenSource
	limiter   *rateLimiter
	log       zerolog.Logger
	observeFn func(method, path string, status int, elapsed time.Duration)
}

type Options struct {
	BaseURL    string
	Tokens     TokenSource
	RateBudget int

	// Timeout covers a single HTTP exchange, not the limiter wait.
	Timeout time.Duration

	// Observe, when set, is called after every completed request. Wired to
	// the metrics collector.
	Observe func(method, path string, status int, elapsed time.Duration)
}

func NewClient(opts Options) *Client {
	if opts.RateBudget <= 0 {
		opts.RateBudget = 250
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}

	return &Client{
		http:      &http.Client{Timeout: opts.Timeout},
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		tokens:    opts.Tokens,
		limiter:   newRateLimiter(opts.RateBudget, time.Minute),
		log:       log.Logger.With().Str("module", "debrid").Logger(),
		observeFn: opts.Observe,
	}
}

// PendingBudget reports how much of the rate window is currently consumed.
func (c *Client) PendingBudget() int {
	return c.limiter.Pending()
}

// SetRateBudget adjusts the per-window request budget at runtime. Called on
// config reload.
func (c *Client) SetRateBudget(budget int) {
	c.limiter.SetBudget(budget)
}

type request struct {
	method string
	path   string
	query  url.Values
	form   url.Values
	upload *upload
}

// upload is a single-file multipart body.
type upload struct {
	field    string
	filename string
	data     []byte
}

// do performs one API exchange: limiter, token, dispatch, error
// normalization, JSON decode. A nil result skips decoding, which also covers
// the endpoints that reply 204 with an empty body.
func (c *Client) do(ctx context.Context, req request, result any) error {
	if err := c.limiter.Acquire(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}

	endpoint := c.baseURL + req.path
	if len(req.query) > 0 {
		endpoint += "?" + req.query.Encode()
	}

	var body io.Reader
	var contentType string
	switch {
	case req.form != nil:
		body = strings.NewReader(req.form.Encode())
		contentType = "application/x-www-form-urlencoded"
	case req.upload != nil:
		encoded, boundary, err := encodeMultipart(req.upload)
		if err != nil {
			return fmt.Errorf("encode upload: %w", err)
		}
		body = encoded
		contentType = boundary
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, endpoint, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("User-Agent", buildinfo.UserAgent)
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.method, req.path, err)
	}
	defer resp.Body.Close()

	elapsed := time.Since(start)
	if c.observeFn != nil {
		c.observeFn(req.method, req.path, resp.StatusCode, elapsed)
	}

	c.log.Trace().
		Str("method", req.method).
		Str("path", req.path).
		Int("status", resp.StatusCode).
		Dur("elapsed", elapsed).
		Msg("api request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.normalizeError(resp)
	}

	if result == nil || resp.StatusCode == http.StatusNoContent {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if len(raw) == 0 {
		return nil
	}

	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("decode %s %s response: %w", req.method, req.path, err)
	}

	return nil
}

// normalizeError turns any non-2xx response into an ApiError. The service
// replies with {"error": ..., "error_code": ...} JSON, but proxies and
// outages can produce arbitrary bodies, so fall back to a status-only error.
func (c *Client) normalizeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	apiErr := &ApiError{Status: resp.StatusCode}
	if json.Unmarshal(raw, apiErr) == nil && apiErr.Message != "" {
		return apiErr
	}

	msg := strings.TrimSpace(string(raw))
	if msg == "" || !isPrintable(msg) {
		msg = http.StatusText(resp.StatusCode)
	}
	return &ApiError{Status: resp.StatusCode, Message: msg}
}

func isPrintable(s string) bool {
	for _, r := range s {
		if r < ' ' && r != '\n' && r != '\t' {
			return false
		}
	}
	return true
}

func (c *Client) get(ctx context.Context, path string, query url.Values, result any) error {
	return c.do(ctx, request{method: http.MethodGet, path: path, query: query}, result)
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values, result any) error {
	return c.do(ctx, request{method: http.MethodPost, path: path, form: form}, result)
}

func (c *Client) putFile(ctx context.Context, path, field, filename string, data []byte, result any) error {
	return c.do(ctx, request{
		method: http.MethodPut,
		path:   path,
		upload: &upload{field: field, filename: filename, data: data},
	}, result)
}

// encodeMultipart wraps a file payload in a multipart form body and returns
// the body alongside the Content-Type header value carrying the boundary.
func encodeMultipart(u *upload) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile(u.field, u.filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(u.data); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}

	return &buf, writer.FormDataContentType(), nil
}

func (c *Client) delete(ctx context.Context, path string) error {
	return c.do(ctx, request{method: http.MethodDelete, path: path}, nil)
}
