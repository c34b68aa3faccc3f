package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lotview/lotview/pkg/logger"
)

const apiPrefix = "/api/v1"

// defaultTimeout is the fixed per-request ceiling; a request that has
// not resolved by then is treated as failed.
const defaultTimeout = 10 * time.Second

// TokenStore holds the credential pair attached to outbound requests.
// The session store implements it with durable persistence.
type TokenStore interface {
	Tokens() (access, refresh string)
	SetTokens(access, refresh string) error
	Clear() error
}

// Client is the outbound request gateway: it attaches the current
// access credential as a bearer token and runs a one-shot silent
// refresh-and-retry on authorization failure.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenStore

	// refreshMu serializes refresh calls so that concurrent 401s cannot
	// persist an already-superseded credential pair.
	refreshMu sync.Mutex

	onSessionExpired func()
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.http.Timeout = d
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithSessionExpiredHandler registers a callback invoked when a failed
// refresh destroys the session. The presentation layer uses it to
// redirect to the unauthenticated view.
func WithSessionExpiredHandler(fn func()) Option {
	return func(c *Client) {
		c.onSessionExpired = fn
	}
}

func New(baseURL string, tokens TokenStore, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		tokens:  tokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// Get issues a GET and decodes the JSON response into out.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, "", nil, out, 0)
}

// PostJSON issues a POST with a JSON body and decodes the response into out.
func (c *Client) PostJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode request body: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, "application/json", body, out, 0)
}

// PostForm issues a POST with a form-encoded body and decodes the
// response into out.
func (c *Client) PostForm(ctx context.Context, path string, form url.Values, out any) error {
	return c.do(ctx, http.MethodPost, path, "application/x-www-form-urlencoded", []byte(form.Encode()), out, 0)
}

// do executes one request attempt. attempt is an explicit counter, not
// shared request state: each caller's request gets its own single retry
// budget regardless of what other in-flight requests are doing.
func (c *Client) do(ctx context.Context, method, path, contentType string, body []byte, out any, attempt int) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiPrefix+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)
	ctx = context.WithValue(ctx, logger.RequestIDKey, requestID)

	access, _ := c.tokens.Tokens()
	if access != "" {
		req.Header.Set("Authorization", "Bearer "+access)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return networkError(err)
	}
	defer resp.Body.Close()

	// Only attempt a refresh when the request actually carried a
	// credential: a 401 on an unauthenticated call (bad login, say)
	// must surface as-is.
	if resp.StatusCode == http.StatusUnauthorized && attempt == 0 && access != "" {
		io.Copy(io.Discard, resp.Body)

		if err := c.refreshCredentials(ctx, access); err != nil {
			return err
		}

		logger.DebugContext(ctx, "Retrying request after refresh", "method", method, "path", path)
		return c.do(ctx, method, path, contentType, body, out, attempt+1)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		// Second 401 after a successful refresh: hard failure, never a loop.
		return authError(resp.StatusCode, readDetail(resp.Body), nil)
	}

	if resp.StatusCode >= 400 {
		return serverError(resp.StatusCode, readDetail(resp.Body))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Refresh forces an immediate credential exchange outside the 401
// retry path. Like the silent path, a failure destroys the session.
func (c *Client) Refresh(ctx context.Context) error {
	access, _ := c.tokens.Tokens()
	return c.refreshCredentials(ctx, access)
}

// refreshCredentials exchanges the refresh credential for a new pair.
// staleAccess is the access token the failed request carried; if the
// stored token has already moved past it, another request completed the
// exchange while we waited on the lock and there is nothing to do.
//
// Any failure here is terminal for the session: credentials are cleared
// and the expiry handler fires.
func (c *Client) refreshCredentials(ctx context.Context, staleAccess string) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	access, refresh := c.tokens.Tokens()
	if access != "" && access != staleAccess {
		return nil
	}

	if refresh == "" {
		c.expireSession(ctx)
		return authError(http.StatusUnauthorized, "no refresh credential available", ErrSessionExpired)
	}

	body, err := json.Marshal(map[string]string{"refresh_token": refresh})
	if err != nil {
		return fmt.Errorf("failed to encode refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+apiPrefix+"/auth/refresh", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.expireSession(ctx)
		return authError(0, "credential refresh failed", ErrSessionExpired)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.expireSession(ctx)
		return authError(resp.StatusCode, readDetail(resp.Body), ErrSessionExpired)
	}

	var pair struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&pair); err != nil {
		c.expireSession(ctx)
		return authError(0, "invalid refresh response", ErrSessionExpired)
	}

	if err := c.tokens.SetTokens(pair.AccessToken, pair.RefreshToken); err != nil {
		return fmt.Errorf("failed to persist refreshed credentials: %w", err)
	}

	logger.DebugContext(ctx, "Access credentials refreshed")
	return nil
}

func (c *Client) expireSession(ctx context.Context) {
	if err := c.tokens.Clear(); err != nil {
		logger.WarnContext(ctx, "Failed to clear session state", "error", err)
	}
	if c.onSessionExpired != nil {
		c.onSessionExpired()
	}
}

// readDetail extracts the server-supplied message from an error body.
// The backend reports errors as {"detail": "..."}.
func readDetail(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}
	var payload struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Detail != "" {
		return payload.Detail
	}
	return strings.TrimSpace(string(raw))
}
