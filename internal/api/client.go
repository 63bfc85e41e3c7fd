// Package api provides the REST client for the session server: the auth
// bootstrap calls (login/refresh), session loading, and the cursor-based
// timeline pagination the reconciler uses for backward loads.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/caravel-sh/caravel/internal/auth"
	"github.com/caravel-sh/caravel/internal/timeline"
)

// Client provides HTTP methods for the session server REST API.
// It is safe for concurrent use.
type Client struct {
	baseURL    string
	apiPrefix  string // API prefix (e.g., "/api/v1")
	httpClient *http.Client
	tokens     auth.TokenStore
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client. The client should carry a
// cookie jar so the refresh-token cookie survives between calls.
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(client *Client) {
		client.httpClient.Timeout = d
	}
}

// WithAPIPrefix sets the API prefix. Default is "/api/v1".
func WithAPIPrefix(prefix string) Option {
	return func(client *Client) {
		client.apiPrefix = prefix
	}
}

// WithRateLimit overrides the default request rate limit.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(client *Client) {
		client.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithClientLogger sets the client's logger.
func WithClientLogger(logger *slog.Logger) Option {
	return func(client *Client) {
		if logger != nil {
			client.logger = logger
		}
	}
}

// New creates a new session-server client. baseURL is the server address
// (e.g., "http://localhost:8080"). tokens supplies the bearer token for
// authenticated requests and receives refreshed tokens.
func New(baseURL string, tokens auth.TokenStore, opts ...Option) *Client {
	jar, _ := cookiejar.New(nil)
	c := &Client{
		baseURL:   baseURL,
		apiPrefix: "/api/v1",
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Jar:     jar,
		},
		tokens:  tokens,
		limiter: rate.NewLimiter(rate.Limit(10), 20),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the base URL of the client.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// apiURL builds a full API URL with the prefix.
func (c *Client) apiURL(path string) string {
	return c.baseURL + c.apiPrefix + path
}

// envelope is the server's uniform response wrapper.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error,omitempty"`
}

// do performs one API request, decoding the response envelope into out.
// A 401 triggers a single refresh-and-retry before giving up.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	return c.doWithRetry(ctx, method, path, body, out, true)
}

func (c *Client) doWithRetry(ctx context.Context, method, path string, body, out any, allowRefresh bool) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiURL(path), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token := c.tokens.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized && allowRefresh {
		io.Copy(io.Discard, resp.Body)
		c.logger.Debug("request unauthorized, attempting token refresh", "path", path)
		if err := c.Refresh(ctx); err != nil {
			return fmt.Errorf("%s %s: token expired: %w", method, path, err)
		}
		return c.doWithRetry(ctx, method, path, body, out, false)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: read response: %w", method, path, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%s %s: status %d: decode: %w", method, path, resp.StatusCode, err)
	}
	if env.Error != "" {
		return fmt.Errorf("%s %s: %s", method, path, env.Error)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("%s %s: decode data: %w", method, path, err)
		}
	}
	return nil
}

// --- Auth ---

// AuthResponse is the payload returned by login and refresh.
type AuthResponse struct {
	AccessToken string `json:"access_token"`
}

// LoginRequest carries user credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login authenticates and stores the returned bearer token. The refresh
// token arrives as an http-only cookie held by the client's jar.
func (c *Client) Login(ctx context.Context, email, password string) error {
	var authResp AuthResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", LoginRequest{Email: email, Password: password}, &authResp); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if err := c.tokens.SetToken(authResp.AccessToken); err != nil {
		return fmt.Errorf("login: store token: %w", err)
	}
	return nil
}

// Refresh exchanges the refresh-token cookie for a new access token and
// stores it.
func (c *Client) Refresh(ctx context.Context) error {
	var authResp AuthResponse
	if err := c.doWithRetry(ctx, http.MethodPost, "/auth/refresh", nil, &authResp, false); err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	if err := c.tokens.SetToken(authResp.AccessToken); err != nil {
		return fmt.Errorf("refresh: store token: %w", err)
	}
	return nil
}

// Me returns the currently authenticated user.
func (c *Client) Me(ctx context.Context) (timeline.User, error) {
	var user timeline.User
	if err := c.do(ctx, http.MethodGet, "/users/me", nil, &user); err != nil {
		return timeline.User{}, fmt.Errorf("get current user: %w", err)
	}
	return user, nil
}

// --- Sessions ---

// GetSession loads a session with its initial timeline page.
func (c *Client) GetSession(ctx context.Context, workspaceID, sessionID string) (timeline.Session, error) {
	var session timeline.Session
	path := "/workspaces/" + url.PathEscape(workspaceID) + "/sessions/" + url.PathEscape(sessionID)
	if err := c.do(ctx, http.MethodGet, path, nil, &session); err != nil {
		return timeline.Session{}, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

// TimelineBefore fetches the page of entries strictly before the cursor,
// ascending chronological order.
func (c *Client) TimelineBefore(ctx context.Context, workspaceID, sessionID, before string, limit int) (timeline.CursorPage, error) {
	var page timeline.CursorPage
	path := "/workspaces/" + url.PathEscape(workspaceID) + "/sessions/" + url.PathEscape(sessionID) +
		"/timeline?before=" + url.QueryEscape(before) + "&limit=" + strconv.Itoa(limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return timeline.CursorPage{}, fmt.Errorf("get timeline page: %w", err)
	}
	return page, nil
}

// sessionPager binds TimelineBefore to one session.
type sessionPager struct {
	client      *Client
	workspaceID string
	sessionID   string
}

func (p *sessionPager) Before(ctx context.Context, cursor string, limit int) (timeline.CursorPage, error) {
	return p.client.TimelineBefore(ctx, p.workspaceID, p.sessionID, cursor, limit)
}

// TimelinePager returns a timeline.Pager for one session's backward loads.
func (c *Client) TimelinePager(workspaceID, sessionID string) timeline.Pager {
	return &sessionPager{client: c, workspaceID: workspaceID, sessionID: sessionID}
}

// StreamEndpoint returns the websocket URL for a session's live-event
// stream, with the http(s) scheme converted to ws(s).
func (c *Client) StreamEndpoint(workspaceID, sessionID string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = c.apiPrefix + "/workspaces/" + url.PathEscape(workspaceID) +
		"/sessions/" + url.PathEscape(sessionID) + "/ws"
	return u.String(), nil
}
