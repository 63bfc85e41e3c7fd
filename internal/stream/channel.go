// Package stream maintains the live, authenticated, reconnecting event
// stream between this client and a session server. A Channel owns one
// logical connection to a single endpoint, transparently reconnecting on
// failure while respecting authentication state, and delivers every
// successfully parsed inbound entry to exactly one registered handler.
package stream

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/caravel-sh/caravel/internal/timeline"
)

// Status is the connection state of a channel.
type Status string

const (
	StatusClosed     Status = "closed"
	StatusConnecting Status = "connecting"
	StatusOpen       Status = "open"
	StatusClosing    Status = "closing"
	StatusError      Status = "error"
)

// DefaultReconnectInterval is the fixed backoff between reconnect attempts.
// There is no exponential backoff: retries are bounded through the auth
// policy rather than timing.
const DefaultReconnectInterval = 3 * time.Second

// Close codes that signal a fatal authentication failure. A close carrying
// one of these stops auto-reconnect and triggers the logout collaborator.
const (
	closeCodePolicyViolation = 1008
	closeCodeAuthFailed      = 4001
	closeCodeAuthForbidden   = 4003
)

// Credentials is the auth collaborator surface the channel consumes.
// The channel only reads tokens, never writes them; token refresh is an
// external responsibility, triggered indirectly via Logout.
type Credentials interface {
	HasToken() bool
	Token() string
	IsAuthenticated() bool
	IsInitialized() bool
	Logout()
}

// Channel maintains a single logical websocket connection to a session's
// live-event endpoint. All methods are safe for concurrent use; a single
// mutex guards connection state, timers, and the generation counter.
type Channel struct {
	mu      sync.Mutex
	writeMu sync.Mutex

	baseEndpoint string
	queryParams  map[string]string
	requiresAuth bool

	creds    Credentials
	notifier Notifier
	dialer   *websocket.Dialer
	logger   *slog.Logger

	conn   *websocket.Conn
	status Status

	firstConnect  bool
	autoReconnect bool
	reconnecting  bool

	reconnectInterval time.Duration
	reconnectTimer    *time.Timer

	// gen is bumped on every connect and on Disconnect so that callbacks
	// from a superseded connection become inert.
	gen uint64

	handler func(timeline.Entry)
}

// Option configures a Channel.
type Option func(*Channel)

// WithReconnectInterval overrides the fixed reconnect backoff.
func WithReconnectInterval(d time.Duration) Option {
	return func(c *Channel) {
		if d > 0 {
			c.reconnectInterval = d
		}
	}
}

// WithDialer sets a custom websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Channel) {
		if d != nil {
			c.dialer = d
		}
	}
}

// WithLogger sets the channel's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Channel) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewChannel creates a channel for the given endpoint. Query parameters
// already present in the endpoint are merged with queryParams; on a key
// collision the endpoint's own value wins (last write). The shared notifier
// is dismissed immediately so notifications from a previous channel
// instance do not linger.
func NewChannel(endpoint string, queryParams map[string]string, requiresAuth bool, creds Credentials, notifier Notifier, opts ...Option) *Channel {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	notifier.DismissAll()

	params := make(map[string]string, len(queryParams))
	for k, v := range queryParams {
		params[k] = v
	}

	base := endpoint
	if i := strings.Index(endpoint, "?"); i >= 0 {
		base = endpoint[:i]
		if existing, err := url.ParseQuery(endpoint[i+1:]); err == nil {
			for k := range existing {
				params[k] = existing.Get(k)
			}
		}
	}

	c := &Channel{
		baseEndpoint:      base,
		queryParams:       params,
		requiresAuth:      requiresAuth,
		creds:             creds,
		notifier:          notifier,
		dialer:            websocket.DefaultDialer,
		logger:            slog.Default(),
		status:            StatusClosed,
		firstConnect:      true,
		autoReconnect:     true,
		reconnectInterval: DefaultReconnectInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetMessageHandler registers the single handler that receives every
// successfully parsed inbound entry. Setting replaces any previous handler.
func (c *Channel) SetMessageHandler(handler func(timeline.Entry)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

// Status returns the current connection status.
func (c *Channel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Connect starts a connection attempt. It is a no-op when already open.
// The dial itself runs on a goroutine: Connect is fire-and-forget, and the
// open/close/error transitions arrive as events. If authentication is
// required but no token and no authenticated session exists, the channel
// transitions to error and stays there until external auth state changes.
func (c *Channel) Connect() {
	c.mu.Lock()
	c.stopReconnectTimerLocked()

	if c.status == StatusOpen {
		c.mu.Unlock()
		return
	}

	if c.requiresAuth && !c.creds.HasToken() && !c.creds.IsAuthenticated() {
		c.status = StatusError
		c.reconnecting = false
		c.mu.Unlock()
		c.logger.Warn("cannot connect: authentication required but no credentials available")
		return
	}

	endpoint, ok := c.endpointWithAuthLocked()
	if !ok {
		c.status = StatusError
		c.reconnecting = false
		first := c.firstConnect
		c.mu.Unlock()
		if first {
			c.notifier.AuthRequired()
		}
		return
	}

	c.status = StatusConnecting
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	go c.dial(gen, endpoint)
}

// Disconnect permanently disables auto-reconnect, cancels any pending
// reconnect timer, and closes the transport with a normal-closure code.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.autoReconnect = false
	c.stopReconnectTimerLocked()
	c.gen++
	conn := c.conn
	c.conn = nil
	c.status = StatusClosed
	c.mu.Unlock()

	c.notifier.DismissAll()

	if conn != nil {
		c.writeMu.Lock()
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		c.writeMu.Unlock()
		_ = conn.Close()
	}
}

// ManualReconnect re-enables auto-reconnect and retries immediately.
func (c *Channel) ManualReconnect() {
	c.mu.Lock()
	c.autoReconnect = true
	c.mu.Unlock()
	c.reconnect()
}

// Send writes a message to the transport. If the channel is not currently
// open the message is silently dropped: outbound delivery is deliberately
// at-most-once, fire-and-forget. Callers needing delivery guarantees must
// build on the acknowledgment entries the server pushes back.
func (c *Channel) Send(message any) {
	c.mu.Lock()
	conn := c.conn
	open := c.status == StatusOpen
	c.mu.Unlock()

	if !open || conn == nil {
		c.logger.Debug("dropping outbound message: channel not open")
		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteJSON(message); err != nil {
		c.logger.Debug("outbound write failed", "error", err)
	}
}

// endpointWithAuthLocked builds the final connect URL, re-reading the
// bearer token fresh so a refreshed token is picked up on every attempt.
func (c *Channel) endpointWithAuthLocked() (string, bool) {
	values := url.Values{}
	for k, v := range c.queryParams {
		values.Set(k, v)
	}

	if c.requiresAuth {
		token := c.creds.Token()
		switch {
		case token != "":
			values.Set("access_token", token)
		case c.creds.IsAuthenticated():
			// Authenticated flag without a token is an inconsistent state;
			// force the external cleanup path.
			c.logger.Warn("authenticated but no access token available, forcing logout")
			c.creds.Logout()
			return "", false
		default:
			c.logger.Warn("channel requires authentication but user is not authenticated")
			return "", false
		}
	}

	if len(values) == 0 {
		return c.baseEndpoint, true
	}
	return c.baseEndpoint + "?" + values.Encode(), true
}

func (c *Channel) dial(gen uint64, endpoint string) {
	conn, resp, err := c.dialer.Dial(endpoint, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		c.onDialError(gen, err)
		return
	}

	c.mu.Lock()
	if gen != c.gen {
		// Superseded by a newer connect or an explicit disconnect.
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.status = StatusOpen
	wasReconnecting := c.reconnecting
	c.firstConnect = false
	c.reconnecting = false
	c.mu.Unlock()

	c.notifier.DismissAll()
	if wasReconnecting {
		c.notifier.Reconnected()
	}

	go c.readLoop(conn, gen)
}

// onDialError is the transport-error path: unlike a close, a dial failure
// carries no close code to inspect, so it always schedules a reconnect
// unless policy forbids it.
func (c *Channel) onDialError(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.status = StatusError
	c.reconnecting = false
	first := c.firstConnect
	retry := c.shouldAttemptReconnectLocked()
	if retry {
		c.armReconnectTimerLocked()
	}
	c.mu.Unlock()

	c.logger.Warn("websocket connect failed", "error", err)
	if first {
		c.notifier.ConnectionWarning()
	} else {
		c.notifyConnectionLost(retry)
	}
}

func (c *Channel) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.onClose(gen, err)
			return
		}
		c.handleFrame(data)
	}
}

// inboundProbe sniffs a frame for the reserved auth-error shapes before the
// frame is decoded as a timeline entry.
type inboundProbe struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// handleFrame decodes one raw frame. Malformed frames are logged and
// dropped; they never crash the handler loop and never reach the handler.
func (c *Channel) handleFrame(data []byte) {
	var probe inboundProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		c.logger.Warn("dropping malformed frame", "error", err)
		return
	}
	if probe.Type == "auth_error" || probe.Error == "unauthorized" {
		c.handleAuthFailure()
		return
	}

	var entry timeline.Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.logger.Warn("dropping undecodable entry frame", "error", err)
		return
	}

	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()
	if handler != nil {
		handler(entry)
	}
}

func (c *Channel) onClose(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.status = StatusClosed
	c.reconnecting = false

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		switch closeErr.Code {
		case closeCodePolicyViolation, closeCodeAuthFailed, closeCodeAuthForbidden:
			c.mu.Unlock()
			c.handleAuthFailure()
			return
		case websocket.CloseNormalClosure:
			c.mu.Unlock()
			return
		}
	}

	first := c.firstConnect
	retry := c.shouldAttemptReconnectLocked()
	if retry {
		c.armReconnectTimerLocked()
	}
	c.mu.Unlock()

	c.logger.Info("websocket closed", "error", err, "reconnect", retry)
	if !first {
		c.notifyConnectionLost(retry)
	}
}

// handleAuthFailure is the fatal-auth path: stop retrying, surface the
// expiry, and trigger the external logout collaborator exactly once per
// failure event.
func (c *Channel) handleAuthFailure() {
	c.mu.Lock()
	c.autoReconnect = false
	c.stopReconnectTimerLocked()
	requiresAuth := c.requiresAuth
	c.mu.Unlock()

	c.notifier.DismissAll()
	if requiresAuth {
		c.logger.Warn("websocket authentication failed, logging out")
		c.notifier.AuthExpired()
		c.creds.Logout()
	}
}

// shouldAttemptReconnectLocked is the reconnect policy, evaluated before
// every scheduled attempt. When auth is required it tolerates a
// not-yet-initialized auth subsystem and a token that momentarily disagrees
// with the authenticated flag; it denies only when both plainly agree the
// user is unauthenticated.
func (c *Channel) shouldAttemptReconnectLocked() bool {
	if !c.autoReconnect {
		return false
	}
	if !c.requiresAuth {
		return true
	}
	if !c.creds.IsInitialized() {
		return true
	}
	hasToken := c.creds.HasToken()
	if hasToken && !c.creds.IsAuthenticated() {
		return true
	}
	if !hasToken && !c.creds.IsAuthenticated() {
		return false
	}
	return true
}

func (c *Channel) armReconnectTimerLocked() {
	c.stopReconnectTimerLocked()
	c.reconnectTimer = time.AfterFunc(c.reconnectInterval, c.reconnect)
}

func (c *Channel) stopReconnectTimerLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

func (c *Channel) reconnect() {
	c.mu.Lock()
	if !c.shouldAttemptReconnectLocked() || c.reconnecting {
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	c.mu.Unlock()

	c.notifier.DismissAll()
	c.Connect()
}

// notifyConnectionLost picks the presentation tier for a dropped
// connection: retrying, permanently lost, or a transient interruption.
func (c *Channel) notifyConnectionLost(retrying bool) {
	if retrying {
		c.notifier.ConnectionLost(c.reconnectInterval, c.ManualReconnect)
		return
	}

	c.mu.Lock()
	permanent := !c.autoReconnect ||
		(c.requiresAuth && c.creds.IsInitialized() && !c.creds.IsAuthenticated() && !c.creds.HasToken())
	c.mu.Unlock()

	if permanent {
		c.notifier.ConnectionLostPermanent()
	} else {
		c.notifier.ConnectionInterrupted()
	}
}
