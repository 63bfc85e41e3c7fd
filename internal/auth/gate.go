package auth

import (
	"log/slog"
	"sync"
)

// Gate answers "is the user currently authenticated" by combining token
// availability with externally-driven authenticated/initialized flags, and
// gates whether a stream channel should attempt to (re)connect. It
// satisfies the channel's Credentials interface.
type Gate struct {
	mu            sync.RWMutex
	tokens        TokenStore
	user          string
	authenticated bool
	initialized   bool
	onLogout      func()
	logger        *slog.Logger
}

// NewGate creates a gate over the given token store.
func NewGate(tokens TokenStore) *Gate {
	return &Gate{
		tokens: tokens,
		logger: slog.Default(),
	}
}

// SetLogoutHandler registers the external cleanup invoked by Logout
// (credential invalidation, redirect to login, process exit).
func (g *Gate) SetLogoutHandler(handler func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onLogout = handler
}

// SetAuthenticated records the externally-driven authenticated flag,
// typically after a successful login or user lookup.
func (g *Gate) SetAuthenticated(user string, authenticated bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.user = user
	g.authenticated = authenticated
}

// MarkInitialized records that the auth subsystem finished its startup
// check. Before this point the reconnect policy gives connections the
// benefit of the doubt.
func (g *Gate) MarkInitialized() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.initialized = true
}

// User returns the authenticated username, or "" when unauthenticated.
func (g *Gate) User() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.user
}

// HasToken reports whether a bearer token is currently available.
func (g *Gate) HasToken() bool {
	return g.tokens.HasToken()
}

// Token returns the current bearer token, or "".
func (g *Gate) Token() string {
	return g.tokens.Token()
}

// IsAuthenticated reports whether the user is authenticated: the external
// flag must be set and a token must actually be present.
func (g *Gate) IsAuthenticated() bool {
	g.mu.RLock()
	authenticated := g.authenticated
	g.mu.RUnlock()
	return authenticated && g.tokens.HasToken()
}

// IsInitialized reports whether the startup auth check has completed.
func (g *Gate) IsInitialized() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.initialized
}

// Logout clears the token, drops the authenticated flag, and invokes the
// registered logout handler. Safe to call without a handler.
func (g *Gate) Logout() {
	g.mu.Lock()
	g.authenticated = false
	g.user = ""
	handler := g.onLogout
	g.mu.Unlock()

	if err := g.tokens.ClearToken(); err != nil {
		g.logger.Warn("failed to clear token on logout", "error", err)
	}
	if handler != nil {
		handler()
	}
}
