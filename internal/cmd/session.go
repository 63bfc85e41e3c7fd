package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/caravel-sh/caravel/internal/api"
	"github.com/caravel-sh/caravel/internal/auth"
	"github.com/caravel-sh/caravel/internal/logging"
	"github.com/caravel-sh/caravel/internal/stream"
	"github.com/caravel-sh/caravel/internal/timeline"
)

// newClient builds a REST client from the loaded settings.
func newClient(tokens auth.TokenStore) *api.Client {
	opts := []api.Option{api.WithClientLogger(logging.API())}
	if settings.APIPrefix != "" {
		opts = append(opts, api.WithAPIPrefix(settings.APIPrefix))
	}
	return api.New(settings.Server, tokens, opts...)
}

// sessionContext holds everything a connected session command needs.
type sessionContext struct {
	client     *api.Client
	gate       *auth.Gate
	channel    *stream.Channel
	reconciler *timeline.Reconciler
	session    timeline.Session
	user       timeline.User
}

// connectSession performs the session bootstrap: verify credentials, load
// the session with its initial timeline page, open the event stream, and
// hand both to a reconciler.
func connectSession(ctx context.Context, workspace, sessionID string) (*sessionContext, error) {
	tokens := auth.NewStore()
	if !tokens.HasToken() {
		return nil, fmt.Errorf("not logged in: run 'caravel login' first")
	}

	client := newClient(tokens)
	gate := auth.NewGate(tokens)

	user, err := client.Me(ctx)
	if err != nil {
		return nil, fmt.Errorf("authentication check failed: %w", err)
	}
	gate.SetAuthenticated(user.Username, true)
	gate.MarkInitialized()

	session, err := client.GetSession(ctx, workspace, sessionID)
	if err != nil {
		return nil, err
	}

	endpoint, err := client.StreamEndpoint(workspace, sessionID)
	if err != nil {
		return nil, err
	}

	interval := time.Duration(settings.ReconnectSeconds) * time.Second
	if interval <= 0 {
		interval = stream.DefaultReconnectInterval
	}

	logger := logging.WithSession(logging.Stream(), workspace, sessionID)
	channel := stream.NewChannel(endpoint, nil, true, gate,
		stream.NewLogNotifier(logging.Stream()),
		stream.WithReconnectInterval(interval),
		stream.WithLogger(logger))

	pageSize := settings.PageSize
	if pageSize <= 0 {
		pageSize = timeline.DefaultPageSize
	}
	reconciler := timeline.NewReconciler(user, session, channel,
		client.TimelinePager(workspace, sessionID),
		timeline.WithPageSize(pageSize),
		timeline.WithReconcilerLogger(logging.WithSession(logging.Timeline(), workspace, sessionID)))

	channel.Connect()

	return &sessionContext{
		client:     client,
		gate:       gate,
		channel:    channel,
		reconciler: reconciler,
		session:    session,
		user:       user,
	}, nil
}

// Close disconnects the event stream.
func (sc *sessionContext) Close() {
	sc.channel.Disconnect()
}
