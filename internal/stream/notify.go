package stream

import (
	"log/slog"
	"time"
)

// Notifier is the one-way sink a channel reports human-visible connectivity
// status to. A single instance is shared by reference across channel
// instances so that at most one connectivity notification is active at a
// time; the channel calls DismissAll before showing anything new and on
// every successful open. Nothing in the channel depends on a Notifier's
// behavior.
type Notifier interface {
	// DismissAll clears any active connectivity notification.
	DismissAll()

	// ConnectionWarning reports that the very first connect attempt failed.
	ConnectionWarning()

	// ConnectionLost reports a dropped connection that will be retried in
	// retryIn. retryNow may be invoked by interactive sinks to retry
	// immediately.
	ConnectionLost(retryIn time.Duration, retryNow func())

	// ConnectionInterrupted reports a dropped connection that is being
	// re-established (a transient or navigation interruption).
	ConnectionInterrupted()

	// ConnectionLostPermanent reports a dropped connection that will not be
	// retried.
	ConnectionLostPermanent()

	// Reconnected reports that a connection was restored after a drop.
	Reconnected()

	// AuthRequired reports that a connection could not be attempted because
	// no credentials are available.
	AuthRequired()

	// AuthExpired reports a fatal authentication failure.
	AuthExpired()
}

// LogNotifier reports connectivity status through a structured logger.
// It is the sink used by the CLI.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a Notifier that writes to logger.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) DismissAll() {}

func (n *LogNotifier) ConnectionWarning() {
	n.logger.Warn("failed to connect to server")
}

func (n *LogNotifier) ConnectionLost(retryIn time.Duration, retryNow func()) {
	n.logger.Error("connection lost", "retry_in", retryIn)
}

func (n *LogNotifier) ConnectionInterrupted() {
	n.logger.Warn("connection interrupted, attempting to reconnect")
}

func (n *LogNotifier) ConnectionLostPermanent() {
	n.logger.Error("connection lost, not retrying")
}

func (n *LogNotifier) Reconnected() {
	n.logger.Info("reconnected to server")
}

func (n *LogNotifier) AuthRequired() {
	n.logger.Error("authentication required, please log in")
}

func (n *LogNotifier) AuthExpired() {
	n.logger.Error("authentication expired, please log in again")
}

// NopNotifier discards all notifications. Useful for embedding the channel
// where no presentation layer exists.
type NopNotifier struct{}

func (NopNotifier) DismissAll()                                {}
func (NopNotifier) ConnectionWarning()                         {}
func (NopNotifier) ConnectionLost(time.Duration, func())       {}
func (NopNotifier) ConnectionInterrupted()                     {}
func (NopNotifier) ConnectionLostPermanent()                   {}
func (NopNotifier) Reconnected()                               {}
func (NopNotifier) AuthRequired()                              {}
func (NopNotifier) AuthExpired()                               {}
